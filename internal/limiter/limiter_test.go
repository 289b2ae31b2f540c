package limiter

import "testing"

func TestWorkLimiter(t *testing.T) {
	tests := []struct {
		name      string
		budget    int
		increment int
		canMore   bool
		remaining int
		str       string
	}{
		{"fresh", 3, 0, true, 3, "0/3"},
		{"partly used", 3, 2, true, 1, "2/3"},
		{"exhausted", 3, 3, false, 0, "3/3"},
		{"overrun clamps remaining", 1, 2, false, 0, "2/1"},
		{"zero budget", 0, 0, false, 0, "0/0"},
		{"negative budget", -2, 0, false, 0, "0/-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.budget)
			for i := 0; i < tt.increment; i++ {
				l.Increment()
			}
			if got := l.CanProcess(); got != tt.canMore {
				t.Errorf("CanProcess() = %v, want %v", got, tt.canMore)
			}
			if got := l.Remaining(); got != tt.remaining {
				t.Errorf("Remaining() = %d, want %d", got, tt.remaining)
			}
			if got := l.String(); got != tt.str {
				t.Errorf("String() = %q, want %q", got, tt.str)
			}
			if got := l.Consumed(); got != tt.increment {
				t.Errorf("Consumed() = %d, want %d", got, tt.increment)
			}
		})
	}
}

func TestWorkLimiter_loop(t *testing.T) {
	l := New(2)
	done := 0
	for i := 0; i < 5; i++ {
		if !l.CanProcess() {
			break
		}
		done++
		l.Increment()
	}
	if done != 2 {
		t.Errorf("processed %d units, want 2", done)
	}
}
