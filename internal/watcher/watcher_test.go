package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	chats []string
}

func (r *recorder) record(chat string) {
	r.mu.Lock()
	r.chats = append(r.chats, chat)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.chats...)
}

func writeRecord(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("period: 2024-01\n"), 0644); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, r *recorder, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(20 * time.Millisecond)
	}
	return r.snapshot()
}

func TestWatcher_debouncesPerChat(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, filepath.Join(dir, "visas", "cache", "2024-01.yaml"))

	r := &recorder{}
	w := NewWatcher(dir, r.record, WithDebounce(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	for i := 0; i < 3; i++ {
		writeRecord(t, filepath.Join(dir, "visas", "cache", "2024-01.yaml"))
	}
	waitFor(t, r, 1)
	time.Sleep(300 * time.Millisecond)
	got := r.snapshot()
	if len(got) != 1 || got[0] != "visas" {
		t.Errorf("changes = %v, want one notification for visas", got)
	}
}

func TestWatcher_newChatDirectory(t *testing.T) {
	dir := t.TempDir()
	r := &recorder{}
	w := NewWatcher(dir, r.record, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	writeRecord(t, filepath.Join(dir, "housing", "facts", "2024-02.yaml"))
	got := waitFor(t, r, 1)
	if len(got) == 0 || got[0] != "housing" {
		t.Errorf("changes = %v, want housing", got)
	}
}

func TestWatcher_ignoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "visas"), 0755); err != nil {
		t.Fatal(err)
	}
	r := &recorder{}
	w := NewWatcher(dir, r.record, WithDebounce(50*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "visas", "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if got := r.snapshot(); len(got) != 0 {
		t.Errorf("changes = %v, want none", got)
	}
}

func TestWatcher_Start_createsMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store", "nested")
	w := NewWatcher(root, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root should exist after Start: %v", err)
	}
}

func TestChatOf(t *testing.T) {
	tests := []struct {
		root, path, want string
	}{
		{"/s", "/s/visas/cache/2024-01.yaml", "visas"},
		{"/s", "/s/visas", "visas"},
		{"/s", "/s", ""},
		{"/s", "/other/visas/x.yaml", ""},
		{"/s", "/s/../x", ""},
	}
	for _, tt := range tests {
		if got := ChatOf(tt.root, tt.path); got != tt.want {
			t.Errorf("ChatOf(%q, %q) = %q, want %q", tt.root, tt.path, got, tt.want)
		}
	}
}
