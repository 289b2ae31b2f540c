package models

import (
	"testing"
)

func TestSearchQuery_Validate(t *testing.T) {
	tests := []struct {
		name      string
		query     *SearchQuery
		wantErr   bool
		wantLimit int
	}{
		{"empty query", &SearchQuery{Query: ""}, true, 0},
		{"valid query", &SearchQuery{Query: "hello"}, false, 10},
		{"keeps explicit limit", &SearchQuery{Query: "x", Limit: 25}, false, 25},
		{"caps limit at 100", &SearchQuery{Query: "x", Limit: 200}, false, 100},
		{"known kinds", &SearchQuery{Query: "x", Kinds: []string{KindFact, KindCase}}, false, 10},
		{"unknown kind", &SearchQuery{Query: "x", Kinds: []string{"poll"}}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.query.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", tt.query.Limit, tt.wantLimit)
			}
		})
	}
}

func TestSearchQuery_negativeOffset(t *testing.T) {
	q := &SearchQuery{Query: "x", Offset: -5}
	if err := q.Validate(); err != nil {
		t.Fatal(err)
	}
	if q.Offset != 0 {
		t.Errorf("Offset = %d, want 0", q.Offset)
	}
}
