package models

import (
	"fmt"
	"slices"
)

// Entry kinds indexed for search.
const (
	KindFact     = "fact"
	KindQuestion = "question"
	KindCase     = "case"
)

// SearchQuery is a knowledge base search request.
type SearchQuery struct {
	Query  string   `json:"query"`
	Chat   string   `json:"chat,omitempty"`  // restrict to one chat slug
	Kinds  []string `json:"kinds,omitempty"` // empty means every kind
	Limit  int      `json:"limit,omitempty"`
	Offset int      `json:"offset,omitempty"`
	Fuzzy  bool     `json:"fuzzy,omitempty"`
}

// Validate rejects empty or malformed queries and fills in the paging defaults.
func (q *SearchQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	for _, k := range q.Kinds {
		if !slices.Contains([]string{KindFact, KindQuestion, KindCase}, k) {
			return fmt.Errorf("unknown kind %q", k)
		}
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return nil
}
