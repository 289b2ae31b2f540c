// Package storage persists stage records and decides which of them are stale.
//
// Every derivation stage owns one bucket per chat. A bucket maps a key (a period
// string, or a category slug for the aggregate stage) to an encoded record. Two
// backends are provided: plain YAML files on disk and a single SQLite database.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned (wrapped) when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Stage names. They double as directory names on disk.
const (
	StageCache       = "cache"
	StageFacts       = "facts"
	StageQuestions   = "questions"
	StageCases       = "cases"
	StageCategorized = "questions-categorized"
	StageFAQ         = "faq-normalized"
	StageDocs        = "docs-updates"
)

// Bucket addresses the records of one stage of one chat.
type Bucket struct {
	Chat  string
	Stage string
}

func (b Bucket) String() string {
	return b.Chat + "/" + b.Stage
}

// Backend stores opaque record bytes. Writes must be atomic: a reader never
// observes a partially written record. Implementations assume a single writer.
type Backend interface {
	Read(ctx context.Context, b Bucket, key string) ([]byte, error)
	Write(ctx context.Context, b Bucket, key string, data []byte) error
	// Keys returns every key in the bucket in ascending byte order.
	Keys(ctx context.Context, b Bucket) ([]string, error)
	Close() error
}

// RecordCounter is implemented by backends that count a chat's records per
// stage without listing keys.
type RecordCounter interface {
	CountRecords(ctx context.Context, chat string) (map[string]int64, error)
}
