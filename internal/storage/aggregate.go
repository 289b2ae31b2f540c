package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/chatdigest/internal/fingerprint"
)

// AggregateRecord is a record keyed by something other than a period, such as a
// category slug. Fingerprint covers the source set the payload was derived from.
type AggregateRecord[T any] struct {
	Key         string `yaml:"key"`
	Fingerprint string `yaml:"fingerprint"`
	Payload     T      `yaml:"data"`
}

// AggregateTable stores records derived from sources gathered across all periods.
type AggregateTable[T any] struct {
	backend Backend
	bucket  Bucket
}

// NewAggregateTable returns the aggregate table for stage of chat.
func NewAggregateTable[T any](backend Backend, chat, stage string) *AggregateTable[T] {
	return &AggregateTable[T]{backend: backend, bucket: Bucket{Chat: chat, Stage: stage}}
}

// SourceSet returns items deduplicated and sorted, the canonical form fingerprinted
// for an aggregate key.
func SourceSet(items []string) []string {
	set := slices.Clone(items)
	slices.Sort(set)
	return slices.Compact(set)
}

// SourceFingerprint fingerprints the canonical form of items.
func SourceFingerprint(items []string) string {
	return fingerprint.Strings(SourceSet(items)...)
}

// Get loads the record for key.
func (a *AggregateTable[T]) Get(ctx context.Context, key string) (AggregateRecord[T], error) {
	var rec AggregateRecord[T]
	data, err := a.backend.Read(ctx, a.bucket, key)
	if err != nil {
		return rec, err
	}
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to decode %s/%s: %w", a.bucket, key, err)
	}
	return rec, nil
}

// Put writes or replaces the record for key.
func (a *AggregateTable[T]) Put(ctx context.Context, key, fingerprint string, payload T) error {
	data, err := yaml.Marshal(AggregateRecord[T]{Key: key, Fingerprint: fingerprint, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", a.bucket, key, err)
	}
	return a.backend.Write(ctx, a.bucket, key, data)
}

// Keys returns every stored key, ascending.
func (a *AggregateTable[T]) Keys(ctx context.Context) ([]string, error) {
	return a.backend.Keys(ctx, a.bucket)
}

// UnprocessedKeys returns, in the order given, every key whose stored fingerprint
// differs from the fingerprint of its current sources. Keys without any source are
// skipped since there is nothing to derive from.
func (a *AggregateTable[T]) UnprocessedKeys(ctx context.Context, sources map[string][]string, keys []string) ([]string, error) {
	var out []string
	for _, key := range keys {
		src := sources[key]
		if len(src) == 0 {
			continue
		}
		rec, err := a.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			out = append(out, key)
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Fingerprint != SourceFingerprint(src) {
			out = append(out, key)
		}
	}
	return out, nil
}
