package storage

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/chatdigest/internal/period"
)

// Record is the unit persisted by every period-keyed stage. Fingerprint identifies
// the upstream content Payload was derived from; for the cache it is the
// fingerprint of its own messages.
type Record[T any] struct {
	Period      period.Period `yaml:"period" json:"period"`
	Fingerprint string        `yaml:"fingerprint" json:"fingerprint"`
	Payload     T             `yaml:"data" json:"data"`
}

// Upstream is anything a stage can be derived from.
type Upstream interface {
	ListPeriods(ctx context.Context) ([]period.Period, error)
	Fingerprint(ctx context.Context, p period.Period) (string, error)
}

// Table is a period-keyed store for one stage of one chat.
type Table[T any] struct {
	backend Backend
	bucket  Bucket
}

// NewTable returns the table for stage of chat.
func NewTable[T any](backend Backend, chat, stage string) *Table[T] {
	return &Table[T]{backend: backend, bucket: Bucket{Chat: chat, Stage: stage}}
}

// Stage returns the stage name.
func (t *Table[T]) Stage() string {
	return t.bucket.Stage
}

// Get loads the record for p. A missing record yields an error wrapping ErrNotFound.
func (t *Table[T]) Get(ctx context.Context, p period.Period) (Record[T], error) {
	var rec Record[T]
	data, err := t.backend.Read(ctx, t.bucket, p.String())
	if err != nil {
		return rec, err
	}
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to decode %s/%s: %w", t.bucket, p, err)
	}
	return rec, nil
}

// Put writes or replaces the record for p.
func (t *Table[T]) Put(ctx context.Context, p period.Period, fingerprint string, payload T) error {
	data, err := yaml.Marshal(Record[T]{Period: p, Fingerprint: fingerprint, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", t.bucket, p, err)
	}
	return t.backend.Write(ctx, t.bucket, p.String(), data)
}

// ListPeriods returns every period with a record, ascending. Keys that are not
// periods are ignored.
func (t *Table[T]) ListPeriods(ctx context.Context) ([]period.Period, error) {
	keys, err := t.backend.Keys(ctx, t.bucket)
	if err != nil {
		return nil, err
	}
	periods := make([]period.Period, 0, len(keys))
	for _, k := range keys {
		p, err := period.Parse(k)
		if err != nil {
			continue
		}
		periods = append(periods, p)
	}
	period.Sort(periods)
	return periods, nil
}

// Fingerprint returns the stored fingerprint for p.
func (t *Table[T]) Fingerprint(ctx context.Context, p period.Period) (string, error) {
	rec, err := t.Get(ctx, p)
	if err != nil {
		return "", err
	}
	return rec.Fingerprint, nil
}

// StalePeriods returns, ascending, every upstream period for which this table has
// no record or a record computed from different upstream content.
func (t *Table[T]) StalePeriods(ctx context.Context, upstream Upstream) ([]period.Period, error) {
	periods, err := upstream.ListPeriods(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list upstream periods: %w", err)
	}
	var stale []period.Period
	for _, p := range periods {
		want, err := upstream.Fingerprint(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to read upstream fingerprint for %s: %w", p, err)
		}
		have, err := t.Fingerprint(ctx, p)
		if errors.Is(err, ErrNotFound) {
			stale = append(stale, p)
			continue
		}
		if err != nil {
			return nil, err
		}
		if have != want {
			stale = append(stale, p)
		}
	}
	return stale, nil
}
