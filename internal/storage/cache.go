package storage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hyperjump/chatdigest/internal/fingerprint"
	"github.com/hyperjump/chatdigest/internal/models"
	"github.com/hyperjump/chatdigest/internal/period"
)

// MessageCache is the root stage: raw messages per period, appended by the transport.
type MessageCache struct {
	*Table[[]models.Message]
}

// NewMessageCache returns the cache of chat.
func NewMessageCache(backend Backend, chat string) *MessageCache {
	return &MessageCache{Table: NewTable[[]models.Message](backend, chat, StageCache)}
}

// MessagesFingerprint fingerprints messages ordered by id. Both ids and texts are
// covered, so an edited message invalidates every stage derived from its period.
func MessagesFingerprint(msgs []models.Message) string {
	sorted := slices.Clone(msgs)
	slices.SortFunc(sorted, func(a, b models.Message) int { return cmp.Compare(a.ID, b.ID) })
	b := fingerprint.New()
	for _, m := range sorted {
		b.Int(m.ID).String(m.Text)
	}
	return b.Sum()
}

// Append merges msgs into the record for p. Messages whose id is already stored are
// dropped. The result is sorted by id and refingerprinted, so appending the same
// messages twice leaves the record unchanged.
func (c *MessageCache) Append(ctx context.Context, p period.Period, msgs []models.Message) (Record[[]models.Message], error) {
	var existing []models.Message
	rec, err := c.Get(ctx, p)
	switch {
	case err == nil:
		existing = rec.Payload
	case errors.Is(err, ErrNotFound):
	default:
		return rec, fmt.Errorf("failed to load cache for %s: %w", p, err)
	}

	seen := make(map[int64]struct{}, len(existing)+len(msgs))
	merged := make([]models.Message, 0, len(existing)+len(msgs))
	for _, m := range existing {
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	slices.SortFunc(merged, func(a, b models.Message) int { return cmp.Compare(a.ID, b.ID) })

	out := Record[[]models.Message]{Period: p, Fingerprint: MessagesFingerprint(merged), Payload: merged}
	if err == nil && out.Fingerprint == rec.Fingerprint {
		return out, nil
	}
	if err := c.Put(ctx, p, out.Fingerprint, out.Payload); err != nil {
		return out, err
	}
	return out, nil
}

// AppendByTime buckets dated messages by the period they were posted in and
// appends each bucket. It returns the periods touched, ascending.
func (c *MessageCache) AppendByTime(ctx context.Context, msgs []models.DatedMessage) ([]period.Period, error) {
	buckets := make(map[period.Period][]models.Message)
	for _, m := range msgs {
		p := period.FromTime(m.Date)
		buckets[p] = append(buckets[p], m.Message)
	}
	touched := make([]period.Period, 0, len(buckets))
	for p := range buckets {
		touched = append(touched, p)
	}
	period.Sort(touched)
	for _, p := range touched {
		if _, err := c.Append(ctx, p, buckets[p]); err != nil {
			return nil, err
		}
	}
	return touched, nil
}

// LastMessageID returns the highest message id in the latest period, or 0 when the
// cache is empty.
func (c *MessageCache) LastMessageID(ctx context.Context) (int64, error) {
	periods, err := c.ListPeriods(ctx)
	if err != nil {
		return 0, err
	}
	for i := len(periods) - 1; i >= 0; i-- {
		rec, err := c.Get(ctx, periods[i])
		if err != nil {
			return 0, err
		}
		if n := len(rec.Payload); n > 0 {
			return rec.Payload[n-1].ID, nil
		}
	}
	return 0, nil
}
