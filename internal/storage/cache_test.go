package storage

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/hyperjump/chatdigest/internal/models"
	"github.com/hyperjump/chatdigest/internal/period"
)

func TestMessagesFingerprint(t *testing.T) {
	a := []models.Message{{ID: 1, Text: "a"}, {ID: 2, Text: "b"}, {ID: 3, Text: "c"}}
	shuffled := []models.Message{{ID: 3, Text: "c"}, {ID: 1, Text: "a"}, {ID: 2, Text: "b"}}
	if MessagesFingerprint(a) != MessagesFingerprint(shuffled) {
		t.Error("fingerprint should not depend on input order")
	}
	edited := []models.Message{{ID: 1, Text: "a"}, {ID: 2, Text: "B"}, {ID: 3, Text: "c"}}
	if MessagesFingerprint(a) == MessagesFingerprint(edited) {
		t.Error("editing a message text should change the fingerprint")
	}
	if MessagesFingerprint(a) == MessagesFingerprint(a[:2]) {
		t.Error("dropping a message should change the fingerprint")
	}
	if shuffled[0].ID != 3 {
		t.Error("fingerprinting must not reorder the caller's slice")
	}
}

func TestMessageCache_AppendIdempotent(t *testing.T) {
	ctx := context.Background()
	cache := NewMessageCache(newDisk(t), "c")
	p := period.MustNew(2024, 6)
	msgs := []models.Message{{ID: 5, Sender: 1, Text: "five"}, {ID: 2, Sender: 2, Text: "two"}}

	first, err := cache.Append(ctx, p, msgs)
	if err != nil {
		t.Fatal(err)
	}
	second, err := cache.Append(ctx, p, msgs)
	if err != nil {
		t.Fatal(err)
	}
	if first.Fingerprint != second.Fingerprint || !reflect.DeepEqual(first.Payload, second.Payload) {
		t.Errorf("append not idempotent: %+v vs %+v", first, second)
	}
	stored, err := cache.Get(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Fingerprint != first.Fingerprint || len(stored.Payload) != 2 {
		t.Errorf("stored = %+v", stored)
	}
	if stored.Payload[0].ID != 2 || stored.Payload[1].ID != 5 {
		t.Errorf("payload not sorted by id: %+v", stored.Payload)
	}
}

func TestMessageCache_AppendExistingWins(t *testing.T) {
	ctx := context.Background()
	cache := NewMessageCache(newDisk(t), "c")
	p := period.MustNew(2024, 6)

	if _, err := cache.Append(ctx, p, []models.Message{{ID: 1, Text: "original"}}); err != nil {
		t.Fatal(err)
	}
	rec, err := cache.Append(ctx, p, []models.Message{{ID: 1, Text: "rewritten"}, {ID: 3, Text: "new"}, {ID: 3, Text: "dup"}})
	if err != nil {
		t.Fatal(err)
	}
	want := []models.Message{{ID: 1, Text: "original"}, {ID: 3, Text: "new"}}
	if !reflect.DeepEqual(rec.Payload, want) {
		t.Errorf("payload = %+v, want %+v", rec.Payload, want)
	}
	if rec.Fingerprint != MessagesFingerprint(want) {
		t.Error("fingerprint does not match merged payload")
	}
}

func TestMessageCache_AppendByTimeAndLastID(t *testing.T) {
	ctx := context.Background()
	cache := NewMessageCache(newDisk(t), "c")

	last, err := cache.LastMessageID(ctx)
	if err != nil || last != 0 {
		t.Fatalf("empty LastMessageID = %d, %v", last, err)
	}

	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 12, 0, 0, 0, time.UTC) }
	touched, err := cache.AppendByTime(ctx, []models.DatedMessage{
		{Message: models.Message{ID: 10, Text: "a"}, Date: day(2023, time.December, 30)},
		{Message: models.Message{ID: 11, Text: "b"}, Date: day(2024, time.January, 2)},
		{Message: models.Message{ID: 12, Text: "c"}, Date: day(2024, time.January, 3)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := periodStrings(touched); !reflect.DeepEqual(got, []string{"2023-12", "2024-01"}) {
		t.Errorf("touched = %v", got)
	}
	jan, err := cache.Get(ctx, period.MustNew(2024, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(jan.Payload) != 2 {
		t.Errorf("january has %d messages, want 2", len(jan.Payload))
	}
	last, err = cache.LastMessageID(ctx)
	if err != nil || last != 12 {
		t.Errorf("LastMessageID = %d, %v; want 12", last, err)
	}
}
