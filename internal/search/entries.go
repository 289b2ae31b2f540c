package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/chatdigest/internal/models"
	"github.com/hyperjump/chatdigest/internal/storage"
)

// Entries flattens the facts, questions and cases of a chat into search entries.
// Entry ids are stable for unchanged records, so reindexing replaces in place.
func Entries(ctx context.Context, store *storage.ChatStore) ([]models.Entry, error) {
	var out []models.Entry
	entry := func(period, kind string, n int, text string, ids []int64) models.Entry {
		return models.Entry{
			ID:     fmt.Sprintf("%s/%s/%s/%d", store.Chat, period, kind, n),
			Chat:   store.Chat,
			Period: period,
			Kind:   kind,
			Text:   text,
			Links:  ids,
		}
	}

	ps, err := store.Facts.ListPeriods(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range ps {
		rec, err := store.Facts.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		for n, f := range rec.Payload {
			out = append(out, entry(p.String(), models.KindFact, n, f.Text, f.MessageIDs))
		}
	}

	ps, err = store.Questions.ListPeriods(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range ps {
		rec, err := store.Questions.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		for n, q := range rec.Payload {
			if len(q.Answers) == 0 {
				continue
			}
			lines := []string{q.Question}
			var ids []int64
			for _, a := range q.Answers {
				lines = append(lines, a.Text)
				ids = append(ids, a.MessageIDs...)
			}
			out = append(out, entry(p.String(), models.KindQuestion, n, strings.Join(lines, "\n"), ids))
		}
	}

	ps, err = store.Cases.ListPeriods(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range ps {
		rec, err := store.Cases.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		for n, c := range rec.Payload {
			outcome := "rejected"
			if c.IsApproved {
				outcome = "approved"
			}
			if c.ConsulateCity != "" {
				outcome += ", " + c.ConsulateCity
			}
			out = append(out, entry(p.String(), models.KindCase, n, outcome+": "+c.Summary.Text, c.Summary.MessageIDs))
		}
	}
	return out, nil
}

// Reindex replaces the indexed entries of store's chat with its current records.
func Reindex(ctx context.Context, idx *Index, store *storage.ChatStore) (int, error) {
	entries, err := Entries(ctx, store)
	if err != nil {
		return 0, err
	}
	if err := idx.Replace(ctx, store.Chat, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}
