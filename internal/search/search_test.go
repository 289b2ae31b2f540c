package search

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/chatdigest/internal/models"
	"github.com/hyperjump/chatdigest/internal/period"
	"github.com/hyperjump/chatdigest/internal/storage"
)

func openIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "bleve"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestOpenIndex_createThenReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleve")
	idx, err := OpenIndex(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ctx := context.Background()
	if err := idx.Replace(ctx, "visas", []models.Entry{
		{ID: "visas/2024-01/fact/0", Chat: "visas", Period: "2024-01", Kind: models.KindFact, Text: "Fees are paid in cash", Links: []int64{7}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	idx, err = OpenIndex(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	if n, err := idx.DocCount(); err != nil || n != 1 {
		t.Errorf("DocCount = %d, %v; want 1", n, err)
	}
	resp, err := idx.Search(ctx, &models.SearchQuery{Query: "cash"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || !reflect.DeepEqual(resp.Results[0].Entry.Links, []int64{7}) {
		t.Errorf("response = %+v", resp)
	}
}

func seededStore(t *testing.T, chat string) *storage.ChatStore {
	t.Helper()
	d, err := storage.NewDiskBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := storage.NewChatStore(d, chat)
	ctx := context.Background()
	p := period.MustNew(2024, 2)
	if err := s.Facts.Put(ctx, p, "f", []models.Summary{
		{Text: "The consulate accepts appointments only online", MessageIDs: []int64{3, 4}},
		{Text: "Insurance must cover thirty thousand euros", MessageIDs: []int64{5}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Questions.Put(ctx, p, "f", []models.Question{
		{Question: "Which photo size is required?", Answers: []models.Summary{{Text: "35x45 millimetres", MessageIDs: []int64{8}}}},
		{Question: "Unanswered insurance question"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Cases.Put(ctx, p, "f", []models.Case{
		{IsApproved: true, ConsulateCity: "Porto", Summary: models.Summary{Text: "Visa issued after nine days", MessageIDs: []int64{9}}},
	}); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestEntries(t *testing.T) {
	entries, err := Entries(context.Background(), seededStore(t, "visas"))
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	want := []string{"visas/2024-02/fact/0", "visas/2024-02/fact/1", "visas/2024-02/question/0", "visas/2024-02/case/0"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v", ids)
	}
	if entries[2].Text != "Which photo size is required?\n35x45 millimetres" {
		t.Errorf("question text = %q", entries[2].Text)
	}
	if entries[3].Text != "approved, Porto: Visa issued after nine days" {
		t.Errorf("case text = %q", entries[3].Text)
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)
	for _, chat := range []string{"visas", "housing"} {
		if _, err := Reindex(ctx, idx, seededStore(t, chat)); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name      string
		query     models.SearchQuery
		wantFirst string
		wantTotal uint64
	}{
		{"plain", models.SearchQuery{Query: "insurance", Chat: "visas"}, "visas/2024-02/fact/1", 1},
		{"both chats", models.SearchQuery{Query: "insurance"}, "", 2},
		{"kind filter", models.SearchQuery{Query: "photo", Kinds: []string{models.KindQuestion}, Chat: "visas"}, "visas/2024-02/question/0", 1},
		{"kind excludes", models.SearchQuery{Query: "photo", Kinds: []string{models.KindFact}}, "", 0},
		{"fuzzy", models.SearchQuery{Query: "insurence", Chat: "housing", Fuzzy: true}, "housing/2024-02/fact/1", 1},
		{"no fuzzy no typo match", models.SearchQuery{Query: "insurence"}, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.query
			resp, err := idx.Search(ctx, &q)
			if err != nil {
				t.Fatal(err)
			}
			if resp.Total != tt.wantTotal {
				t.Fatalf("Total = %d, want %d", resp.Total, tt.wantTotal)
			}
			if tt.wantFirst != "" && resp.Results[0].Entry.ID != tt.wantFirst {
				t.Errorf("first = %s, want %s", resp.Results[0].Entry.ID, tt.wantFirst)
			}
		})
	}
}

func TestSearch_resultFields(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)
	if _, err := Reindex(ctx, idx, seededStore(t, "visas")); err != nil {
		t.Fatal(err)
	}
	resp, err := idx.Search(ctx, &models.SearchQuery{Query: "consulate appointments"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("no results")
	}
	r := resp.Results[0]
	if r.Rank != 1 || r.Entry.Kind != models.KindFact || r.Entry.Period != "2024-02" {
		t.Errorf("result = %+v", r.Entry)
	}
	if !reflect.DeepEqual(r.Entry.Links, []int64{3, 4}) {
		t.Errorf("links = %v", r.Entry.Links)
	}
	if r.Highlights["text"] == "" {
		t.Error("expected a highlight fragment")
	}
}

func TestReplace_dropsOldEntries(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)
	if err := idx.Replace(ctx, "visas", []models.Entry{
		{ID: "visas/a", Chat: "visas", Kind: models.KindFact, Text: "alpha"},
		{ID: "visas/b", Chat: "visas", Kind: models.KindFact, Text: "beta"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Replace(ctx, "other", []models.Entry{{ID: "other/a", Chat: "other", Kind: models.KindFact, Text: "alpha"}}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Replace(ctx, "visas", []models.Entry{{ID: "visas/c", Chat: "visas", Kind: models.KindFact, Text: "gamma"}}); err != nil {
		t.Fatal(err)
	}
	n, err := idx.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("DocCount = %d, want 2", n)
	}
}

func TestSearch_invalidQuery(t *testing.T) {
	idx := openIndex(t)
	if _, err := idx.Search(context.Background(), &models.SearchQuery{}); err == nil {
		t.Error("expected error for empty query")
	}
}
