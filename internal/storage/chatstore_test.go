package storage

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/chatdigest/internal/models"
	"github.com/hyperjump/chatdigest/internal/period"
)

func seedQuestions(t *testing.T, s *ChatStore) {
	t.Helper()
	ctx := context.Background()
	answer := []models.Summary{{Text: "yes", MessageIDs: []int64{1}}}
	if err := s.Questions.Put(ctx, period.MustNew(2024, 1), "f1", []models.Question{
		{Question: "How long?", Answers: answer},
		{Question: "Unanswered?"},
		{Question: "Open on May 1?", Answers: answer},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Questions.Put(ctx, period.MustNew(2024, 2), "f2", []models.Question{
		{Question: "Which forms?", Answers: answer},
		{Question: "How long?", Answers: answer},
	}); err != nil {
		t.Fatal(err)
	}
}

func TestChatStore_CategorySourcesAndUncategorized(t *testing.T) {
	ctx := context.Background()
	s := NewChatStore(newDisk(t), "visas")
	seedQuestions(t, s)

	missing, err := s.Uncategorized(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(missing, []string{"How long?", "Open on May 1?", "Which forms?"}) {
		t.Errorf("Uncategorized before = %v", missing)
	}

	if err := s.Categorized.Put(ctx, period.MustNew(2024, 1), "f1", []models.CategorizedQuestion{
		{Question: "How long?", CategorySlug: "timing"},
		{Question: "Open on May 1?", CategorySlug: "timing", IsDateSpecific: true},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Categorized.Put(ctx, period.MustNew(2024, 2), "f2", []models.CategorizedQuestion{
		{Question: "How long?", CategorySlug: "timing"},
	}); err != nil {
		t.Fatal(err)
	}

	missing, err = s.Uncategorized(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(missing, []string{"Which forms?"}) {
		t.Errorf("Uncategorized after = %v", missing)
	}

	sources, err := s.CategorySources(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][]string{"timing": {"How long?"}}
	if !reflect.DeepEqual(sources, want) {
		t.Errorf("CategorySources = %v, want %v", sources, want)
	}
}

func TestChatStore_AnsweredQuestions(t *testing.T) {
	s := NewChatStore(newDisk(t), "visas")
	seedQuestions(t, s)
	got, err := s.AnsweredQuestions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || len(got[0].Questions) != 2 || len(got[1].Questions) != 2 {
		t.Errorf("AnsweredQuestions = %+v", got)
	}
}

func TestChatStore_Stats(t *testing.T) {
	sqlite, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer sqlite.Close()
	for name, backend := range map[string]Backend{"disk": newDisk(t), "sqlite": sqlite} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := NewChatStore(backend, "visas")
			if _, err := s.Cache.Append(ctx, period.MustNew(2024, 1), []models.Message{{ID: 1}, {ID: 2}}); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Cache.Append(ctx, period.MustNew(2024, 2), []models.Message{{ID: 3}}); err != nil {
				t.Fatal(err)
			}
			seedQuestions(t, s)
			if err := NewChatStore(backend, "other").Facts.Put(ctx, period.MustNew(2024, 1), "x", nil); err != nil {
				t.Fatal(err)
			}
			st, err := s.Stats(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if st.Periods != 2 || st.Messages != 3 || st.LastPeriod != "2024-02" {
				t.Errorf("Stats = %+v", st)
			}
			want := map[string]int{StageFacts: 0, StageQuestions: 2, StageCases: 0, StageCategorized: 0, StageFAQ: 0, StageDocs: 0}
			if !reflect.DeepEqual(st.StageRecords, want) {
				t.Errorf("StageRecords = %v, want %v", st.StageRecords, want)
			}
		})
	}
}
