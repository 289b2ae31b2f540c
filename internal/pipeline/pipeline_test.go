package pipeline

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/chatdigest/internal/limiter"
	"github.com/hyperjump/chatdigest/internal/llm"
	"github.com/hyperjump/chatdigest/internal/models"
	"github.com/hyperjump/chatdigest/internal/period"
	"github.com/hyperjump/chatdigest/internal/storage"
)

var testChat = models.Chat{
	Title: "Visas",
	URL:   "https://t.me/c/123/4",
	Slug:  "visas",
	Cases: true,
	FAQ: models.FAQConfig{
		Enabled: true,
		Categories: []models.FAQCategory{
			{Title: "Documents", Slug: "documents"},
			{Title: "Timing", Slug: "timing"},
		},
	},
}

func newStore(t *testing.T) *storage.ChatStore {
	t.Helper()
	d, err := storage.NewDiskBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return storage.NewChatStore(d, testChat.Slug)
}

func seedCache(t *testing.T, s *storage.ChatStore, months ...int) []period.Period {
	t.Helper()
	var ps []period.Period
	for _, m := range months {
		p := period.MustNew(2024, m)
		msgs := []models.Message{{ID: int64(m * 10), Sender: 1, Text: "message " + p.String()}}
		if _, err := s.Cache.Append(context.Background(), p, msgs); err != nil {
			t.Fatal(err)
		}
		ps = append(ps, p)
	}
	return ps
}

func factsReply(text string) models.FactsResponse {
	return models.FactsResponse{Facts: []models.Summary{{Text: text, MessageIDs: []int64{1}}}}
}

func periodStrings(ps []period.Period) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	return out
}

func TestStage_limiterBoundary(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedCache(t, s, 3, 1, 2)
	mock := llm.NewMockProvider(factsReply("a"), factsReply("b"))
	p := New(mock, s, testChat)

	lim := limiter.New(2)
	res, err := p.FactsStage().Run(ctx, lim)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stale != 3 || res.Processed != 2 || !res.Exhausted {
		t.Errorf("Run = %+v", res)
	}
	stored, err := s.Facts.ListPeriods(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := periodStrings(stored); !reflect.DeepEqual(got, []string{"2024-01", "2024-02"}) {
		t.Errorf("stored = %v, want the two oldest periods", got)
	}
	if lim.CanProcess() {
		t.Error("limiter should be exhausted")
	}

	stale, err := s.Facts.StalePeriods(ctx, s.Cache)
	if err != nil {
		t.Fatal(err)
	}
	if got := periodStrings(stale); !reflect.DeepEqual(got, []string{"2024-03"}) {
		t.Errorf("still stale = %v", got)
	}
}

func TestStage_zeroBudget(t *testing.T) {
	s := newStore(t)
	seedCache(t, s, 1)
	mock := llm.NewMockProvider()
	res, err := New(mock, s, testChat).FactsStage().Run(context.Background(), limiter.New(0))
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 0 || !res.Exhausted || len(mock.Calls()) != 0 {
		t.Errorf("Run = %+v, calls = %d", res, len(mock.Calls()))
	}
}

func TestStage_idempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ps := seedCache(t, s, 1, 2)
	mock := llm.NewMockProvider(factsReply("a"), factsReply("b"))
	p := New(mock, s, testChat)

	if _, err := p.FactsStage().Run(ctx, limiter.New(10)); err != nil {
		t.Fatal(err)
	}
	res, err := p.FactsStage().Run(ctx, limiter.New(10))
	if err != nil {
		t.Fatal(err)
	}
	if res.Stale != 0 || len(mock.Calls()) != 2 {
		t.Errorf("second run = %+v, calls = %d", res, len(mock.Calls()))
	}

	// New content in one period invalidates only that period.
	if _, err := s.Cache.Append(ctx, ps[0], []models.Message{{ID: 99, Text: "late reply"}}); err != nil {
		t.Fatal(err)
	}
	mock.Push(factsReply("c"))
	res, err = p.FactsStage().Run(ctx, limiter.New(10))
	if err != nil {
		t.Fatal(err)
	}
	if res.Stale != 1 || res.Processed != 1 {
		t.Errorf("after append = %+v", res)
	}
	rec, err := s.Facts.Get(ctx, ps[0])
	if err != nil {
		t.Fatal(err)
	}
	want, err := s.Cache.Fingerprint(ctx, ps[0])
	if err != nil {
		t.Fatal(err)
	}
	if rec.Fingerprint != want || rec.Payload[0].Text != "c" {
		t.Errorf("record = %+v, want fingerprint %s", rec, want)
	}
}

func TestStage_emptyUpstreamSkipped(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	empty := period.MustNew(2024, 1)
	if _, err := s.Cache.Append(ctx, empty, nil); err != nil {
		t.Fatal(err)
	}
	seedCache(t, s, 2)
	mock := llm.NewMockProvider(factsReply("b"))
	lim := limiter.New(1)

	res, err := New(mock, s, testChat).FactsStage().Run(ctx, lim)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 1 || res.Processed != 1 || res.Exhausted {
		t.Errorf("Run = %+v", res)
	}
	if _, err := s.Facts.Get(ctx, empty); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("empty period should not be written, got %v", err)
	}
}

func TestStage_modelFailureKeepsEarlierPeriods(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedCache(t, s, 1, 2, 3)
	mock := llm.NewMockProvider(factsReply("a"), llm.ErrTruncated)
	p := New(mock, s, testChat)

	res, err := p.FactsStage().Run(ctx, limiter.New(10))
	if !errors.Is(err, llm.ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
	if res.Processed != 1 {
		t.Errorf("Processed = %d", res.Processed)
	}
	if !strings.Contains(err.Error(), "2024-02") {
		t.Errorf("error should name the failing period: %v", err)
	}

	mock.Push(factsReply("b"), factsReply("c"))
	res, err = p.FactsStage().Run(ctx, limiter.New(10))
	if err != nil {
		t.Fatal(err)
	}
	if res.Stale != 2 || res.Processed != 2 {
		t.Errorf("retry = %+v", res)
	}
}

func TestStage_promptCarriesMessages(t *testing.T) {
	s := newStore(t)
	seedCache(t, s, 5)
	mock := llm.NewMockProvider(models.QuestionsResponse{})
	if _, err := New(mock, s, testChat).QuestionsStage().Run(context.Background(), limiter.New(1)); err != nil {
		t.Fatal(err)
	}
	calls := mock.Calls()
	if len(calls) != 1 || calls[0].Schema != "questions" {
		t.Fatalf("calls = %+v", calls)
	}
	msgs := calls[0].Messages
	if msgs[0].Role != llm.RoleSystem || !strings.Contains(msgs[0].Content, `"Visas"`) {
		t.Errorf("system prompt = %q", msgs[0].Content)
	}
	if !strings.Contains(msgs[1].Content, `"month":"2024-05"`) || !strings.Contains(msgs[1].Content, "message 2024-05") {
		t.Errorf("messages block = %q", msgs[1].Content)
	}
}

func seedQuestions(t *testing.T, s *storage.ChatStore) period.Period {
	t.Helper()
	p := period.MustNew(2024, 1)
	answer := []models.Summary{{Text: "two weeks", MessageIDs: []int64{2}}}
	if err := s.Questions.Put(context.Background(), p, "fp", []models.Question{
		{Question: "How long does it take?", Answers: answer},
		{Question: "Which photo size?", Answers: answer},
		{Question: "Anyone here?"},
	}); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCategorize(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	p := seedQuestions(t, s)
	// Questions are sent sorted: 1 "How long does it take?", 2 "Which photo size?".
	mock := llm.NewMockProvider(models.CategorizationResponse{Questions: []models.RawCategorization{
		{CategoryID: 2, SourceQuestionIDs: []int{1}},
		{CategoryID: 1, SourceQuestionIDs: []int{2}},
	}})

	res, err := New(mock, s, testChat).CategorizeStage().Run(ctx, limiter.New(5))
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 {
		t.Errorf("Run = %+v", res)
	}
	rec, err := s.Categorized.Get(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	want := []models.CategorizedQuestion{
		{Question: "How long does it take?", CategorySlug: "timing"},
		{Question: "Which photo size?", CategorySlug: "documents"},
	}
	if !reflect.DeepEqual(rec.Payload, want) {
		t.Errorf("categorized = %+v", rec.Payload)
	}
	if rec.Fingerprint != "fp" {
		t.Errorf("fingerprint = %q, want upstream fingerprint", rec.Fingerprint)
	}
	if !strings.Contains(mock.Calls()[0].Messages[2].Content, `"slug":"documents"`) {
		t.Errorf("categories not sent: %q", mock.Calls()[0].Messages[2].Content)
	}
}

func TestCategorize_invalidIDs(t *testing.T) {
	tests := []struct {
		name string
		raw  models.RawCategorization
	}{
		{"category out of range", models.RawCategorization{CategoryID: 3, SourceQuestionIDs: []int{1}}},
		{"category zero", models.RawCategorization{CategoryID: 0, SourceQuestionIDs: []int{1}}},
		{"question out of range", models.RawCategorization{CategoryID: 1, SourceQuestionIDs: []int{3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			p := seedQuestions(t, s)
			mock := llm.NewMockProvider(models.CategorizationResponse{Questions: []models.RawCategorization{tt.raw}})
			if _, err := New(mock, s, testChat).CategorizeStage().Run(ctx, limiter.New(5)); err == nil {
				t.Fatal("expected error")
			}
			if _, err := s.Categorized.Get(ctx, p); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("nothing should be stored, got %v", err)
			}
		})
	}
}

func TestCategorize_noAnsweredQuestions(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	p := period.MustNew(2024, 1)
	if err := s.Questions.Put(ctx, p, "fp", []models.Question{{Question: "Anyone?"}}); err != nil {
		t.Fatal(err)
	}
	mock := llm.NewMockProvider()
	if _, err := New(mock, s, testChat).CategorizeStage().Run(ctx, limiter.New(5)); err != nil {
		t.Fatal(err)
	}
	if len(mock.Calls()) != 0 {
		t.Errorf("model called %d times", len(mock.Calls()))
	}
	rec, err := s.Categorized.Get(ctx, p)
	if err != nil || len(rec.Payload) != 0 {
		t.Errorf("record = %+v, %v", rec, err)
	}
}

func TestCategorize_localPeriodsDoNotSpendBudget(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if err := s.Questions.Put(ctx, period.MustNew(2023, 12), "fp0", []models.Question{{Question: "Anyone?"}}); err != nil {
		t.Fatal(err)
	}
	jan := seedQuestions(t, s)
	mock := llm.NewMockProvider(models.CategorizationResponse{Questions: []models.RawCategorization{
		{CategoryID: 1, SourceQuestionIDs: []int{1, 2}},
	}})

	lim := limiter.New(1)
	res, err := New(mock, s, testChat).CategorizeStage().Run(ctx, lim)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 2 || res.Exhausted {
		t.Errorf("Run = %+v, want both periods processed", res)
	}
	if lim.Consumed() != 1 || len(mock.Calls()) != 1 {
		t.Errorf("consumed = %d, calls = %d; want 1 each", lim.Consumed(), len(mock.Calls()))
	}
	if _, err := s.Categorized.Get(ctx, jan); err != nil {
		t.Errorf("answered period not stored: %v", err)
	}
}

func TestNormalizeFAQ(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	if err := s.Categorized.Put(ctx, period.MustNew(2024, 1), "fp", []models.CategorizedQuestion{
		{Question: "How long?", CategorySlug: "timing"},
		{Question: "How many days?", CategorySlug: "timing"},
		{Question: "Open on May 1?", CategorySlug: "timing", IsDateSpecific: true},
	}); err != nil {
		t.Fatal(err)
	}
	reply := models.NormalizationResponse{Questions: []models.NormalizedQuestion{
		{Question: "How long does processing take?", SourceQuestions: []string{"How long?", "How many days?"}},
	}}
	mock := llm.NewMockProvider(reply)
	p := New(mock, s, testChat)

	res, err := p.NormalizeFAQ(ctx, limiter.New(5))
	if err != nil {
		t.Fatal(err)
	}
	// "documents" has no sources and is not visited.
	if res.Stale != 1 || res.Processed != 1 {
		t.Errorf("NormalizeFAQ = %+v", res)
	}
	rec, err := s.FAQ.Get(ctx, "timing")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rec.Payload, reply.Questions) {
		t.Errorf("payload = %+v", rec.Payload)
	}
	if !strings.Contains(mock.Calls()[0].Messages[1].Content, `["How long?","How many days?"]`) {
		t.Errorf("sources block = %q", mock.Calls()[0].Messages[1].Content)
	}

	res, err = p.NormalizeFAQ(ctx, limiter.New(5))
	if err != nil {
		t.Fatal(err)
	}
	if res.Stale != 0 || len(mock.Calls()) != 1 {
		t.Errorf("second run = %+v", res)
	}
}

func TestDerive(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedCache(t, s, 1)
	answer := []models.Summary{{Text: "10 days", MessageIDs: []int64{10}}}
	mock := llm.NewMockProvider(
		factsReply("fact"),
		models.QuestionsResponse{Questions: []models.Question{{Question: "How long?", Answers: answer}}},
		models.CasesResponse{Cases: []models.Case{{IsApproved: true, Summary: answer[0]}}},
		models.CategorizationResponse{Questions: []models.RawCategorization{{CategoryID: 2, SourceQuestionIDs: []int{1}}}},
		models.NormalizationResponse{Questions: []models.NormalizedQuestion{{Question: "How long?", SourceQuestions: []string{"How long?"}}}},
	)

	results, err := New(mock, s, testChat).Derive(ctx, limiter.New(10))
	if err != nil {
		t.Fatal(err)
	}
	var stages []string
	for _, r := range results {
		stages = append(stages, r.Stage)
		if r.Processed != 1 {
			t.Errorf("%s", r)
		}
	}
	want := []string{storage.StageFacts, storage.StageQuestions, storage.StageCases, storage.StageCategorized, storage.StageFAQ}
	if !reflect.DeepEqual(stages, want) {
		t.Errorf("stages = %v", stages)
	}
	missing, err := s.Uncategorized(ctx)
	if err != nil || len(missing) != 0 {
		t.Errorf("Uncategorized = %v, %v", missing, err)
	}
}

func TestDerive_disabledStages(t *testing.T) {
	s := newStore(t)
	seedCache(t, s, 1)
	chat := testChat
	chat.Cases = false
	chat.FAQ = models.FAQConfig{}
	mock := llm.NewMockProvider(factsReply("fact"), models.QuestionsResponse{})

	results, err := New(mock, s, chat).Derive(context.Background(), limiter.New(10))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("results = %v", results)
	}
}
