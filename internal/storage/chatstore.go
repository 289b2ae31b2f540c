package storage

import (
	"context"

	"github.com/hyperjump/chatdigest/internal/models"
	"github.com/hyperjump/chatdigest/internal/period"
)

// ChatStore bundles every stage of one chat.
type ChatStore struct {
	Chat        string
	Cache       *MessageCache
	Facts       *Table[[]models.Summary]
	Questions   *Table[[]models.Question]
	Cases       *Table[[]models.Case]
	Categorized *Table[[]models.CategorizedQuestion]
	FAQ         *AggregateTable[[]models.NormalizedQuestion]
	Docs        *Table[[]models.AppliedDiff]

	backend Backend
}

// NewChatStore returns the stages of chat on backend.
func NewChatStore(backend Backend, chat string) *ChatStore {
	return &ChatStore{
		Chat:        chat,
		Cache:       NewMessageCache(backend, chat),
		Facts:       NewTable[[]models.Summary](backend, chat, StageFacts),
		Questions:   NewTable[[]models.Question](backend, chat, StageQuestions),
		Cases:       NewTable[[]models.Case](backend, chat, StageCases),
		Categorized: NewTable[[]models.CategorizedQuestion](backend, chat, StageCategorized),
		FAQ:         NewAggregateTable[[]models.NormalizedQuestion](backend, chat, StageFAQ),
		Docs:        NewTable[[]models.AppliedDiff](backend, chat, StageDocs),
		backend:     backend,
	}
}

// PeriodQuestions pairs a stored question with the period it was extracted from.
type PeriodQuestions struct {
	Period    period.Period
	Questions []models.Question
}

// AnsweredQuestions returns every question with at least one answer, grouped by
// period ascending.
func (s *ChatStore) AnsweredQuestions(ctx context.Context) ([]PeriodQuestions, error) {
	periods, err := s.Questions.ListPeriods(ctx)
	if err != nil {
		return nil, err
	}
	var out []PeriodQuestions
	for _, p := range periods {
		rec, err := s.Questions.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		var answered []models.Question
		for _, q := range rec.Payload {
			if len(q.Answers) > 0 {
				answered = append(answered, q)
			}
		}
		if len(answered) > 0 {
			out = append(out, PeriodQuestions{Period: p, Questions: answered})
		}
	}
	return out, nil
}

// AllCategorized returns the categorized questions of every period, oldest first.
func (s *ChatStore) AllCategorized(ctx context.Context) ([]models.CategorizedQuestion, error) {
	periods, err := s.Categorized.ListPeriods(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.CategorizedQuestion
	for _, p := range periods {
		rec, err := s.Categorized.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.Payload...)
	}
	return out, nil
}

// CategorySources maps each category slug to the deduplicated, sorted set of
// questions categorized into it, excluding date-specific ones.
func (s *ChatStore) CategorySources(ctx context.Context) (map[string][]string, error) {
	all, err := s.AllCategorized(ctx)
	if err != nil {
		return nil, err
	}
	raw := make(map[string][]string)
	for _, q := range all {
		if q.IsDateSpecific {
			continue
		}
		raw[q.CategorySlug] = append(raw[q.CategorySlug], q.Question)
	}
	out := make(map[string][]string, len(raw))
	for slug, qs := range raw {
		out[slug] = SourceSet(qs)
	}
	return out, nil
}

// Uncategorized returns, sorted, every answered question that has no
// non-date-specific categorization. Date-specific questions are excluded from the
// check.
func (s *ChatStore) Uncategorized(ctx context.Context) ([]string, error) {
	answered, err := s.AnsweredQuestions(ctx)
	if err != nil {
		return nil, err
	}
	categorized, err := s.AllCategorized(ctx)
	if err != nil {
		return nil, err
	}
	dateSpecific := make(map[string]bool)
	covered := make(map[string]bool)
	for _, q := range categorized {
		if q.IsDateSpecific {
			dateSpecific[q.Question] = true
		} else {
			covered[q.Question] = true
		}
	}
	var missing []string
	for _, pq := range answered {
		for _, q := range pq.Questions {
			if dateSpecific[q.Question] || covered[q.Question] {
				continue
			}
			missing = append(missing, q.Question)
		}
	}
	return SourceSet(missing), nil
}

// Stats summarizes a chat for status output.
type Stats struct {
	Periods      int
	Messages     int
	LastPeriod   string
	StageRecords map[string]int
}

// Stats counts records in every stage. Backends implementing RecordCounter
// answer the per-stage counts in one query.
func (s *ChatStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{StageRecords: make(map[string]int)}
	periods, err := s.Cache.ListPeriods(ctx)
	if err != nil {
		return st, err
	}
	st.Periods = len(periods)
	if len(periods) > 0 {
		st.LastPeriod = periods[len(periods)-1].String()
	}
	for _, p := range periods {
		rec, err := s.Cache.Get(ctx, p)
		if err != nil {
			return st, err
		}
		st.Messages += len(rec.Payload)
	}
	if c, ok := s.backend.(RecordCounter); ok {
		counts, err := c.CountRecords(ctx, s.Chat)
		if err != nil {
			return st, err
		}
		for _, stage := range StageNames()[1:] {
			st.StageRecords[stage] = int(counts[stage])
		}
		return st, nil
	}
	for _, t := range []interface {
		Stage() string
		ListPeriods(context.Context) ([]period.Period, error)
	}{s.Facts, s.Questions, s.Cases, s.Categorized, s.Docs} {
		ps, err := t.ListPeriods(ctx)
		if err != nil {
			return st, err
		}
		st.StageRecords[t.Stage()] = len(ps)
	}
	keys, err := s.FAQ.Keys(ctx)
	if err != nil {
		return st, err
	}
	st.StageRecords[StageFAQ] = len(keys)
	return st, nil
}

// StageNames lists stages in dependency order.
func StageNames() []string {
	return []string{StageCache, StageFacts, StageQuestions, StageCases, StageCategorized, StageFAQ, StageDocs}
}
