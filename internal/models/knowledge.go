package models

import "fmt"

// Summary is a condensed statement backed by one or more messages.
type Summary struct {
	Text       string  `yaml:"text" json:"text"`
	MessageIDs []int64 `yaml:"message_ids" json:"message_ids"`
	Sender     int64   `yaml:"sender" json:"sender"`
}

// Links returns a link per source message.
func (s Summary) Links(chat Chat) []MessageLink {
	links := make([]MessageLink, 0, len(s.MessageIDs))
	for _, id := range s.MessageIDs {
		links = append(links, MessageLink{MessageID: id, ChatURL: chat.URL})
	}
	return links
}

// Question is a question asked in the chat with the answers it received.
type Question struct {
	Question string    `yaml:"question" json:"question"`
	Answers  []Summary `yaml:"answers" json:"answers"`
}

// Case is a reported application outcome.
type Case struct {
	IsApproved    bool    `yaml:"is_approved" json:"is_approved"`
	ConsulateCity string  `yaml:"consulate_city,omitempty" json:"consulate_city,omitempty"`
	Summary       Summary `yaml:"summary" json:"summary"`
}

// CountOutcomes returns the number of approved and rejected cases.
func CountOutcomes(cases []Case) (approved, rejected int) {
	for _, c := range cases {
		if c.IsApproved {
			approved++
		} else {
			rejected++
		}
	}
	return approved, rejected
}

// CategorizedQuestion assigns one extracted question to an FAQ category.
type CategorizedQuestion struct {
	Question       string `yaml:"question" json:"question"`
	CategorySlug   string `yaml:"category_slug" json:"category_slug"`
	IsDateSpecific bool   `yaml:"is_date_specific,omitempty" json:"is_date_specific,omitempty"`
}

// NormalizedQuestion merges differently worded source questions into one FAQ entry.
type NormalizedQuestion struct {
	Question        string   `yaml:"question" json:"question"`
	SourceQuestions []string `yaml:"source_questions" json:"source_questions"`
}

// CategoryFAQ is the normalized FAQ for one category.
type CategoryFAQ struct {
	CategorySlug string               `yaml:"category_slug"`
	Questions    []NormalizedQuestion `yaml:"questions"`
}

// Normalize returns the normalized wording for question, or question itself when
// no normalized entry lists it as a source.
func (c CategoryFAQ) Normalize(question string) string {
	for _, nq := range c.Questions {
		for _, src := range nq.SourceQuestions {
			if src == question {
				return nq.Question
			}
		}
	}
	return question
}

// FileDiff is a proposed edit to one documentation file.
type FileDiff struct {
	Path string `json:"path" yaml:"path"`
	Diff string `json:"diff" yaml:"diff"`
}

// DocumentationUpdate is the model's answer to an update or reorganize request.
type DocumentationUpdate struct {
	Diffs []FileDiff `json:"diffs"`
}

// FactsResponse is the model output for facts extraction.
type FactsResponse struct {
	Facts []Summary `json:"facts"`
}

// QuestionsResponse is the model output for questions extraction.
type QuestionsResponse struct {
	Questions []Question `json:"questions"`
}

// CasesResponse is the model output for cases extraction.
type CasesResponse struct {
	Cases []Case `json:"cases"`
}

// RawCategorization refers to questions and categories by their 1-based position in
// the lists sent to the model.
type RawCategorization struct {
	CategoryID        int   `json:"category_id"`
	SourceQuestionIDs []int `json:"source_question_ids"`
	IsDateSpecific    bool  `json:"is_date_specific"`
}

// CategorizationResponse is the model output for questions categorization.
type CategorizationResponse struct {
	Questions []RawCategorization `json:"questions"`
}

// Expand resolves the positional ids against the lists that were sent to the model.
// An id outside either list is an error, since the whole response is then suspect.
func (r CategorizationResponse) Expand(questions []string, categories []FAQCategory) ([]CategorizedQuestion, error) {
	var out []CategorizedQuestion
	for _, raw := range r.Questions {
		if raw.CategoryID < 1 || raw.CategoryID > len(categories) {
			return nil, fmt.Errorf("invalid category_id=%d, max=%d", raw.CategoryID, len(categories))
		}
		slug := categories[raw.CategoryID-1].Slug
		for _, qid := range raw.SourceQuestionIDs {
			if qid < 1 || qid > len(questions) {
				return nil, fmt.Errorf("invalid source_question_id=%d, max=%d", qid, len(questions))
			}
			out = append(out, CategorizedQuestion{
				Question:       questions[qid-1],
				CategorySlug:   slug,
				IsDateSpecific: raw.IsDateSpecific,
			})
		}
	}
	return out, nil
}

// NormalizationResponse is the model output for FAQ normalization of one category.
type NormalizationResponse struct {
	Questions []NormalizedQuestion `json:"questions"`
}

// AppliedDiff records the outcome of patching one documentation file.
type AppliedDiff struct {
	Path    string `yaml:"path" json:"path"`
	Hunks   int    `yaml:"hunks" json:"hunks"`
	Applied int    `yaml:"applied" json:"applied"`
	NoOp    int    `yaml:"noop" json:"noop"`
}
