package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/chatdigest/internal/models"
	"github.com/hyperjump/chatdigest/internal/period"
	"github.com/hyperjump/chatdigest/internal/storage"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		s.respondError(w, http.StatusNotImplemented, "search index not enabled")
		return
	}
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := query.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	response, err := s.index.Search(r.Context(), &query)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatStatus struct {
	Periods    int            `json:"periods"`
	Messages   int            `json:"messages"`
	LastPeriod string         `json:"last_period,omitempty"`
	Stages     map[string]int `json:"stages"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chats := make(map[string]chatStatus, len(s.stores))
	for _, st := range s.stores {
		stats, err := st.Stats(ctx)
		if err != nil {
			s.logger.Error("status: stats failed", zap.String("chat", st.Chat), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		chats[st.Chat] = chatStatus{
			Periods:    stats.Periods,
			Messages:   stats.Messages,
			LastPeriod: stats.LastPeriod,
			Stages:     stats.StageRecords,
		}
	}
	resp := map[string]interface{}{"chats": chats}
	if s.index != nil {
		if n, err := s.index.DocCount(); err == nil {
			resp["index_entries"] = n
		}
	}
	if len(s.usage) > 0 {
		if n, err := storage.UsageBytes(s.usage...); err == nil {
			resp["disk_usage_bytes"] = n
		} else {
			s.logger.Warn("status: disk usage failed", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleStale reports, per derived stage, the periods the next run would recompute.
func (s *Server) handleStale(w http.ResponseWriter, r *http.Request) {
	st := s.store(chi.URLParam(r, "slug"))
	if st == nil {
		s.respondError(w, http.StatusNotFound, "chat not found")
		return
	}
	ctx := r.Context()
	checks := []struct {
		stage string
		stale func(context.Context) ([]period.Period, error)
	}{
		{storage.StageFacts, func(ctx context.Context) ([]period.Period, error) { return st.Facts.StalePeriods(ctx, st.Cache) }},
		{storage.StageQuestions, func(ctx context.Context) ([]period.Period, error) { return st.Questions.StalePeriods(ctx, st.Cache) }},
		{storage.StageCases, func(ctx context.Context) ([]period.Period, error) { return st.Cases.StalePeriods(ctx, st.Cache) }},
		{storage.StageCategorized, func(ctx context.Context) ([]period.Period, error) {
			return st.Categorized.StalePeriods(ctx, st.Questions)
		}},
		{storage.StageDocs, func(ctx context.Context) ([]period.Period, error) { return st.Docs.StalePeriods(ctx, st.Cache) }},
	}
	out := make(map[string][]string, len(checks))
	for _, c := range checks {
		ps, err := c.stale(ctx)
		if err != nil {
			s.logger.Error("stale check failed", zap.String("stage", c.stage), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		names := make([]string, len(ps))
		for i, p := range ps {
			names[i] = p.String()
		}
		out[c.stage] = names
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	st := s.store(chi.URLParam(r, "slug"))
	if st == nil {
		s.respondError(w, http.StatusNotFound, "chat not found")
		return
	}
	p, err := period.Parse(chi.URLParam(r, "period"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	var rec interface{}
	switch chi.URLParam(r, "stage") {
	case storage.StageCache:
		rec, err = st.Cache.Get(ctx, p)
	case storage.StageFacts:
		rec, err = st.Facts.Get(ctx, p)
	case storage.StageQuestions:
		rec, err = st.Questions.Get(ctx, p)
	case storage.StageCases:
		rec, err = st.Cases.Get(ctx, p)
	case storage.StageCategorized:
		rec, err = st.Categorized.Get(ctx, p)
	case storage.StageDocs:
		rec, err = st.Docs.Get(ctx, p)
	default:
		s.respondError(w, http.StatusNotFound, "unknown stage")
		return
	}
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		s.logger.Error("record read failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
