// Package pipeline derives knowledge from cached chat messages one period at a time.
// Every stage recomputes only the periods whose upstream content changed since the
// stored record was written.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/chatdigest/internal/limiter"
	"github.com/hyperjump/chatdigest/internal/period"
	"github.com/hyperjump/chatdigest/internal/storage"
)

// Source is a period-keyed upstream whose payload is a list of E.
type Source[E any] interface {
	storage.Upstream
	Get(ctx context.Context, p period.Period) (storage.Record[[]E], error)
}

// DeriveFunc computes the payload of one period from its upstream items.
type DeriveFunc[E, T any] func(ctx context.Context, p period.Period, items []E) (T, error)

// Stage derives Target from Source.
type Stage[E, T any] struct {
	Name   string
	Source Source[E]
	Target *storage.Table[T]
	Derive DeriveFunc[E, T]
	// Local, when set, answers a period without a model call if it reports ok.
	// Locally answered periods do not count against the limiter.
	Local  func(items []E) (T, bool)
	Logger *zap.Logger // optional
}

// Result summarizes one stage run.
type Result struct {
	Stage     string
	Stale     int
	Processed int
	Skipped   int  // stale periods with an empty upstream payload
	Exhausted bool // stopped because the limiter ran out
}

func (r Result) String() string {
	s := fmt.Sprintf("%s: %d stale, %d processed, %d skipped", r.Stage, r.Stale, r.Processed, r.Skipped)
	if r.Exhausted {
		s += " (limit reached)"
	}
	return s
}

// Run processes stale periods in ascending order until none remain or lim is
// exhausted. Each record is stored with the upstream fingerprint read together with
// its payload. A Derive error aborts the run; periods stored before it stay valid.
func (s *Stage[E, T]) Run(ctx context.Context, lim *limiter.WorkLimiter) (Result, error) {
	res := Result{Stage: s.Name}
	stale, err := s.Target.StalePeriods(ctx, s.Source)
	if err != nil {
		return res, fmt.Errorf("%s: %w", s.Name, err)
	}
	res.Stale = len(stale)
	if len(stale) == 0 {
		s.debug("nothing to process")
		return res, nil
	}

	for _, p := range stale {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !lim.CanProcess() {
			res.Exhausted = true
			s.info("work limit reached", zap.Stringer("limiter", lim))
			break
		}
		rec, err := s.Source.Get(ctx, p)
		if err != nil {
			return res, fmt.Errorf("%s: failed to load upstream %s: %w", s.Name, p, err)
		}
		if len(rec.Payload) == 0 {
			res.Skipped++
			s.debug("empty upstream, skipped", zap.Stringer("period", p))
			continue
		}
		out, local := s.local(rec.Payload)
		if !local {
			if out, err = s.Derive(ctx, p, rec.Payload); err != nil {
				return res, fmt.Errorf("%s: period %s: %w", s.Name, p, err)
			}
		}
		if err := s.Target.Put(ctx, p, rec.Fingerprint, out); err != nil {
			return res, fmt.Errorf("%s: failed to store %s: %w", s.Name, p, err)
		}
		if !local {
			lim.Increment()
		}
		res.Processed++
		s.info("period processed", zap.Stringer("period", p), zap.Bool("local", local), zap.Stringer("limiter", lim))
	}
	return res, nil
}

func (s *Stage[E, T]) local(items []E) (T, bool) {
	if s.Local == nil {
		var zero T
		return zero, false
	}
	return s.Local(items)
}

func (s *Stage[E, T]) info(msg string, fields ...zap.Field) {
	if s.Logger != nil {
		s.Logger.Info(msg, append(fields, zap.String("stage", s.Name))...)
	}
}

func (s *Stage[E, T]) debug(msg string, fields ...zap.Field) {
	if s.Logger != nil {
		s.Logger.Debug(msg, append(fields, zap.String("stage", s.Name))...)
	}
}
