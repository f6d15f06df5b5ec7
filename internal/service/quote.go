package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/punchamoorthee/leadops/internal/clock"
	"github.com/punchamoorthee/leadops/internal/domain"
	"github.com/punchamoorthee/leadops/internal/notify"
	"github.com/punchamoorthee/leadops/internal/store"
	"github.com/punchamoorthee/leadops/internal/upstream"
)

// QuoteUpstream prices a quote with the insurer.
type QuoteUpstream interface {
	RequestQuote(ctx context.Context, req domain.QuoteRequest) (*upstream.QuoteResult, error)
}

// QuoteResult is what CreateQuote hands back. Replayed is true when an
// earlier completed quote under the same reference was returned instead of
// calling the insurer again.
type QuoteResult struct {
	ID       string
	Response domain.QuoteResponse
	Replayed bool
}

type QuoteService struct {
	store    store.QuoteStore
	upstream QuoteUpstream
	notifier notify.Notifier
	clock    clock.Clock
	log      *slog.Logger

	notifyEnabled bool
	newKey        func() string
}

func NewQuoteService(s store.QuoteStore, up QuoteUpstream, n notify.Notifier, c clock.Clock, log *slog.Logger, notifyEnabled bool) *QuoteService {
	return &QuoteService{
		store:         s,
		upstream:      up,
		notifier:      n,
		clock:         c,
		log:           log.With("component", "quote"),
		notifyEnabled: notifyEnabled,
		newKey:        shortKey,
	}
}

// shortKey is 8 hex characters of a random UUID.
func shortKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// CreateQuote stores the request, prices it with the insurer and records
// the outcome.
func (s *QuoteService) CreateQuote(ctx context.Context, req domain.QuoteRequest) (*QuoteResult, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	log := s.log.With("external_reference_id", req.ExternalReferenceID)

	now := s.clock.Now()
	rec := &domain.QuoteRecord{
		ID:                  req.ExternalReferenceID,
		Source:              req.Source,
		ExternalReferenceID: req.ExternalReferenceID,
		AgentEmail:          req.AgentEmail,
		AgentBranch:         req.AgentBranch,
		Vehicles:            req.Vehicles,
		Status:              domain.QuoteStatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	replay, err := s.persist(ctx, rec, log)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}

	priced, err := s.upstream.RequestQuote(ctx, req)
	if err != nil {
		log.Error("quote not priced", "quote_key", rec.ID, "error", err)
		return nil, fromUpstream(err)
	}

	done, err := s.store.CompleteQuote(ctx, rec.ID, domain.QuoteOutcome{
		Premium:     priced.Premium,
		Excess:      priced.Excess,
		QuoteID:     priced.QuoteID,
		CompletedAt: s.clock.Now(),
	})
	if errors.Is(err, store.ErrNotPending) {
		// Completed concurrently: the first result stands.
		existing, gerr := s.store.GetQuote(ctx, rec.ID)
		if gerr != nil {
			return nil, storageError("reading concurrently completed quote", gerr)
		}
		return &QuoteResult{ID: existing.ID, Response: existing.Response(), Replayed: true}, nil
	}
	if err != nil {
		return nil, storageError("completing quote", err)
	}

	resp := done.Response()
	log.Info("quote completed", "quote_key", done.ID, "premium", resp.Premium, "excess", resp.Excess, "quote_id", resp.QuoteID)

	if s.notifyEnabled {
		if err := s.notifier.Enqueue(notify.QuoteNotification(done, resp)); err != nil {
			log.Warn("quote notification not queued", "error", err)
		}
	}
	return &QuoteResult{ID: done.ID, Response: resp}, nil
}

// persist writes rec as PENDING. A taken key is either replayed (already
// completed) or retried once under a fresh key.
func (s *QuoteService) persist(ctx context.Context, rec *domain.QuoteRecord, log *slog.Logger) (*QuoteResult, error) {
	err := s.store.CreateQuote(ctx, rec)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return nil, storageError("storing quote", err)
	}

	existing, gerr := s.store.GetQuote(ctx, rec.ID)
	if gerr == nil && existing.Status == domain.QuoteStatusCompleted {
		log.Info("replaying completed quote", "quote_key", existing.ID)
		return &QuoteResult{ID: existing.ID, Response: existing.Response(), Replayed: true}, nil
	}

	original := rec.ID
	rec.ID = original + "-" + s.newKey()
	log.Warn("quote key taken, retrying with fresh key", "quote_key", original, "new_key", rec.ID)
	if err := s.store.CreateQuote(ctx, rec); err != nil {
		return nil, storageError("storing quote after key collision", err)
	}
	return nil, nil
}

func (s *QuoteService) GetQuote(ctx context.Context, id string) (*domain.QuoteRecord, error) {
	return s.store.GetQuote(ctx, id)
}
