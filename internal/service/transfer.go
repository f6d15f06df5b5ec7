package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/leadops/internal/clock"
	"github.com/punchamoorthee/leadops/internal/dedupe"
	"github.com/punchamoorthee/leadops/internal/domain"
	"github.com/punchamoorthee/leadops/internal/notify"
	"github.com/punchamoorthee/leadops/internal/store"
	"github.com/punchamoorthee/leadops/internal/upstream"
)

// TransferUpstream hands a lead to the insurer.
type TransferUpstream interface {
	SubmitTransfer(ctx context.Context, req domain.TransferRequest) (*upstream.TransferResult, error)
}

type TransferService struct {
	store    store.TransferStore
	detector dedupe.Detector
	upstream TransferUpstream
	notifier notify.Notifier
	clock    clock.Clock
	log      *slog.Logger

	notifyEnabled bool
}

func NewTransferService(s store.TransferStore, d dedupe.Detector, up TransferUpstream, n notify.Notifier, c clock.Clock, log *slog.Logger, notifyEnabled bool) *TransferService {
	return &TransferService{
		store:         s,
		detector:      d,
		upstream:      up,
		notifier:      n,
		clock:         c,
		log:           log.With("component", "transfer"),
		notifyEnabled: notifyEnabled,
	}
}

// CreateTransfer refuses people already transferred, stores the lead and
// forwards it. The stored record is kept when the insurer call fails.
func (s *TransferService) CreateTransfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResponse, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	ci := req.CustomerInfo

	match, err := s.detector.Find(ctx, ci.IDNumber, ci.ContactNumber)
	if err != nil {
		return nil, storageError("checking for earlier transfers", err)
	}
	if match != nil {
		s.log.Info("duplicate transfer refused", "matched_field", match.Field, "transfer_id", match.Record.ID)
		return nil, duplicateError(match)
	}

	now := s.clock.Now()
	rec := &domain.TransferRecord{
		ID:            uuid.NewString(),
		FirstName:     ci.FirstName,
		LastName:      ci.LastName,
		Email:         ci.Email,
		ContactNumber: ci.ContactNumber,
		IDNumber:      ci.IDNumber,
		QuoteID:       ci.QuoteID,
		AgentName:     req.AgentInfo.AgentName,
		AgentEmail:    req.AgentInfo.AgentEmail,
		BranchName:    req.AgentInfo.BranchName,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	log := s.log.With("transfer_id", rec.ID)

	if err := s.store.CreateTransfer(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicateIdentity) {
			return nil, s.lostRace(ctx, req)
		}
		return nil, storageError("storing transfer", err)
	}

	res, err := s.upstream.SubmitTransfer(ctx, req)
	if err != nil {
		log.Error("transfer not accepted by insurer", "error", err)
		classified := fromUpstream(err)
		s.notify(log, notify.TransferNotification(req, domain.TransferResponse{}, false, failureText(classified)))
		return nil, classified
	}

	out := domain.TransferResponse{UUID: res.UUID, RedirectURL: res.RedirectURL}
	if err := s.store.UpdateTransferResult(ctx, rec.ID, out, s.clock.Now()); err != nil {
		return nil, storageError("recording insurer result", err)
	}
	log.Info("transfer completed", "uuid", out.UUID)

	s.notify(log, notify.TransferNotification(req, out, true, ""))
	return &out, nil
}

// lostRace handles a unique-index violation: another submission for the
// same person was written between the check and our insert.
func (s *TransferService) lostRace(ctx context.Context, req domain.TransferRequest) error {
	match, err := s.detector.Find(ctx, req.CustomerInfo.IDNumber, req.CustomerInfo.ContactNumber)
	if err == nil && match != nil {
		return duplicateError(match)
	}
	e := newError(KindDuplicate, "transfer identity already recorded", store.ErrDuplicateIdentity)
	e.Details = map[string]any{"source": "database", "retry_allowed": true}
	return e
}

func (s *TransferService) notify(log *slog.Logger, n notify.Notification) {
	if !s.notifyEnabled {
		return
	}
	if err := s.notifier.Enqueue(n); err != nil {
		log.Warn("transfer notification not queued", "error", err)
	}
}

func (s *TransferService) GetTransfer(ctx context.Context, id string) (*domain.TransferRecord, error) {
	return s.store.GetTransfer(ctx, id)
}

// DuplicateDateFormat renders submission dates in duplicate errors.
const DuplicateDateFormat = "January 02, 2006 at 15:04 UTC"

func duplicateError(m *dedupe.Match) *Error {
	submitted := m.Record.CreatedAt.UTC()
	formatted := submitted.Format(DuplicateDateFormat)

	e := newError(KindDuplicate,
		fmt.Sprintf("transfer already exists for this %s (found in database)", m.Field), nil)
	e.UserMessage = "This person has already submitted a transfer request on " + formatted + "."
	e.Details = map[string]any{
		"submission_date": submitted.Format(time.RFC3339),
		"formatted_date":  formatted,
		"transfer_id":     m.Record.ID,
		"matched_field":   m.Field,
		"source":          "database",
		"retry_allowed":   true,
	}
	return e
}

func failureText(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
