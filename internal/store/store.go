package store

import (
	"context"
	"errors"
	"time"

	"github.com/punchamoorthee/leadops/internal/domain"
)

var (
	// ErrNotFound is returned when no record exists under the requested key.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned by create operations when the key is taken.
	ErrConflict = errors.New("record key already exists")

	// ErrNotPending is returned when completing a quote that already left PENDING.
	ErrNotPending = errors.New("quote is not pending")

	// ErrDuplicateIdentity is returned by backends that enforce one transfer
	// per normalized id number or contact number.
	ErrDuplicateIdentity = errors.New("transfer identity already recorded")
)

type QuoteStore interface {
	CreateQuote(ctx context.Context, rec *domain.QuoteRecord) error
	CompleteQuote(ctx context.Context, id string, out domain.QuoteOutcome) (*domain.QuoteRecord, error)
	GetQuote(ctx context.Context, id string) (*domain.QuoteRecord, error)
}

type TransferStore interface {
	CreateTransfer(ctx context.Context, rec *domain.TransferRecord) error
	UpdateTransferResult(ctx context.Context, id string, res domain.TransferResponse, at time.Time) error
	GetTransfer(ctx context.Context, id string) (*domain.TransferRecord, error)
	// ListTransfers returns every stored transfer, newest first.
	ListTransfers(ctx context.Context) ([]domain.TransferRecord, error)
}

// TransferMatcher is implemented by backends that can filter on normalized
// identity fields server side. field is one of domain.MatchIDNumber or
// domain.MatchContactNumber.
type TransferMatcher interface {
	FindLatestTransfer(ctx context.Context, field, normalized string) (*domain.TransferRecord, error)
}

type Store interface {
	QuoteStore
	TransferStore
	Ping(ctx context.Context) error
	Close()
}

// stamp is the UpdatedAt written by a mutation; callers pass their clock's
// time, zero means now.
func stamp(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now().UTC()
	}
	return at.UTC()
}
