// Package dedupe finds an earlier transfer for the same person.
//
// A person is identified by normalized id number first, then by normalized
// contact number. The check is advisory: on backends without a unique
// identity index two concurrent submissions can both pass it.
package dedupe

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/leadops/internal/domain"
	"github.com/punchamoorthee/leadops/internal/store"
)

var duplicatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "leadops_duplicate_transfers_total",
	Help: "Transfer submissions matched to an earlier transfer, labeled by matched field",
}, []string{"field"})

// Match is an earlier transfer and the field it matched on.
type Match struct {
	Field  string
	Record domain.TransferRecord
}

// Detector returns the most recent matching transfer, or nil when the
// person has not been transferred before.
type Detector interface {
	Find(ctx context.Context, idNumber, contactNumber string) (*Match, error)
}

// New picks the push-down detector when the store can filter on identity
// columns itself.
func New(s store.TransferStore) Detector {
	if m, ok := s.(store.TransferMatcher); ok {
		return &StoreDetector{matcher: m}
	}
	return &ScanDetector{store: s}
}

// ScanDetector lists every transfer and filters in process.
type ScanDetector struct {
	store store.TransferStore
}

func NewScanDetector(s store.TransferStore) *ScanDetector {
	return &ScanDetector{store: s}
}

func (d *ScanDetector) Find(ctx context.Context, idNumber, contactNumber string) (*Match, error) {
	id := domain.NormalizeIdentity(idNumber)
	contact := domain.NormalizeIdentity(contactNumber)
	if id == "" && contact == "" {
		return nil, nil
	}

	records, err := d.store.ListTransfers(ctx)
	if err != nil {
		return nil, err
	}

	if m := latest(records, domain.MatchIDNumber, id); m != nil {
		return record(m), nil
	}
	if m := latest(records, domain.MatchContactNumber, contact); m != nil {
		return record(m), nil
	}
	return nil, nil
}

// latest does not rely on the list order.
func latest(records []domain.TransferRecord, field, want string) *Match {
	if want == "" {
		return nil
	}
	var best *domain.TransferRecord
	for i := range records {
		rec := &records[i]
		var got string
		if field == domain.MatchIDNumber {
			got = rec.NormalizedIDNumber()
		} else {
			got = rec.NormalizedContactNumber()
		}
		if got != want {
			continue
		}
		if best == nil || rec.CreatedAt.After(best.CreatedAt) {
			best = rec
		}
	}
	if best == nil {
		return nil
	}
	return &Match{Field: field, Record: *best}
}

// StoreDetector asks the backend for the latest transfer per field.
type StoreDetector struct {
	matcher store.TransferMatcher
}

func NewStoreDetector(m store.TransferMatcher) *StoreDetector {
	return &StoreDetector{matcher: m}
}

func (d *StoreDetector) Find(ctx context.Context, idNumber, contactNumber string) (*Match, error) {
	lookups := []struct{ field, value string }{
		{domain.MatchIDNumber, domain.NormalizeIdentity(idNumber)},
		{domain.MatchContactNumber, domain.NormalizeIdentity(contactNumber)},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		rec, err := d.matcher.FindLatestTransfer(ctx, l.field, l.value)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return record(&Match{Field: l.field, Record: *rec}), nil
	}
	return nil, nil
}

func record(m *Match) *Match {
	duplicatesTotal.WithLabelValues(m.Field).Inc()
	return m
}
