package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/leadops/internal/domain"
)

// MemoryStore keeps records in process. It backs STORE_BACKEND=memory and
// the tests; it has no identity index, so duplicates are only caught by the
// scanning detector.
type MemoryStore struct {
	mu        sync.Mutex
	quotes    map[string]domain.QuoteRecord
	transfers map[string]domain.TransferRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotes:    make(map[string]domain.QuoteRecord),
		transfers: make(map[string]domain.TransferRecord),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
func (m *MemoryStore) Close()                         {}

func (m *MemoryStore) CreateQuote(ctx context.Context, rec *domain.QuoteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.quotes[rec.ID]; exists {
		return ErrConflict
	}
	m.quotes[rec.ID] = copyQuote(*rec)
	return nil
}

func (m *MemoryStore) CompleteQuote(ctx context.Context, id string, out domain.QuoteOutcome) (*domain.QuoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.quotes[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != domain.QuoteStatusPending {
		return nil, ErrNotPending
	}
	premium, excess := out.Premium, out.Excess
	rec.Status = domain.QuoteStatusCompleted
	rec.Premium = &premium
	rec.Excess = &excess
	rec.QuoteID = out.QuoteID
	rec.UpdatedAt = stamp(out.CompletedAt)
	m.quotes[id] = rec

	res := copyQuote(rec)
	return &res, nil
}

func (m *MemoryStore) GetQuote(ctx context.Context, id string) (*domain.QuoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.quotes[id]
	if !ok {
		return nil, ErrNotFound
	}
	res := copyQuote(rec)
	return &res, nil
}

func (m *MemoryStore) CreateTransfer(ctx context.Context, rec *domain.TransferRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.transfers[rec.ID]; exists {
		return ErrConflict
	}
	m.transfers[rec.ID] = *rec
	return nil
}

func (m *MemoryStore) UpdateTransferResult(ctx context.Context, id string, res domain.TransferResponse, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.transfers[id]
	if !ok {
		return ErrNotFound
	}
	rec.UUID = res.UUID
	rec.RedirectURL = res.RedirectURL
	rec.UpdatedAt = stamp(at)
	m.transfers[id] = rec
	return nil
}

func (m *MemoryStore) GetTransfer(ctx context.Context, id string) (*domain.TransferRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.transfers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) ListTransfers(ctx context.Context) ([]domain.TransferRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TransferRecord, 0, len(m.transfers))
	for _, rec := range m.transfers {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Counts reports how many quotes and transfers are stored.
func (m *MemoryStore) Counts() (quotes, transfers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.quotes), len(m.transfers)
}

func copyQuote(rec domain.QuoteRecord) domain.QuoteRecord {
	rec.Vehicles = append([]domain.Vehicle(nil), rec.Vehicles...)
	if rec.Premium != nil {
		p := *rec.Premium
		rec.Premium = &p
	}
	if rec.Excess != nil {
		e := *rec.Excess
		rec.Excess = &e
	}
	return rec
}
