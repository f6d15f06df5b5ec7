package dedupe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/leadops/internal/domain"
	"github.com/punchamoorthee/leadops/internal/store"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *store.MemoryStore, id, idNumber, contact string, at time.Time) {
	t.Helper()
	require.NoError(t, s.CreateTransfer(context.Background(), &domain.TransferRecord{
		ID: id, FirstName: "A", LastName: "B", IDNumber: idNumber, ContactNumber: contact, CreatedAt: at,
	}))
}

func TestScanDetector(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "old", "940405-4800-086", "082 000 0001", base)
	seed(t, s, "new", "9404054800086", "082 000 0002", base.Add(time.Hour))
	seed(t, s, "phone", "", "+27 82 123 4567", base)

	d := New(s)
	require.IsType(t, &ScanDetector{}, d)
	ctx := context.Background()

	t.Run("formatted id number -> newest match", func(t *testing.T) {
		m, err := d.Find(ctx, "940405 4800 086", "")
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, domain.MatchIDNumber, m.Field)
		assert.Equal(t, "new", m.Record.ID)
	})

	t.Run("id number wins over contact number", func(t *testing.T) {
		m, err := d.Find(ctx, "9404054800086", "+27 82 123 4567")
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, domain.MatchIDNumber, m.Field)
	})

	t.Run("contact number fallback", func(t *testing.T) {
		m, err := d.Find(ctx, "8001015009087", "27-82-123-4567")
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, domain.MatchContactNumber, m.Field)
		assert.Equal(t, "phone", m.Record.ID)
	})

	t.Run("local format is a different person", func(t *testing.T) {
		m, err := d.Find(ctx, "", "0821234567")
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("empty identity -> no match", func(t *testing.T) {
		m, err := d.Find(ctx, "  ", "")
		require.NoError(t, err)
		assert.Nil(t, m)
	})
}

type fakeMatcher struct {
	store.TransferStore
	byField map[string]map[string]domain.TransferRecord
	err     error
	calls   []string
}

func (f *fakeMatcher) FindLatestTransfer(ctx context.Context, field, normalized string) (*domain.TransferRecord, error) {
	f.calls = append(f.calls, field+"="+normalized)
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.byField[field][normalized]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func TestStoreDetector(t *testing.T) {
	ctx := context.Background()

	t.Run("miss on id falls through to contact", func(t *testing.T) {
		m := &fakeMatcher{byField: map[string]map[string]domain.TransferRecord{
			domain.MatchContactNumber: {"0820000001": {ID: "t1"}},
		}}
		d := New(m)
		require.IsType(t, &StoreDetector{}, d)

		got, err := d.Find(ctx, "123-456", "082 000 0001")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "t1", got.Record.ID)
		assert.Equal(t, domain.MatchContactNumber, got.Field)
		assert.Equal(t, []string{"id_number=123456", "contact_number=0820000001"}, m.calls)
	})

	t.Run("empty id is not looked up", func(t *testing.T) {
		m := &fakeMatcher{}
		got, err := NewStoreDetector(m).Find(ctx, "", "0820000009")
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, []string{"contact_number=0820000009"}, m.calls)
	})

	t.Run("backend error -> returned", func(t *testing.T) {
		boom := errors.New("connection reset")
		_, err := NewStoreDetector(&fakeMatcher{err: boom}).Find(ctx, "1", "2")
		assert.ErrorIs(t, err, boom)
	})
}
