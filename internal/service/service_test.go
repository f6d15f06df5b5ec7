package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/leadops/internal/clock"
	"github.com/punchamoorthee/leadops/internal/dedupe"
	"github.com/punchamoorthee/leadops/internal/domain"
	"github.com/punchamoorthee/leadops/internal/logger"
	"github.com/punchamoorthee/leadops/internal/notify"
	"github.com/punchamoorthee/leadops/internal/store"
	"github.com/punchamoorthee/leadops/internal/upstream"
)

var t0 = time.Date(2025, 1, 15, 8, 30, 0, 0, time.UTC)

type fakeUpstream struct {
	mu        sync.Mutex
	quote     *upstream.QuoteResult
	transfer  *upstream.TransferResult
	err       error
	calls     int
	lastQuote domain.QuoteRequest
}

func (f *fakeUpstream) RequestQuote(ctx context.Context, req domain.QuoteRequest) (*upstream.QuoteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastQuote = req
	if f.err != nil {
		return nil, f.err
	}
	return f.quote, nil
}

func (f *fakeUpstream) SubmitTransfer(ctx context.Context, req domain.TransferRequest) (*upstream.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.transfer, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (f *fakeNotifier) Enqueue(n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func validQuote(ref string) domain.QuoteRequest {
	return domain.QuoteRequest{
		Source:              "website",
		ExternalReferenceID: ref,
		AgentEmail:          "agent@example.com",
		Vehicles: []domain.Vehicle{{
			Year: 2021, Make: "Toyota", Model: "Hilux",
			Address:       domain.Address{AddressLine: "12 Oak Ave", PostalCode: 2196, Suburb: "Sandton"},
			RegularDriver: domain.RegularDriver{MaritalStatus: "Married", RelationToPolicyHolder: "Self", YearsWithoutClaims: 3},
		}},
	}
}

func validTransfer(idNumber, contact string) domain.TransferRequest {
	return domain.TransferRequest{
		CustomerInfo: domain.CustomerInfo{
			FirstName: "Naledi", LastName: "Mokoena", Email: "naledi@example.com",
			ContactNumber: contact, IDNumber: idNumber,
		},
		AgentInfo: domain.AgentInfo{AgentName: "Pieter", AgentEmail: "pieter@example.com", BranchName: "Pretoria"},
	}
}

func newQuoteSvc(s store.QuoteStore, up *fakeUpstream, n *fakeNotifier) *QuoteService {
	return NewQuoteService(s, up, n, clock.NewFake(t0), logger.Discard(), true)
}

func newTransferSvc(s store.TransferStore, up *fakeUpstream, n *fakeNotifier, c clock.Clock) *TransferService {
	return NewTransferService(s, dedupe.New(s), up, n, c, logger.Discard(), true)
}

func TestCreateQuote(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path -> completed and notified", func(t *testing.T) {
		s := store.NewMemoryStore()
		up := &fakeUpstream{quote: &upstream.QuoteResult{Premium: 1240.46, Excess: 6200, QuoteID: "abc123"}}
		n := &fakeNotifier{}

		res, err := newQuoteSvc(s, up, n).CreateQuote(ctx, validQuote("ref-1"))
		require.NoError(t, err)
		assert.False(t, res.Replayed)
		assert.Equal(t, domain.QuoteResponse{Premium: 1240.46, Excess: 6200, QuoteID: "abc123"}, res.Response)

		rec, err := s.GetQuote(ctx, "ref-1")
		require.NoError(t, err)
		assert.Equal(t, domain.QuoteStatusCompleted, rec.Status)
		assert.Equal(t, t0, rec.CreatedAt)
		assert.Equal(t, t0, rec.UpdatedAt)
		require.NotNil(t, rec.Premium)
		require.NotNil(t, rec.Excess)

		require.Len(t, n.sent, 1)
		assert.Equal(t, "New Quote Request Received", n.sent[0].Subject)
		assert.Equal(t, []string{"agent@example.com"}, n.sent[0].CC)
	})

	t.Run("invalid input -> validation error before any write", func(t *testing.T) {
		s := store.NewMemoryStore()
		up := &fakeUpstream{}
		req := validQuote("ref-2")
		req.Vehicles[0].Address.Suburb = ""
		req.AgentEmail = "not-an-email"

		_, err := newQuoteSvc(s, up, &fakeNotifier{}).CreateQuote(ctx, req)
		require.ErrorIs(t, err, ErrValidation)

		var e *Error
		require.ErrorAs(t, err, &e)
		fields := e.Details["fields"].(map[string]any)
		assert.Contains(t, fields, "vehicles[0].address.suburb")
		assert.Contains(t, fields, "agentEmail")

		quotes, _ := s.Counts()
		assert.Zero(t, quotes)
		assert.Zero(t, up.calls)
	})

	t.Run("no vehicles -> validation error", func(t *testing.T) {
		req := validQuote("ref-3")
		req.Vehicles = nil
		_, err := newQuoteSvc(store.NewMemoryStore(), &fakeUpstream{}, &fakeNotifier{}).CreateQuote(ctx, req)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("same reference twice -> replay without second upstream call", func(t *testing.T) {
		s := store.NewMemoryStore()
		up := &fakeUpstream{quote: &upstream.QuoteResult{Premium: 500, Excess: 2500}}
		svc := newQuoteSvc(s, up, &fakeNotifier{})

		first, err := svc.CreateQuote(ctx, validQuote("ref-4"))
		require.NoError(t, err)
		second, err := svc.CreateQuote(ctx, validQuote("ref-4"))
		require.NoError(t, err)

		assert.True(t, second.Replayed)
		assert.Equal(t, first.Response, second.Response)
		assert.Equal(t, 1, up.calls)
		quotes, _ := s.Counts()
		assert.Equal(t, 1, quotes)
	})

	t.Run("pending key taken -> retried under fresh key", func(t *testing.T) {
		s := store.NewMemoryStore()
		require.NoError(t, s.CreateQuote(ctx, &domain.QuoteRecord{ID: "ref-5", Status: domain.QuoteStatusPending}))

		up := &fakeUpstream{quote: &upstream.QuoteResult{Premium: 10, Excess: 20}}
		svc := newQuoteSvc(s, up, &fakeNotifier{})
		svc.newKey = func() string { return "deadbeef" }

		res, err := svc.CreateQuote(ctx, validQuote("ref-5"))
		require.NoError(t, err)
		assert.Equal(t, "ref-5-deadbeef", res.ID)

		stale, err := s.GetQuote(ctx, "ref-5")
		require.NoError(t, err)
		assert.Equal(t, domain.QuoteStatusPending, stale.Status)
	})

	t.Run("second collision -> storage failure", func(t *testing.T) {
		s := store.NewMemoryStore()
		require.NoError(t, s.CreateQuote(ctx, &domain.QuoteRecord{ID: "ref-6", Status: domain.QuoteStatusPending}))
		require.NoError(t, s.CreateQuote(ctx, &domain.QuoteRecord{ID: "ref-6-deadbeef", Status: domain.QuoteStatusPending}))

		up := &fakeUpstream{}
		svc := newQuoteSvc(s, up, &fakeNotifier{})
		svc.newKey = func() string { return "deadbeef" }

		_, err := svc.CreateQuote(ctx, validQuote("ref-6"))
		require.ErrorIs(t, err, ErrStorage)
		assert.Equal(t, http.StatusInternalServerError, KindStorage.HTTPStatus())
		assert.Zero(t, up.calls)
	})

	t.Run("upstream rejection -> classified, record stays pending", func(t *testing.T) {
		s := store.NewMemoryStore()
		up := &fakeUpstream{err: &upstream.Failure{Kind: upstream.FailureRejected, Message: "bad vehicle", StatusCode: 200}}
		n := &fakeNotifier{}

		_, err := newQuoteSvc(s, up, n).CreateQuote(ctx, validQuote("ref-7"))
		require.ErrorIs(t, err, ErrUpstreamRejected)

		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "bad vehicle", e.Message)
		assert.Contains(t, e.UserMessage, "bad vehicle")

		rec, err := s.GetQuote(ctx, "ref-7")
		require.NoError(t, err)
		assert.Equal(t, domain.QuoteStatusPending, rec.Status)
		assert.Empty(t, n.sent)
	})

	t.Run("upstream unreachable -> 502 kind", func(t *testing.T) {
		up := &fakeUpstream{err: &upstream.Failure{Kind: upstream.FailureUnreachable, Message: "dial tcp: timeout"}}
		_, err := newQuoteSvc(store.NewMemoryStore(), up, &fakeNotifier{}).CreateQuote(ctx, validQuote("ref-8"))
		require.ErrorIs(t, err, ErrUpstreamUnreachable)
		assert.Equal(t, http.StatusBadGateway, KindUpstreamUnreachable.HTTPStatus())
	})

	t.Run("notification failure -> response unchanged", func(t *testing.T) {
		up := &fakeUpstream{quote: &upstream.QuoteResult{Premium: 1, Excess: 2}}
		n := &fakeNotifier{err: notify.ErrQueueFull}
		res, err := newQuoteSvc(store.NewMemoryStore(), up, n).CreateQuote(ctx, validQuote("ref-9"))
		require.NoError(t, err)
		assert.Equal(t, 1.0, res.Response.Premium)
	})

	t.Run("notifications disabled -> nothing queued", func(t *testing.T) {
		up := &fakeUpstream{quote: &upstream.QuoteResult{}}
		n := &fakeNotifier{}
		svc := NewQuoteService(store.NewMemoryStore(), up, n, clock.RealClock{}, logger.Discard(), false)
		_, err := svc.CreateQuote(ctx, validQuote("ref-10"))
		require.NoError(t, err)
		assert.Empty(t, n.sent)
	})
}

func TestCreateTransfer(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path -> stored with insurer correlation", func(t *testing.T) {
		s := store.NewMemoryStore()
		up := &fakeUpstream{transfer: &upstream.TransferResult{UUID: "u-1", RedirectURL: "https://r/u-1"}}
		n := &fakeNotifier{}

		res, err := newTransferSvc(s, up, n, clock.NewFake(t0)).CreateTransfer(ctx, validTransfer("9404054800086", "0821234567"))
		require.NoError(t, err)
		assert.Equal(t, "u-1", res.UUID)

		list, err := s.ListTransfers(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "u-1", list[0].UUID)
		assert.Equal(t, "https://r/u-1", list[0].RedirectURL)
		assert.Equal(t, "Pretoria", list[0].BranchName)
		assert.Equal(t, t0, list[0].CreatedAt)
		assert.Equal(t, t0, list[0].UpdatedAt)

		require.Len(t, n.sent, 1)
		assert.Equal(t, "Lead Transfer Success: Naledi Mokoena", n.sent[0].Subject)
		assert.Equal(t, []string{"pieter@example.com"}, n.sent[0].CC)
	})

	t.Run("same id number formatted differently -> duplicate, no write", func(t *testing.T) {
		s := store.NewMemoryStore()
		c := clock.NewFake(t0)
		up := &fakeUpstream{transfer: &upstream.TransferResult{UUID: "u"}}
		svc := newTransferSvc(s, up, &fakeNotifier{}, c)

		_, err := svc.CreateTransfer(ctx, validTransfer("940405-4800-086", "0820000001"))
		require.NoError(t, err)

		c.Advance(time.Hour)
		_, err = svc.CreateTransfer(ctx, validTransfer("9404054800086", "0830000002"))
		require.ErrorIs(t, err, ErrDuplicate)

		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "id_number", e.Details["matched_field"])
		assert.Equal(t, "January 15, 2025 at 08:30 UTC", e.Details["formatted_date"])
		assert.Equal(t, "2025-01-15T08:30:00Z", e.Details["submission_date"])
		assert.Equal(t, "database", e.Details["source"])
		assert.Contains(t, e.UserMessage, "January 15, 2025")

		_, transfers := s.Counts()
		assert.Equal(t, 1, transfers)
		assert.Equal(t, 1, up.calls)
	})

	t.Run("same contact number -> duplicate on contact", func(t *testing.T) {
		s := store.NewMemoryStore()
		svc := newTransferSvc(s, &fakeUpstream{transfer: &upstream.TransferResult{}}, &fakeNotifier{}, clock.NewFake(t0))

		_, err := svc.CreateTransfer(ctx, validTransfer("", "+27 82 555 0000"))
		require.NoError(t, err)
		_, err = svc.CreateTransfer(ctx, validTransfer("", "27825550000"))

		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, KindDuplicate, e.Kind)
		assert.Equal(t, "contact_number", e.Details["matched_field"])
	})

	t.Run("local and international formats are different people", func(t *testing.T) {
		s := store.NewMemoryStore()
		svc := newTransferSvc(s, &fakeUpstream{transfer: &upstream.TransferResult{}}, &fakeNotifier{}, clock.NewFake(t0))

		_, err := svc.CreateTransfer(ctx, validTransfer("", "+27 82 123 4567"))
		require.NoError(t, err)
		_, err = svc.CreateTransfer(ctx, validTransfer("", "0821234567"))
		assert.NoError(t, err)
	})

	t.Run("upstream failure -> record kept, failure notified", func(t *testing.T) {
		s := store.NewMemoryStore()
		up := &fakeUpstream{err: &upstream.Failure{Kind: upstream.FailureRejected, Message: "lead exists"}}
		n := &fakeNotifier{}

		_, err := newTransferSvc(s, up, n, clock.NewFake(t0)).CreateTransfer(ctx, validTransfer("8001015009087", "0821110000"))
		require.ErrorIs(t, err, ErrUpstreamRejected)

		list, _ := s.ListTransfers(ctx)
		require.Len(t, list, 1)
		assert.Empty(t, list[0].UUID)

		require.Len(t, n.sent, 1)
		assert.Equal(t, "Lead Transfer Failed: Naledi Mokoena", n.sent[0].Subject)
		assert.Equal(t, "lead exists", n.sent[0].Context["error_message"])
		assert.Equal(t, []string{"pieter@example.com"}, n.sent[0].CC)
	})

	t.Run("malformed reply -> response parse error", func(t *testing.T) {
		up := &fakeUpstream{err: &upstream.Failure{Kind: upstream.FailureMalformed, Message: "transfer reply has no data object"}}
		_, err := newTransferSvc(store.NewMemoryStore(), up, &fakeNotifier{}, clock.NewFake(t0)).
			CreateTransfer(ctx, validTransfer("1", "2"))
		assert.ErrorIs(t, err, ErrResponseParse)
	})

	t.Run("missing branch -> validation error", func(t *testing.T) {
		req := validTransfer("1", "2")
		req.AgentInfo.BranchName = ""
		_, err := newTransferSvc(store.NewMemoryStore(), &fakeUpstream{}, &fakeNotifier{}, clock.NewFake(t0)).CreateTransfer(ctx, req)
		require.ErrorIs(t, err, ErrValidation)
	})
}

// raceStore simulates a unique index rejecting the insert after the
// advisory check passed.
type raceStore struct {
	*store.MemoryStore
	winner domain.TransferRecord
	hit    bool
}

func (r *raceStore) CreateTransfer(ctx context.Context, rec *domain.TransferRecord) error {
	if !r.hit {
		r.hit = true
		_ = r.MemoryStore.CreateTransfer(ctx, &r.winner)
		return store.ErrDuplicateIdentity
	}
	return r.MemoryStore.CreateTransfer(ctx, rec)
}

func TestCreateTransfer_UniqueIndexRace(t *testing.T) {
	rs := &raceStore{
		MemoryStore: store.NewMemoryStore(),
		winner:      domain.TransferRecord{ID: "winner", IDNumber: "9404054800086", CreatedAt: t0},
	}
	up := &fakeUpstream{}
	svc := NewTransferService(rs, dedupe.NewScanDetector(rs), up, &fakeNotifier{}, clock.NewFake(t0), logger.Discard(), true)

	_, err := svc.CreateTransfer(context.Background(), validTransfer("9404054800086", "0820000000"))
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindDuplicate, e.Kind)
	assert.Equal(t, "winner", e.Details["transfer_id"])
	assert.Zero(t, up.calls)
}

func TestErrorIs(t *testing.T) {
	err := error(newError(KindStorage, "boom", errors.New("io")))
	assert.ErrorIs(t, err, ErrStorage)
	assert.NotErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, "STORAGE_FAILURE: boom: io", err.Error())
}
