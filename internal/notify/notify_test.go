package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/leadops/internal/config"
	"github.com/punchamoorthee/leadops/internal/domain"
	"github.com/punchamoorthee/leadops/internal/logger"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*Message
	err  error
	gate chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, msg *Message) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

func (f *fakeSender) messages() []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Message(nil), f.sent...)
}

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer()
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }
	return r
}

func sampleRecord() *domain.QuoteRecord {
	return &domain.QuoteRecord{
		ID:                  "ext-9",
		Source:              "website",
		ExternalReferenceID: "ext-9",
		AgentEmail:          "agent@example.com",
		Vehicles: []domain.Vehicle{{
			Year: 2018, Make: "Ford", Model: "Ranger",
			Address:       domain.Address{AddressLine: "4 Beach Rd", PostalCode: 4001, Suburb: "Umhlanga"},
			RegularDriver: domain.RegularDriver{MaritalStatus: "Single", RelationToPolicyHolder: "Self"},
		}},
	}
}

func TestRenderer(t *testing.T) {
	r := newRenderer(t)

	t.Run("quote template with injected SAST now", func(t *testing.T) {
		n := QuoteNotification(sampleRecord(), domain.QuoteResponse{Premium: 1240.46, Excess: 6200, QuoteID: "abc123"})
		body, err := r.Render(n.Template, n.Context)
		require.NoError(t, err)
		assert.Contains(t, body, "R 1240.46")
		assert.Contains(t, body, "abc123")
		assert.Contains(t, body, "2018 Ford Ranger")
		assert.Contains(t, body, "01 June 2025 12:00 SAST")
	})

	t.Run("caller supplied now is kept", func(t *testing.T) {
		n := TransferNotification(domain.TransferRequest{}, domain.TransferResponse{}, true, "")
		n.Context["now"] = time.Date(2024, 1, 2, 3, 4, 0, 0, SAST)
		body, err := r.Render(n.Template, n.Context)
		require.NoError(t, err)
		assert.Contains(t, body, "02 January 2024 03:04")
	})

	t.Run("unknown template -> fallback body", func(t *testing.T) {
		body, err := r.Render("missing.html", map[string]any{"a": 1})
		require.Error(t, err)
		assert.Contains(t, body, "missing.html")
		assert.Contains(t, body, "Context available: a, now")
	})

	t.Run("bad context -> fallback body", func(t *testing.T) {
		body, err := r.Render(QuoteTemplate, map[string]any{"premium": "not a number", "now": "yesterday"})
		require.Error(t, err)
		assert.Contains(t, body, "Email Notification")
	})
}

func TestTransferNotification(t *testing.T) {
	req := domain.TransferRequest{CustomerInfo: domain.CustomerInfo{FirstName: "Ayanda", LastName: "Zulu"}}

	ok := TransferNotification(req, domain.TransferResponse{UUID: "u1"}, true, "")
	assert.Equal(t, "Lead Transfer Success: Ayanda Zulu", ok.Subject)

	failed := TransferNotification(req, domain.TransferResponse{}, false, "")
	assert.Equal(t, "Lead Transfer Failed: Ayanda Zulu", failed.Subject)
	assert.Equal(t, "Lead transfer failed: Unknown error", failed.Context["status_line"])
}

func TestRecipients(t *testing.T) {
	got := Recipients("a@x.com, b@x.com", " A@x.com ", "", "c@x.com,")
	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"}, got)
	assert.Empty(t, Recipients())
}

func TestPlainText(t *testing.T) {
	text := PlainText("<html><head><style>p { color: red; }</style></head><body><p>Hi &amp;   welcome</p>\n<br/><b>Bye</b></body></html>")

	lines := strings.Split(text, "\n")
	assert.Equal(t, "Hi & welcome", lines[0])
	assert.Equal(t, "Bye", lines[len(lines)-1])
	assert.NotContains(t, text, "<")
	assert.NotContains(t, text, "color: red")
	assert.NotContains(t, text, "\n\n\n")
	assert.NotContains(t, text, "\r")
}

func TestDispatcher_Prepare(t *testing.T) {
	d := NewDispatcher(config.NotifyConfig{
		To:  []string{"ops@x.com", "sales@x.com"},
		CC:  []string{"lead@x.com"},
		BCC: []string{"audit@x.com", "ops@x.com"},
	}, &fakeSender{}, newRenderer(t), logger.Discard())

	n := QuoteNotification(sampleRecord(), domain.QuoteResponse{Premium: 1, Excess: 2})
	msg, err := d.Prepare(n)
	require.NoError(t, err)

	assert.Equal(t, []string{"ops@x.com", "sales@x.com"}, msg.To)
	assert.Equal(t, []string{"lead@x.com", "agent@example.com"}, msg.CC)
	assert.Equal(t, []string{"audit@x.com"}, msg.BCC)
	assert.Equal(t, "New Quote Request Received", msg.Subject)
	assert.NotContains(t, msg.Text, "<")

	t.Run("no recipients anywhere -> error", func(t *testing.T) {
		bare := NewDispatcher(config.NotifyConfig{}, &fakeSender{}, newRenderer(t), logger.Discard())
		_, err := bare.Prepare(Notification{Subject: "x", HTML: "<p>x</p>"})
		assert.ErrorIs(t, err, ErrNoRecipients)
	})
}

func TestDispatcher_DeliversInBackground(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(config.NotifyConfig{To: []string{"ops@x.com"}, QueueSize: 10}, sender, newRenderer(t), logger.Discard())
	d.Start(2)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Enqueue(Notification{Subject: "n", HTML: "<p>hello</p>"}))
	}
	require.NoError(t, d.Close(context.Background()))

	msgs := sender.messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, "hello", msgs[0].Text)

	assert.ErrorIs(t, d.Enqueue(Notification{Subject: "late"}), ErrClosed)
}

func TestDispatcher_QueueFullDrops(t *testing.T) {
	sender := &fakeSender{gate: make(chan struct{})}
	d := NewDispatcher(config.NotifyConfig{To: []string{"ops@x.com"}, QueueSize: 1}, sender, newRenderer(t), logger.Discard())

	// No workers yet: the single slot fills and the next enqueue is dropped.
	require.NoError(t, d.Enqueue(Notification{Subject: "1", HTML: "x"}))
	assert.ErrorIs(t, d.Enqueue(Notification{Subject: "2", HTML: "x"}), ErrQueueFull)

	d.Start(1)
	close(sender.gate)
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, sender.messages(), 1)
}

func TestDispatcher_SendFailureIsSwallowed(t *testing.T) {
	sender := &fakeSender{err: errors.New("535 auth failed")}
	d := NewDispatcher(config.NotifyConfig{To: []string{"ops@x.com"}}, sender, newRenderer(t), logger.Discard())
	d.Start(1)
	require.NoError(t, d.Enqueue(Notification{Subject: "x", HTML: "x"}))
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, sender.messages(), 1)
}

func TestSMTPMailer(t *testing.T) {
	t.Run("unconfigured -> ErrNotConfigured", func(t *testing.T) {
		m := NewSMTPMailer(config.SMTPConfig{})
		assert.False(t, m.Configured())
		assert.ErrorIs(t, m.Send(context.Background(), &Message{}), ErrNotConfigured)
	})

	t.Run("builds multipart message", func(t *testing.T) {
		m := NewSMTPMailer(config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "noreply@example.com", FromName: "Surestrat - Pineapple system"})
		mm, err := m.build(&Message{
			Subject: "Hello",
			To:      []string{"ops@example.com"},
			CC:      []string{"agent@example.com"},
			HTML:    "<p>Hi</p>",
			Text:    "Hi",
		})
		require.NoError(t, err)

		var sb strings.Builder
		_, err = mm.WriteTo(&sb)
		require.NoError(t, err)
		raw := sb.String()
		assert.Contains(t, raw, "Subject: Hello")
		assert.Contains(t, raw, "multipart/alternative")
		assert.Contains(t, raw, "Surestrat - Pineapple system")
		assert.Len(t, m.clientOptions(), 3)
	})

	t.Run("bad recipient -> error", func(t *testing.T) {
		m := NewSMTPMailer(config.SMTPConfig{Host: "smtp.example.com", From: "noreply@example.com"})
		_, err := m.build(&Message{To: []string{"not an address"}})
		assert.Error(t, err)
	})
}
