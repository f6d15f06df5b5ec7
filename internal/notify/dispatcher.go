// Package notify sends internal email notifications off the request path.
//
// Delivery is at most once: a notification that cannot be queued, rendered
// or sent is logged and counted, never retried.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/leadops/internal/config"
)

var (
	ErrQueueFull = errors.New("notification queue is full")
	ErrClosed    = errors.New("notification dispatcher is closed")
	// ErrNoRecipients means neither the notification nor the config named a To address.
	ErrNoRecipients = errors.New("notification has no recipients")
)

var notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "leadops_notifications_total",
	Help: "Notifications by result (sent, failed, dropped)",
}, []string{"result"})

// Notifier is what request handlers depend on.
type Notifier interface {
	Enqueue(n Notification) error
}

// Dispatcher feeds a bounded queue to a fixed pool of workers.
type Dispatcher struct {
	queue    chan Notification
	sender   Sender
	renderer *Renderer
	log      *slog.Logger
	defaults config.NotifyConfig
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(cfg config.NotifyConfig, sender Sender, renderer *Renderer, log *slog.Logger) *Dispatcher {
	size := cfg.QueueSize
	if size <= 0 {
		size = 100
	}
	return &Dispatcher{
		queue:    make(chan Notification, size),
		sender:   sender,
		renderer: renderer,
		log:      log.With("component", "notify"),
		defaults: cfg,
		timeout:  time.Minute,
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Enqueue never blocks.
func (d *Dispatcher) Enqueue(n Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		notificationsTotal.WithLabelValues("dropped").Inc()
		return ErrClosed
	}
	select {
	case d.queue <- n:
		return nil
	default:
		notificationsTotal.WithLabelValues("dropped").Inc()
		d.log.Warn("notification dropped, queue full", "subject", n.Subject)
		return ErrQueueFull
	}
}

// Close stops intake and waits for queued notifications to drain, or for
// ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for n := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.Deliver(ctx, n); err != nil {
			notificationsTotal.WithLabelValues("failed").Inc()
			d.log.Error("notification failed", "worker", id, "subject", n.Subject, "error", err)
		} else {
			notificationsTotal.WithLabelValues("sent").Inc()
			d.log.Info("notification sent", "worker", id, "subject", n.Subject)
		}
		cancel()
	}
}

// Deliver renders and sends n synchronously.
func (d *Dispatcher) Deliver(ctx context.Context, n Notification) error {
	msg, err := d.Prepare(n)
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, msg)
}

// Prepare resolves recipients against the configured admin lists and
// renders the body.
func (d *Dispatcher) Prepare(n Notification) (*Message, error) {
	to := Recipients(n.To...)
	if len(to) == 0 {
		to = Recipients(d.defaults.To...)
	}
	if len(to) == 0 {
		return nil, ErrNoRecipients
	}
	cc := without(Recipients(append(append([]string{}, d.defaults.CC...), n.CC...)...), to)
	bcc := without(Recipients(append(append([]string{}, d.defaults.BCC...), n.BCC...)...), to, cc)

	body := n.HTML
	if n.Template != "" {
		rendered, err := d.renderer.Render(n.Template, n.Context)
		if err != nil {
			d.log.Error("template render failed, using fallback body", "template", n.Template, "error", err)
		}
		body = rendered
	}

	return &Message{
		Subject:     n.Subject,
		To:          to,
		CC:          cc,
		BCC:         bcc,
		HTML:        body,
		Text:        PlainText(body),
		Attachments: n.Attachments,
	}, nil
}
