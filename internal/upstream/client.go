package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/leadops/internal/config"
	"github.com/punchamoorthee/leadops/internal/domain"
)

var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadops_upstream_requests_total",
		Help: "Calls to the insurer API, labeled by operation and outcome",
	}, []string{"operation", "outcome"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leadops_upstream_request_duration_seconds",
		Help:    "Latency distribution of insurer API calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"operation"})
)

// maxBodyBytes bounds how much of an insurer reply is read.
const maxBodyBytes = 1 << 20

const (
	opQuote    = "quote"
	opTransfer = "transfer"
)

// Client talks to the insurer's quote and transfer endpoints.
type Client struct {
	httpClient *http.Client
	cfg        config.UpstreamConfig
	log        *slog.Logger
}

func NewClient(cfg config.UpstreamConfig, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
		log:        log.With("component", "upstream"),
	}
}

type quotePayload struct {
	Source              string           `json:"source"`
	ExternalReferenceID string           `json:"externalReferenceId"`
	AgentEmail          string           `json:"agentEmail,omitempty"`
	AgentBranch         string           `json:"agentBranch,omitempty"`
	Vehicles            []domain.Vehicle `json:"vehicles"`
}

// transferPayload is flat; the insurer does not accept the nested
// customer_info/agent_info shape.
type transferPayload struct {
	Source        string `json:"source"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Email         string `json:"email"`
	IDNumber      string `json:"id_number"`
	QuoteID       string `json:"quote_id"`
	ContactNumber string `json:"contact_number"`
	AgentEmail    string `json:"agent_email,omitempty"`
	BranchName    string `json:"branch_name,omitempty"`
}

// RequestQuote prices a quote. The source field is always replaced with
// the configured upstream identifier.
func (c *Client) RequestQuote(ctx context.Context, req domain.QuoteRequest) (*QuoteResult, error) {
	payload := quotePayload{
		Source:              c.cfg.Source,
		ExternalReferenceID: req.ExternalReferenceID,
		AgentEmail:          req.AgentEmail,
		AgentBranch:         req.AgentBranch,
		Vehicles:            req.Vehicles,
	}
	body, err := c.post(ctx, opQuote, c.cfg.QuoteURL(), payload)
	if err != nil {
		return nil, err
	}

	res := extractQuote(body)
	if res.MissingPremium {
		c.log.Warn("premium missing from quote reply, defaulting to 0", "external_reference_id", req.ExternalReferenceID)
	}
	if res.MissingExcess {
		c.log.Warn("excess missing from quote reply, defaulting to 0", "external_reference_id", req.ExternalReferenceID)
	}
	return &res, nil
}

// SubmitTransfer hands a lead to the insurer. Agent identity is only sent
// when the deployment allows it.
func (c *Client) SubmitTransfer(ctx context.Context, req domain.TransferRequest) (*TransferResult, error) {
	ci := req.CustomerInfo
	payload := transferPayload{
		Source:        c.cfg.Source,
		FirstName:     ci.FirstName,
		LastName:      ci.LastName,
		Email:         ci.Email,
		IDNumber:      ci.IDNumber,
		QuoteID:       ci.QuoteID,
		ContactNumber: ci.ContactNumber,
	}
	if c.cfg.ForwardAgentInfo {
		payload.AgentEmail = req.AgentInfo.AgentEmail
		payload.BranchName = req.AgentInfo.BranchName
	}

	body, err := c.post(ctx, opTransfer, c.cfg.TransferURL(), payload)
	if err != nil {
		return nil, err
	}
	res, ok := extractTransfer(body)
	if !ok {
		upstreamRequestsTotal.WithLabelValues(opTransfer, string(FailureMalformed)).Inc()
		return nil, &Failure{Kind: FailureMalformed, Message: "transfer reply has no data.uuid"}
	}
	return &res, nil
}

// AuthHeader is the Authorization value the insurer expects.
func (c *Client) AuthHeader() string {
	return fmt.Sprintf("Bearer KEY=%s SECRET=%s", c.cfg.APIKey, c.cfg.APISecret)
}

// MaskedAuth is AuthHeader safe for logs.
func (c *Client) MaskedAuth() string {
	return "Bearer " + MaskKey(c.cfg.APIKey) + " SECRET=***"
}

// MaskKey keeps the first five and last three characters of a key.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "KEY=***"
	}
	return fmt.Sprintf("KEY=%s...%s", key[:5], key[len(key)-3:])
}

// post sends payload as JSON and returns the decoded reply, or a *Failure.
func (c *Client) post(ctx context.Context, op, url string, payload any) (map[string]any, error) {
	timer := prometheus.NewTimer(upstreamRequestDuration.WithLabelValues(op))
	defer timer.ObserveDuration()

	raw, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", op, err)
	}

	log := c.log.With("operation", op, "url", url, "production", c.cfg.Production)
	log.Info("calling insurer", "authorization", c.MaskedAuth())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", c.AuthHeader())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		upstreamRequestsTotal.WithLabelValues(op, string(FailureUnreachable)).Inc()
		log.Error("insurer unreachable", "error", err)
		return nil, &Failure{Kind: FailureUnreachable, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		upstreamRequestsTotal.WithLabelValues(op, string(FailureUnreachable)).Inc()
		return nil, &Failure{Kind: FailureUnreachable, Message: "reading reply: " + err.Error(), StatusCode: resp.StatusCode, Err: err}
	}
	log.Info("insurer replied", "status", resp.StatusCode, "bytes", len(data))

	var body map[string]any
	if err := sonic.Unmarshal(data, &body); err != nil || body == nil {
		if resp.StatusCode >= 400 {
			upstreamRequestsTotal.WithLabelValues(op, string(FailureRejected)).Inc()
			return nil, &Failure{Kind: FailureRejected, Message: http.StatusText(resp.StatusCode), StatusCode: resp.StatusCode}
		}
		upstreamRequestsTotal.WithLabelValues(op, string(FailureMalformed)).Inc()
		if err == nil {
			err = errors.New("reply is not a JSON object")
		}
		return nil, &Failure{Kind: FailureMalformed, Message: "invalid JSON reply: " + err.Error(), StatusCode: resp.StatusCode, Err: err}
	}

	if msg, rejected := rejection(body, resp.StatusCode); rejected {
		upstreamRequestsTotal.WithLabelValues(op, string(FailureRejected)).Inc()
		log.Warn("insurer rejected request", "message", msg)
		return nil, &Failure{Kind: FailureRejected, Message: msg, StatusCode: resp.StatusCode}
	}

	upstreamRequestsTotal.WithLabelValues(op, "ok").Inc()
	return body, nil
}
