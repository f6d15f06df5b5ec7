package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/leadops/internal/clock"
	"github.com/punchamoorthee/leadops/internal/domain"
	"github.com/punchamoorthee/leadops/internal/models"
	"github.com/punchamoorthee/leadops/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadops_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leadops_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "endpoint"})
)

// maxBodyBytes bounds inbound request bodies.
const maxBodyBytes = 1 << 20

type QuoteService interface {
	CreateQuote(ctx context.Context, req domain.QuoteRequest) (*service.QuoteResult, error)
	GetQuote(ctx context.Context, id string) (*domain.QuoteRecord, error)
}

type TransferService interface {
	CreateTransfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResponse, error)
	GetTransfer(ctx context.Context, id string) (*domain.TransferRecord, error)
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	quotes    QuoteService
	transfers TransferService
	store     Pinger
	clock     clock.Clock
	log       *slog.Logger
	env       string
	backend   string
}

func NewHandler(q QuoteService, t TransferService, p Pinger, c clock.Clock, log *slog.Logger, env, backend string) *Handler {
	return &Handler{
		quotes:    q,
		transfers: t,
		store:     p,
		clock:     c,
		log:       log.With("component", "api"),
		env:       env,
		backend:   backend,
	}
}

// NewRouter wires the routes, CORS for allowedOrigins and panic recovery.
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")
	r.HandleFunc("/ready", h.ReadyHandler).Methods("GET")
	r.HandleFunc("/", h.HealthCheckHandler).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/quote", h.CreateQuoteHandler).Methods("POST")
	api.HandleFunc("/quote/{id}", h.GetQuoteHandler).Methods("GET")
	api.HandleFunc("/transfer", h.CreateTransferHandler).Methods("POST")
	api.HandleFunc("/transfer/{id}", h.GetTransferHandler).Methods("GET")

	cors := handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowCredentials(),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Requested-With", "Accept", "Origin"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{h.log}),
		handlers.PrintRecoveryStack(false),
	)
	return recovery(cors(r))
}

type recoveryLogger struct{ log *slog.Logger }

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error("panic recovered", "panic", v)
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	raw, err := sonic.Marshal(payload)
	if err != nil {
		h.log.Error("encode response", "endpoint", endpoint, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(raw)
}

// respondWithError writes the error envelope. Unclassified errors become
// INTERNAL_SERVER_ERROR without leaking their text to the user message.
func (h *Handler) respondWithError(w http.ResponseWriter, err error, method, endpoint string) {
	body := models.ErrorResponse{Timestamp: h.clock.Now().Format(time.RFC3339)}
	code := http.StatusInternalServerError

	var se *service.Error
	if errors.As(err, &se) {
		code = se.Kind.HTTPStatus()
		body.Error = models.ErrorDetail{
			Code:             string(se.Kind),
			Message:          se.UserMessage,
			TechnicalMessage: se.Message,
			Details:          se.Details,
		}
	} else {
		body.Error = models.ErrorDetail{
			Code:             "INTERNAL_SERVER_ERROR",
			Message:          "An unexpected error occurred. Please try again later.",
			TechnicalMessage: err.Error(),
		}
	}
	if body.Error.Details == nil {
		body.Error.Details = map[string]any{}
	}

	if code >= 500 {
		h.log.Error("request failed", "method", method, "endpoint", endpoint, "status", code, "error", err)
	} else {
		h.log.Info("request refused", "method", method, "endpoint", endpoint, "status", code, "code", body.Error.Code)
	}
	h.respondWithJSON(w, code, body, method, endpoint)
}

func (h *Handler) respondNotFound(w http.ResponseWriter, what, id, method, endpoint string) {
	h.respondWithJSON(w, http.StatusNotFound, models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:             "NOT_FOUND",
			Message:          what + " not found",
			TechnicalMessage: what + " " + id + " does not exist",
			Details:          map[string]any{"id": id},
		},
		Timestamp: h.clock.Now().Format(time.RFC3339),
	}, method, endpoint)
}
