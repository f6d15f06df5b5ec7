package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/punchamoorthee/leadops/internal/domain"
	"github.com/punchamoorthee/leadops/internal/models"
	"github.com/punchamoorthee/leadops/internal/service"
	"github.com/punchamoorthee/leadops/internal/store"
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, models.HealthResponse{Status: "ok", Environment: h.env}, "GET", "/health")
}

// ReadyHandler reports 503 until the store answers a ping.
func (h *Handler) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.respondWithJSON(w, http.StatusServiceUnavailable,
			models.HealthResponse{Status: "unavailable", Store: h.backend, Error: err.Error()}, "GET", "/ready")
		return
	}
	h.respondWithJSON(w, http.StatusOK, models.HealthResponse{Status: "ready", Store: h.backend}, "GET", "/ready")
}

func (h *Handler) CreateQuoteHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/quote"))
	defer timer.ObserveDuration()

	var req domain.QuoteRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondWithError(w, service.InvalidBody(err), "POST", "/quote")
		return
	}

	res, err := h.quotes.CreateQuote(r.Context(), req)
	if err != nil {
		h.respondWithError(w, err, "POST", "/quote")
		return
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	w.Header().Set("Location", "/api/v1/quote/"+res.ID)
	h.respondWithJSON(w, code, res.Response, "POST", "/quote")
}

func (h *Handler) GetQuoteHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.quotes.GetQuote(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.respondNotFound(w, "quote", id, "GET", "/quote/{id}")
		return
	}
	if err != nil {
		h.respondWithError(w, err, "GET", "/quote/{id}")
		return
	}
	h.respondWithJSON(w, http.StatusOK, models.QuoteView{
		ID:                  rec.ID,
		ExternalReferenceID: rec.ExternalReferenceID,
		Source:              rec.Source,
		Status:              string(rec.Status),
		Premium:             rec.Premium,
		Excess:              rec.Excess,
		QuoteID:             rec.QuoteID,
		Vehicles:            len(rec.Vehicles),
		CreatedAt:           rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           rec.UpdatedAt.Format(time.RFC3339),
	}, "GET", "/quote/{id}")
}

func (h *Handler) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/transfer"))
	defer timer.ObserveDuration()

	var req domain.TransferRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondWithError(w, service.InvalidBody(err), "POST", "/transfer")
		return
	}

	res, err := h.transfers.CreateTransfer(r.Context(), req)
	if err != nil {
		h.respondWithError(w, err, "POST", "/transfer")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, res, "POST", "/transfer")
}

func (h *Handler) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.transfers.GetTransfer(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.respondNotFound(w, "transfer", id, "GET", "/transfer/{id}")
		return
	}
	if err != nil {
		h.respondWithError(w, err, "GET", "/transfer/{id}")
		return
	}
	h.respondWithJSON(w, http.StatusOK, models.TransferView{
		ID:          rec.ID,
		UUID:        rec.UUID,
		RedirectURL: rec.RedirectURL,
		QuoteID:     rec.QuoteID,
		BranchName:  rec.BranchName,
		CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   rec.UpdatedAt.Format(time.RFC3339),
	}, "GET", "/transfer/{id}")
}

func decodeBody(r *http.Request, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return errors.New("empty body")
	}
	return sonic.Unmarshal(raw, dst)
}
