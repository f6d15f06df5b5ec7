package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/punchamoorthee/leadops/internal/api"
	"github.com/punchamoorthee/leadops/internal/clock"
	"github.com/punchamoorthee/leadops/internal/config"
	"github.com/punchamoorthee/leadops/internal/dedupe"
	"github.com/punchamoorthee/leadops/internal/logger"
	"github.com/punchamoorthee/leadops/internal/notify"
	"github.com/punchamoorthee/leadops/internal/service"
	"github.com/punchamoorthee/leadops/internal/shutdown"
	"github.com/punchamoorthee/leadops/internal/store"
	"github.com/punchamoorthee/leadops/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}
	log := logger.New(logger.Options{Service: "leadops-api", Env: cfg.Env, Level: cfg.LogLevel, AddSource: true})

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.Error("store open failed", slog.String("backend", cfg.StoreBackend), slog.Any("err", err))
		os.Exit(1)
	}
	defer st.Close()

	renderer, err := notify.NewRenderer()
	if err != nil {
		log.Error("notification templates", slog.Any("err", err))
		os.Exit(1)
	}
	mailer := notify.NewSMTPMailer(cfg.SMTP)
	if !mailer.Configured() {
		log.Warn("SMTP not configured, notifications will fail")
	}
	dispatcher := notify.NewDispatcher(cfg.Notify, mailer, renderer, log)
	dispatcher.Start(cfg.Notify.Workers)

	client := upstream.NewClient(cfg.Upstream, log)
	clk := clock.RealClock{}

	quotes := service.NewQuoteService(st, client, dispatcher, clk, log, cfg.Notify.QuoteEnabled)
	transfers := service.NewTransferService(st, dedupe.New(st), client, dispatcher, clk, log, cfg.Notify.TransferEnabled)

	handler := api.NewHandler(quotes, transfers, st, clk, log, cfg.Env, cfg.StoreBackend)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, cfg.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Upstream calls can take up to the upstream timeout.
		WriteTimeout: cfg.Upstream.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("http starting",
			slog.String("addr", srv.Addr),
			slog.String("store", cfg.StoreBackend),
			slog.Bool("production", cfg.IsProduction()),
			slog.String("upstream", cfg.Upstream.BaseURL),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http serve error", slog.Any("err", err))
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown requested")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := srv.Shutdown(stopCtx); err != nil {
		log.Warn("http shutdown", slog.Any("err", err))
	}
	if err := dispatcher.Close(stopCtx); err != nil {
		log.Warn("notification queue not drained", slog.Any("err", err))
	}
	log.Info("bye")
}
