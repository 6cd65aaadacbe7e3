package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/kobiri-app/kobiri-backend/internal/config"
	"github.com/kobiri-app/kobiri-backend/internal/gateway"
	"github.com/kobiri-app/kobiri-backend/internal/handler"
	"github.com/kobiri-app/kobiri-backend/internal/logging"
	"github.com/kobiri-app/kobiri-backend/internal/middleware"
	"github.com/kobiri-app/kobiri-backend/internal/notify"
	"github.com/kobiri-app/kobiri-backend/internal/repository"
	"github.com/kobiri-app/kobiri-backend/internal/service/reconcile"
	"github.com/kobiri-app/kobiri-backend/internal/service/rotation"
	"github.com/kobiri-app/kobiri-backend/internal/service/session"
	"github.com/kobiri-app/kobiri-backend/internal/service/tontine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("kobiri-api", cfg.LogLevel, cfg.AppEnv)

	db, err := connectDB(cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	appCtx, stopNotifier := context.WithCancel(context.Background())
	defer stopNotifier()

	dispatcher := notify.NewDispatcher(notify.NewLogSender(slog.Default()), slog.Default())
	go dispatcher.Start(appCtx)

	srv := buildServer(cfg, db, dispatcher)

	go func() {
		slog.Info("server started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func buildServer(cfg *config.Config, db *sql.DB, notifier notify.Notifier) *http.Server {
	users := repository.NewUserRepository(db)
	tontines := repository.NewTontineRepository(db)
	members := repository.NewMemberRepository(db)
	sessions := repository.NewSessionRepository(db)
	payments := repository.NewPaymentRepository(db)
	events := repository.NewPaymentEventRepository(db)
	ledger := repository.NewLedgerRepository(db)
	passages := repository.NewPassageRepository(db)
	idempotency := repository.NewIdempotencyRepository(db)

	gateways := gateway.NewRegistry(
		gateway.NewOrangeAdapter(cfg.GatewayBaseURL, cfg.OrangeSecret),
		gateway.NewMTNAdapter(cfg.GatewayBaseURL, cfg.MTNSecret),
		gateway.NewWaveAdapter(cfg.GatewayBaseURL, cfg.WaveSecret),
		gateway.NewMoovAdapter(cfg.GatewayBaseURL, cfg.MoovSecret),
		gateway.NewFreeMoneyAdapter(cfg.GatewayBaseURL, cfg.FreeMoneySecret),
	)

	sessionSvc := session.NewService(tontines, members, sessions, ledger, db, cfg, notifier)
	tontineSvc := tontine.NewService(tontines, members, sessions, sessionSvc, cfg)
	reconcileSvc := reconcile.NewService(payments, events, ledger, sessions, members, tontines, gateways, db, cfg, notifier)
	rotationSvc := rotation.NewService(tontines, members, sessions, passages, ledger, db, notifier)

	healthHandler := handler.NewHealthHandler(db)
	authHandler := handler.NewAuthHandler(users, cfg.JWTSecret, time.Duration(cfg.JWTExpiryHours)*time.Hour)
	tontineHandler := handler.NewTontineHandler(tontineSvc, cfg.Currency)
	sessionHandler := handler.NewSessionHandler(sessionSvc)
	paymentHandler := handler.NewPaymentHandler(reconcileSvc, payments)
	callbackHandler := handler.NewCallbackHandler(reconcileSvc, gateways)
	rotationHandler := handler.NewRotationHandler(rotationSvc)
	ledgerHandler := handler.NewLedgerHandler(ledger)

	authn := middleware.Auth(cfg.JWTSecret)
	idem := middleware.Idempotency(idempotency)

	authed := func(h http.HandlerFunc) http.Handler {
		return authn(h)
	}
	authedIdem := func(h http.HandlerFunc) http.Handler {
		return authn(idem(h))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler.Liveness)
	mux.HandleFunc("GET /health/ready", healthHandler.Readiness)

	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	mux.Handle("POST /api/v1/tontines", authed(tontineHandler.Create))
	mux.Handle("GET /api/v1/tontines/{id}", authed(tontineHandler.Get))
	mux.Handle("POST /api/v1/tontines/join", authed(tontineHandler.Join))
	mux.Handle("GET /api/v1/tontines/{id}/members", authed(tontineHandler.Members))
	mux.Handle("DELETE /api/v1/members/{id}", authed(tontineHandler.Leave))
	mux.Handle("POST /api/v1/tontines/{id}/close", authed(tontineHandler.Close))
	mux.Handle("POST /api/v1/tontines/{id}/suspend", authed(tontineHandler.Suspend))
	mux.Handle("POST /api/v1/tontines/{id}/resume", authed(tontineHandler.Resume))
	mux.Handle("GET /api/v1/tontines/{id}/ledger", authed(ledgerHandler.ByTontine))

	mux.Handle("POST /api/v1/sessions", authed(sessionHandler.Create))
	mux.Handle("POST /api/v1/sessions/{id}/open", authed(sessionHandler.Open))
	mux.Handle("POST /api/v1/sessions/{id}/close", authed(sessionHandler.Close))
	mux.Handle("GET /api/v1/sessions/{id}/stats", authed(sessionHandler.Stats))
	mux.Handle("POST /api/v1/sessions/{id}/remind", authed(sessionHandler.Remind))
	mux.Handle("GET /api/v1/sessions/{id}/ledger", authed(ledgerHandler.BySession))

	mux.Handle("POST /api/v1/payments/manual", authedIdem(paymentHandler.RecordManual))
	mux.Handle("POST /api/v1/payments/initiate", authedIdem(paymentHandler.Initiate))
	mux.Handle("POST /api/v1/payments/{id}/validate", authed(paymentHandler.Validate))
	mux.Handle("GET /api/v1/payments/{id}", authed(paymentHandler.Get))

	// Signature-verified, no bearer token.
	mux.HandleFunc("POST /api/v1/callbacks/{provider}", callbackHandler.Receive)

	mux.Handle("POST /api/v1/tontines/{id}/rotation/generate", authed(rotationHandler.GenerateOrder))
	mux.Handle("POST /api/v1/tontines/{id}/rotation/start", authed(rotationHandler.StartPassage))
	mux.Handle("GET /api/v1/tontines/{id}/rotation/complete", authed(rotationHandler.CycleComplete))
	mux.Handle("POST /api/v1/passages/{id}/payout", authed(rotationHandler.Payout))
	mux.Handle("POST /api/v1/passages/{id}/confirm", authed(rotationHandler.ConfirmReceipt))

	chain := middleware.Tracing(middleware.Logging(middleware.Recovery(mux)))

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           chain,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func connectDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connectDB: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetimeS) * time.Second)
	db.SetConnMaxIdleTime(time.Duration(cfg.DBConnMaxIdleTimeS) * time.Second)

	for i := range 30 {
		if err = db.Ping(); err == nil {
			return db, nil
		}
		slog.Info("waiting for database", "attempt", i+1)
		time.Sleep(time.Second)
	}

	db.Close()
	return nil, fmt.Errorf("connectDB: gave up after 30 attempts: %w", err)
}
