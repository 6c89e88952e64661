// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/cost-estimator/internal/config"
	"github.com/capitalize-ai/cost-estimator/internal/handler"
	"github.com/capitalize-ai/cost-estimator/internal/llm"
	"github.com/capitalize-ai/cost-estimator/internal/middleware"
	natsclient "github.com/capitalize-ai/cost-estimator/internal/nats"
	"github.com/capitalize-ai/cost-estimator/internal/service"
	"github.com/capitalize-ai/cost-estimator/pkg/logger"
	"github.com/capitalize-ai/cost-estimator/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server", zap.String("provider", cfg.LLMProvider))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "cost-estimator", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	llmCfg, err := cfg.LLM()
	if err != nil {
		log.Fatal("invalid LLM configuration", zap.Error(err))
	}
	llmClient, err := llm.NewClient(llmCfg)
	if err != nil {
		log.Fatal("failed to create LLM client", zap.Error(err))
	}

	var (
		natsClient *natsclient.Client
		publisher  service.EventPublisher = service.NoopPublisher{}
	)
	if cfg.NATSURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		natsClient, err = natsclient.Connect(connectCtx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		cancel()
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()
		publisher = natsclient.NewEventPublisher(natsClient)
	}

	sessionSvc := service.NewSessionService(publisher, cfg.SessionIdleTimeout, log)
	orchestrator := service.NewOrchestrator(llmClient, publisher, cfg.Orchestrator(), log)

	if cfg.SessionIdleTimeout > 0 {
		go sessionSvc.Run(ctx, cfg.SessionSweepEvery)
	}

	healthHandler := handler.NewHealthHandler(natsClient, llmClient.Name())
	sessionHandler := handler.NewSessionHandler(sessionSvc, log)
	diagramHandler := handler.NewDiagramHandler(sessionSvc, orchestrator, cfg.MaxUploadBytes, log)
	messageHandler := handler.NewMessageHandler(sessionSvc, log)
	streamHandler := handler.NewStreamHandler(sessionSvc, orchestrator, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(middleware.Auth(cfg.JWTSecret))
		}

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Delete("/", sessionHandler.Delete)
				r.Put("/selection", sessionHandler.UpdateSelection)
				r.Get("/messages", messageHandler.List)

				// Endpoints that call the model.
				r.Group(func(r chi.Router) {
					r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
					r.Post("/diagram", diagramHandler.Upload)
					r.Post("/retry", diagramHandler.Retry)
					r.Post("/messages", streamHandler.Send)
				})
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
