package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"relayr/internal/api"
	"relayr/internal/api/handlers"
	"relayr/internal/api/middleware"
	"relayr/internal/engine/audit"
	"relayr/internal/engine/escalations"
	"relayr/internal/engine/notify"
	"relayr/internal/engine/webhooks"
	"relayr/internal/pkg/logger"
	"relayr/internal/platform/auth"
	"relayr/internal/platform/config"
	"relayr/internal/platform/database"
	"relayr/internal/platform/repositories"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging)

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	// Repositories
	webhookRepo := repositories.NewWebhookRepository(db)
	escalationRepo := repositories.NewEscalationRepository(db)
	approvalRepo := repositories.NewApprovalRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	keyRepo := repositories.NewAPIKeyRepository(db)

	// Engine
	auditor := audit.NewLogger(auditRepo)
	policy := webhooks.PolicyFromConfig(cfg.Webhooks)
	dispatcher := webhooks.NewDispatcher(webhookRepo, auditor, policy, cfg.Webhooks.ProviderSecrets, cfg.Webhooks.RequestTimeout)
	retryScheduler := webhooks.NewRetryScheduler(dispatcher, webhookRepo,
		cfg.Webhooks.PollInterval, cfg.Webhooks.MaxConcurrent, cfg.Webhooks.BatchSize)

	escalationSvc := escalations.NewService(escalationRepo, auditor)
	mailer := notify.NewEmailSender(cfg.Email, cfg.Links)
	prefs := escalations.NewConfigPreferenceSource(cfg.Brands)
	escalationScheduler := escalations.NewScheduler(escalationRepo, approvalRepo, dispatcher, mailer, prefs, auditor, escalations.Config{
		Enabled:       cfg.Escalations.Enabled,
		PollInterval:  cfg.Escalations.PollInterval,
		MaxAge:        cfg.Escalations.MaxAge,
		MaxConcurrent: cfg.Escalations.MaxConcurrent,
		BatchSize:     cfg.Escalations.BatchSize,
	})

	tokenSvc := auth.NewTokenService(cfg.JWT)

	// Handlers
	webhookHandler := handlers.NewWebhookHandler(dispatcher, webhookRepo, auditor, cfg.Webhooks.ProviderSecrets)
	escalationHandler := handlers.NewEscalationHandler(escalationSvc)
	approvalHandler := handlers.NewApprovalHandler(approvalRepo, escalationSvc, auditor)
	auditHandler := handlers.NewAuditHandler(auditor)
	schedulerHandler := handlers.NewSchedulerHandler(retryScheduler, escalationScheduler)
	authHandler := handlers.NewAuthHandler(keyRepo, tokenSvc)
	apiKeyHandler := handlers.NewAPIKeyHandler(keyRepo)
	healthHandler := handlers.NewHealthHandler(db, retryScheduler, escalationScheduler)

	authMiddleware := middleware.NewAuthMiddleware(tokenSvc, keyRepo)

	router := api.NewRouter(&api.Dependencies{
		WebhookHandler:    webhookHandler,
		EscalationHandler: escalationHandler,
		ApprovalHandler:   approvalHandler,
		AuditHandler:      auditHandler,
		SchedulerHandler:  schedulerHandler,
		AuthHandler:       authHandler,
		APIKeyHandler:     apiKeyHandler,
		HealthHandler:     healthHandler,
		AuthMiddleware:    authMiddleware,
	})

	retryScheduler.Start()
	escalationScheduler.Start()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	retryScheduler.Stop()
	escalationScheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
