package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"relayr/internal/engine/audit"
	"relayr/internal/engine/escalations"
	"relayr/internal/engine/notify"
	"relayr/internal/engine/webhooks"
	"relayr/internal/pkg/logger"
	"relayr/internal/platform/config"
	"relayr/internal/platform/database"
	"relayr/internal/platform/repositories"
)

// Standalone scheduler process for deployments that split the API from the
// background loops. It runs the same retry and escalation schedulers the
// server embeds, against the same database.
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

	webhookRepo := repositories.NewWebhookRepository(db)
	escalationRepo := repositories.NewEscalationRepository(db)
	approvalRepo := repositories.NewApprovalRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	auditor := audit.NewLogger(auditRepo)
	policy := webhooks.PolicyFromConfig(cfg.Webhooks)
	dispatcher := webhooks.NewDispatcher(webhookRepo, auditor, policy, cfg.Webhooks.ProviderSecrets, cfg.Webhooks.RequestTimeout)
	retryScheduler := webhooks.NewRetryScheduler(dispatcher, webhookRepo,
		cfg.Webhooks.PollInterval, cfg.Webhooks.MaxConcurrent, cfg.Webhooks.BatchSize)

	mailer := notify.NewEmailSender(cfg.Email, cfg.Links)
	prefs := escalations.NewConfigPreferenceSource(cfg.Brands)
	escalationScheduler := escalations.NewScheduler(escalationRepo, approvalRepo, dispatcher, mailer, prefs, auditor, escalations.Config{
		Enabled:       cfg.Escalations.Enabled,
		PollInterval:  cfg.Escalations.PollInterval,
		MaxAge:        cfg.Escalations.MaxAge,
		MaxConcurrent: cfg.Escalations.MaxConcurrent,
		BatchSize:     cfg.Escalations.BatchSize,
	})

	retryScheduler.Start()
	escalationScheduler.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	retryScheduler.Stop()
	escalationScheduler.Stop()
}
