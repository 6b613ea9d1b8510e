package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"recurring-billing/internal/config"
	"recurring-billing/internal/domain/billing"
	"recurring-billing/internal/domain/ports"
	pg "recurring-billing/internal/infra/db/postgres"
	"recurring-billing/internal/infra/events"
	"recurring-billing/internal/infra/gateway"
	"recurring-billing/internal/infra/logging"
	"recurring-billing/internal/infra/metrics"
	red "recurring-billing/internal/infra/redis"
	"recurring-billing/internal/infra/sched"
	"recurring-billing/internal/infra/web"
	"recurring-billing/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (sandbox gateway, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	scheduleRepo := pg.NewScheduleRepo(pool)
	chargeRepo := pg.NewChargeRepo(pool)
	tierRepo := pg.NewTierRepo(pool)
	txm := pg.NewTxManager(pool)

	// ---- Gateways ----
	registry, err := gateway.NewRegistry(gateway.Instrument(gateway.NewSandboxGateway(logger)))
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway registry")
	}

	// ---- Events ----
	publisher := events.Instrument(newPublisher(cfg.Events, redisClient, logger))

	// ---- Billing core ----
	policy, err := billing.NewBackoffPolicy(cfg.Billing.DeclineBackoff, cfg.Billing.TransportRetryDelay)
	if err != nil {
		logger.Fatal().Err(err).Msg("backoff policy")
	}
	tierRes := usecase.NewTierResolver(tierRepo, chargeRepo, scheduleRepo)
	amountRes := usecase.NewAmountResolver(chargeRepo)
	processor := usecase.NewOutcomeProcessor(
		scheduleRepo, chargeRepo, tierRepo, txm,
		tierRes, amountRes, registry, policy, publisher,
		usecase.ProcessorOptions{
			DefaultRetries:        cfg.Billing.DefaultRetries,
			Currency:              cfg.Billing.Currency,
			GatewayTimeout:        cfg.Billing.GatewayTimeout,
			DueLookahead:          cfg.Billing.DueLookahead,
			FastChargeMinInterval: cfg.Billing.FastChargeMinInterval,
		},
		logger,
	)

	// ---- Scheduling ----
	driver := sched.NewChargeDriver(scheduleRepo, chargeRepo, processor, locker, cfg.Billing, logger)
	if err := driver.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("charge driver")
	}
	defer driver.Stop()

	diag := sched.NewDiagnosticsWorker(scheduleRepo, chargeRepo, cfg.Billing, logger)
	if err := diag.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("diagnostics worker")
	}
	defer diag.Stop()

	// ---- Admin API ----
	metrics.MustRegister()
	auth := web.NewAuthManager(cfg.Admin.JWTSecret, !cfg.Runtime.Dev, cfg.Admin.SessionTTL)
	adminSrv := web.NewServer(processor, scheduleRepo, chargeRepo, tierRepo, auth,
		func() { driver.RunOnce(ctx) }, logger)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Admin.Port),
		Handler: adminSrv.Router(),
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("admin api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin server")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("admin server shutdown")
	}
	cancel()
}

// newPublisher assembles the configured event sinks. Stream and webhook
// are independent; with both configured every event goes to both.
func newPublisher(cfg config.EventsConfig, redisClient *red.Client, logger *zerolog.Logger) ports.EventPublisher {
	var sinks []ports.EventPublisher
	if cfg.Stream != "" {
		sinks = append(sinks, events.NewStreamPublisher(redisClient, cfg.Stream, logger))
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookTimeout, logger))
	}
	switch len(sinks) {
	case 0:
		return events.NoopPublisher{}
	case 1:
		return sinks[0]
	default:
		return events.NewFanout(sinks...)
	}
}
