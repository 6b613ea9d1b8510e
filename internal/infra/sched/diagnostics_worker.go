package sched

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"recurring-billing/internal/config"
	"recurring-billing/internal/domain"
	"recurring-billing/internal/domain/ports/repository"
	"recurring-billing/internal/infra/metrics"
)

// DiagnosticsWorker periodically reports data-quality signals: users
// holding duplicate forward schedules and entries whose due time passed
// without resolution. It only observes; repairs are an operator action.
type DiagnosticsWorker struct {
	schedules repository.ScheduleRepository
	charges   repository.ChargeRepository
	cfg       config.BillingConfig
	log       *zerolog.Logger

	cron *cron.Cron
}

func NewDiagnosticsWorker(schedules repository.ScheduleRepository, charges repository.ChargeRepository, cfg config.BillingConfig, logger *zerolog.Logger) *DiagnosticsWorker {
	l := logger.With().Str("component", "DiagnosticsWorker").Logger()
	return &DiagnosticsWorker{schedules: schedules, charges: charges, cfg: cfg, log: &l}
}

func (w *DiagnosticsWorker) Start(ctx context.Context) error {
	w.cron = cron.New()
	_, err := w.cron.AddFunc(w.cfg.DiagnosticsCron, func() { w.RunOnce(ctx) })
	if err != nil {
		return err
	}
	w.cron.Start()
	w.log.Info().Str("schedule", w.cfg.DiagnosticsCron).Msg("diagnostics worker started")
	return nil
}

func (w *DiagnosticsWorker) Stop() {
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
}

func (w *DiagnosticsWorker) RunOnce(ctx context.Context) {
	dups, err := w.schedules.ListDuplicateActive(ctx, nil)
	if err != nil {
		w.log.Error().Err(err).Msg("duplicate scan failed")
	} else {
		metrics.SetDuplicateActiveUsers(len(dups))
		for _, d := range dups {
			w.log.Warn().Str("user_id", d.UserID).Int("count", d.Count).
				Strs("entry_ids", d.EntryIDs).Msg("user holds multiple forward schedules")
		}
	}

	// Entries still unresolved a full poll interval past their due time
	// indicate a stuck driver or a crash between claim and result.
	cutoff := time.Now().Add(-w.cfg.DueLookahead)
	overdue, err := w.schedules.ListOverdueUnresolved(ctx, nil, cutoff, w.cfg.BatchLimit)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		w.log.Error().Err(err).Msg("overdue scan failed")
		return
	}
	metrics.SetOverdueEntries(len(overdue))
	for _, e := range overdue {
		w.log.Warn().Str("entry_id", e.ID).Str("state", string(e.State)).
			Time("charge_at", e.ChargeAt).Msg("entry overdue without a result")
	}

	for _, period := range []string{"day", "month"} {
		total, err := w.charges.SumSettledByPeriod(ctx, nil, period)
		if err != nil {
			w.log.Error().Err(err).Str("period", period).Msg("settled total scan failed")
			continue
		}
		metrics.SetSettledAmount(period, total)
	}
}
