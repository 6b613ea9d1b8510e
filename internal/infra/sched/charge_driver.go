package sched

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"recurring-billing/internal/config"
	"recurring-billing/internal/domain"
	"recurring-billing/internal/domain/model"
	"recurring-billing/internal/domain/ports/repository"
	"recurring-billing/internal/infra/metrics"
	"recurring-billing/internal/infra/redis"
	"recurring-billing/internal/usecase"
)

// ChargeDriver is the scheduling loop: on each poll tick it snapshots
// the due entries and pushes every one through the outcome processor.
// Multiple driver instances may run concurrently; the randomized
// snapshot, the per-token redis lock and the entry claim keep them from
// double-charging.
type ChargeDriver struct {
	schedules repository.ScheduleRepository
	charges   repository.ChargeRepository
	proc      usecase.OutcomeProcessor
	locker    redis.Locker
	cfg       config.BillingConfig
	log       *zerolog.Logger

	cron *cron.Cron
}

func NewChargeDriver(
	schedules repository.ScheduleRepository,
	charges repository.ChargeRepository,
	proc usecase.OutcomeProcessor,
	locker redis.Locker,
	cfg config.BillingConfig,
	logger *zerolog.Logger,
) *ChargeDriver {
	l := logger.With().Str("component", "ChargeDriver").Logger()
	return &ChargeDriver{
		schedules: schedules,
		charges:   charges,
		proc:      proc,
		locker:    locker,
		cfg:       cfg,
		log:       &l,
	}
}

// Start schedules the poll loop and returns. Stop blocks until a
// running cycle finishes.
func (d *ChargeDriver) Start(ctx context.Context) error {
	d.cron = cron.New()
	_, err := d.cron.AddFunc(d.cfg.PollCron, func() { d.RunOnce(ctx) })
	if err != nil {
		return err
	}
	d.cron.Start()
	d.log.Info().Str("schedule", d.cfg.PollCron).Msg("charge driver started")
	return nil
}

func (d *ChargeDriver) Stop() {
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}
	d.log.Info().Msg("charge driver stopped")
}

// RunOnce executes one poll cycle. Exported so the admin surface can
// trigger an off-schedule sweep.
func (d *ChargeDriver) RunOnce(ctx context.Context) {
	started := time.Now()
	now := time.Now()

	due, err := d.schedules.ListChargeableNow(ctx, nil, now, d.cfg.DueLookahead, d.cfg.BatchLimit)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		d.log.Error().Err(err).Msg("failed to list due entries")
		return
	}
	metrics.SetEntriesDue(len(due))

	for _, entry := range due {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.processOne(ctx, entry)
	}

	metrics.IncPollCycle()
	metrics.ObservePollDuration(time.Since(started).Milliseconds())
	d.log.Debug().Int("due", len(due)).Dur("took", time.Since(started)).Msg("poll cycle done")
}

func (d *ChargeDriver) processOne(ctx context.Context, entry *model.ScheduleEntry) {
	log := d.log.With().Str("entry_id", entry.ID).Str("user_id", entry.UserID).Logger()

	// Fast-charge guard: an attempt against this token ran too recently,
	// most likely a competing driver mid-cycle. Leave the entry for the
	// next poll. The processor re-checks before the gateway call; this
	// pre-check just avoids taking the lock.
	last, err := d.charges.LastChargeTimeForToken(ctx, nil, entry.TokenCID)
	if err == nil && time.Since(last) < d.cfg.FastChargeMinInterval {
		metrics.IncPollSkip("fast_charge")
		log.Warn().Err(domain.ErrFastCharge).Time("last_attempt", last).Msg("token charged too recently; skipping")
		return
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Error().Err(err).Msg("fast-charge guard lookup failed")
		return
	}

	lockKey := redis.TokenLockKey(entry.TokenCID)
	lockToken, err := d.locker.TryLock(ctx, lockKey, d.cfg.GatewayTimeout+time.Minute)
	if err != nil {
		if errors.Is(err, domain.ErrEntryClaimed) {
			metrics.IncPollSkip("locked")
			return
		}
		log.Error().Err(err).Msg("token lock failed")
		return
	}
	defer func() {
		if err := d.locker.Unlock(ctx, lockKey, lockToken); err != nil {
			log.Warn().Err(err).Msg("token unlock failed; key expires on its own")
		}
	}()

	successor, err := d.proc.ProcessDue(ctx, entry.ID)
	switch {
	case err == nil:
		if successor != nil {
			log.Info().Str("successor_id", successor.ID).Time("next_attempt", successor.ChargeAt).Msg("entry processed")
		}
	case errors.Is(err, domain.ErrEntryClaimed):
		metrics.IncPollSkip("claimed")
	case errors.Is(err, domain.ErrEntryNotDue):
		metrics.IncPollSkip("not_due")
	case errors.Is(err, domain.ErrFastCharge):
		metrics.IncPollSkip("fast_charge")
		log.Warn().Err(err).Msg("attempt refused by fast-charge guard")
	case errors.Is(err, domain.ErrTokenExpired):
		log.Warn().Msg("entry stopped on expired token")
	case errors.Is(err, domain.ErrMissingRenewalToken):
		log.Error().Msg("charged but no renewal token; manual follow-up required")
	default:
		log.Error().Err(err).Msg("entry processing failed")
	}
}
