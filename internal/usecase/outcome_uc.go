package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"recurring-billing/internal/domain"
	"recurring-billing/internal/domain/billing"
	"recurring-billing/internal/domain/model"
	"recurring-billing/internal/domain/ports"
	"recurring-billing/internal/domain/ports/adapter"
	"recurring-billing/internal/domain/ports/repository"
)

// StopActor identifies who requested an explicit stop.
type StopActor string

const (
	StopActorUser   StopActor = "user"
	StopActorAdmin  StopActor = "admin"
	StopActorSystem StopActor = "system"
)

func (a StopActor) state() (model.ScheduleState, error) {
	switch a {
	case StopActorUser:
		return model.ScheduleStateUserStop, nil
	case StopActorAdmin:
		return model.ScheduleStateAdminStop, nil
	case StopActorSystem:
		return model.ScheduleStateSystemStop, nil
	}
	return "", domain.ErrInvalidArgument
}

// Compile-time check
var _ OutcomeProcessor = (*outcomeProcessor)(nil)

// OutcomeProcessor is the transition engine of the schedule entry state
// machine. Each operation is the sole writer of its transition and runs
// the charge record update and schedule entry update as one transaction.
type OutcomeProcessor interface {
	// ProcessDue claims a due entry, drafts the cycle's charge record,
	// invokes the gateway and folds the outcome through the matching
	// transition. Returns the successor entry when one was scheduled.
	ProcessDue(ctx context.Context, entryID string) (*model.ScheduleEntry, error)

	// ChargeToken runs a manual, out-of-schedule charge for an entry's
	// stored token, synchronously, folding the result through the same
	// success/decline handling as the scheduled path.
	ChargeToken(ctx context.Context, entryID string) (*model.ChargeRecord, error)

	// ScheduleFirst creates the first-cycle entry for a charge the
	// checkout flow just settled, using the stored token the gateway
	// returned for it.
	ScheduleFirst(ctx context.Context, chargeID, tokenCID string, tokenExpiresAt *time.Time) (*model.ScheduleEntry, error)

	// Per-branch transitions. ProcessDue and ChargeToken dispatch into
	// these; they are exported so gateway callbacks for asynchronous
	// providers can drive pending entries to a result.
	ProcessSuccess(ctx context.Context, entry *model.ScheduleEntry, charge *model.ChargeRecord, out adapter.Outcome) (*model.ScheduleEntry, error)
	ProcessDecline(ctx context.Context, entry *model.ScheduleEntry, charge *model.ChargeRecord, out adapter.Outcome) (*model.ScheduleEntry, error)
	ProcessDeclineExhausted(ctx context.Context, entry *model.ScheduleEntry, charge *model.ChargeRecord, out adapter.Outcome) error
	ProcessTransportError(ctx context.Context, entry *model.ScheduleEntry, charge *model.ChargeRecord, out adapter.Outcome) (*model.ScheduleEntry, error)

	Stop(ctx context.Context, entryID string, by StopActor, note string) error
	Reactivate(ctx context.Context, entryID string) error

	// Refund reverses a settled charge on gateways that support it and
	// marks the record refunded. The schedule chain is left untouched.
	Refund(ctx context.Context, chargeID, reason string) (*model.ChargeRecord, error)
}

// ProcessorOptions carries operator configuration consumed per charge.
type ProcessorOptions struct {
	DefaultRetries        int           // retries assigned to a fresh first-cycle entry
	Currency              string        // currency of drafted charges
	GatewayTimeout        time.Duration // per gateway call; expiry is a transport error
	DueLookahead          time.Duration // entries due within this window may be attempted early
	FastChargeMinInterval time.Duration // minimum gap between attempts on one token; 0 disables
}

type outcomeProcessor struct {
	schedules repository.ScheduleRepository
	charges   repository.ChargeRepository
	tierRepo  repository.TierRepository
	txm       repository.TransactionManager
	tiers     TierResolver
	amounts   AmountResolver
	gateways  adapter.Registry
	backoff   *billing.BackoffPolicy
	events    ports.EventPublisher
	opts      ProcessorOptions
	log       *zerolog.Logger
}

func NewOutcomeProcessor(
	schedules repository.ScheduleRepository,
	charges repository.ChargeRepository,
	tierRepo repository.TierRepository,
	txm repository.TransactionManager,
	tiers TierResolver,
	amounts AmountResolver,
	gateways adapter.Registry,
	backoff *billing.BackoffPolicy,
	events ports.EventPublisher,
	opts ProcessorOptions,
	logger *zerolog.Logger,
) *outcomeProcessor {
	l := logger.With().Str("component", "OutcomeProcessor").Logger()
	return &outcomeProcessor{
		schedules: schedules,
		charges:   charges,
		tierRepo:  tierRepo,
		txm:       txm,
		tiers:     tiers,
		amounts:   amounts,
		gateways:  gateways,
		backoff:   backoff,
		events:    events,
		opts:      opts,
		log:       &l,
	}
}

func (p *outcomeProcessor) ProcessDue(ctx context.Context, entryID string) (*model.ScheduleEntry, error) {
	entry, err := p.schedules.FindByID(ctx, nil, entryID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if entry.State.Terminal() {
		return nil, domain.ErrTerminalState
	}
	// Chargeability is judged against the same horizon the due-entry
	// selection used, so window-early entries are attempted, not bounced.
	horizon := now.Add(p.opts.DueLookahead)
	if entry.ChargeAt.After(horizon) {
		return nil, domain.ErrEntryNotDue
	}
	if !entry.Chargeable(horizon) {
		return nil, domain.ErrEntryClaimed
	}
	if !entry.TokenUsable(now) {
		// An expired token cannot recover on retry; stop permanently.
		if err := p.Stop(ctx, entry.ID, StopActorSystem, "stored token expired"); err != nil {
			return nil, err
		}
		return nil, domain.ErrTokenExpired
	}
	if err := p.guardFastCharge(ctx, entry.TokenCID); err != nil {
		return nil, err
	}
	return p.attempt(ctx, entry, false)
}

func (p *outcomeProcessor) ChargeToken(ctx context.Context, entryID string) (*model.ChargeRecord, error) {
	entry, err := p.schedules.FindByID(ctx, nil, entryID)
	if err != nil {
		return nil, err
	}
	if entry.State.Terminal() {
		return nil, domain.ErrTerminalState
	}
	if !entry.TokenUsable(time.Now()) {
		return nil, domain.ErrTokenExpired
	}
	if err := p.guardFastCharge(ctx, entry.TokenCID); err != nil {
		return nil, err
	}
	if _, err := p.attempt(ctx, entry, true); err != nil {
		if entry.ProducedChargeID != nil {
			if c, findErr := p.charges.FindByID(ctx, nil, *entry.ProducedChargeID); findErr == nil {
				return c, err
			}
		}
		return nil, err
	}
	c, err := p.charges.FindByID(ctx, nil, *entry.ProducedChargeID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p *outcomeProcessor) ScheduleFirst(ctx context.Context, chargeID, tokenCID string, tokenExpiresAt *time.Time) (*model.ScheduleEntry, error) {
	charge, err := p.charges.FindByID(ctx, nil, chargeID)
	if err != nil {
		return nil, err
	}
	if !charge.Status.Settled() {
		return nil, fmt.Errorf("charge %s is not settled: %w", chargeID, domain.ErrInvalidArgument)
	}
	if existing, err := p.schedules.FindByOriginatingCharge(ctx, nil, chargeID); err == nil {
		return existing, domain.ErrDuplicateSchedule
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	gw, err := p.gateways.Resolve(charge.Gateway)
	if err != nil {
		return nil, err
	}
	if tokenCID == "" {
		if rc, ok := gw.(adapter.RecurrentCapable); ok && rc.SupportsStoredTokens() {
			// The charge stays paid; the broken renewal is an operator problem.
			p.log.Error().Str("charge_id", chargeID).Str("gateway", charge.Gateway).
				Msg("settled charge has no stored token to schedule against")
			return nil, domain.ErrMissingRenewalToken
		}
		return nil, domain.ErrGatewayNotRecurrent
	}

	now := time.Now()
	entry, err := model.NewScheduleEntry(
		ulid.Make().String(), charge.UserID, tokenCID, charge.Gateway, charge.TierID,
		charge.ID, p.nextChargeAt(ctx, nil, charge.TierID, now), p.opts.DefaultRetries,
	)
	if err != nil {
		return nil, err
	}
	entry.TokenExpiresAt = tokenExpiresAt
	if err := p.schedules.Save(ctx, nil, entry); err != nil {
		return nil, err
	}
	p.publish(ctx, ports.EventEntryCreated, entry, charge.ID, nil)
	return entry, nil
}

// guardFastCharge refuses an attempt when the token was charged within
// the configured minimum interval, before any claim or gateway call.
func (p *outcomeProcessor) guardFastCharge(ctx context.Context, tokenCID string) error {
	if p.opts.FastChargeMinInterval <= 0 {
		return nil
	}
	last, err := p.charges.LastChargeTimeForToken(ctx, nil, tokenCID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if time.Since(last) < p.opts.FastChargeMinInterval {
		return fmt.Errorf("previous attempt at %s: %w", last.Format(time.RFC3339), domain.ErrFastCharge)
	}
	return nil
}

// attempt claims the entry, drafts the cycle's charge and runs the
// gateway. The manual flag skips nothing but is kept for logging; both
// paths share every transition.
func (p *outcomeProcessor) attempt(ctx context.Context, entry *model.ScheduleEntry, manual bool) (*model.ScheduleEntry, error) {
	claimed, err := p.schedules.Claim(ctx, nil, entry.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, domain.ErrEntryClaimed
	}
	entry.State = model.ScheduleStatePending

	charge, gw, err := p.draftCharge(ctx, entry)
	if err != nil {
		// Release the claim so the next poll retries resolution.
		if revertErr := p.schedules.UpdateState(ctx, nil, entry.ID, model.ScheduleStateActive, nil, ""); revertErr != nil {
			p.log.Error().Err(revertErr).Str("entry_id", entry.ID).Msg("failed to release claim after draft failure")
		}
		return nil, err
	}
	entry.ProducedChargeID = &charge.ID

	callCtx, cancel := context.WithTimeout(ctx, p.opts.GatewayTimeout)
	out, callErr := gw.Charge(callCtx, charge, entry.TokenCID)
	cancel()

	if callErr != nil || out.Result == adapter.ResultIndeterminate {
		if out.Code == "" && callErr != nil {
			out.Code = "transport_error"
			out.Message = callErr.Error()
		}
		successor, terr := p.ProcessTransportError(ctx, entry, charge, out)
		if terr != nil {
			return nil, terr
		}
		if manual && callErr != nil {
			// The record is marked declined above; re-raise for the caller.
			return successor, fmt.Errorf("gateway %s: %w", gw.Name(), callErr)
		}
		return successor, nil
	}

	switch out.Result {
	case adapter.ResultSuccess:
		return p.ProcessSuccess(ctx, entry, charge, out)
	case adapter.ResultDeclined:
		if entry.Retries > 0 {
			return p.ProcessDecline(ctx, entry, charge, out)
		}
		return nil, p.ProcessDeclineExhausted(ctx, entry, charge, out)
	default:
		return nil, fmt.Errorf("gateway %s returned unknown result %q: %w", gw.Name(), out.Result, domain.ErrOperationFailed)
	}
}

// draftCharge resolves tier and amount and persists the cycle's charge
// record in drafted status.
func (p *outcomeProcessor) draftCharge(ctx context.Context, entry *model.ScheduleEntry) (*model.ChargeRecord, adapter.Gateway, error) {
	gw, err := p.gateways.Resolve(entry.Gateway)
	if err != nil {
		return nil, nil, err
	}
	tier, err := p.tiers.Resolve(ctx, nil, entry)
	if err != nil {
		return nil, nil, err
	}
	amount, carried, err := p.amounts.Resolve(ctx, nil, entry, tier)
	if err != nil {
		return nil, nil, err
	}

	charge, err := model.NewChargeRecord(uuid.NewString(), entry.UserID, tier.ID, entry.Gateway, amount, p.opts.Currency)
	if err != nil {
		return nil, nil, err
	}
	charge.Items = carried
	if err := p.charges.Save(ctx, nil, charge); err != nil {
		return nil, nil, err
	}
	return charge, gw, nil
}

func (p *outcomeProcessor) ProcessSuccess(ctx context.Context, entry *model.ScheduleEntry, charge *model.ChargeRecord, out adapter.Outcome) (*model.ScheduleEntry, error) {
	now := time.Now()
	token := entry.TokenCID
	if out.RenewedToken {
		token = out.NewToken
	}

	var missingToken bool
	gw, err := p.gateways.Resolve(entry.Gateway)
	if err == nil {
		if rc, ok := gw.(adapter.RecurrentCapable); ok && rc.SupportsStoredTokens() && token == "" {
			// Data-integrity fault: the charge stays paid, the error is
			// surfaced, and no successor can be scheduled.
			missingToken = true
		}
	}

	var successor *model.ScheduleEntry
	err = p.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := p.charges.UpdateStatus(ctx, tx, charge.ID, model.ChargeStatusPaid, &now); err != nil {
			return err
		}
		entry.SetResult(out.Code, out.Message)
		if err := p.schedules.UpdateState(ctx, tx, entry.ID, model.ScheduleStateCharged, entry.ResultCode, entry.ResultMessage); err != nil {
			return err
		}
		if err := p.schedules.SetProducedCharge(ctx, tx, entry.ID, charge.ID); err != nil {
			return err
		}
		if missingToken {
			return nil
		}

		next, err := model.NewScheduleEntry(
			ulid.Make().String(), entry.UserID, token, entry.Gateway, charge.TierID,
			charge.ID, p.nextChargeAt(ctx, tx, charge.TierID, now), p.opts.DefaultRetries,
		)
		if err != nil {
			return err
		}
		next.TokenExpiresAt = entry.TokenExpiresAt
		if err := p.schedules.Save(ctx, tx, next); err != nil {
			return err
		}
		successor = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	entry.State = model.ScheduleStateCharged
	charge.Status = model.ChargeStatusPaid
	charge.PaidAt = &now

	p.publish(ctx, ports.EventEntryRenewed, entry, charge.ID, nil)
	if successor != nil {
		p.publish(ctx, ports.EventEntryCreated, successor, charge.ID, nil)
	}
	if missingToken {
		p.log.Error().Str("entry_id", entry.ID).Str("gateway", entry.Gateway).
			Msg("recurrent-capable gateway returned no renewal token; no successor scheduled")
		return nil, domain.ErrMissingRenewalToken
	}
	return successor, nil
}

func (p *outcomeProcessor) ProcessDecline(ctx context.Context, entry *model.ScheduleEntry, charge *model.ChargeRecord, out adapter.Outcome) (*model.ScheduleEntry, error) {
	if entry.Retries <= 0 {
		return nil, p.ProcessDeclineExhausted(ctx, entry, charge, out)
	}
	delay := p.backoff.DeclineDelay(entry.Retries)
	successor, err := p.failWithSuccessor(ctx, entry, charge, out, entry.Retries-1, delay)
	if err != nil {
		return nil, err
	}
	p.publish(ctx, ports.EventChargeAttemptFailed, entry, charge.ID, map[string]interface{}{
		"retries_left": successor.Retries,
		"next_attempt": successor.ChargeAt,
	})
	return successor, nil
}

func (p *outcomeProcessor) ProcessDeclineExhausted(ctx context.Context, entry *model.ScheduleEntry, charge *model.ChargeRecord, out adapter.Outcome) error {
	err := p.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := p.charges.UpdateStatus(ctx, tx, charge.ID, model.ChargeStatusDeclined, nil); err != nil {
			return err
		}
		entry.SetResult(out.Code, out.Message)
		if err := p.schedules.UpdateState(ctx, tx, entry.ID, model.ScheduleStateSystemStop, entry.ResultCode, entry.ResultMessage); err != nil {
			return err
		}
		return p.schedules.SetProducedCharge(ctx, tx, entry.ID, charge.ID)
	})
	if err != nil {
		return err
	}
	entry.State = model.ScheduleStateSystemStop
	charge.Status = model.ChargeStatusDeclined
	p.publish(ctx, ports.EventEntryStopped, entry, charge.ID, map[string]interface{}{"reason": "retries exhausted"})
	return nil
}

// ProcessTransportError handles a gateway call that failed without a
// decision: the attempt's record is closed out as declined, but the
// successor keeps the full retry budget and waits the fixed transport
// delay instead of the decline ladder.
func (p *outcomeProcessor) ProcessTransportError(ctx context.Context, entry *model.ScheduleEntry, charge *model.ChargeRecord, out adapter.Outcome) (*model.ScheduleEntry, error) {
	successor, err := p.failWithSuccessor(ctx, entry, charge, out, entry.Retries, p.backoff.TransportDelay())
	if err != nil {
		return nil, err
	}
	p.publish(ctx, ports.EventChargeAttemptFailed, entry, charge.ID, map[string]interface{}{
		"transport_error": true,
		"next_attempt":    successor.ChargeAt,
	})
	return successor, nil
}

// failWithSuccessor is the shared decline/transport transition: mark the
// attempt's charge declined, move the entry to charge_failed and schedule
// the successor carrying the manual overrides forward.
func (p *outcomeProcessor) failWithSuccessor(ctx context.Context, entry *model.ScheduleEntry, charge *model.ChargeRecord, out adapter.Outcome, retries int, delay time.Duration) (*model.ScheduleEntry, error) {
	var successor *model.ScheduleEntry
	err := p.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := p.charges.UpdateStatus(ctx, tx, charge.ID, model.ChargeStatusDeclined, nil); err != nil {
			return err
		}
		entry.SetResult(out.Code, out.Message)
		if err := p.schedules.UpdateState(ctx, tx, entry.ID, model.ScheduleStateChargeFailed, entry.ResultCode, entry.ResultMessage); err != nil {
			return err
		}
		if err := p.schedules.SetProducedCharge(ctx, tx, entry.ID, charge.ID); err != nil {
			return err
		}

		next, err := model.NewScheduleEntry(
			ulid.Make().String(), entry.UserID, entry.TokenCID, entry.Gateway, entry.TierID,
			charge.ID, time.Now().Add(delay), retries,
		)
		if err != nil {
			return err
		}
		next.NextTierOverrideID = entry.NextTierOverrideID
		next.AmountOverride = entry.AmountOverride
		next.TokenExpiresAt = entry.TokenExpiresAt
		if err := p.schedules.Save(ctx, tx, next); err != nil {
			return err
		}
		successor = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	entry.State = model.ScheduleStateChargeFailed
	charge.Status = model.ChargeStatusDeclined
	p.publish(ctx, ports.EventEntryCreated, successor, charge.ID, nil)
	return successor, nil
}

func (p *outcomeProcessor) Stop(ctx context.Context, entryID string, by StopActor, note string) error {
	target, err := by.state()
	if err != nil {
		return err
	}
	entry, err := p.schedules.FindByID(ctx, nil, entryID)
	if err != nil {
		return err
	}
	if entry.State.Terminal() {
		return domain.ErrTerminalState
	}
	if by == StopActorUser {
		gw, err := p.gateways.Resolve(entry.Gateway)
		if err != nil {
			return err
		}
		if us, ok := gw.(adapter.UserStoppable); !ok || !us.UserCanStop() {
			return domain.ErrEntryNotStoppable
		}
	}

	if err := p.schedules.UpdateState(ctx, nil, entry.ID, target, entry.ResultCode, entry.ResultMessage); err != nil {
		return err
	}
	entry.State = target
	p.log.Info().Str("entry_id", entry.ID).Str("actor", string(by)).Str("note", note).Msg("schedule entry stopped")
	p.publish(ctx, ports.EventEntryStopped, entry, "", map[string]interface{}{"actor": string(by), "note": note})
	p.publish(ctx, ports.EventEntryStateChanged, entry, "", nil)
	return nil
}

func (p *outcomeProcessor) Reactivate(ctx context.Context, entryID string) error {
	entry, err := p.schedules.FindByID(ctx, nil, entryID)
	if err != nil {
		return err
	}
	now := time.Now()
	if entry.State != model.ScheduleStateUserStop || !entry.TokenUsable(now) || !entry.ChargeAt.After(now) {
		return domain.ErrEntryNotReactivatable
	}

	entry.ClearResult()
	if err := p.schedules.UpdateState(ctx, nil, entry.ID, model.ScheduleStateActive, nil, ""); err != nil {
		return err
	}
	entry.State = model.ScheduleStateActive
	p.publish(ctx, ports.EventEntryStateChanged, entry, "", map[string]interface{}{"reactivated": true})
	return nil
}

func (p *outcomeProcessor) Refund(ctx context.Context, chargeID, reason string) (*model.ChargeRecord, error) {
	charge, err := p.charges.FindByID(ctx, nil, chargeID)
	if err != nil {
		return nil, err
	}
	if !charge.Status.Settled() {
		return nil, fmt.Errorf("charge %s is not settled: %w", chargeID, domain.ErrInvalidArgument)
	}
	gw, err := p.gateways.Resolve(charge.Gateway)
	if err != nil {
		return nil, err
	}
	rf, ok := gw.(adapter.Refundable)
	if !ok {
		return nil, fmt.Errorf("gateway %s: %w", charge.Gateway, domain.ErrRefundUnsupported)
	}

	out, err := rf.Refund(ctx, charge, reason)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", charge.Gateway, err)
	}
	if !out.Successful() {
		return nil, fmt.Errorf("refund rejected with code %q: %w", out.Code, domain.ErrOperationFailed)
	}

	if err := p.charges.UpdateStatus(ctx, nil, charge.ID, model.ChargeStatusRefunded, nil); err != nil {
		return nil, err
	}
	charge.Status = model.ChargeStatusRefunded
	p.log.Info().Str("charge_id", charge.ID).Str("reason", reason).Msg("charge refunded")
	return charge, nil
}

// nextChargeAt derives the successor's due time from the billed tier's
// period, falling back to 30 days if the tier vanished mid-transaction.
func (p *outcomeProcessor) nextChargeAt(ctx context.Context, tx repository.Tx, tierID string, now time.Time) time.Time {
	t, err := p.tierRepo.FindByID(ctx, tx, tierID)
	if err != nil || t.PeriodDays <= 0 {
		return now.Add(30 * 24 * time.Hour)
	}
	return now.Add(t.Period())
}

func (p *outcomeProcessor) publish(ctx context.Context, kind ports.EventKind, entry *model.ScheduleEntry, chargeID string, detail map[string]interface{}) {
	if p.events == nil {
		return
	}
	p.events.Publish(ctx, ports.Event{
		Kind:       kind,
		EntryID:    entry.ID,
		UserID:     entry.UserID,
		ChargeID:   chargeID,
		State:      string(entry.State),
		OccurredAt: time.Now(),
		Detail:     detail,
	})
}
