package gateway

import (
	"context"
	"time"

	"recurring-billing/internal/domain"
	"recurring-billing/internal/domain/model"
	"recurring-billing/internal/domain/ports/adapter"
	"recurring-billing/internal/infra/metrics"
)

var (
	_ adapter.Gateway          = (*instrumentedGateway)(nil)
	_ adapter.RecurrentCapable = (*instrumentedGateway)(nil)
	_ adapter.UserStoppable    = (*instrumentedGateway)(nil)
	_ adapter.Refundable       = (*instrumentedGateway)(nil)
)

// Instrument wraps a gateway with attempt counters, collected-amount
// totals and call latency. Capability checks are forwarded to the
// wrapped provider, so wrapping never widens what it can do.
func Instrument(gw adapter.Gateway) adapter.Gateway {
	return &instrumentedGateway{inner: gw}
}

type instrumentedGateway struct {
	inner adapter.Gateway
}

func (g *instrumentedGateway) Name() string { return g.inner.Name() }

func (g *instrumentedGateway) Charge(ctx context.Context, charge *model.ChargeRecord, tokenCID string) (adapter.Outcome, error) {
	started := time.Now()
	out, err := g.inner.Charge(ctx, charge, tokenCID)
	metrics.ObserveGatewayLatency(g.inner.Name(), time.Since(started).Milliseconds(), err == nil && out.Successful())

	switch {
	case err != nil, out.Result == adapter.ResultIndeterminate:
		metrics.IncChargeAttempt(g.inner.Name(), "transport_error")
	case out.Successful():
		metrics.IncChargeAttempt(g.inner.Name(), "paid")
		metrics.AddChargedAmount(g.inner.Name(), charge.Currency, charge.Amount)
	default:
		metrics.IncChargeAttempt(g.inner.Name(), "declined")
	}
	return out, err
}

func (g *instrumentedGateway) SupportsStoredTokens() bool {
	rc, ok := g.inner.(adapter.RecurrentCapable)
	return ok && rc.SupportsStoredTokens()
}

func (g *instrumentedGateway) UserCanStop() bool {
	us, ok := g.inner.(adapter.UserStoppable)
	return ok && us.UserCanStop()
}

func (g *instrumentedGateway) Refund(ctx context.Context, charge *model.ChargeRecord, reason string) (adapter.Outcome, error) {
	rf, ok := g.inner.(adapter.Refundable)
	if !ok {
		return adapter.Outcome{}, domain.ErrRefundUnsupported
	}
	return rf.Refund(ctx, charge, reason)
}
