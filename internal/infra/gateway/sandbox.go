package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recurring-billing/internal/domain/model"
	"recurring-billing/internal/domain/ports/adapter"
)

var (
	_ adapter.Gateway          = (*SandboxGateway)(nil)
	_ adapter.RecurrentCapable = (*SandboxGateway)(nil)
	_ adapter.UserStoppable    = (*SandboxGateway)(nil)
	_ adapter.Refundable       = (*SandboxGateway)(nil)
)

// SandboxGateway is the development provider. The stored token's prefix
// steers the outcome so every branch of the state machine can be driven
// from seeded data:
//
//	decline-*   declined, code 05
//	fail-*      transport failure
//	renew-*     success with a rotated token
//	anything else succeeds with code 00
type SandboxGateway struct {
	log *zerolog.Logger
}

func NewSandboxGateway(logger *zerolog.Logger) *SandboxGateway {
	l := logger.With().Str("component", "SandboxGateway").Logger()
	return &SandboxGateway{log: &l}
}

func (g *SandboxGateway) Name() string { return "sandbox" }

func (g *SandboxGateway) Charge(ctx context.Context, charge *model.ChargeRecord, tokenCID string) (adapter.Outcome, error) {
	select {
	case <-ctx.Done():
		return adapter.Outcome{Result: adapter.ResultIndeterminate}, ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}

	g.log.Debug().Str("charge_id", charge.ID).Int64("amount", charge.Amount).Msg("sandbox charge")

	switch {
	case strings.HasPrefix(tokenCID, "decline-"):
		return adapter.Outcome{
			Result:  adapter.ResultDeclined,
			Code:    "05",
			Message: "do not honor",
			Raw:     map[string]interface{}{"provider": "sandbox"},
		}, nil
	case strings.HasPrefix(tokenCID, "fail-"):
		return adapter.Outcome{Result: adapter.ResultIndeterminate}, context.DeadlineExceeded
	case strings.HasPrefix(tokenCID, "renew-"):
		return adapter.Outcome{
			Result:       adapter.ResultSuccess,
			Code:         "00",
			RenewedToken: true,
			NewToken:     "renew-" + uuid.NewString(),
			Raw:          map[string]interface{}{"provider": "sandbox"},
		}, nil
	default:
		return adapter.Outcome{
			Result: adapter.ResultSuccess,
			Code:   "00",
			Raw:    map[string]interface{}{"provider": "sandbox"},
		}, nil
	}
}

func (g *SandboxGateway) SupportsStoredTokens() bool { return true }

func (g *SandboxGateway) UserCanStop() bool { return true }

func (g *SandboxGateway) Refund(ctx context.Context, charge *model.ChargeRecord, reason string) (adapter.Outcome, error) {
	g.log.Info().Str("charge_id", charge.ID).Str("reason", reason).Msg("sandbox refund")
	return adapter.Outcome{Result: adapter.ResultSuccess, Code: "00"}, nil
}
