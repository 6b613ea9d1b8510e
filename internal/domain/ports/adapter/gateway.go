package adapter

import (
	"context"

	"recurring-billing/internal/domain/model"
)

// Result is the tri-state outcome of a gateway charge call.
type Result string

const (
	ResultSuccess       Result = "success"
	ResultDeclined      Result = "declined"
	ResultIndeterminate Result = "indeterminate" // transport failure, unparsable response
)

// Outcome carries the gateway's answer for one charge attempt.
type Outcome struct {
	Result  Result
	Code    string // machine-readable gateway result code
	Message string // free-text gateway message
	// RenewedToken/NewToken report whether the gateway issued a fresh
	// stored token for future cycles.
	RenewedToken bool
	NewToken     string
	Raw          map[string]interface{} // response payload kept for audit logging
}

// Successful reports a confirmed charge.
func (o Outcome) Successful() bool { return o.Result == ResultSuccess }

// ResponseData exposes the raw provider payload for audit logs.
func (o Outcome) ResponseData() map[string]interface{} { return o.Raw }

// Gateway is the capability port for payment providers. Charge executes
// against a previously stored token and must return a populated Outcome
// for success and decline; transport failures are returned as a non-nil
// error (and the caller treats them as indeterminate).
type Gateway interface {
	Name() string
	Charge(ctx context.Context, charge *model.ChargeRecord, tokenCID string) (Outcome, error)
}

// Registry resolves gateway identifiers to implementations. The set is
// validated at startup, not per call.
type Registry interface {
	Resolve(name string) (Gateway, error)
}

// RecurrentCapable marks gateways that renew stored tokens on successful
// charges. A recurrent-capable gateway that returns no token on a first
// success is a data-integrity fault.
type RecurrentCapable interface {
	SupportsStoredTokens() bool
}

// UserStoppable marks gateways whose schedules the customer may stop
// directly. Gateways without it only accept operator stops.
type UserStoppable interface {
	UserCanStop() bool
}

// Refundable marks gateways that can reverse a settled charge.
type Refundable interface {
	Refund(ctx context.Context, charge *model.ChargeRecord, reason string) (Outcome, error)
}
