package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Billing errors
	ErrDuplicateSchedule     = errors.New("schedule entry already exists for originating charge")
	ErrEntryClaimed          = errors.New("schedule entry already claimed")
	ErrEntryNotDue           = errors.New("schedule entry is not due yet")
	ErrEntryNotStoppable     = errors.New("schedule entry cannot be stopped by this actor")
	ErrEntryNotReactivatable = errors.New("schedule entry cannot be reactivated")
	ErrFastCharge            = errors.New("stored token was charged too recently")
	ErrMissingRenewalToken   = errors.New("gateway reported recurrent support but returned no renewal token")
	ErrTierChainDeadEnd      = errors.New("next-tier chain dead-ends without a fallback tier")
	ErrUnknownGateway        = errors.New("unknown gateway identifier")
	ErrGatewayNotRecurrent   = errors.New("gateway does not support stored-token charges")
	ErrRefundUnsupported     = errors.New("gateway does not support refunds")
	ErrTerminalState         = errors.New("schedule entry is in a terminal state")
	ErrChainTooDeep          = errors.New("chain traversal exceeded hop limit")
	ErrTokenExpired          = errors.New("stored token has expired")
)
