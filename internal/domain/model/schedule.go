package model

import (
	"time"
	"unicode/utf8"

	"recurring-billing/internal/domain"
)

type ScheduleState string

const (
	ScheduleStateActive       ScheduleState = "active"        // scheduled, awaiting charge
	ScheduleStatePending      ScheduleState = "pending"       // dispatched to gateway, result unknown
	ScheduleStateCharged      ScheduleState = "charged"       // terminal success
	ScheduleStateChargeFailed ScheduleState = "charge_failed" // attempt failed, successor scheduled
	ScheduleStateSystemStop   ScheduleState = "system_stop"   // terminal: retries exhausted or forced stop
	ScheduleStateUserStop     ScheduleState = "user_stop"     // terminal: customer opted out
	ScheduleStateAdminStop    ScheduleState = "admin_stop"    // terminal: operator intervention
)

// Terminal reports whether no further automatic transition may occur.
// charge_failed is intentionally non-terminal: its successor carries on.
func (s ScheduleState) Terminal() bool {
	switch s {
	case ScheduleStateCharged, ScheduleStateSystemStop, ScheduleStateUserStop, ScheduleStateAdminStop:
		return true
	}
	return false
}

// ResultMessageMax bounds the stored gateway message. Longer messages are
// truncated, never rejected.
const ResultMessageMax = 255

// ScheduleEntry is one scheduled or attempted recurring charge cycle.
// Entries form a chain: OriginatingChargeID points at the charge whose
// outcome created this entry, ProducedChargeID at the charge this entry's
// own attempt created. Entries are never deleted; terminal states are
// permanent markers.
type ScheduleEntry struct {
	ID                  string // ULID, time-sortable
	UserID              string
	TokenCID            string // opaque stored-token reference
	Gateway             string
	TierID              string
	NextTierOverrideID  *string // manual instruction consumed by the tier resolver
	AmountOverride      *int64  // manual instruction consumed by the amount resolver
	ChargeAt            time.Time
	Retries             int // decline attempts remaining before permanent stop
	State               ScheduleState
	ResultCode          *string // last gateway result code
	ResultMessage       string  // last gateway message, truncated
	TokenExpiresAt      *time.Time
	Note                string
	OriginatingChargeID string
	ProducedChargeID    *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewScheduleEntry validates and constructs an active entry.
func NewScheduleEntry(id, userID, tokenCID, gateway, tierID, originatingChargeID string, chargeAt time.Time, retries int) (*ScheduleEntry, error) {
	if id == "" || userID == "" || tokenCID == "" || gateway == "" || tierID == "" || originatingChargeID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if retries < 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &ScheduleEntry{
		ID:                  id,
		UserID:              userID,
		TokenCID:            tokenCID,
		Gateway:             gateway,
		TierID:              tierID,
		ChargeAt:            chargeAt,
		Retries:             retries,
		State:               ScheduleStateActive,
		OriginatingChargeID: originatingChargeID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// SetResult records the gateway outcome, truncating overlong messages.
func (e *ScheduleEntry) SetResult(code, message string) {
	e.ResultCode = &code
	e.ResultMessage = TruncateResultMessage(message)
}

// ClearResult wipes prior gateway result fields (used on reactivation).
func (e *ScheduleEntry) ClearResult() {
	e.ResultCode = nil
	e.ResultMessage = ""
}

// Chargeable reports whether the driver may attempt this entry now.
func (e *ScheduleEntry) Chargeable(now time.Time) bool {
	return e.State == ScheduleStateActive && e.ResultCode == nil && e.Retries >= 0 && !e.ChargeAt.After(now)
}

// TokenUsable reports whether the stored token can still be charged.
func (e *ScheduleEntry) TokenUsable(now time.Time) bool {
	if e.TokenCID == "" {
		return false
	}
	return e.TokenExpiresAt == nil || e.TokenExpiresAt.After(now)
}

// TruncateResultMessage caps the message at ResultMessageMax bytes,
// backing off to a rune boundary so the stored text stays valid UTF-8.
func TruncateResultMessage(msg string) string {
	if len(msg) <= ResultMessageMax {
		return msg
	}
	cut := ResultMessageMax
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
