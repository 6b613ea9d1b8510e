//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"recurring-billing/internal/domain"
	"recurring-billing/internal/domain/model"
	"recurring-billing/internal/domain/ports"
	"recurring-billing/internal/domain/ports/adapter"
	"recurring-billing/internal/domain/ports/repository"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// -----------------------------
// Transaction manager
// -----------------------------

type mockTxManager struct{}

func newMockTxManager() *mockTxManager { return &mockTxManager{} }

func (m *mockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// -----------------------------
// Schedule repository
// -----------------------------

type mockScheduleRepo struct {
	mu    sync.RWMutex
	store map[string]*model.ScheduleEntry

	SaveFunc  func(ctx context.Context, tx repository.Tx, e *model.ScheduleEntry) error
	ClaimFunc func(ctx context.Context, tx repository.Tx, id string) (bool, error)
}

func newMockScheduleRepo() *mockScheduleRepo {
	return &mockScheduleRepo{store: make(map[string]*model.ScheduleEntry)}
}

func (m *mockScheduleRepo) put(e *model.ScheduleEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.store[e.ID] = &cp
}

func (m *mockScheduleRepo) Save(ctx context.Context, tx repository.Tx, e *model.ScheduleEntry) error {
	if m.SaveFunc != nil {
		if err := m.SaveFunc(ctx, tx, e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.store {
		if other.ID != e.ID && other.OriginatingChargeID == e.OriginatingChargeID {
			return domain.ErrDuplicateSchedule
		}
	}
	cp := *e
	m.store[e.ID] = &cp
	return nil
}

func (m *mockScheduleRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ScheduleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockScheduleRepo) ListChargeableNow(ctx context.Context, tx repository.Tx, now time.Time, lookahead time.Duration, limit int) ([]*model.ScheduleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ScheduleEntry
	for _, e := range m.store {
		if e.State == model.ScheduleStateActive && e.ResultCode == nil && e.Retries >= 0 && !e.ChargeAt.After(now.Add(lookahead)) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockScheduleRepo) FindByOriginatingCharge(ctx context.Context, tx repository.Tx, chargeID string) (*model.ScheduleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.store {
		if e.OriginatingChargeID == chargeID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockScheduleRepo) FindByProducedCharge(ctx context.Context, tx repository.Tx, chargeID string) (*model.ScheduleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.store {
		if e.ProducedChargeID != nil && *e.ProducedChargeID == chargeID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockScheduleRepo) Claim(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	if m.ClaimFunc != nil {
		return m.ClaimFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.store[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if e.State != model.ScheduleStateActive || e.ResultCode != nil {
		return false, nil
	}
	e.State = model.ScheduleStatePending
	return true, nil
}

func (m *mockScheduleRepo) UpdateState(ctx context.Context, tx repository.Tx, id string, state model.ScheduleState, resultCode *string, resultMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.State = state
	e.ResultCode = resultCode
	e.ResultMessage = resultMessage
	e.UpdatedAt = time.Now()
	return nil
}

func (m *mockScheduleRepo) SetProducedCharge(ctx context.Context, tx repository.Tx, id, chargeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.ProducedChargeID = &chargeID
	return nil
}

func (m *mockScheduleRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.ScheduleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ScheduleEntry
	for _, e := range m.store {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockScheduleRepo) ListDuplicateActive(ctx context.Context, tx repository.Tx) ([]repository.DuplicateActive, error) {
	return nil, nil
}

func (m *mockScheduleRepo) ListOverdueUnresolved(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.ScheduleEntry, error) {
	return nil, nil
}

// -----------------------------
// Charge repository
// -----------------------------

type mockChargeRepo struct {
	mu         sync.RWMutex
	store      map[string]*model.ChargeRecord
	lastCharge map[string]time.Time // per token, for the fast-charge guard

	SaveFunc func(ctx context.Context, tx repository.Tx, c *model.ChargeRecord) error
}

func newMockChargeRepo() *mockChargeRepo {
	return &mockChargeRepo{
		store:      make(map[string]*model.ChargeRecord),
		lastCharge: make(map[string]time.Time),
	}
}

func (m *mockChargeRepo) put(c *model.ChargeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.store[c.ID] = &cp
}

func (m *mockChargeRepo) Save(ctx context.Context, tx repository.Tx, c *model.ChargeRecord) error {
	if m.SaveFunc != nil {
		if err := m.SaveFunc(ctx, tx, c); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *mockChargeRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ChargeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockChargeRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.ChargeStatus, paidAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !c.CanTransitionTo(status) {
		return domain.ErrInvalidArgument
	}
	c.Status = status
	if paidAt != nil {
		c.PaidAt = paidAt
	}
	c.UpdatedAt = time.Now()
	return nil
}

func (m *mockChargeRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.ChargeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ChargeRecord
	for _, c := range m.store {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockChargeRepo) LastChargeTimeForToken(ctx context.Context, tx repository.Tx, tokenCID string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.lastCharge[tokenCID]; ok {
		return t, nil
	}
	return time.Time{}, domain.ErrNotFound
}

func (m *mockChargeRepo) SumSettledByPeriod(ctx context.Context, tx repository.Tx, period string) (int64, error) {
	return 0, nil
}

// -----------------------------
// Tier repository
// -----------------------------

type mockTierRepo struct {
	mu    sync.RWMutex
	store map[string]*model.ProductTier
}

func newMockTierRepo() *mockTierRepo {
	return &mockTierRepo{store: make(map[string]*model.ProductTier)}
}

func (m *mockTierRepo) Save(ctx context.Context, tx repository.Tx, t *model.ProductTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.store[t.ID] = &cp
	return nil
}

func (m *mockTierRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ProductTier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockTierRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.ProductTier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ProductTier
	for _, t := range m.store {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

// -----------------------------
// Gateway + registry
// -----------------------------

type mockGateway struct {
	name          string
	storedTokens  bool
	userStoppable bool

	ChargeFunc func(ctx context.Context, charge *model.ChargeRecord, tokenCID string) (adapter.Outcome, error)
}

func (g *mockGateway) Name() string { return g.name }

func (g *mockGateway) Charge(ctx context.Context, charge *model.ChargeRecord, tokenCID string) (adapter.Outcome, error) {
	if g.ChargeFunc != nil {
		return g.ChargeFunc(ctx, charge, tokenCID)
	}
	return adapter.Outcome{Result: adapter.ResultSuccess, Code: "00"}, nil
}

func (g *mockGateway) SupportsStoredTokens() bool { return g.storedTokens }
func (g *mockGateway) UserCanStop() bool          { return g.userStoppable }

// refundableGateway adds the refund capability on top of mockGateway.
type refundableGateway struct {
	mockGateway

	RefundFunc func(ctx context.Context, charge *model.ChargeRecord, reason string) (adapter.Outcome, error)
}

func (g *refundableGateway) Refund(ctx context.Context, charge *model.ChargeRecord, reason string) (adapter.Outcome, error) {
	if g.RefundFunc != nil {
		return g.RefundFunc(ctx, charge, reason)
	}
	return adapter.Outcome{Result: adapter.ResultSuccess, Code: "00"}, nil
}

type mockRegistry struct {
	gateways map[string]adapter.Gateway
}

func newMockRegistry(gws ...adapter.Gateway) *mockRegistry {
	m := &mockRegistry{gateways: make(map[string]adapter.Gateway)}
	for _, gw := range gws {
		m.gateways[gw.Name()] = gw
	}
	return m
}

func (m *mockRegistry) Resolve(name string) (adapter.Gateway, error) {
	gw, ok := m.gateways[name]
	if !ok {
		return nil, domain.ErrUnknownGateway
	}
	return gw, nil
}

// -----------------------------
// Event publisher
// -----------------------------

type mockPublisher struct {
	mu     sync.Mutex
	events []ports.Event
}

func (m *mockPublisher) Publish(ctx context.Context, ev ports.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockPublisher) byKind(kind ports.EventKind) []ports.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ports.Event
	for _, ev := range m.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
