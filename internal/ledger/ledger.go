package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"settlement-engine/internal/models"
)

var ErrDuplicateSaleID = errors.New("duplicate sale id")

// Settlement moves the assets of one fulfillment. Prepare stages and checks every
// transfer without applying any of them. Commit applies the staged transfers and
// cannot be undone. Abort discards staged transfers and is a no-op after Commit.
type Settlement interface {
	Prepare(ctx context.Context) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context)
}

// Ledger records, per sale id, whether an order has been fulfilled or cancelled.
// Fulfillment and cancellation share one key space; a terminal entry never changes again.
type Ledger interface {
	Lookup(ctx context.Context, saleID common.Address) (models.SaleState, error)
	MarkFulfilled(ctx context.Context, saleID common.Address) error
	MarkCancelled(ctx context.Context, saleID common.Address) error

	// Fulfill moves saleID from unseen to fulfilled only if the settlement commits.
	// The sale is claimed before the settlement commits, so assets never move for
	// a sale the ledger failed to record. Concurrent calls for one sale id are
	// serialised: exactly one can succeed.
	Fulfill(ctx context.Context, saleID common.Address, settlement Settlement) error
}

// Key is the canonical string form of a sale id used by every backend
func Key(saleID common.Address) string {
	return saleID.Hex()
}

// DuplicateError wraps ErrDuplicateSaleID with the state that blocked the transition
func DuplicateError(saleID common.Address, state models.SaleState) error {
	return fmt.Errorf("%w: %s is %s", ErrDuplicateSaleID, Key(saleID), state)
}

// Memory is an in-process ledger guarded by per-sale locks
type Memory struct {
	mu     sync.Mutex
	states map[common.Address]models.SaleState
	locks  map[common.Address]*saleLock
}

type saleLock struct {
	mu   sync.Mutex
	refs int
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{
		states: make(map[common.Address]models.SaleState),
		locks:  make(map[common.Address]*saleLock),
	}
}

// Lookup returns the current state, unseen if never recorded
func (m *Memory) Lookup(_ context.Context, saleID common.Address) (models.SaleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(saleID), nil
}

// MarkFulfilled records a fulfillment
func (m *Memory) MarkFulfilled(ctx context.Context, saleID common.Address) error {
	return m.transition(ctx, saleID, models.SaleStateFulfilled, nil)
}

// MarkCancelled records a cancellation
func (m *Memory) MarkCancelled(ctx context.Context, saleID common.Address) error {
	return m.transition(ctx, saleID, models.SaleStateCancelled, nil)
}

// Fulfill runs the settlement under the sale's lock and records the fulfillment if it commits
func (m *Memory) Fulfill(ctx context.Context, saleID common.Address, settlement Settlement) error {
	return m.transition(ctx, saleID, models.SaleStateFulfilled, settlement)
}

func (m *Memory) transition(ctx context.Context, saleID common.Address, to models.SaleState, settlement Settlement) error {
	lock := m.acquire(saleID)
	defer m.release(saleID, lock)

	m.mu.Lock()
	current := m.stateLocked(saleID)
	m.mu.Unlock()
	if current != models.SaleStateUnseen {
		return DuplicateError(saleID, current)
	}

	if settlement != nil {
		if err := settlement.Prepare(ctx); err != nil {
			settlement.Abort(ctx)
			return err
		}
		if err := settlement.Commit(ctx); err != nil {
			settlement.Abort(ctx)
			return err
		}
	}

	m.mu.Lock()
	m.states[saleID] = to
	m.mu.Unlock()
	return nil
}

func (m *Memory) stateLocked(saleID common.Address) models.SaleState {
	if s, ok := m.states[saleID]; ok {
		return s
	}
	return models.SaleStateUnseen
}

func (m *Memory) acquire(saleID common.Address) *saleLock {
	m.mu.Lock()
	l, ok := m.locks[saleID]
	if !ok {
		l = &saleLock{}
		m.locks[saleID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return l
}

func (m *Memory) release(saleID common.Address, l *saleLock) {
	l.mu.Unlock()

	m.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, saleID)
	}
	m.mu.Unlock()
}
