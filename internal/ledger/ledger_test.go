package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-engine/internal/models"
)

var sale = common.HexToAddress("0x000000000000000000000000000000000000cafe")

// settleFunc is a settlement with nothing to stage
type settleFunc func(ctx context.Context) error

func (f settleFunc) Prepare(context.Context) error {
	return nil
}

func (f settleFunc) Commit(ctx context.Context) error {
	return f(ctx)
}

func (f settleFunc) Abort(context.Context) {}

// stagedSettlement records how a ledger drives the two phases
type stagedSettlement struct {
	calls      []string
	prepareErr error
}

func (s *stagedSettlement) Prepare(context.Context) error {
	s.calls = append(s.calls, "prepare")
	return s.prepareErr
}

func (s *stagedSettlement) Commit(context.Context) error {
	s.calls = append(s.calls, "commit")
	return nil
}

func (s *stagedSettlement) Abort(context.Context) {
	s.calls = append(s.calls, "abort")
}

func TestMemory_LookupUnseen(t *testing.T) {
	state, err := NewMemory().Lookup(context.Background(), sale)
	require.NoError(t, err)
	assert.Equal(t, models.SaleStateUnseen, state)
}

func TestMemory_TransitionsAreFinal(t *testing.T) {
	ctx := context.Background()

	t.Run("fulfilled", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.MarkFulfilled(ctx, sale))

		assert.ErrorIs(t, m.MarkFulfilled(ctx, sale), ErrDuplicateSaleID)
		assert.ErrorIs(t, m.MarkCancelled(ctx, sale), ErrDuplicateSaleID)

		state, _ := m.Lookup(ctx, sale)
		assert.Equal(t, models.SaleStateFulfilled, state)
	})

	t.Run("cancelled", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.MarkCancelled(ctx, sale))

		called := false
		err := m.Fulfill(ctx, sale, settleFunc(func(context.Context) error {
			called = true
			return nil
		}))
		assert.ErrorIs(t, err, ErrDuplicateSaleID)
		assert.False(t, called)

		state, _ := m.Lookup(ctx, sale)
		assert.Equal(t, models.SaleStateCancelled, state)
	})
}

func TestMemory_FulfillFailureLeavesUnseen(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("transfer failed")

	err := m.Fulfill(ctx, sale, settleFunc(func(context.Context) error { return boom }))
	assert.ErrorIs(t, err, boom)

	state, _ := m.Lookup(ctx, sale)
	assert.Equal(t, models.SaleStateUnseen, state)

	require.NoError(t, m.Fulfill(ctx, sale, settleFunc(func(context.Context) error { return nil })))
	state, _ = m.Lookup(ctx, sale)
	assert.Equal(t, models.SaleStateFulfilled, state)
}

func TestMemory_FulfillDrivesSettlementPhases(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		settlement := &stagedSettlement{}
		require.NoError(t, NewMemory().Fulfill(ctx, sale, settlement))
		assert.Equal(t, []string{"prepare", "commit"}, settlement.calls)
	})

	t.Run("prepare failure aborts", func(t *testing.T) {
		m := NewMemory()
		boom := errors.New("not approved")
		settlement := &stagedSettlement{prepareErr: boom}

		assert.ErrorIs(t, m.Fulfill(ctx, sale, settlement), boom)
		assert.Equal(t, []string{"prepare", "abort"}, settlement.calls)

		state, _ := m.Lookup(ctx, sale)
		assert.Equal(t, models.SaleStateUnseen, state)
	})
}

func TestMemory_ConcurrentFulfillSettlesOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var settled, succeeded int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Fulfill(ctx, sale, settleFunc(func(context.Context) error {
				atomic.AddInt32(&settled, 1)
				return nil
			}))
			if err == nil {
				atomic.AddInt32(&succeeded, 1)
			} else {
				assert.ErrorIs(t, err, ErrDuplicateSaleID)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), settled)
	assert.Equal(t, int32(1), succeeded)
	assert.Empty(t, m.locks)
}

func TestMemory_IndependentSales(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	other := common.HexToAddress("0xbeef")

	require.NoError(t, m.MarkFulfilled(ctx, sale))
	require.NoError(t, m.MarkCancelled(ctx, other))

	a, _ := m.Lookup(ctx, sale)
	b, _ := m.Lookup(ctx, other)
	assert.Equal(t, models.SaleStateFulfilled, a)
	assert.Equal(t, models.SaleStateCancelled, b)
}

func TestDuplicateError(t *testing.T) {
	err := DuplicateError(sale, models.SaleStateCancelled)
	assert.ErrorIs(t, err, ErrDuplicateSaleID)
	assert.Contains(t, err.Error(), Key(sale))
	assert.Contains(t, err.Error(), "cancelled")
}
