package transfer

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"settlement-engine/internal/models"
)

type balanceKey struct {
	kind   models.ItemKind
	token  common.Address
	id     string
	holder common.Address
}

type tokenKey struct {
	token common.Address
	id    string
}

type approvalKey struct {
	owner    common.Address
	token    common.Address
	operator common.Address
}

// Memory is an in-process custodian holding native and fungible balances,
// semi-fungible balances, non-fungible ownership and operator approvals.
// Every non-native transfer is executed by operator, which must be approved by the sender.
type Memory struct {
	mu        sync.Mutex
	operator  common.Address
	balances  map[balanceKey]*big.Int
	owners    map[tokenKey]common.Address
	approvals map[approvalKey]bool
}

// NewMemory creates an empty custodian whose transfers are executed by operator
func NewMemory(operator common.Address) *Memory {
	return &Memory{
		operator:  operator,
		balances:  make(map[balanceKey]*big.Int),
		owners:    make(map[tokenKey]common.Address),
		approvals: make(map[approvalKey]bool),
	}
}

// Credit adds a native, fungible or semi-fungible balance to holder
func (m *Memory) Credit(holder common.Address, item Item) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := balanceKeyOf(item, holder)
	b := m.balanceLocked(k)
	m.balances[k] = new(big.Int).Add(b, item.Amount)
}

// Mint assigns a non-fungible token to owner
func (m *Memory) Mint(token common.Address, id *big.Int, owner common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[tokenKey{token: token, id: idString(id)}] = owner
}

// SetApprovalForAll lets operator move every token of owner's collection
func (m *Memory) SetApprovalForAll(owner, token, operator common.Address, approved bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[approvalKey{owner: owner, token: token, operator: operator}] = approved
}

// OwnerOf returns the holder of a non-fungible token
func (m *Memory) OwnerOf(token common.Address, id *big.Int) common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[tokenKey{token: token, id: idString(id)}]
}

// BalanceOf returns holder's balance of a native, fungible or semi-fungible item
func (m *Memory) BalanceOf(holder common.Address, item Item) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.balanceLocked(balanceKeyOf(item, holder)))
}

// Begin opens a batch. Transfers are checked as they are added and checked
// again against the latest state on Commit.
func (m *Memory) Begin(_ context.Context) (Batch, error) {
	return &memoryBatch{custodian: m}, nil
}

func (m *Memory) balanceLocked(k balanceKey) *big.Int {
	if b, ok := m.balances[k]; ok {
		return b
	}
	return new(big.Int)
}

type memoryBatch struct {
	custodian *Memory
	ops       []Instruction
	closed    bool
}

func (b *memoryBatch) Transfer(_ context.Context, item Item, from, to common.Address) error {
	if b.closed {
		return ErrBatchClosed
	}
	op := Instruction{Item: item, From: from, To: to}

	b.custodian.mu.Lock()
	defer b.custodian.mu.Unlock()

	v := newOverlay(b.custodian)
	for _, prev := range b.ops {
		if err := v.apply(prev); err != nil {
			return err
		}
	}
	if err := v.apply(op); err != nil {
		return err
	}
	b.ops = append(b.ops, op)
	return nil
}

func (b *memoryBatch) Commit(_ context.Context) error {
	if b.closed {
		return ErrBatchClosed
	}
	b.closed = true

	b.custodian.mu.Lock()
	defer b.custodian.mu.Unlock()

	v := newOverlay(b.custodian)
	for _, op := range b.ops {
		if err := v.apply(op); err != nil {
			return err
		}
	}
	v.flush()
	return nil
}

func (b *memoryBatch) Rollback(_ context.Context) error {
	b.closed = true
	b.ops = nil
	return nil
}

// overlay stages changes on top of the custodian state; callers hold custodian.mu
type overlay struct {
	m        *Memory
	balances map[balanceKey]*big.Int
	owners   map[tokenKey]common.Address
}

func newOverlay(m *Memory) *overlay {
	return &overlay{
		m:        m,
		balances: make(map[balanceKey]*big.Int),
		owners:   make(map[tokenKey]common.Address),
	}
}

func (o *overlay) balance(k balanceKey) *big.Int {
	if b, ok := o.balances[k]; ok {
		return b
	}
	return o.m.balanceLocked(k)
}

func (o *overlay) owner(k tokenKey) common.Address {
	if a, ok := o.owners[k]; ok {
		return a
	}
	return o.m.owners[k]
}

func (o *overlay) apply(op Instruction) error {
	item := op.Item
	if item.Amount == nil || item.Amount.Sign() < 0 {
		return &Error{Instruction: op, Err: fmt.Errorf("%w: invalid amount", ErrUnsupportedItem)}
	}

	if item.Kind != models.ItemKindNative && op.From != o.m.operator &&
		!o.m.approvals[approvalKey{owner: op.From, token: item.Token, operator: o.m.operator}] {
		if item.Kind == models.ItemKindNonFungible && o.owner(tokenKey{token: item.Token, id: idString(item.Identifier)}) != op.From {
			return &Error{Instruction: op, Err: ErrNotOwner}
		}
		return &Error{Instruction: op, Err: ErrNotApproved}
	}

	switch item.Kind {
	case models.ItemKindNonFungible:
		k := tokenKey{token: item.Token, id: idString(item.Identifier)}
		if o.owner(k) != op.From {
			return &Error{Instruction: op, Err: ErrNotOwner}
		}
		o.owners[k] = op.To
		return nil

	case models.ItemKindNative, models.ItemKindFungible, models.ItemKindSemiFungible:
		fromKey := balanceKeyOf(item, op.From)
		toKey := balanceKeyOf(item, op.To)
		available := o.balance(fromKey)
		if available.Cmp(item.Amount) < 0 {
			return &Error{Instruction: op, Err: fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, available, item.Amount)}
		}
		o.balances[fromKey] = new(big.Int).Sub(available, item.Amount)
		o.balances[toKey] = new(big.Int).Add(o.balance(toKey), item.Amount)
		return nil
	}

	return &Error{Instruction: op, Err: fmt.Errorf("%w: %s", ErrUnsupportedItem, item.Kind)}
}

func (o *overlay) flush() {
	for k, v := range o.balances {
		o.m.balances[k] = v
	}
	for k, v := range o.owners {
		o.m.owners[k] = v
	}
}

func balanceKeyOf(item Item, holder common.Address) balanceKey {
	k := balanceKey{kind: item.Kind, token: item.Token, holder: holder}
	if item.Kind == models.ItemKindSemiFungible {
		k.id = idString(item.Identifier)
	}
	if item.Kind == models.ItemKindNative {
		k.token = common.Address{}
	}
	return k
}

func idString(id *big.Int) string {
	if id == nil {
		return "0"
	}
	return id.String()
}
