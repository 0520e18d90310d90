package engine

import (
	"context"
	"fmt"
	"sync"
)

// Transferer moves settled funds out of the engine's custody to a recipient.
// The engine releases its lock around Transfer, so implementations may call
// back into the engine; committed claim state is already visible to such
// re-entrant calls.
type Transferer interface {
	Transfer(ctx context.Context, recipient string, amount uint64) error
}

// TransfererFunc adapts a function to the Transferer interface.
type TransfererFunc func(ctx context.Context, recipient string, amount uint64) error

func (f TransfererFunc) Transfer(ctx context.Context, recipient string, amount uint64) error {
	return f(ctx, recipient, amount)
}

// LedgerTransferer is an in-process Transferer that credits recipients on a
// local balance sheet. It is the default custody backend for single-node
// deployments and tests.
type LedgerTransferer struct {
	mu       sync.Mutex
	balances map[string]uint64
}

func NewLedgerTransferer() *LedgerTransferer {
	return &LedgerTransferer{balances: make(map[string]uint64)}
}

func (l *LedgerTransferer) Transfer(ctx context.Context, recipient string, amount uint64) error {
	if recipient == "" {
		return fmt.Errorf("recipient is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[recipient] += amount
	return nil
}

// Balance returns the total credited to recipient so far.
func (l *LedgerTransferer) Balance(recipient string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[recipient]
}
