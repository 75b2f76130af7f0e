// Package gate provides a per-parent, non-blocking mutual exclusion used to
// keep concurrent ingestions for the same parent from interleaving.
package gate

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy is returned by TryAcquire when another holder owns the parent.
var ErrBusy = errors.New("parent is busy")

// Release gives the gate back. It is safe to call more than once.
type Release func()

type Gate interface {
	// TryAcquire never waits: it either takes the gate for parentID or
	// returns ErrBusy.
	TryAcquire(ctx context.Context, parentID int64) (Release, error)
}

// LocalGate is an in-process gate keyed by parent ID.
type LocalGate struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func NewLocalGate() *LocalGate {
	return &LocalGate{held: make(map[int64]struct{})}
}

func (g *LocalGate) TryAcquire(ctx context.Context, parentID int64) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[parentID]; busy {
		return nil, ErrBusy
	}
	g.held[parentID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, parentID)
			g.mu.Unlock()
		})
	}, nil
}
