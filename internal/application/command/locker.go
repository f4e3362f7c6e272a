// Package command contains the write use cases of the score portal.
// Every handler validates its command, takes the per-exam lock where it
// writes exam rows, delegates to the domain and invalidates cached rankings.
package command

import (
	"context"
	"sync"

	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// ImportLocker serializes writers of the same exam.
type ImportLocker interface {
	// Acquire blocks until the lock for id is held and returns its release
	// function. It fails with shared.ErrConcurrentModification when the
	// lock cannot be obtained.
	Acquire(ctx context.Context, id score.TestIdentity) (func(context.Context) error, error)
}

// RankingInvalidator drops cached rankings after a write.
type RankingInvalidator interface {
	InvalidateRankings(ctx context.Context) error
}

// ══════════════════════════════════════════════════════════════════════════════
// LOCAL LOCKER
// ══════════════════════════════════════════════════════════════════════════════

// LocalLocker is a process-local keyed mutex used when no distributed lock
// is configured.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[score.TestIdentity]chan struct{}
}

// NewLocalLocker creates a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[score.TestIdentity]chan struct{})}
}

var _ ImportLocker = (*LocalLocker)(nil)

func (l *LocalLocker) slot(id score.TestIdentity) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[id] = ch
	}
	return ch
}

// Acquire waits for the slot of id until ctx is done.
func (l *LocalLocker) Acquire(ctx context.Context, id score.TestIdentity) (func(context.Context) error, error) {
	ch := l.slot(id)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, shared.WrapError("importer", "Lock", shared.ErrConcurrentModification,
			"another import for this test is in progress", ctx.Err())
	}

	var once sync.Once
	release := func(context.Context) error {
		once.Do(func() { <-ch })
		return nil
	}
	return release, nil
}

// noopInvalidator is used when no ranking cache is configured.
type noopInvalidator struct{}

func (noopInvalidator) InvalidateRankings(context.Context) error { return nil }
