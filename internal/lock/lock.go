// Package lock provides the non-reentrant try-locks that keep each scheduler
// single-flight.
package lock

import (
	"context"
	"sync"
	"time"
)

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out at most one Lease at a time. TryAcquire waits up to wait
// for the lock; failing to get it is reported as ok == false, not as an error.
type Locker interface {
	TryAcquire(ctx context.Context, wait time.Duration) (lease Lease, ok bool, err error)
}

// Local is an in-process Locker for single-replica deployments.
type Local struct {
	sem chan struct{}
}

func NewLocal() *Local {
	return &Local{sem: make(chan struct{}, 1)}
}

func (l *Local) TryAcquire(ctx context.Context, wait time.Duration) (Lease, bool, error) {
	select {
	case l.sem <- struct{}{}:
		return &localLease{sem: l.sem}, true, nil
	default:
	}
	if wait <= 0 {
		return nil, false, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case l.sem <- struct{}{}:
		return &localLease{sem: l.sem}, true, nil
	case <-timer.C:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

type localLease struct {
	sem  chan struct{}
	once sync.Once
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() { <-l.sem })
	return nil
}
