package manager

import (
	"context"
	"time"
)

// admit reserves a queue slot and then one of the in-flight slots.
// Returns a release func to be deferred.
func (m *Manager) admit(ctx context.Context) (func(), error) {
	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	// Try to reserve a queue slot with timeout
	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()
	select {
	case m.queueCh <- struct{}{}:
		// reserved queue slot
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, tooBusyError{reason: "queue full"}
	}
	// The queue slot only covers waiting; it is freed once a run slot is held
	// or the wait is abandoned.
	defer func() { <-m.queueCh }()

	waitCtx, cancel := context.WithTimeout(ctx, m.maxWait)
	defer cancel()
	if err := m.genSem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return func() {}, ctx.Err()
		}
		return func() {}, tooBusyError{reason: "timed out waiting for a generation slot"}
	}
	m.inflight.Add(1)
	generationsInflight.Inc()
	return func() {
		generationsInflight.Dec()
		m.inflight.Add(-1)
		m.genSem.Release(1)
	}, nil
}
