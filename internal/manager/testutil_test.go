package manager

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ocrd/internal/engine"
	"ocrd/internal/engine/enginetest"
)

// newTestManager builds a Manager whose factory always yields f.
func newTestManager(t *testing.T, f *enginetest.Fake, cfg ManagerConfig) *Manager {
	t.Helper()
	if cfg.Backend == "" {
		cfg.Backend = "fake"
	}
	if cfg.Factory == nil {
		cfg.Factory = enginetest.Factory(f, nil)
	}
	m := NewWithConfig(cfg)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

// readyManager returns an initialized manager over f.
func readyManager(t *testing.T, f *enginetest.Fake, cfg ManagerConfig) *Manager {
	t.Helper()
	m := newTestManager(t, f, cfg)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return m
}

// blockingFactory signals entered and then waits for release before
// returning f.
func blockingFactory(f *enginetest.Fake, entered chan<- struct{}, release <-chan struct{}) engine.Factory {
	return func(ctx context.Context, _ engine.Args, _ zerolog.Logger) (engine.Engine, error) {
		close(entered)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return f, nil
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}

func ptr[T any](v T) *T { return &v }
