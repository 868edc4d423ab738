package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"ocrd/internal/engine"
)

// Initialize constructs the engine exactly once. Concurrent callers join the
// attempt already running and share its outcome, including the same
// *InitializationError on failure. Callers arriving after success return nil
// without building a second engine. After a failure the manager stays
// uninitialized and a later call tries again.
func (m *Manager) Initialize(ctx context.Context) error {
	_, err, shared := m.initFlight.Do("init", func() (any, error) {
		return nil, m.initialize(ctx)
	})
	if shared {
		m.log.Debug().Err(err).Msg("joined initialization in progress")
	}
	return err
}

func (m *Manager) initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.Load() != nil {
		m.log.Warn().Str("backend", m.backend).Msg("engine already initialized")
		m.publish(Event{Name: EventInitSkipped})
		return nil
	}

	m.setState(StateInitializing, "")
	m.publish(Event{Name: EventInitStart, Fields: map[string]any{"backend": m.backend, "model": m.args.Model}})
	m.log.Info().
		Str("backend", m.backend).
		Str("model", m.args.Model).
		Float64("gpu_memory_utilization", m.args.GPUMemoryUtilization).
		Int("tensor_parallel_size", m.args.TensorParallelSize).
		Msg("initializing engine")

	start := time.Now()
	eng, err := m.construct(ctx)
	if err != nil {
		m.setState(StateAbsent, err.Error())
		m.log.Error().Err(err).Str("backend", m.backend).Msg("engine initialization failed")
		m.publish(Event{Name: EventInitFailed, Fields: map[string]any{"error": err.Error()}})
		return &InitializationError{Cause: err}
	}

	took := time.Since(start)
	m.smu.Lock()
	m.initDur = took
	m.readyAt = time.Now()
	m.state = StateReady
	m.err = ""
	m.smu.Unlock()
	// Publish the handle before flipping ready so Ready() implies a handle.
	m.cur.Store(newHandle(eng))
	m.ready.Store(true)
	engineReady.Set(1)
	engineInitSeconds.Observe(took.Seconds())

	m.log.Info().Dur("took", took).Str("backend", m.backend).Msg("engine ready")
	if !engine.AcceptsImages(m.backend) {
		m.log.Warn().Str("backend", m.backend).Msg("backend is text-only; image generations will fail")
	}
	m.publish(Event{Name: EventInitReady, Fields: map[string]any{"seconds": took.Seconds()}})
	return nil
}

// construct runs preflight checks and the backend factory. Factory panics are
// converted into errors.
func (m *Manager) construct(ctx context.Context) (eng engine.Engine, err error) {
	defer func() {
		if r := recover(); r != nil {
			eng = nil
			err = fmt.Errorf("engine factory panic: %v", r)
		}
	}()

	if rep := m.SanityCheck(); rep.Error != "" {
		return nil, errors.New(rep.Error)
	}

	args := m.args
	registerArchitecture(&args)
	if err := m.applyDeviceConfig(); err != nil {
		return nil, err
	}

	factory := m.factory
	if factory == nil {
		f, ok := engine.Lookup(m.backend)
		if !ok {
			return nil, fmt.Errorf("unknown engine backend %q (known: %v)", m.backend, engine.Names())
		}
		factory = f
	}
	eng, err = factory(ctx, args, m.log)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, errors.New("engine factory returned no engine")
	}
	return eng, nil
}

// registerArchitecture makes sure the OCR model class is announced to the
// runtime even when the caller left Architectures empty.
func registerArchitecture(args *engine.Args) {
	if len(args.Architectures) == 0 {
		args.Architectures = []string{engine.DefaultArchitecture}
	}
}

func (m *Manager) applyDeviceConfig() error {
	if m.devices == "" {
		return nil
	}
	if err := os.Setenv("CUDA_VISIBLE_DEVICES", m.devices); err != nil {
		return fmt.Errorf("set CUDA_VISIBLE_DEVICES: %w", err)
	}
	m.log.Info().Str("devices", m.devices).Msg("CUDA_VISIBLE_DEVICES set")
	return nil
}

// Shutdown releases the engine. It is idempotent. Generations still running
// are signalled to stop and fail with ErrEngineNotReady; Shutdown waits for
// them up to the drain timeout or until ctx is done before closing the engine.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.cur.Load()
	if h == nil {
		return nil
	}
	m.setState(StateDraining, "")
	m.publish(Event{Name: EventShutdownStart})
	m.log.Info().Msg("shutting down engine")

	m.ready.Store(false)
	engineReady.Set(0)
	m.cur.Store(nil)
	h.beginClose()

	timer := time.NewTimer(m.drainTimeout)
	defer timer.Stop()
	select {
	case <-h.idle:
	case <-timer.C:
		m.log.Warn().Dur("timeout", m.drainTimeout).Msg("drain timeout; closing engine with generations in flight")
	case <-ctx.Done():
		m.log.Warn().Err(ctx.Err()).Msg("shutdown context done before drain completed")
	}

	err := h.eng.Close()
	m.setState(StateAbsent, "")
	m.publish(Event{Name: EventShutdownDone})
	if err != nil {
		m.log.Error().Err(err).Msg("engine close failed")
		return fmt.Errorf("close engine: %w", err)
	}
	m.log.Info().Msg("engine shut down")
	return nil
}
