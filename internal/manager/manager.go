package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"ocrd/internal/engine"
	"ocrd/internal/sampling"
)

type Manager struct {
	// mu serializes Initialize and Shutdown. Generate and Ready never take it.
	mu sync.Mutex
	// initFlight collapses concurrent Initialize calls into one attempt.
	initFlight singleflight.Group
	// smu guards the reporting fields below and is never held while blocking.
	smu       sync.RWMutex
	state     State
	err       string
	initDur   time.Duration
	readyAt   time.Time
	startTime time.Time

	cur   atomic.Pointer[handle]
	ready atomic.Bool
	seq   atomic.Uint64

	backend  string
	args     engine.Args
	defaults sampling.Defaults
	devices  string
	factory  engine.Factory

	// Queue config
	maxInflight   int
	maxQueueDepth int
	maxWait       time.Duration
	drainTimeout  time.Duration
	queueCh       chan struct{}
	genSem        *semaphore.Weighted
	inflight      atomic.Int64

	generations atomic.Uint64
	failures    atomic.Uint64

	log       zerolog.Logger
	publisher EventPublisher
}

// Ready reports whether the engine is loaded. It is a single atomic load and
// never waits for an Initialize in progress.
func (m *Manager) Ready() bool { return m.ready.Load() }

// Backend returns the configured engine backend name.
func (m *Manager) Backend() string { return m.backend }

// Args returns the engine arguments the manager was configured with.
func (m *Manager) Args() engine.Args { return m.args }

// Defaults returns the sampling defaults merged into every generation.
func (m *Manager) Defaults() sampling.Defaults { return m.defaults }

// SetEventPublisher swaps the publisher. Not safe once traffic is flowing.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.publisher = p
}

func (m *Manager) setState(st State, errMsg string) {
	m.smu.Lock()
	m.state = st
	m.err = errMsg
	m.smu.Unlock()
}

func (m *Manager) publish(e Event) {
	defer func() { _ = recover() }()
	m.publisher.Publish(e)
}

// handle is one live engine plus the bookkeeping that lets Shutdown wait for
// the generations using it.
type handle struct {
	eng    engine.Engine
	closed chan struct{}

	mu      sync.Mutex
	users   int
	closing bool
	idle    chan struct{}
}

func newHandle(eng engine.Engine) *handle {
	return &handle{eng: eng, closed: make(chan struct{}), idle: make(chan struct{})}
}

// acquire registers a user. It fails once the handle is closing.
func (h *handle) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.users++
	return true
}

func (h *handle) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.users--
	if h.closing && h.users == 0 {
		close(h.idle)
	}
}

// beginClose stops new acquisitions and signals current users.
func (h *handle) beginClose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return
	}
	h.closing = true
	close(h.closed)
	if h.users == 0 {
		close(h.idle)
	}
}
