package manager

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"ocrd/internal/engine"
	"ocrd/internal/sampling"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultBackend       = "vllm-spawn"
	defaultMaxInflight   = 4
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 30 * time.Second
	defaultEventTail     = 64
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// Backend names a registered engine factory.
	Backend string
	Args    engine.Args
	// Sampling holds the defaults merged into every generation.
	Sampling sampling.Defaults
	// CUDAVisibleDevices is exported to the environment before the engine
	// starts when non-empty.
	CUDAVisibleDevices string

	MaxInflight   int
	MaxQueueDepth int
	MaxWait       time.Duration
	DrainTimeout  time.Duration

	Logger    *zerolog.Logger
	Publisher EventPublisher
	// Factory overrides the registry lookup for Backend.
	Factory engine.Factory
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		state:         StateAbsent,
		backend:       cfg.Backend,
		args:          cfg.Args,
		defaults:      cfg.Sampling,
		devices:       cfg.CUDAVisibleDevices,
		factory:       cfg.Factory,
		maxInflight:   cfg.MaxInflight,
		maxQueueDepth: cfg.MaxQueueDepth,
		maxWait:       cfg.MaxWait,
		drainTimeout:  cfg.DrainTimeout,
		publisher:     cfg.Publisher,
	}
	// Apply defaults if unset
	if m.backend == "" {
		m.backend = defaultBackend
	}
	if m.args.Model == "" {
		m.args.Model = engine.DefaultArgs().Model
	}
	if m.defaults.MaxTokens == 0 && m.defaults.Repetition.NGramSize == 0 {
		m.defaults = sampling.Default()
	}
	if m.maxInflight <= 0 {
		m.maxInflight = defaultMaxInflight
	}
	if m.maxQueueDepth <= 0 {
		m.maxQueueDepth = defaultMaxQueueDepth
	}
	if m.maxWait <= 0 {
		m.maxWait = defaultMaxWait
	}
	if m.drainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "manager").Logger()
	} else {
		m.log = zerolog.Nop()
	}
	m.queueCh = make(chan struct{}, m.maxQueueDepth)
	m.genSem = semaphore.NewWeighted(int64(m.maxInflight))
	m.startTime = time.Now()
	return m
}

// New builds a Manager for the given backend and engine arguments with
// package defaults for everything else.
func New(backend string, args engine.Args) *Manager {
	return NewWithConfig(ManagerConfig{Backend: backend, Args: args})
}
