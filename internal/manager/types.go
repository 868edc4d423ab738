package manager

import (
	"time"

	"ocrd/internal/engine"
)

// State represents the lifecycle state of the engine handle.
type State string

const (
	StateAbsent       State = "absent"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateDraining     State = "draining"
)

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State      State
	Backend    string
	Model      string
	Err        string
	ReadySince time.Time
}

// GenerateParams is one generation request. Nil sampling fields fall back to
// the configured defaults.
type GenerateParams struct {
	Prompt      string
	Image       *engine.ImageFeatures
	Temperature *float64
	MaxTokens   *int
}
