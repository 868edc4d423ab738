package manager

// Event represents a manager lifecycle or generation event.
// Minimal and stable: name + request ID and optional fields via key/values.
type Event struct {
	Name      string
	RequestID string
	Fields    map[string]any
}

// Event names published by the manager.
const (
	EventInitStart      = "init_start"
	EventInitReady      = "init_ready"
	EventInitFailed     = "init_failed"
	EventInitSkipped    = "init_skipped"
	EventShutdownStart  = "shutdown_start"
	EventShutdownDone   = "shutdown_done"
	EventGenerateStart  = "generate_start"
	EventGenerateDone   = "generate_done"
	EventGenerateFailed = "generate_failed"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
