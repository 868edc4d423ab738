// Package manager owns the single OCR engine of the process and coordinates
// every request that uses it. It is structured into small files by concern:
//
//   - manager.go: Manager type, handle reference counting, Ready.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: lifecycle states, Snapshot and generation parameters.
//   - errors.go: error kinds and helpers (IsEngineNotReady, IsInvalidRequest, ...).
//   - lifecycle.go: Initialize and Shutdown, serialized by the lifecycle mutex.
//   - generate.go: Generate, which drains cumulative engine snapshots.
//   - admission.go: bounded queue plus in-flight limit for generations.
//   - sanity.go: preflight checks run before the engine is constructed.
//   - status_report.go: Status/Snapshot reporting helpers.
//   - events.go, eventpub_memory.go: lifecycle event publishing.
//   - metrics.go: Prometheus collectors.
//
// The lifecycle mutex is held only while the engine is created or torn down.
// Ready is an atomic load and Generate never takes the mutex, so requests run
// concurrently against the shared engine while initialization is in progress
// elsewhere. Shutdown fails in-flight generations with ErrEngineNotReady
// instead of letting them finish against a closing engine.
package manager
