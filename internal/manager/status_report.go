package manager

import (
	"time"

	"ocrd/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.smu.RLock()
	defer m.smu.RUnlock()
	return Snapshot{
		State:      m.state,
		Backend:    m.backend,
		Model:      m.args.Model,
		Err:        m.err,
		ReadySince: m.readyAt,
	}
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	resp := types.StatusResponse{
		Backend:          m.backend,
		Model:            m.args.Model,
		Inflight:         int(m.inflight.Load()),
		QueueLen:         len(m.queueCh),
		MaxInflight:      m.maxInflight,
		MaxQueueDepth:    m.maxQueueDepth,
		GenerationsTotal: m.generations.Load(),
		FailuresTotal:    m.failures.Load(),
		UptimeSeconds:    int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix:   time.Now().Unix(),
	}
	m.smu.RLock()
	resp.State = string(m.state)
	resp.LastError = m.err
	resp.InitSeconds = m.initDur.Seconds()
	m.smu.RUnlock()
	if mp, ok := m.publisher.(*MemoryPublisher); ok {
		resp.Events = mp.Names()
	}
	return resp
}
