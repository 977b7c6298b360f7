package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/michaelayoade/fieldsync/internal/transport"
)

// Status is the UI-facing summary of the engine. Snapshots are pushed to
// subscribers at a bounded interval rather than on every internal mutation.
type Status struct {
	PendingCount  int64
	ConflictCount int64
	FailedCount   int64
	ChannelState  transport.State
	Online        bool
	LastSyncAt    time.Time
}

// Status returns a point-in-time snapshot of the engine.
func (m *Manager) Status() Status {
	var s Status
	var err error
	if s.PendingCount, err = m.store.CountPending(); err != nil {
		slog.Warn("status: count pending", "err", err)
	}
	if s.ConflictCount, err = m.store.CountConflicts(); err != nil {
		slog.Warn("status: count conflicts", "err", err)
	}
	if s.FailedCount, err = m.store.CountFailed(); err != nil {
		slog.Warn("status: count failed", "err", err)
	}
	s.ChannelState = m.channel.State()
	s.Online = m.connectivity == nil || m.connectivity.Online()

	m.lastSyncMu.Lock()
	s.LastSyncAt = m.lastSyncAt
	m.lastSyncMu.Unlock()
	return s
}

// Subscribe registers a status callback; the returned function cancels it.
// Callbacks fire at most once per notify interval, and only on change.
func (m *Manager) Subscribe(fn func(Status)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// notifyLoop rate-limits status fan-out to the configured interval.
func (m *Manager) notifyLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.NotifyInterval)
	defer ticker.Stop()

	var last *Status
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s := m.Status()
		if last != nil && s == *last {
			continue
		}
		snapshot := s
		last = &snapshot

		m.mu.Lock()
		subs := make([]func(Status), 0, len(m.subs))
		for _, fn := range m.subs {
			subs = append(subs, fn)
		}
		m.mu.Unlock()

		for _, fn := range subs {
			fn(s)
		}
	}
}
