// Package syncer drives reconciliation between the local store and the
// server: it drains the pending-operation queue over the transport channel,
// interprets acks and version-mismatch rejections, applies unsolicited
// server pushes, and owns conflict resolution.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/michaelayoade/fieldsync/internal/models"
	"github.com/michaelayoade/fieldsync/internal/store"
	"github.com/michaelayoade/fieldsync/internal/transport"
)

// Channel is the transport surface the manager needs. *transport.Channel
// satisfies it; tests substitute scripted fakes.
type Channel interface {
	Connect(ctx context.Context) error
	Close() error
	State() transport.State
	Send(ctx context.Context, op *models.Operation) (*transport.ServerResult, error)
	Updates() <-chan transport.ServerUpdate
	OnStateChange(fn func(transport.State)) func()
}

// Config holds the manager's timing knobs.
type Config struct {
	Interval       time.Duration // periodic cycle trigger
	ConnectTimeout time.Duration // initialize gives up (degraded mode) after this
	NotifyInterval time.Duration // bounded status notification cadence
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.NotifyInterval <= 0 {
		c.NotifyInterval = time.Second
	}
	return c
}

// Manager orchestrates the sync loop. All store mutations during a cycle go
// through it; per-operation errors land in operation status, never panic out
// of the loop.
type Manager struct {
	store        *store.Store
	channel      Channel
	connectivity transport.Connectivity
	cfg          Config
	merges       *MergeRegistry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wake    chan struct{}
	cycleMu sync.Mutex // serializes cycles; at most one operation in flight

	lastSyncMu sync.Mutex
	lastSyncAt time.Time

	subs    map[int]func(Status)
	nextSub int

	wg       sync.WaitGroup
	unhooks  []func()
}

// New creates a manager. connectivity may be nil, in which case the channel
// state alone gates sync cycles.
func New(s *store.Store, ch Channel, conn transport.Connectivity, cfg Config) *Manager {
	return &Manager{
		store:        s,
		channel:      ch,
		connectivity: conn,
		cfg:          cfg.withDefaults(),
		merges:       DefaultMerges(),
		wake:         make(chan struct{}, 1),
		subs:         make(map[int]func(Status)),
	}
}

// NewLocal creates a manager bound only to the local store, for conflict
// resolution and queue inspection without a server connection. Initialize
// and Status must not be used on a local-only manager.
func NewLocal(s *store.Store) *Manager {
	return &Manager{
		store:  s,
		cfg:    Config{}.withDefaults(),
		merges: DefaultMerges(),
		wake:   make(chan struct{}, 1),
		subs:   make(map[int]func(Status)),
	}
}

// Merges exposes the merge-rule registry for per-entity customization.
func (m *Manager) Merges() *MergeRegistry {
	return m.merges
}

// Initialize opens the channel and starts the periodic loop. If the channel
// cannot be opened within the connect timeout the connection error is
// returned, but the manager keeps running in degraded local-only mode and
// will sync once the channel reconnects.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager already initialized")
	}
	m.running = true
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	connectCtx, connectCancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	connectErr := m.channel.Connect(connectCtx)
	connectCancel()
	if connectErr != nil {
		slog.Warn("sync: starting in degraded mode", "err", connectErr)
	}

	// Reconnects and connectivity flips wake the loop immediately rather
	// than waiting out the timer.
	unhook := m.channel.OnStateChange(func(s transport.State) {
		if s == transport.StateOpen {
			m.Wake()
		}
	})
	m.unhooks = append(m.unhooks, unhook)
	if m.connectivity != nil {
		stop := m.connectivity.OnChange(func(online bool) {
			if online {
				m.Wake()
			}
		})
		m.unhooks = append(m.unhooks, stop)
	}

	m.wg.Add(3)
	go m.loop(runCtx)
	go m.applyLoop(runCtx)
	go m.notifyLoop(runCtx)

	if connectErr != nil {
		return fmt.Errorf("connect channel: %w", connectErr)
	}
	return nil
}

// Disconnect aborts any in-flight cycle, closes the channel, and reverts
// operations caught mid-send back to pending. Idempotent.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	unhooks := m.unhooks
	m.unhooks = nil
	m.mu.Unlock()

	cancel()
	for _, unhook := range unhooks {
		unhook()
	}
	m.wg.Wait()

	err := m.channel.Close()

	// An operation caught mid-send must not stay stuck in syncing.
	if n, recoverErr := m.store.RecoverInFlight(); recoverErr != nil {
		err = errors.Join(err, fmt.Errorf("recover in-flight: %w", recoverErr))
	} else if n > 0 {
		slog.Info("sync: reverted in-flight operations", "count", n)
	}
	return err
}

// Wake requests a sync cycle as soon as the loop is free.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// loop runs cycles on the periodic timer and on wake requests.
func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.wake:
		}
		m.runCycle(ctx)
	}
}

// SyncNow runs one cycle synchronously and reports what it did.
func (m *Manager) SyncNow(ctx context.Context) CycleResult {
	return m.runCycle(ctx)
}

// CycleResult summarises one sync cycle.
type CycleResult struct {
	Attempted int
	Synced    int
	Conflicts int
	Failed    int
	Retried   int
	Skipped   bool // channel not open, cycle aborted
}

// runCycle drains the pending queue in enqueue order. Operations for an
// entity whose earlier operation did not sync this cycle are deferred so
// per-entity causal order is preserved; cross-entity order is unspecified.
func (m *Manager) runCycle(ctx context.Context) CycleResult {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	var result CycleResult
	if m.channel.State() != transport.StateOpen {
		result.Skipped = true
		return result
	}
	if m.connectivity != nil && !m.connectivity.Online() {
		result.Skipped = true
		return result
	}

	pending, err := m.store.ListPending()
	if err != nil {
		slog.Warn("sync: list pending", "err", err)
		result.Skipped = true
		return result
	}

	// Entities with a parked conflict hold back their later edits until the
	// conflict is resolved, no matter how many cycles ago it was detected.
	blocked := make(map[string]bool)
	conflicted, err := m.store.ListConflicts()
	if err != nil {
		slog.Warn("sync: list conflicts", "err", err)
		result.Skipped = true
		return result
	}
	for i := range conflicted {
		blocked[string(conflicted[i].EntityKind)+"/"+conflicted[i].EntityID] = true
	}

	for i := range pending {
		op := &pending[i]
		if ctx.Err() != nil {
			return result
		}

		key := string(op.EntityKind) + "/" + op.EntityID
		if blocked[key] {
			continue
		}

		result.Attempted++
		outcome := m.syncOne(ctx, op)
		switch outcome {
		case outcomeSynced:
			result.Synced++
		case outcomeConflict:
			result.Conflicts++
			blocked[key] = true
		case outcomeFailed:
			result.Failed++
			blocked[key] = true
		case outcomeRetry:
			result.Retried++
			blocked[key] = true
		case outcomeAborted:
			return result
		}
	}

	if result.Synced > 0 || result.Attempted == 0 {
		m.lastSyncMu.Lock()
		m.lastSyncAt = time.Now().UTC()
		m.lastSyncMu.Unlock()
	}
	return result
}

type outcome int

const (
	outcomeSynced outcome = iota
	outcomeConflict
	outcomeFailed
	outcomeRetry
	outcomeAborted
)

// syncOne pushes a single operation and settles its status. Errors never
// propagate: every path ends in a status transition.
func (m *Manager) syncOne(ctx context.Context, op *models.Operation) outcome {
	// A confirm earlier in this cycle may have rebased this operation onto a
	// newer version, so send the queued row, not the copy listed at cycle
	// start.
	fresh, err := m.store.GetOperation(op.ID)
	if err != nil {
		slog.Warn("sync: reload operation", "op", op.ID, "err", err)
		return outcomeRetry
	}
	op = fresh

	if err := m.store.SetStatus(op.ID, models.StatusSyncing); err != nil {
		slog.Warn("sync: mark syncing", "op", op.ID, "err", err)
		return outcomeRetry
	}

	res, err := m.channel.Send(ctx, op)

	if ctx.Err() != nil {
		// Disconnect mid-send: revert so the operation is retried, and do
		// not charge a retry for our own cancellation.
		if err := m.store.SetStatus(op.ID, models.StatusPending); err != nil {
			slog.Warn("sync: revert in-flight", "op", op.ID, "err", err)
		}
		return outcomeAborted
	}

	switch {
	case err == nil && res.Accepted:
		return m.confirm(op, res)

	case err == nil:
		// Version mismatch: park for resolution, leave enqueued but out of
		// the auto-retry path.
		if err := m.store.MarkConflict(op.ID, res.ServerData, res.ServerVersion); err != nil {
			slog.Warn("sync: mark conflict", "op", op.ID, "err", err)
		}
		slog.Info("sync: conflict detected", "op", op.ID, "entity", op.EntityID, "server_version", res.ServerVersion)
		return outcomeConflict

	case transport.IsTransient(err):
		count, rerr := m.store.IncrementRetry(op.ID, err.Error())
		if rerr != nil {
			slog.Warn("sync: increment retry", "op", op.ID, "err", rerr)
			return outcomeRetry
		}
		if count > op.MaxRetries {
			if ferr := m.store.MarkFailed(op.ID, err.Error()); ferr != nil {
				slog.Warn("sync: mark failed", "op", op.ID, "err", ferr)
			}
			slog.Warn("sync: operation failed after max retries", "op", op.ID, "retries", count, "err", err)
			return outcomeFailed
		}
		slog.Debug("sync: transient failure, will retry", "op", op.ID, "attempt", count, "err", err)
		return outcomeRetry

	default:
		// Permanent rejection (validation, auth): terminal, surfaced via the
		// failed list, never retried.
		if ferr := m.store.MarkFailed(op.ID, err.Error()); ferr != nil {
			slog.Warn("sync: mark failed", "op", op.ID, "err", ferr)
		}
		slog.Warn("sync: operation rejected", "op", op.ID, "err", err)
		return outcomeFailed
	}
}

// confirm applies a server ack: canonical payload+version overwrite the
// local entity and the operation leaves the queue.
func (m *Manager) confirm(op *models.Operation, res *transport.ServerResult) outcome {
	if op.Kind == models.OpDelete {
		if err := m.store.ConfirmDeleted(op.EntityKind, op.EntityID, op.ID); err != nil {
			slog.Warn("sync: confirm delete", "op", op.ID, "err", err)
			return outcomeRetry
		}
		return outcomeSynced
	}

	data := res.Data
	if len(data) == 0 {
		data = op.Data
	}
	entity := &models.Entity{
		Kind:      op.EntityKind,
		ID:        op.EntityID,
		Data:      data,
		Version:   res.Version,
		UpdatedAt: time.Now().UTC(),
	}
	if err := m.store.ConfirmSynced(entity, op.ID); err != nil {
		slog.Warn("sync: confirm", "op", op.ID, "err", err)
		return outcomeRetry
	}
	return outcomeSynced
}

// applyLoop consumes unsolicited server pushes. An update for an entity with
// no contending local operation applies last-writer-wins; otherwise it is
// left for conflict detection at push time.
func (m *Manager) applyLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case upd := <-m.channel.Updates():
			if err := m.applyUpdate(upd); err != nil {
				slog.Warn("sync: apply server push", "kind", upd.Kind, "id", upd.ID, "err", err)
			}
		}
	}
}

func (m *Manager) applyUpdate(upd transport.ServerUpdate) error {
	contended, err := m.store.PendingForEntity(upd.Kind, upd.ID)
	if err != nil {
		return err
	}
	if contended {
		slog.Debug("sync: deferring push for locally pending entity", "kind", upd.Kind, "id", upd.ID)
		return nil
	}

	if upd.Deleted {
		if err := m.store.DeleteEntity(upd.Kind, upd.ID); err != nil {
			return err
		}
	} else {
		entity := &models.Entity{
			Kind:      upd.Kind,
			ID:        upd.ID,
			Data:      upd.Data,
			Version:   upd.Version,
			UpdatedAt: time.Now().UTC(),
		}
		if err := m.store.PutEntity(entity); err != nil {
			return err
		}
	}
	return nil
}
