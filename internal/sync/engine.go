package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcus/inv/internal/auth"
	"github.com/marcus/inv/internal/db"
	"github.com/marcus/inv/internal/models"
	"github.com/marcus/inv/internal/remote"
)

// Policy names for a local update that races a remote delete.
const (
	PolicyDrop       = "drop"
	PolicyDeadLetter = "dead_letter"
)

// Options configures a Coordinator.
type Options struct {
	BatchSize         int
	OnUpdateOfDeleted string            // PolicyDrop (default) or PolicyDeadLetter
	OnResult          func(CycleResult) // called after every non-coalesced cycle; may be nil

	// PushOnly / PullOnly restrict the cycle to one direction.
	PushOnly bool
	PullOnly bool
}

// Coordinator runs sync cycles: push the outbox, then pull the delta feed.
// At most one cycle runs at a time; a request arriving mid-cycle coalesces
// into the running one.
type Coordinator struct {
	db     *db.DB
	client *remote.Client
	guard  *auth.Guard
	opts   Options

	cycleMu sync.Mutex  // held for the duration of a cycle
	syncing atomic.Bool // mirrors cycleMu for lock-free status reads

	trigger chan struct{}

	mu   sync.Mutex
	last *CycleResult
}

// NewCoordinator creates a coordinator. Any in-flight entries left over from
// a previous process are reverted to pending immediately.
func NewCoordinator(database *db.DB, client *remote.Client, guard *auth.Guard, opts Options) *Coordinator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.OnUpdateOfDeleted != PolicyDeadLetter {
		opts.OnUpdateOfDeleted = PolicyDrop
	}
	if n, err := database.RevertInFlight(); err != nil {
		slog.Warn("revert stale in-flight entries", "err", err)
	} else if n > 0 {
		slog.Info("reverted stale in-flight entries", "count", n)
	}
	return &Coordinator{
		db:      database,
		client:  client,
		guard:   guard,
		opts:    opts,
		trigger: make(chan struct{}, 1),
	}
}

// SyncNow runs one cycle. If a cycle is already running, it returns
// immediately with Coalesced set instead of queuing a second one.
func (c *Coordinator) SyncNow(ctx context.Context) CycleResult {
	if !c.cycleMu.TryLock() {
		now := time.Now()
		return CycleResult{Started: now, Completed: now, Coalesced: true}
	}
	defer c.cycleMu.Unlock()

	c.syncing.Store(true)
	defer c.syncing.Store(false)

	res := c.cycle(ctx)

	c.mu.Lock()
	c.last = &res
	c.mu.Unlock()

	if c.opts.OnResult != nil {
		c.opts.OnResult(res)
	}
	return res
}

// IsSyncing reports whether a cycle is running right now.
func (c *Coordinator) IsSyncing() bool {
	return c.syncing.Load()
}

// LastResult returns the most recent completed cycle, or nil.
func (c *Coordinator) LastResult() *CycleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Notify requests a sync cycle soon. Non-blocking; repeated notifications
// while a cycle is pending collapse into one.
func (c *Coordinator) Notify() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run loops forever: an immediate cycle, then one per tick or notification,
// until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.SyncNow(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SyncNow(ctx)
		case <-c.trigger:
			c.SyncNow(ctx)
		}
	}
}

// WatchConnectivity probes the server on the given interval and requests a
// cycle when it becomes reachable after being down, so queued changes drain
// as soon as the network returns instead of waiting for the next tick.
// Blocks until ctx is cancelled.
func (c *Coordinator) WatchConnectivity(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Start pessimistic: the first successful probe notifies, which at worst
	// coalesces with the cycle Run starts on its own.
	online := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.client.Health(ctx)
			if err == nil && !online {
				slog.Debug("server reachable again, requesting sync")
				c.Notify()
			}
			online = err == nil
		}
	}
}

func (c *Coordinator) cycle(ctx context.Context) (res CycleResult) {
	res.Started = time.Now()
	defer func() { res.Completed = time.Now() }()

	// Connectivity gate: offline is an expected state, not an error.
	if err := c.client.Health(ctx); err != nil {
		slog.Debug("server unreachable, skipping cycle", "err", err)
		res.Offline = true
		return res
	}

	if !c.opts.PullOnly {
		if err := c.push(ctx, &res); err != nil {
			res.Err = err
			return res
		}
		if res.Unauthenticated {
			return res
		}
	}

	if !c.opts.PushOnly {
		if err := c.pull(ctx, &res); err != nil {
			res.Err = err
			return res
		}
	}

	if err := c.db.TouchLastSync(); err != nil {
		slog.Warn("record sync time", "err", err)
	}
	return res
}

// push drains the outbox in enqueue order. A transient failure on one entity
// skips that entity's remaining entries for the rest of the cycle, preserving
// per-entity delivery order.
func (c *Coordinator) push(ctx context.Context, res *CycleResult) error {
	skip := make(map[string]bool)

	for {
		batch, err := c.db.NextBatch(c.opts.BatchSize)
		if err != nil {
			return fmt.Errorf("load outbox batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		dispatched := 0
		for _, entry := range batch {
			if err := ctx.Err(); err != nil {
				return c.abortPush(err)
			}
			key := entry.EntityType + "/" + entry.EntityID
			if skip[key] {
				continue
			}

			if err := c.db.MarkInFlight(entry.ID); err != nil {
				// Another process got here first.
				slog.Debug("skipping outbox entry", "id", entry.ID, "err", err)
				continue
			}
			dispatched++

			err := c.guard.Do(ctx, func(token string) error {
				return c.client.PushEntity(ctx, token, entry.EntityType, entry.EntityID, entry.Op, entry.Payload)
			})

			switch {
			case err == nil:
				if err := c.db.MarkSucceeded(entry.ID); err != nil {
					return err
				}
				res.Pushed++

			case errors.Is(err, auth.ErrSessionExpired):
				res.Unauthenticated = true
				return c.abortPush(nil)

			case ctx.Err() != nil:
				return c.abortPush(ctx.Err())

			case errors.Is(err, remote.ErrGone):
				hold, err := c.resolveGone(entry, res)
				if err != nil {
					return err
				}
				if hold {
					skip[key] = true
				}

			case errors.Is(err, remote.ErrConflict):
				hold, err := c.resolveConflict(ctx, entry, res)
				if err != nil {
					return err
				}
				if res.Unauthenticated {
					return nil
				}
				if hold {
					skip[key] = true
				}

			default:
				dead, mErr := c.db.MarkFailed(entry.ID, err.Error())
				if mErr != nil {
					return mErr
				}
				if dead {
					res.DeadLettered++
					slog.Warn("outbox entry dead-lettered",
						"id", entry.ID, "entity_id", entry.EntityID, "err", err)
				} else {
					res.PushFailed++
					slog.Debug("push failed, will retry",
						"id", entry.ID, "entity_id", entry.EntityID, "err", err)
				}
				skip[key] = true
			}
		}

		if dispatched == 0 || len(batch) < c.opts.BatchSize {
			return nil
		}
	}
}

// abortPush returns remaining in-flight entries to pending so an interrupted
// cycle leaves the queue exactly as if the unsent entries were never touched.
func (c *Coordinator) abortPush(cause error) error {
	if _, err := c.db.RevertInFlight(); err != nil {
		slog.Warn("revert in-flight entries", "err", err)
	}
	return cause
}

// resolveGone handles the server reporting the entity already deleted. A
// local delete is simply confirmed. A local update of a remotely deleted
// entity is resolved by policy: drop the edit and the local copy, or park the
// entry for manual review. hold asks the caller to stop dispatching this
// entity for the rest of the cycle.
func (c *Coordinator) resolveGone(entry models.OutboxEntry, res *CycleResult) (hold bool, err error) {
	if entry.Op == models.OpDelete {
		if err := c.db.MarkSucceeded(entry.ID); err != nil {
			return false, err
		}
		res.Pushed++
		return false, nil
	}

	if c.opts.OnUpdateOfDeleted == PolicyDeadLetter {
		if err := c.db.DeadLetterEntry(entry.ID, "entity deleted on server"); err != nil {
			return false, err
		}
		res.DeadLettered++
		slog.Warn("local edit of remotely deleted entity parked for review",
			"entity_type", entry.EntityType, "entity_id", entry.EntityID)
		// Entries queued behind the parked one stay in order behind it.
		return true, nil
	}

	if err := c.db.DropEntry(entry.ID); err != nil {
		return false, err
	}
	if entry.EntityType == models.EntityAsset {
		if err := c.db.RemoveAssetLocal(entry.EntityID); err != nil {
			return false, err
		}
	}
	res.Dropped++
	slog.Info("discarded local edit of remotely deleted entity",
		"entity_type", entry.EntityType, "entity_id", entry.EntityID)
	return false, nil
}

// resolveConflict handles a version conflict on push: fetch the current
// remote record, overwrite the local copy, and discard the losing edit.
// hold asks the caller to stop dispatching this entity for the rest of the
// cycle, so a failed re-fetch cannot let a later edit overtake this one.
func (c *Coordinator) resolveConflict(ctx context.Context, entry models.OutboxEntry, res *CycleResult) (hold bool, err error) {
	if entry.EntityType != models.EntityAsset {
		// History is append-only; a conflict there means a duplicate id, and
		// the remote copy is authoritative.
		if err := c.db.DropEntry(entry.ID); err != nil {
			return false, err
		}
		res.Dropped++
		return false, nil
	}

	var data json.RawMessage
	err = c.guard.Do(ctx, func(token string) error {
		d, err := c.client.FetchAsset(ctx, token, entry.EntityID)
		if err != nil {
			return err
		}
		data = d
		return nil
	})
	switch {
	case errors.Is(err, auth.ErrSessionExpired):
		res.Unauthenticated = true
		return false, c.abortPush(nil)
	case errors.Is(err, remote.ErrGone), errors.Is(err, remote.ErrNotFound):
		return c.resolveGone(entry, res)
	case err != nil:
		// Transient; retry the whole entry later, and keep entries queued
		// behind it from being sent ahead of it this cycle.
		dead, mErr := c.db.MarkFailed(entry.ID, err.Error())
		if mErr != nil {
			return false, mErr
		}
		if dead {
			res.DeadLettered++
		} else {
			res.PushFailed++
		}
		return true, nil
	}

	tx, err := c.db.Conn().Begin()
	if err != nil {
		return false, fmt.Errorf("begin conflict tx: %w", err)
	}
	if err := upsertAsset(tx, data); err != nil {
		tx.Rollback()
		return false, fmt.Errorf("apply remote asset %s: %w", entry.EntityID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	if err := c.db.DropEntry(entry.ID); err != nil {
		return false, err
	}
	res.Dropped++
	res.Applied++
	slog.Info("version conflict resolved from server copy", "entity_id", entry.EntityID)
	return false, nil
}

// pull applies the remote delta feed page by page. The cursor only advances
// inside the same transaction as a cleanly applied page; a page with deferred
// or failed records is applied as far as possible and re-fetched next cycle.
func (c *Coordinator) pull(ctx context.Context, res *CycleResult) error {
	state, err := c.db.GetSyncState()
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}
	if state == nil {
		return fmt.Errorf("sync state not initialized: run 'inv init' first")
	}
	cursor := state.SyncCursor

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var delta *remote.DeltaResponse
		err := c.guard.Do(ctx, func(token string) error {
			d, err := c.client.Changes(ctx, token, cursor, c.opts.BatchSize)
			if err != nil {
				return err
			}
			delta = d
			return nil
		})
		if errors.Is(err, auth.ErrSessionExpired) {
			res.Unauthenticated = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetch changes: %w", err)
		}

		if len(delta.Records) == 0 {
			return nil
		}
		res.Pulled += len(delta.Records)

		tx, err := c.db.Conn().Begin()
		if err != nil {
			return fmt.Errorf("begin pull tx: %w", err)
		}

		ar, err := applyBatch(tx, delta.Records)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("apply delta batch: %w", err)
		}
		res.Applied += ar.applied
		res.Deferred += ar.deferred

		if !ar.dirty() && delta.NextCursor != "" {
			if err := db.AdvanceCursorTx(tx, delta.NextCursor); err != nil {
				tx.Rollback()
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit pull tx: %w", err)
		}

		if ar.dirty() {
			// Cursor held; the skipped records return next cycle.
			slog.Debug("pull page left records behind",
				"deferred", ar.deferred, "failed", ar.failed)
			return nil
		}
		if !delta.HasMore {
			return nil
		}
		cursor = delta.NextCursor
	}
}
