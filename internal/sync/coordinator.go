package sync

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"linkhoard/internal/config"
	"linkhoard/internal/models"
	"linkhoard/internal/statelock"
	"linkhoard/internal/telemetry"
)

// Action classifies the outcome of one sync attempt.
type Action string

const (
	ActionUploaded Action = "uploaded"
	ActionNoChange Action = "no-change"
	ActionSkipped  Action = "skipped"
	ActionError    Action = "error"
)

// Result is what a sync attempt reports back.
type Result struct {
	Success bool   `json:"success"`
	Action  Action `json:"action"`
	Message string `json:"message,omitempty"`
}

// Status is the read-only view exposed to the presentation layer.
type Status struct {
	IsSyncing     bool       `json:"is_syncing"`
	LastSyncTime  *time.Time `json:"last_sync_time,omitempty"`
	LastSyncError *string    `json:"last_sync_error,omitempty"`
}

// StateStore persists the debounce anchor and the last outcome.
type StateStore interface {
	SyncState(ctx context.Context) (models.SyncState, error)
	SetSyncAttempt(ctx context.Context, t time.Time) error
	SetSyncSuccess(ctx context.Context, t time.Time) error
	SetSyncError(ctx context.Context, msg string) error
}

// Exporter assembles the local snapshot.
type Exporter interface {
	Export(ctx context.Context) (models.Snapshot, error)
}

// RemoteStore holds the mirrored snapshot. Fetch returns nil when no
// snapshot exists remotely yet.
type RemoteStore interface {
	Fetch(ctx context.Context) (*models.Snapshot, error)
	Upload(ctx context.Context, snap models.Snapshot) error
}

// Coordinator mirrors local bookmarks to a remote store, at most one
// sync in flight (the "remote-sync" durable lock) and at most one
// attempt per debounce window.
type Coordinator struct {
	cfg    config.Config
	locks  *statelock.Manager
	state  StateStore
	export Exporter
	remote RemoteStore
}

func NewCoordinator(cfg config.Config, locks *statelock.Manager, state StateStore, export Exporter, remote RemoteStore) *Coordinator {
	return &Coordinator{cfg: cfg, locks: locks, state: state, export: export, remote: remote}
}

// PerformSync runs one sync attempt. Contention and debounce are
// reported as skipped, never as errors; they resolve on a later
// trigger. The lock is released on every exit path.
func (c *Coordinator) PerformSync(ctx context.Context, force bool) Result {
	if !c.cfg.SyncEnabled || c.remote == nil {
		return Result{Success: false, Action: ActionSkipped, Message: "not configured"}
	}

	if !force {
		st, err := c.state.SyncState(ctx)
		if err != nil {
			return Result{Success: false, Action: ActionError, Message: fmt.Sprintf("read sync state: %v", err)}
		}
		if st.LastAttemptTime != nil && time.Since(*st.LastAttemptTime) < c.cfg.SyncDebounce {
			return Result{Success: false, Action: ActionSkipped, Message: "debounced"}
		}
	}

	token, ok := c.locks.TryAcquire(ctx, statelock.RemoteSyncLock, c.cfg.SyncTimeout)
	if !ok {
		return Result{Success: false, Action: ActionSkipped, Message: "sync already in progress"}
	}
	defer c.locks.Release(ctx, statelock.RemoteSyncLock, token)

	now := time.Now().UTC()
	_ = c.state.SetSyncAttempt(ctx, now)

	action, err := c.run(ctx)
	if err != nil {
		_ = c.state.SetSyncError(ctx, err.Error())
		telemetry.SyncErrors.Inc()
		return Result{Success: false, Action: ActionError, Message: err.Error()}
	}

	if err := c.state.SetSyncSuccess(ctx, time.Now().UTC()); err != nil {
		return Result{Success: false, Action: ActionError, Message: fmt.Sprintf("persist sync outcome: %v", err)}
	}
	if action == ActionUploaded {
		telemetry.SyncUploads.Inc()
	} else {
		telemetry.SyncNoChange.Inc()
	}
	return Result{Success: true, Action: action}
}

func (c *Coordinator) run(ctx context.Context) (Action, error) {
	snap, err := c.export.Export(ctx)
	if err != nil {
		return ActionError, fmt.Errorf("export: %w", err)
	}

	remote, err := c.remote.Fetch(ctx)
	if err != nil {
		return ActionError, fmt.Errorf("fetch remote snapshot: %w", err)
	}
	if remote != nil && snapshotsEqual(snap, *remote) {
		return ActionNoChange, nil
	}

	if err := c.remote.Upload(ctx, snap); err != nil {
		return ActionError, fmt.Errorf("upload snapshot: %w", err)
	}
	return ActionUploaded, nil
}

// SyncStatus is a pure read; it never mutates state or takes the lock.
func (c *Coordinator) SyncStatus(ctx context.Context) (Status, error) {
	held, err := c.locks.IsHeld(ctx, statelock.RemoteSyncLock)
	if err != nil {
		return Status{}, err
	}
	st, err := c.state.SyncState(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		IsSyncing:     held,
		LastSyncTime:  st.LastSyncTime,
		LastSyncError: st.LastSyncError,
	}, nil
}

// TriggerSyncIfEnabled runs a non-forced sync and swallows the result.
// Startup and timer triggers call this so their own flow never fails
// on a sync problem.
func (c *Coordinator) TriggerSyncIfEnabled(ctx context.Context) {
	res := c.PerformSync(ctx, false)
	if res.Action == ActionError {
		log.Printf("sync: background sync failed: %s", res.Message)
	}
}

// snapshotsEqual compares content, not export timestamps: the same
// item set digested the same way is a no-change however often it is
// exported.
func snapshotsEqual(a, b models.Snapshot) bool {
	if a.Version != b.Version || a.ItemCount != b.ItemCount {
		return false
	}
	return itemsDigest(a.Items) == itemsDigest(b.Items)
}

func itemsDigest(items []models.Bookmark) [sha256.Size]byte {
	payload, err := json.Marshal(items)
	if err != nil {
		return [sha256.Size]byte{}
	}
	return sha256.Sum256(payload)
}
