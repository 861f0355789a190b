package statelock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Well-known lock names shared by the queue engine and sync coordinator.
const (
	JobQueueLock   = "job-queue"
	RemoteSyncLock = "remote-sync"
)

// Manager is a named, timeout-bound single-flight guard backed by
// durable storage. The host process can be killed between any two
// triggers, so an in-process mutex would guard nothing; every check
// goes through Redis. Staleness maps onto key expiry: a lock older
// than its timeout is simply gone and any caller may re-acquire it.
type Manager struct {
	client *redis.Client
}

func NewManager(client *redis.Client) *Manager {
	return &Manager{client: client}
}

func lockKey(name string) string {
	return "lock:" + name
}

// TryAcquire atomically claims the named lock for timeout. It returns
// the owner token and true on success, or "" and false when the lock
// is held by a live owner. The conditional write is a single
// SET NX PX; a read-then-write would let two callers both win.
// Storage errors report Busy: skipping a pass is safer than running
// it twice.
func (m *Manager) TryAcquire(ctx context.Context, name string, timeout time.Duration) (string, bool) {
	token := uuid.New().String()
	ok, err := m.client.SetNX(ctx, lockKey(name), token, timeout).Result()
	if err != nil || !ok {
		return "", false
	}
	return token, true
}

// Release deletes the lock only if token still owns it. A missing or
// superseded lock is a legitimate no-op: a stale holder may have been
// reclaimed by another caller while we worked.
func (m *Manager) Release(ctx context.Context, name, token string) {
	_ = releaseScript.Run(ctx, m.client, []string{lockKey(name)}, token).Err()
}

// Extend pushes the expiry forward for a lock we still own. Used by
// long drain passes to keep the lock fresh between batches.
func (m *Manager) Extend(ctx context.Context, name, token string, timeout time.Duration) bool {
	res, err := extendScript.Run(ctx, m.client, []string{lockKey(name)}, token, timeout.Milliseconds()).Result()
	if err != nil {
		return false
	}
	n, ok := res.(int64)
	return ok && n == 1
}

// IsHeld reports whether a non-stale lock record exists. Pure read.
func (m *Manager) IsHeld(ctx context.Context, name string) (bool, error) {
	n, err := m.client.Exists(ctx, lockKey(name)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)
