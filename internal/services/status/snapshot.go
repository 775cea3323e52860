package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"filedrop/internal/domain"
)

const redisSnapshotPrefix = "filedrop:status:"

// SnapshotScreen is the screen name the snapshot recorder attaches under.
const SnapshotScreen = "snapshots"

type SnapshotBackend interface {
	Put(ctx context.Context, event domain.StatusEvent, ttl time.Duration) error
	Get(ctx context.Context, id domain.RequestID) (domain.StatusEvent, bool, error)
}

// SnapshotRecorder keeps the latest StatusEvent of every request so a late
// screen can still read the last gauge, terminal ones included.
type SnapshotRecorder struct {
	backend SnapshotBackend
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

func NewSnapshotRecorder(backend SnapshotBackend, ttl time.Duration, logger *slog.Logger) *SnapshotRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SnapshotRecorder{backend: backend, ttl: ttl, timeout: 2 * time.Second, logger: logger}
}

func (r *SnapshotRecorder) OnStatus(event domain.StatusEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.backend.Put(ctx, event, r.ttl); err != nil {
		r.logger.Warn("status snapshot write failed",
			slog.String("requestId", string(event.RequestID)),
			slog.String("error", err.Error()),
		)
	}
}

func (r *SnapshotRecorder) OnError(domain.ErrorEvent) {}

func (r *SnapshotRecorder) Latest(ctx context.Context, id domain.RequestID) (domain.StatusEvent, error) {
	event, ok, err := r.backend.Get(ctx, id)
	if err != nil {
		return domain.StatusEvent{}, err
	}
	if !ok {
		return domain.StatusEvent{}, domain.ErrNotFound
	}
	return event, nil
}

// RedisSnapshotBackend stores snapshots as JSON strings with a TTL.
type RedisSnapshotBackend struct {
	client *redis.Client
}

func NewRedisSnapshotBackend(client *redis.Client) *RedisSnapshotBackend {
	return &RedisSnapshotBackend{client: client}
}

func (b *RedisSnapshotBackend) Put(ctx context.Context, event domain.StatusEvent, ttl time.Duration) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, redisSnapshotPrefix+string(event.RequestID), data, ttl).Err()
}

func (b *RedisSnapshotBackend) Get(ctx context.Context, id domain.RequestID) (domain.StatusEvent, bool, error) {
	data, err := b.client.Get(ctx, redisSnapshotPrefix+string(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.StatusEvent{}, false, nil
		}
		return domain.StatusEvent{}, false, err
	}
	var event domain.StatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.StatusEvent{}, false, err
	}
	return event, true, nil
}

func (b *RedisSnapshotBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

type memoryEntry struct {
	event     domain.StatusEvent
	expiresAt time.Time
}

// MemorySnapshotBackend is used when no Redis address is configured.
type MemorySnapshotBackend struct {
	mu      sync.Mutex
	entries map[domain.RequestID]memoryEntry
	now     func() time.Time
}

func NewMemorySnapshotBackend() *MemorySnapshotBackend {
	return &MemorySnapshotBackend{entries: make(map[domain.RequestID]memoryEntry), now: time.Now}
}

func (b *MemorySnapshotBackend) Put(_ context.Context, event domain.StatusEvent, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for id, e := range b.entries {
		if now.After(e.expiresAt) {
			delete(b.entries, id)
		}
	}
	b.entries[event.RequestID] = memoryEntry{event: event, expiresAt: now.Add(ttl)}
	return nil
}

func (b *MemorySnapshotBackend) Get(_ context.Context, id domain.RequestID) (domain.StatusEvent, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok || b.now().After(e.expiresAt) {
		return domain.StatusEvent{}, false, nil
	}
	return e.event, true, nil
}
