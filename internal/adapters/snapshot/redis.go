package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"billtracker/internal/domain"
	"billtracker/internal/infra/metrics"
)

// Redis keeps the latest snapshot per bill as a JSON value. Keys carry no
// TTL unless one is configured; a lost snapshot only costs one extra
// first-sight cycle.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ domain.SnapshotStore = (*Redis)(nil)

// NewRedis creates the store. ttl = 0 keeps snapshots forever.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "billtracker:snapshot"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(billID int64) string {
	return fmt.Sprintf("%s:%d", r.prefix, billID)
}

// Get implements domain.SnapshotStore.
func (r *Redis) Get(ctx context.Context, billID int64) (domain.BillSnapshot, bool, error) {
	start := time.Now()
	data, err := r.client.Get(ctx, r.key(billID)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "snapshot_get", r.prefix, start, nil)
		return domain.BillSnapshot{}, false, nil
	}
	metrics.ObserveNetworkRequest("redis", "snapshot_get", r.prefix, start, err)
	if err != nil {
		return domain.BillSnapshot{}, false, err
	}
	var snap domain.BillSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.BillSnapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// Put implements domain.SnapshotStore.
func (r *Redis) Put(ctx context.Context, billID int64, snap domain.BillSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	start := time.Now()
	err = r.client.Set(ctx, r.key(billID), data, r.ttl).Err()
	metrics.ObserveNetworkRequest("redis", "snapshot_put", r.prefix, start, err)
	return err
}
