package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"shoplist-sync/internal/domain"
	"shoplist-sync/internal/repository"
)

// RedisStateRepository 是 StateRepository 接口的 Redis 实现
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStateRepository 创建 RedisStateRepository 实例
func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "sl:" // shoplist
	}
	return &RedisStateRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// --- Key Generation Helpers ---

func (r *RedisStateRepository) roomSnapshotCacheKey(roomKey string) string {
	return fmt.Sprintf("%sroom:%s:snapshot", r.keyPrefix, roomKey)
}

func (r *RedisStateRepository) roomLastSnapshotKey(roomKey string) string {
	return fmt.Sprintf("%sroom:%s:last_snapshot", r.keyPrefix, roomKey)
}

// GetSnapshotCache 尝试从 Redis 缓存中获取快照。
func (r *RedisStateRepository) GetSnapshotCache(ctx context.Context, roomKey string) (*domain.Snapshot, error) {
	key := r.roomSnapshotCacheKey(roomKey)
	snapshotStr, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis: failed to get snapshot cache for room %s from %s: %w", roomKey, key, err)
	}
	var snapshot domain.Snapshot
	if err := json.Unmarshal([]byte(snapshotStr), &snapshot); err != nil {
		return nil, fmt.Errorf("redis: failed to unmarshal snapshot cache for room %s from %s: %w", roomKey, key, err)
	}
	return &snapshot, nil
}

// SetSnapshotCache 将快照存入 Redis 缓存。
// 缓存只会被更高版本覆盖，避免较慢的旧写入回退缓存。
func (r *RedisStateRepository) SetSnapshotCache(ctx context.Context, roomKey string, snapshot *domain.Snapshot, ttl time.Duration) error {
	key := r.roomSnapshotCacheKey(roomKey)
	if cached, err := r.GetSnapshotCache(ctx, roomKey); err == nil && cached.Version > snapshot.Version {
		return nil
	}
	snapshotBytes, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal snapshot for cache (room %s, version %d): %w", roomKey, snapshot.Version, err)
	}
	if err := r.client.Set(ctx, key, string(snapshotBytes), ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set snapshot cache for room %s on key %s: %w", roomKey, key, err)
	}
	return nil
}

// GetLastSnapshotTime 获取房间上次快照的时间戳
func (r *RedisStateRepository) GetLastSnapshotTime(ctx context.Context, roomKey string) (time.Time, error) {
	key := r.roomLastSnapshotKey(roomKey)
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("redis: failed to get last snapshot time for room %s: %w", roomKey, err)
	}
	unixNano, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: failed to parse last snapshot time '%s' for room %s: %w", val, roomKey, err)
	}
	return time.Unix(0, unixNano), nil
}

// SetLastSnapshotTime 记录房间上次快照的时间戳
func (r *RedisStateRepository) SetLastSnapshotTime(ctx context.Context, roomKey string, ts time.Time, ttl time.Duration) error {
	key := r.roomLastSnapshotKey(roomKey)
	if err := r.client.Set(ctx, key, strconv.FormatInt(ts.UnixNano(), 10), ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set last snapshot time for room %s: %w", roomKey, err)
	}
	return nil
}

// CheckRateLimit 检查给定 key 的请求频率是否超限，并递增计数。
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	fullKey := r.keyPrefix + "ratelimit:" + key
	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: pipeline failed for rate limit check on key %s: %w", fullKey, err)
	}
	count, err := incrCmd.Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to get incr result for rate limit on key %s: %w", fullKey, err)
	}
	return count > int64(limit), nil
}
