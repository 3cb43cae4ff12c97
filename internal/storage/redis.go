package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"cv-ingest/internal/config"
	"cv-ingest/internal/constants"
	"cv-ingest/internal/processor"
	"cv-ingest/internal/tracing"
	"cv-ingest/internal/types"
)

// ErrNotFound is returned when a key is not found in Redis.
var ErrNotFound = redis.Nil

var redisTracer = otel.Tracer("cv-ingest/storage/redis")

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

var _ processor.CVCache = (*Redis)(nil)

// NewRedisAdapter creates a new Redis client connection
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,

		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute,
	}

	client := redis.NewClient(opt)

	// 添加OpenTelemetry钩子, 记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{Client: client, config: cfg}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// GetCV 读取缓存的规范记录，未命中时返回 (nil, nil)
func (r *Redis) GetCV(ctx context.Context, md5Hex string) (*types.CanonicalCV, error) {
	key := fmt.Sprintf(constants.KeyCVResult, md5Hex)
	ctx, span := redisTracer.Start(ctx, "Redis.GetCV")
	defer span.End()
	span.SetAttributes(attribute.String("db.redis.key", tracing.SafeRedisKey(key)))

	data, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, nil
	}
	if err != nil {
		tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeRedis)
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var cv types.CanonicalCV
	if err := json.Unmarshal(data, &cv); err != nil {
		// 损坏的缓存直接删除，按未命中处理
		_ = r.Client.Del(ctx, key).Err()
		tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeRedis)
		return nil, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return &cv, nil
}

// SetCV 写入规范记录
func (r *Redis) SetCV(ctx context.Context, md5Hex string, cv *types.CanonicalCV, ttl time.Duration) error {
	if cv == nil {
		return errors.New("nil cv")
	}
	key := fmt.Sprintf(constants.KeyCVResult, md5Hex)
	ctx, span := redisTracer.Start(ctx, "Redis.SetCV")
	defer span.End()
	span.SetAttributes(attribute.String("db.redis.key", tracing.SafeRedisKey(key)))

	data, err := json.Marshal(cv)
	if err != nil {
		return fmt.Errorf("marshal cv: %w", err)
	}
	if err := r.Client.Set(ctx, key, data, ttl).Err(); err != nil {
		tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeRedis)
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// AcquireLock 获取分布式锁，返回持有者标识；未获取到时返回空字符串
func (r *Redis) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	lockValue := uuid.Must(uuid.NewV4()).String()
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return lockValue, nil
	}
	return "", nil
}

var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`)

// ReleaseLock 释放一个分布式锁，使用Lua脚本保证原子性
func (r *Redis) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	released, err := releaseLockScript.Run(ctx, r.Client, []string{lockKey}, lockValue).Int64()
	if err != nil {
		return false, err
	}
	return released == 1, nil
}

// FileLockKey 以文档 MD5 为粒度的处理锁
func FileLockKey(md5Hex string) string {
	return fmt.Sprintf(constants.KeyFileLock, md5Hex)
}
