package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vehiclefolders/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache holds the short-lived retrieval state kept outside postgres.
// Nothing in it is authoritative; callers fall back to the store on a miss.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error

	// SetJobStatus mirrors a job's lifecycle status for cheap polling.
	SetJobStatus(ctx context.Context, userID, jobID uuid.UUID, status models.JobStatus, ttl time.Duration) error
	GetJobStatus(ctx context.Context, userID, jobID uuid.UUID) (models.JobStatus, bool, error)

	// SetLatestJob points at a user's most recent job of one type. The pointer
	// only moves forward in (createdAt, jobID) order, so a late write for an
	// older job leaves a newer pointer in place.
	SetLatestJob(ctx context.Context, userID uuid.UUID, jobType models.JobType, jobID uuid.UUID, createdAt time.Time, ttl time.Duration) error
	GetLatestJob(ctx context.Context, userID uuid.UUID, jobType models.JobType) (uuid.UUID, bool, error)
	ForgetLatestJob(ctx context.Context, userID uuid.UUID, jobType models.JobType) error

	// HitRateWindow counts one request against keyPrefix's current fixed window
	// and returns the count so far. The window starts on the first hit.
	HitRateWindow(ctx context.Context, keyPrefix string, window time.Duration) (int64, error)
}

// advanceLatest stores id and created_at (microseconds) in a hash unless the
// current entry sorts at or after them. Microseconds keep the score exact in Lua.
var advanceLatest = redis.NewScript(`
local at = redis.call('HGET', KEYS[1], 'at')
if at then
  local cur, nxt = tonumber(at), tonumber(ARGV[2])
  if cur > nxt or (cur == nxt and redis.call('HGET', KEYS[1], 'id') >= ARGV[1]) then
    return 0
  end
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// hitWindow sets the expiry on the first hit only. EXPIRE NX would need Redis 7.
var hitWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) SetJobStatus(ctx context.Context, userID, jobID uuid.UUID, status models.JobStatus, ttl time.Duration) error {
	return c.client.Set(ctx, JobStatusKey(userID, jobID), string(status), ttl).Err()
}

func (c *RedisCache) GetJobStatus(ctx context.Context, userID, jobID uuid.UUID) (models.JobStatus, bool, error) {
	val, found, err := lookup(c.client.Get(ctx, JobStatusKey(userID, jobID)))
	if err != nil || !found {
		return "", found, err
	}
	return models.JobStatus(val), true, nil
}

func (c *RedisCache) SetLatestJob(ctx context.Context, userID uuid.UUID, jobType models.JobType, jobID uuid.UUID, createdAt time.Time, ttl time.Duration) error {
	keys := []string{LatestJobKey(userID, jobType)}
	return advanceLatest.Run(ctx, c.client, keys, jobID.String(), createdAt.UnixMicro(), ttl.Milliseconds()).Err()
}

// GetLatestJob reports a miss for a value that is not a job ID.
func (c *RedisCache) GetLatestJob(ctx context.Context, userID uuid.UUID, jobType models.JobType) (uuid.UUID, bool, error) {
	val, found, err := lookup(c.client.HGet(ctx, LatestJobKey(userID, jobType), "id"))
	if err != nil || !found {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, nil
	}
	return id, true, nil
}

func (c *RedisCache) ForgetLatestJob(ctx context.Context, userID uuid.UUID, jobType models.JobType) error {
	return c.client.Del(ctx, LatestJobKey(userID, jobType)).Err()
}

func (c *RedisCache) HitRateWindow(ctx context.Context, keyPrefix string, window time.Duration) (int64, error) {
	return hitWindow.Run(ctx, c.client, []string{RateLimitKey(keyPrefix)}, window.Milliseconds()).Int64()
}

func lookup(cmd *redis.StringCmd) (string, bool, error) {
	val, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

var _ Cache = (*RedisCache)(nil)
