package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimScript atomically pops the lowest-score member at or below the
// given score from the queue index and parks it in the processing set
// under a visibility deadline. A scripted pop closes the race where two
// workers read the same head before either removes it.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
redis.call('ZREM', KEYS[1], ids[1])
redis.call('ZADD', KEYS[2], ARGV[2], ids[1])
return ids[1]
`)

// RedisCache wraps the Redis client with the primitives the sync core
// needs from the coordination store.
type RedisCache struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisCache creates a new Redis coordination-store client
func NewRedisCache(addr, password string, db int) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ctx: context.Background(),
	}
}

// Get retrieves a value from Redis
func (c *RedisCache) Get(key string) ([]byte, error) {
	val, err := c.client.Get(c.ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil // Key doesn't exist
	}
	return val, err
}

// Set stores a value in Redis with TTL
func (c *RedisCache) Set(key string, value []byte, ttl time.Duration) error {
	return c.client.Set(c.ctx, key, value, ttl).Err()
}

// Delete removes keys from Redis
func (c *RedisCache) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(c.ctx, keys...).Err()
}

// DeletePattern removes all keys matching a pattern
func (c *RedisCache) DeletePattern(pattern string) error {
	iter := c.client.Scan(c.ctx, 0, pattern, 0).Iterator()
	for iter.Next(c.ctx) {
		if err := c.client.Del(c.ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// ScanKeys returns all keys matching a pattern
func (c *RedisCache) ScanKeys(pattern string) ([]string, error) {
	var keys []string
	iter := c.client.Scan(c.ctx, 0, pattern, 0).Iterator()
	for iter.Next(c.ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// Expire sets a TTL on an existing key
func (c *RedisCache) Expire(key string, ttl time.Duration) error {
	return c.client.Expire(c.ctx, key, ttl).Err()
}

// SetAdd adds members to a Redis set
func (c *RedisCache) SetAdd(key string, members ...interface{}) error {
	return c.client.SAdd(c.ctx, key, members...).Err()
}

// SetRemove removes members from a Redis set
func (c *RedisCache) SetRemove(key string, members ...interface{}) error {
	return c.client.SRem(c.ctx, key, members...).Err()
}

// SetMembers returns all members of a Redis set
func (c *RedisCache) SetMembers(key string) ([]string, error) {
	return c.client.SMembers(c.ctx, key).Result()
}

// SortedAdd inserts a member into a sorted set with the given score
func (c *RedisCache) SortedAdd(key, member string, score int64) error {
	return c.client.ZAdd(c.ctx, key, redis.Z{Score: float64(score), Member: member}).Err()
}

// SortedRemove removes members from a sorted set
func (c *RedisCache) SortedRemove(key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.client.ZRem(c.ctx, key, args...).Err()
}

// SortedRangeByScore returns members with score at or below max, ascending
func (c *RedisCache) SortedRangeByScore(key string, max int64) ([]string, error) {
	return c.client.ZRangeByScore(c.ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(max, 10),
	}).Result()
}

// ClaimByScore atomically pops the lowest member with score <= maxScore
// from indexKey and adds it to processingKey scored by deadline.
// Returns ok=false when nothing is eligible.
func (c *RedisCache) ClaimByScore(indexKey, processingKey string, maxScore, deadline int64) (string, bool, error) {
	res, err := claimScript.Run(c.ctx, c.client, []string{indexKey, processingKey}, maxScore, deadline).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	id, ok := res.(string)
	if !ok {
		return "", false, nil
	}
	return id, true, nil
}

// HashSet stores a field in a Redis hash
func (c *RedisCache) HashSet(key, field string, value []byte) error {
	return c.client.HSet(c.ctx, key, field, value).Err()
}

// HashSetNX stores a field only if it does not exist; reports whether it was set
func (c *RedisCache) HashSetNX(key, field string, value []byte) (bool, error) {
	return c.client.HSetNX(c.ctx, key, field, value).Result()
}

// HashGet retrieves a field from a Redis hash; nil if absent
func (c *RedisCache) HashGet(key, field string) ([]byte, error) {
	val, err := c.client.HGet(c.ctx, key, field).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

// HashGetAll retrieves all fields of a Redis hash
func (c *RedisCache) HashGetAll(key string) (map[string]string, error) {
	return c.client.HGetAll(c.ctx, key).Result()
}

// HashDelete removes fields from a Redis hash
func (c *RedisCache) HashDelete(key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return c.client.HDel(c.ctx, key, fields...).Err()
}

// Publish sends a payload to a pub/sub channel
func (c *RedisCache) Publish(channel string, payload []byte) error {
	return c.client.Publish(c.ctx, channel, payload).Err()
}

// PSubscribe subscribes to channels matching a pattern
func (c *RedisCache) PSubscribe(pattern string) *redis.PubSub {
	return c.client.PSubscribe(c.ctx, pattern)
}

// Ping checks if Redis is alive
func (c *RedisCache) Ping() error {
	return c.client.Ping(c.ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
