package unlock

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "tillpoint:unlock:"

// Redis keeps unlock sessions in redis with a key TTL as the idle timer, so
// the lock survives process restarts and is shared across replicas.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr string, password string, db int) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{client: client}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Put(ctx context.Context, unlockID string, employeeID string, ttl time.Duration) error {
	return r.client.Set(ctx, keyPrefix+unlockID, employeeID, ttl).Err()
}

func (r *Redis) Touch(ctx context.Context, unlockID string, ttl time.Duration) (bool, error) {
	ok, err := r.client.Expire(ctx, keyPrefix+unlockID, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *Redis) Revoke(ctx context.Context, unlockID string) error {
	return r.client.Del(ctx, keyPrefix+unlockID).Err()
}
