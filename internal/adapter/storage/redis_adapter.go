package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/pos-register/internal/core/domain"
)

const (
	cartKeyPrefix       = "cart:"
	submitLockKeyPrefix = "submit-lock:"
	DefaultCartTTL      = 12 * time.Hour
)

// Deletes the lock only if it still carries the caller's token, so a holder
// whose lock expired cannot release a newer holder's lock.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
local token = ARGV[1]

if redis.call('GET', key) == token then
	return redis.call('DEL', key)
end

return 0
`)

// RedisAdapter stores the open cart of each terminal and guards order
// submission across processes sharing a terminal id.
type RedisAdapter struct {
	client  *redis.Client
	cartTTL time.Duration
}

func NewRedisAdapter(client *redis.Client, cartTTL time.Duration) *RedisAdapter {
	if cartTTL <= 0 {
		cartTTL = DefaultCartTTL
	}
	return &RedisAdapter{client: client, cartTTL: cartTTL}
}

func (r *RedisAdapter) SaveCart(ctx context.Context, terminalID string, lines []domain.CartLine) error {
	key := cartKeyPrefix + terminalID
	if len(lines) == 0 {
		return r.client.Del(ctx, key).Err()
	}

	data, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	return r.client.Set(ctx, key, data, r.cartTTL).Err()
}

func (r *RedisAdapter) LoadCart(ctx context.Context, terminalID string) ([]domain.CartLine, error) {
	data, err := r.client.Get(ctx, cartKeyPrefix+terminalID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var lines []domain.CartLine
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return lines, nil
}

func (r *RedisAdapter) DeleteCart(ctx context.Context, terminalID string) error {
	return r.client.Del(ctx, cartKeyPrefix+terminalID).Err()
}

// AcquireSubmitLock takes the terminal's submit lock for at most ttl. The
// returned token must be passed to ReleaseSubmitLock.
func (r *RedisAdapter) AcquireSubmitLock(ctx context.Context, terminalID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, submitLockKeyPrefix+terminalID, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (r *RedisAdapter) ReleaseSubmitLock(ctx context.Context, terminalID, token string) error {
	return releaseLockScript.Run(ctx, r.client, []string{submitLockKeyPrefix + terminalID}, token).Err()
}
