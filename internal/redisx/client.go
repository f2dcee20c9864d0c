package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Dedup remembers processed event ids per consuming service.
type Dedup struct {
	rdb     *redis.Client
	service string
}

func NewDedup(rdb *redis.Client, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service}
}

func (d *Dedup) Seen(ctx context.Context, eventID string) (bool, error) {
	return Exists(ctx, d.rdb, fmt.Sprintf(KeyDedup, d.service, eventID))
}

func (d *Dedup) Mark(ctx context.Context, eventID string) error {
	return d.rdb.Set(ctx, fmt.Sprintf(KeyDedup, d.service, eventID), "1", TTLDedup).Err()
}

// Idempotency maps a client supplied Idempotency-Key to the order it created.
// A key is claimed with Reserve before any work starts, so a retry that races
// the original request sees it in progress instead of running a second time.
type Idempotency struct{ rdb *redis.Client }

func NewIdempotency(rdb *redis.Client) *Idempotency { return &Idempotency{rdb: rdb} }

// Reserve claims key for the caller. When it is already taken, reserved is
// false and orderID holds the order it produced, or "" while that request is
// still running.
func (i *Idempotency) Reserve(ctx context.Context, userID, key string) (orderID string, reserved bool, err error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, userID, key)
	ok, err := i.rdb.SetNX(ctx, k, IdemPending, TTLIdemPending).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	v, err := i.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if v == IdemPending {
		return "", false, nil
	}
	return v, false, nil
}

// Remember records the order a reserved key produced.
func (i *Idempotency) Remember(ctx context.Context, userID, key, orderID string) error {
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key), orderID, TTLIdempotency).Err()
}

// Release frees a reserved key after a request that created nothing.
func (i *Idempotency) Release(ctx context.Context, userID, key string) error {
	return i.rdb.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key)).Err()
}
