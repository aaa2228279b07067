package redisx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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

// PurchaseCache holds serialized purchases for GET /purchases/{id}. Postgres
// stays the source of truth; every error here is a cache miss.
type PurchaseCache struct {
	RDB *redis.Client
	Log *slog.Logger
}

func (c *PurchaseCache) Get(ctx context.Context, purchaseID string) ([]byte, bool) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyPurchase, purchaseID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.Log.Warn("purchase cache get", "purchase_id", purchaseID, "err", err)
		}
		return nil, false
	}
	return b, true
}

func (c *PurchaseCache) Put(ctx context.Context, purchaseID string, b []byte) {
	if err := c.RDB.Set(ctx, fmt.Sprintf(KeyPurchase, purchaseID), b, TTLStatusCache).Err(); err != nil {
		c.Log.Warn("purchase cache set", "purchase_id", purchaseID, "err", err)
	}
}

func (c *PurchaseCache) Invalidate(ctx context.Context, purchaseID string) {
	if err := c.RDB.Del(ctx, fmt.Sprintf(KeyPurchase, purchaseID)).Err(); err != nil {
		c.Log.Warn("purchase cache invalidate", "purchase_id", purchaseID, "err", err)
	}
}

// Deduper remembers processed event ids for TTLDedup.
type Deduper struct {
	RDB *redis.Client
}

func (d *Deduper) Seen(ctx context.Context, scope, eventID string) (bool, error) {
	return Exists(ctx, d.RDB, fmt.Sprintf(KeyDedup, scope, eventID))
}

func (d *Deduper) Mark(ctx context.Context, scope, eventID string) error {
	return d.RDB.Set(ctx, fmt.Sprintf(KeyDedup, scope, eventID), "1", TTLDedup).Err()
}

var ErrInFlight = errors.New("request with this idempotency key is still in progress")

const inFlight = "\x00pending"

// Idempotency stores the response of a keyed request. Begin claims the key
// with SETNX so two concurrent requests cannot both run.
type Idempotency struct {
	RDB *redis.Client
}

// Begin returns the stored response when the key completed before. It
// returns ErrInFlight while another request holds the key, and (nil, nil)
// when the caller now owns it and must call Finish or Abort.
func (i *Idempotency) Begin(ctx context.Context, buyerID, key string) ([]byte, error) {
	k := fmt.Sprintf(KeyIdemPurchaseCreate, buyerID, key)
	ok, err := i.RDB.SetNX(ctx, k, inFlight, TTLInFlight).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}
	b, err := i.RDB.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return nil, ErrInFlight
	}
	if err != nil {
		return nil, err
	}
	if string(b) == inFlight {
		return nil, ErrInFlight
	}
	return b, nil
}

func (i *Idempotency) Finish(ctx context.Context, buyerID, key string, resp []byte) error {
	return i.RDB.Set(ctx, fmt.Sprintf(KeyIdemPurchaseCreate, buyerID, key), resp, TTLIdempotency).Err()
}

// Abort releases the key so the request can be retried.
func (i *Idempotency) Abort(ctx context.Context, buyerID, key string) error {
	return i.RDB.Del(ctx, fmt.Sprintf(KeyIdemPurchaseCreate, buyerID, key)).Err()
}
