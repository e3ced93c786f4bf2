package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/redis/go-redis/v9"
)

// WindowsRepository holds one burst window per identifier. Update applies fn
// to the stored window (found=false when none exists) and writes the result
// back atomically with respect to other updates of the same identifier.
type WindowsRepository interface {
	Update(ctx context.Context, identifier string, fn func(w *model.RateWindow, found bool)) (model.RateWindow, error)
	// DeleteStale removes windows whose last request is before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int, error)
}

const maxWatchRetries = 16

type redisWindows struct {
	rdb       *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisWindowsRepository stores windows as hashes under keyPrefix+identifier.
// ttl is a safety expiry on top of the sweeper.
func NewRedisWindowsRepository(rdb *redis.Client, keyPrefix string, ttl time.Duration) WindowsRepository {
	if keyPrefix == "" {
		keyPrefix = "rl:win:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisWindows{rdb: rdb, keyPrefix: keyPrefix, ttl: ttl}
}

func (r *redisWindows) Update(ctx context.Context, identifier string, fn func(w *model.RateWindow, found bool)) (model.RateWindow, error) {
	key := r.keyPrefix + identifier
	var out model.RateWindow

	txf := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		w, found := decodeWindow(identifier, vals)
		fn(&w, found)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"start", w.Start.UnixNano(),
				"count", w.Count,
				"last", w.LastRequest.UnixNano(),
			)
			pipe.Expire(ctx, key, r.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		out = w
		return nil
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return model.RateWindow{}, err
	}
	return model.RateWindow{}, fmt.Errorf("window %s: too much contention", identifier)
}

func (r *redisWindows) DeleteStale(ctx context.Context, cutoff time.Time) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, r.keyPrefix+"*", 500).Result()
		if err != nil {
			return deleted, err
		}
		for _, key := range keys {
			last, err := r.rdb.HGet(ctx, key, "last").Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return deleted, err
			}
			if time.Unix(0, last).Before(cutoff) {
				n, err := r.rdb.Del(ctx, key).Result()
				if err != nil {
					return deleted, err
				}
				deleted += int(n)
			}
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func decodeWindow(identifier string, vals map[string]string) (model.RateWindow, bool) {
	w := model.RateWindow{Identifier: identifier}
	if len(vals) == 0 {
		return w, false
	}
	start, err1 := strconv.ParseInt(vals["start"], 10, 64)
	count, err2 := strconv.Atoi(vals["count"])
	last, err3 := strconv.ParseInt(vals["last"], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		// corrupt record: treat as absent so it gets replaced
		return w, false
	}
	w.Start = time.Unix(0, start)
	w.Count = count
	w.LastRequest = time.Unix(0, last)
	return w, true
}
