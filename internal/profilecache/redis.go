package profilecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/telhawk-systems/klaviyo-relay/internal/logging"
)

const (
	keyPrefix = "klaviyo-relay:profile-email:"
	// nullMarker records a lookup that produced no email.
	nullMarker = "\x00"
	// flightTimeout bounds a shared lookup, which outlives any single caller.
	flightTimeout = 30 * time.Second
)

// RedisLookup is a shared, time-boxed layer in front of another Lookup. Misses
// and failures are stored too, so a failing profile is not re-fetched until the
// entry expires.
type RedisLookup struct {
	client *redis.Client
	next   Lookup
	ttl    time.Duration
	logger *logging.Logger
	group  singleflight.Group
}

// NewRedisClient connects to redisURL and verifies the connection.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// NewRedisLookup wraps next with a Redis cache holding entries for ttl.
func NewRedisLookup(client *redis.Client, next Lookup, ttl time.Duration, logger *logging.Logger) *RedisLookup {
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisLookup{client: client, next: next, ttl: ttl, logger: logger}
}

func (r *RedisLookup) LookupEmail(ctx context.Context, profileID string) (*string, error) {
	key := keyPrefix + profileID

	val, err := r.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if val == nullMarker {
			return nil, nil
		}
		return &val, nil
	case !errors.Is(err, redis.Nil):
		r.logger.WarnContext(ctx, "profile cache read failed, falling through",
			logging.ProfileID(profileID),
			logging.Error(err),
		)
	}

	// Shared by concurrent callers; detached from any one caller's cancellation.
	ch := r.group.DoChan(profileID, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()

		email, lookupErr := r.next.LookupEmail(flightCtx, profileID)
		if errors.Is(lookupErr, context.Canceled) || errors.Is(lookupErr, context.DeadlineExceeded) {
			return nil, lookupErr
		}
		stored := nullMarker
		if lookupErr == nil && email != nil {
			stored = *email
		}
		if setErr := r.client.Set(flightCtx, key, stored, r.ttl).Err(); setErr != nil {
			r.logger.WarnContext(ctx, "profile cache write failed",
				logging.ProfileID(profileID),
				logging.Error(setErr),
			)
		}
		return email, lookupErr
	})

	select {
	case res := <-ch:
		email, _ := res.Val.(*string)
		return email, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
