package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/telhawk-systems/klaviyo-relay/internal/analytics"
	"github.com/telhawk-systems/klaviyo-relay/internal/dispatch"
	"github.com/telhawk-systems/klaviyo-relay/internal/klaviyo"
	"github.com/telhawk-systems/klaviyo-relay/internal/messaging"
	"github.com/telhawk-systems/klaviyo-relay/internal/profilecache"
	"github.com/telhawk-systems/klaviyo-relay/internal/repository"
)

// closers runs cleanup functions in reverse order of registration.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func newKlaviyoClient() (*klaviyo.Client, error) {
	if cfg.Klaviyo.APIKey == "" {
		return nil, errors.New("klaviyo.api_key is required (set RELAY_KLAVIYO_API_KEY)")
	}
	client, err := klaviyo.New(klaviyo.ConfigFrom(cfg.Klaviyo), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Klaviyo client: %w", err)
	}
	return client, nil
}

// newAnalytics wires the aggregation engine, with the shared Redis email cache when enabled.
func newAnalytics(client *klaviyo.Client, cleanup *closers) (*analytics.Service, error) {
	var lookup profilecache.Lookup
	if cfg.ProfileCache.Redis.Enabled {
		rc, err := profilecache.NewRedisClient(cfg.ProfileCache.Redis.URL)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { _ = rc.Close() })
		lookup = profilecache.NewRedisLookup(rc, profilecache.ClientLookup{Client: client}, cfg.ProfileCache.TTL, logger)
		logger.Info("shared profile email cache enabled", "ttl", cfg.ProfileCache.TTL)
	}

	return analytics.NewService(client, lookup, logger, analytics.Options{
		MetricConcurrency: cfg.Analytics.MetricConcurrency,
		FullScanMaxEvents: cfg.Analytics.FullScanMaxEvents,
	}), nil
}

// newDispatch wires the dispatch engine, publishing to NATS when enabled.
func newDispatch(client *klaviyo.Client, repo repository.Repository, cleanup *closers) (*dispatch.Service, error) {
	var notifier dispatch.Notifier
	if cfg.NATS.Enabled {
		pub, err := messaging.NewNATSPublisher(messaging.NATSConfigFrom(cfg.NATS), logger)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { _ = pub.Close() })
		notifier = messaging.NewDispatchNotifier(pub, cfg.NATS.Subject)
		logger.Info("dispatch notifications enabled", "subject", cfg.NATS.Subject)
	}

	return dispatch.NewService(client, repo, notifier, logger, dispatch.Options{
		PerItemIsolation: cfg.Dispatch.PerItemIsolation,
	}), nil
}

func newRepository(ctx context.Context) (*repository.PostgresRepository, error) {
	repo, err := repository.NewPostgresRepository(ctx, cfg.Database.Postgres.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return repo, nil
}
