// Package profilecache resolves profile ids to emails with per-call memoization.
package profilecache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/telhawk-systems/klaviyo-relay/internal/klaviyo"
	"github.com/telhawk-systems/klaviyo-relay/internal/logging"
	"github.com/telhawk-systems/klaviyo-relay/internal/metrics"
)

// Lookup resolves one profile id. A nil email with a nil error means the
// profile exists but has no email.
type Lookup interface {
	LookupEmail(ctx context.Context, profileID string) (*string, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, profileID string) (*string, error)

func (f LookupFunc) LookupEmail(ctx context.Context, profileID string) (*string, error) {
	return f(ctx, profileID)
}

// ClientLookup resolves emails through the profiles endpoint.
type ClientLookup struct {
	Client *klaviyo.Client
}

func (l ClientLookup) LookupEmail(ctx context.Context, profileID string) (*string, error) {
	p, err := l.Client.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if p.Attributes.Email == "" {
		return nil, nil
	}
	email := p.Attributes.Email
	return &email, nil
}

// Cache memoizes profile emails for the lifetime of one aggregation call.
// A failed lookup is remembered as nil and never retried within the call.
// It is safe for concurrent use; concurrent resolves of one key share a lookup.
type Cache struct {
	lookup  Lookup
	logger  *logging.Logger
	mu      sync.Mutex
	entries map[string]*string
	calls   int
	group   singleflight.Group
}

// New creates an empty Cache.
func New(lookup Lookup, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.Default()
	}
	return &Cache{
		lookup:  lookup,
		logger:  logger,
		entries: make(map[string]*string),
	}
}

// Resolve returns the email for profileID, or nil when the profile has none or
// the lookup failed.
func (c *Cache) Resolve(ctx context.Context, profileID string) *string {
	if profileID == "" {
		return nil
	}
	c.mu.Lock()
	if email, ok := c.entries[profileID]; ok {
		c.mu.Unlock()
		metrics.ProfileLookupsTotal.WithLabelValues("hit").Inc()
		return email
	}
	c.mu.Unlock()

	v, _, _ := c.group.Do(profileID, func() (interface{}, error) {
		c.mu.Lock()
		if email, ok := c.entries[profileID]; ok {
			c.mu.Unlock()
			return email, nil
		}
		c.calls++
		c.mu.Unlock()

		email, err := c.lookup.LookupEmail(ctx, profileID)
		if err != nil {
			metrics.ProfileLookupsTotal.WithLabelValues("failed").Inc()
			c.logger.WarnContext(ctx, "profile lookup failed",
				logging.ProfileID(profileID),
				logging.Error(err),
			)
			email = nil
		} else {
			metrics.ProfileLookupsTotal.WithLabelValues("resolved").Inc()
		}

		c.mu.Lock()
		c.entries[profileID] = email
		c.mu.Unlock()
		return email, nil
	})
	email, _ := v.(*string)
	return email
}

// Lookups reports how many remote lookups the cache has issued.
func (c *Cache) Lookups() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Len reports how many profile ids are memoized.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
