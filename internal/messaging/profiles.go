package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/PagePipe/internal/flow"
	"github.com/BTreeMap/PagePipe/internal/models"
	"github.com/golang/groupcache/lru"
)

// DefaultLocale is assumed for users without a profile.
const DefaultLocale = "en_US"

// Profile cache bounds.
const (
	// DefaultProfileCacheSize is the number of profiles kept before the least
	// recently used one is evicted.
	DefaultProfileCacheSize = 10000
	// DefaultProfileTTL is how long a cached profile is trusted before it is
	// fetched again.
	DefaultProfileTTL = 24 * time.Hour
)

// ProfileCacheOpts holds configuration for a ProfileCache.
type ProfileCacheOpts struct {
	Size int
	TTL  time.Duration
	Now  func() time.Time
}

// ProfileCacheOption defines a configuration option for the ProfileCache.
type ProfileCacheOption func(*ProfileCacheOpts)

// WithProfileCacheSize caps the number of cached profiles.
func WithProfileCacheSize(n int) ProfileCacheOption {
	return func(o *ProfileCacheOpts) { o.Size = n }
}

// WithProfileTTL sets how long a cached profile stays valid.
func WithProfileTTL(d time.Duration) ProfileCacheOption {
	return func(o *ProfileCacheOpts) { o.TTL = d }
}

// withClock overrides the time source, for tests.
func withClock(now func() time.Time) ProfileCacheOption {
	return func(o *ProfileCacheOpts) { o.Now = now }
}

type cachedUser struct {
	user      flow.User
	fetchedAt time.Time
}

// ProfileCache fetches user profiles and keeps a bounded, expiring set of
// them in memory.
type ProfileCache struct {
	api  ProfileAPI
	opts ProfileCacheOpts

	mu    sync.Mutex
	users *lru.Cache
}

// NewProfileCache creates an empty cache over api. A nil api yields guests.
func NewProfileCache(api ProfileAPI, opts ...ProfileCacheOption) *ProfileCache {
	cfg := ProfileCacheOpts{Size: DefaultProfileCacheSize, TTL: DefaultProfileTTL, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Size <= 0 {
		cfg.Size = DefaultProfileCacheSize
	}
	return &ProfileCache{api: api, opts: cfg, users: lru.New(cfg.Size)}
}

// Get returns the user behind p. Chat plugin visitors and users whose
// profile cannot be fetched are returned as guests; guests are not cached.
func (c *ProfileCache) Get(ctx context.Context, p models.Participant) flow.User {
	if p.UserRef != "" || p.ID == "" || c.api == nil {
		return flow.User{PSID: p.Key(), Locale: DefaultLocale, Guest: true}
	}

	if u, ok := c.lookup(p.ID); ok {
		return u
	}

	profile, err := c.api.GetUserProfile(ctx, p.ID)
	if err != nil {
		slog.Warn("ProfileCache.Get: profile unavailable, using guest", "psid", p.ID, "error", err)
		return flow.User{PSID: p.ID, Locale: DefaultLocale, Guest: true}
	}
	u := flow.User{
		PSID:      p.ID,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Locale:    profile.Locale,
		Timezone:  profile.Timezone,
	}
	if u.Locale == "" {
		u.Locale = DefaultLocale
	}

	c.mu.Lock()
	c.users.Add(p.ID, cachedUser{user: u, fetchedAt: c.opts.Now()})
	c.mu.Unlock()
	slog.Debug("ProfileCache.Get: profile cached", "psid", p.ID, "locale", u.Locale)
	return u
}

func (c *ProfileCache) lookup(psid string) (flow.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.users.Get(psid)
	if !ok {
		return flow.User{}, false
	}
	entry := v.(cachedUser)
	if c.opts.TTL > 0 && c.opts.Now().Sub(entry.fetchedAt) >= c.opts.TTL {
		c.users.Remove(psid)
		return flow.User{}, false
	}
	return entry.user, true
}

// Len returns the number of cached profiles.
func (c *ProfileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.users.Len()
}
