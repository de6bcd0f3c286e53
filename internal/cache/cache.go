// Package cache keeps generated workbooks in memory under random download
// tokens. Entries expire after a TTL, and the oldest entries are evicted
// when the cache grows past its size bound.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"neoexcelsync/pkg/errors"
	"neoexcelsync/pkg/logger"
)

// Entry is one cached download.
type Entry struct {
	Data      []byte
	Filename  string
	CreatedAt time.Time
}

// Config holds the cache limits.
type Config struct {
	TTL      time.Duration
	MaxItems int
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig returns a 60 minute TTL and room for 40 entries.
func DefaultConfig() *Config {
	return &Config{
		TTL:      60 * time.Minute,
		MaxItems: 40,
	}
}

// Validate validates the cache limits
func (c *Config) Validate() error {
	if c.TTL <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "reconcile_ttl_minutes", c.TTL, nil).
			WithSuggestion("TTL must be positive")
	}
	if c.MaxItems <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "reconcile_max_items", c.MaxItems, nil).
			WithSuggestion("max items must be positive")
	}
	return nil
}

// TokenCache is safe for concurrent use.
type TokenCache struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
	max     int
	now     func() time.Time
	logger  logger.Logger
}

// New creates a token cache. A nil config means defaults.
func New(config *Config) (*TokenCache, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}
	return &TokenCache{
		entries: make(map[string]Entry),
		ttl:     config.TTL,
		max:     config.MaxItems,
		now:     now,
		logger:  logger.GetGlobalLogger().WithComponent("cache"),
	}, nil
}

// NewToken returns 32 lowercase hex characters from a random UUID.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Put stores data under a fresh token and returns the token.
func (c *TokenCache) Put(data []byte, filename string) string {
	token := NewToken()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = Entry{Data: data, Filename: filename, CreatedAt: c.now()}
	c.cleanup()
	return token
}

// Get returns the entry of token, or a cache_miss error when it is unknown
// or has expired.
func (c *TokenCache) Get(token string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanup()

	entry, ok := c.entries[token]
	if !ok {
		return Entry{}, errors.CacheMissError(token)
	}
	return entry, nil
}

// Len returns the number of live entries.
func (c *TokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanup()
	return len(c.entries)
}

// cleanup drops expired entries, then the oldest ones until the size bound
// holds. The caller holds mu.
func (c *TokenCache) cleanup() {
	now := c.now()
	expired := 0
	for token, e := range c.entries {
		if now.Sub(e.CreatedAt) > c.ttl {
			delete(c.entries, token)
			expired++
		}
	}

	evicted := 0
	for len(c.entries) > c.max {
		var oldest string
		var oldestAt time.Time
		for token, e := range c.entries {
			if oldest == "" || e.CreatedAt.Before(oldestAt) {
				oldest, oldestAt = token, e.CreatedAt
			}
		}
		delete(c.entries, oldest)
		evicted++
	}

	if expired > 0 || evicted > 0 {
		c.logger.WithFields(logger.Fields{
			"expired": expired,
			"evicted": evicted,
			"live":    len(c.entries),
		}).Debug("Token cache cleaned up")
	}
}
