// Package validation maintains the TTL cache of recipient validity backed by
// live registration checks against the chat network.
package validation

import (
	"context"
	"sync"
	"time"

	"orderbot_backend/internal/resilience"
	"orderbot_backend/platform/logger"
	"orderbot_backend/platform/phone"
)

// RegistrationChecker is the slice of the chat client this cache needs.
type RegistrationChecker interface {
	IsRegistered(ctx context.Context, recipient string) (bool, error)
}

// Config is the subset of application configuration the cache needs.
type Config interface {
	GetValidationTTL() time.Duration
	GetDefaultRegion() string
}

// Entry is a cached validation outcome.
type Entry struct {
	NormalizedRecipient string    `json:"normalizedRecipient"`
	IsValid             bool      `json:"isValid"`
	IsRegistered        bool      `json:"isRegisteredOnChannel"`
	LastChecked         time.Time `json:"lastChecked"`
	Reason              string    `json:"reason,omitempty"`
}

// Result is the outcome of a validation call.
type Result struct {
	Recipient  string // normalized E.164
	Valid      bool
	Registered bool
	Reason     string
	FromCache  bool
	Optimistic bool // accepted without a live check because the connection was down
}

// Cache validates recipients with a TTL cache over live registration checks.
// Entries are advisory: a miss falls back to a live check, never to failure,
// and a live check that cannot run (connection down, circuit open) resolves
// to optimistic acceptance rather than blocking business processing.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry

	ttl       time.Duration
	region    string
	checker   RegistrationChecker
	exec      *resilience.Executor
	connected func() bool
	log       *logger.Logger
	now       func() time.Time
}

// New creates a validation cache. connected reports whether the chat
// connection is currently up.
func New(cfg Config, checker RegistrationChecker, exec *resilience.Executor, connected func() bool, log *logger.Logger) *Cache {
	return &Cache{
		entries:   make(map[string]Entry),
		ttl:       cfg.GetValidationTTL(),
		region:    cfg.GetDefaultRegion(),
		checker:   checker,
		exec:      exec,
		connected: connected,
		log:       log,
		now:       time.Now,
	}
}

// Validate normalizes the candidate and returns its validity, consulting the
// cache first and performing a live check on miss or expiry.
func (c *Cache) Validate(ctx context.Context, candidate string) Result {
	normalized := phone.NormalizeE164Region(candidate, c.region)
	if !phone.IsPlausible(candidate, c.region) {
		return Result{Recipient: normalized, Valid: false, Reason: "not a plausible phone number"}
	}

	if entry, ok := c.lookup(normalized); ok {
		return Result{
			Recipient:  normalized,
			Valid:      entry.IsValid,
			Registered: entry.IsRegistered,
			Reason:     entry.Reason,
			FromCache:  true,
		}
	}

	if !c.connected() {
		// Not cached: the next connected poll performs a real check.
		return Result{Recipient: normalized, Valid: true, Optimistic: true, Reason: "connection down, accepted optimistically"}
	}

	var registered bool
	err := c.exec.Do(ctx, "validate recipient", func(ctx context.Context) error {
		var checkErr error
		registered, checkErr = c.checker.IsRegistered(ctx, normalized)
		return checkErr
	})
	if err != nil {
		c.log.Debug("live validation unavailable, accepting optimistically",
			"recipient", normalized, "error", err.Error())
		return Result{Recipient: normalized, Valid: true, Optimistic: true, Reason: "validation unavailable, accepted optimistically"}
	}

	entry := Entry{
		NormalizedRecipient: normalized,
		IsValid:             registered,
		IsRegistered:        registered,
		LastChecked:         c.now(),
	}
	if !registered {
		entry.Reason = "not registered on channel"
	}
	c.store(entry)

	return Result{
		Recipient:  normalized,
		Valid:      entry.IsValid,
		Registered: entry.IsRegistered,
		Reason:     entry.Reason,
	}
}

func (c *Cache) lookup(normalized string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[normalized]
	if !ok {
		return Entry{}, false
	}
	if c.now().Sub(entry.LastChecked) >= c.ttl {
		delete(c.entries, normalized)
		return Entry{}, false
	}
	return entry, true
}

func (c *Cache) store(entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.NormalizedRecipient] = entry
}

// Size returns the number of live cache entries, for the status endpoint.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
