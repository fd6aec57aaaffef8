/**
 * Deduplication Cache
 *
 * Short-horizon memory of recently emitted text. A static screen produces the
 * same text every cycle; only the first occurrence within the horizon is
 * forwarded. Keys are xxhash64 digests of the whitespace-collapsed text with
 * case preserved.
 */

package dedup

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"

	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
)

// Key identifies normalized result text
type Key uint64

// KeyOf normalizes text and hashes it
func KeyOf(text string) Key {
	return Key(xxhash.Sum64String(Normalize(text)))
}

// Normalize collapses every whitespace run to one space and trims the ends.
// Case is preserved.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Cache is a time-bounded map from Key to last-seen time
type Cache struct {
	horizon time.Duration
	minLen  int
	now     func() time.Time

	mu   sync.Mutex
	seen map[Key]time.Time

	suppressed int64
	emitted    int64
}

// Option configures a Cache
type Option func(*Cache)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMinTextLength suppresses normalized text shorter than n runes
func WithMinTextLength(n int) Option {
	return func(c *Cache) { c.minLen = n }
}

// New creates a cache that suppresses repeats seen within horizon
func New(horizon time.Duration, opts ...Option) *Cache {
	c := &Cache{
		horizon: horizon,
		minLen:  1,
		now:     time.Now,
		seen:    make(map[Key]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ShouldEmit reports whether the result is new within the horizon. Repeats
// refresh their timestamp. Empty text is always suppressed.
func (c *Cache) ShouldEmit(result ocr.Result) bool {
	normalized := Normalize(result.Text)
	if normalized == "" || utf8.RuneCountInString(normalized) < c.minLen {
		c.mu.Lock()
		c.suppressed++
		c.mu.Unlock()
		return false
	}
	key := Key(xxhash.Sum64String(normalized))

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.prune(now)

	if last, ok := c.seen[key]; ok && now.Sub(last) < c.horizon {
		c.seen[key] = now
		c.suppressed++
		return false
	}

	c.seen[key] = now
	c.emitted++
	return true
}

// Len returns the number of live keys
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Counts returns how many results were emitted and suppressed
func (c *Cache) Counts() (emitted, suppressed int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emitted, c.suppressed
}

// prune drops expired keys. Caller holds mu.
func (c *Cache) prune(now time.Time) {
	for k, t := range c.seen {
		if now.Sub(t) >= c.horizon {
			delete(c.seen, k)
		}
	}
}
