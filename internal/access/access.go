// Package access caches whether the files behind history entries still
// exist, and refreshes that cache in the background.
package access

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rcliao/pageledger/internal/model"
	"github.com/rcliao/pageledger/internal/notify"
)

// DefaultDelay is the pause between two checks of one sweep.
const DefaultDelay = 20 * time.Millisecond

// Cache maps paths to their last known accessibility. Entries sharing a
// path share a cache slot.
type Cache struct {
	exists func(path string) bool
	delay  time.Duration
	wait   func(ctx context.Context, d time.Duration) error
	notif  notify.Notifier
	log    *slog.Logger

	mu       sync.Mutex
	known    map[string]bool
	sweeping bool
	done     chan struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// WithExists replaces the filesystem check.
func WithExists(fn func(path string) bool) Option {
	return func(c *Cache) { c.exists = fn }
}

// WithDelay sets the pause between sweep checks.
func WithDelay(d time.Duration) Option {
	return func(c *Cache) { c.delay = d }
}

// WithWait replaces the delay implementation. If nil, a timer is used.
// Inject one for deterministic tests.
func WithWait(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Cache) { c.wait = fn }
}

// WithNotifier sets where AccessibilityRefreshed is sent.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Cache) { c.notif = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// New returns an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		exists: fileExists,
		delay:  DefaultDelay,
		wait:   sleep,
		notif:  notify.Nop{},
		log:    slog.Default(),
		known:  make(map[string]bool),
	}
	for _, o := range opts {
		o(c)
	}
	if c.wait == nil {
		c.wait = sleep
	}
	return c
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsAccessible returns the cached answer for path, checking and caching it
// on a miss.
func (c *Cache) IsAccessible(path string) bool {
	c.mu.Lock()
	ok, hit := c.known[path]
	c.mu.Unlock()
	if hit {
		return ok
	}

	ok = c.exists(path)
	c.set(path, ok)
	return ok
}

// Cached returns the cached answer without touching the filesystem.
func (c *Cache) Cached(path string) (accessible, known bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	accessible, known = c.known[path]
	return accessible, known
}

func (c *Cache) set(path string, ok bool) {
	c.mu.Lock()
	c.known[path] = ok
	c.mu.Unlock()
}

// Invalidate drops every cached answer.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.known = make(map[string]bool)
	c.mu.Unlock()
}

// Len returns the number of cached paths.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.known)
}

// StartSweep re-checks paths in the background, one at a time with a pause
// between checks, and sends AccessibilityRefreshed when done. It returns
// false, and does nothing, if a sweep is already running.
func (c *Cache) StartSweep(ctx context.Context, paths []string) bool {
	c.mu.Lock()
	if c.sweeping {
		c.mu.Unlock()
		return false
	}
	c.sweeping = true
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	snapshot := dedupe(paths)
	go func() {
		defer close(done)
		checked := c.sweep(ctx, snapshot)

		c.mu.Lock()
		c.sweeping = false
		c.mu.Unlock()

		c.log.Debug("accessibility sweep finished", "paths", len(snapshot), "checked", checked)
		c.notif.Notify(notify.Event{Kind: notify.AccessibilityRefreshed})
	}()
	return true
}

func (c *Cache) sweep(ctx context.Context, paths []string) int {
	for i, p := range paths {
		if i > 0 {
			if err := c.wait(ctx, c.delay); err != nil {
				c.log.Warn("accessibility sweep stopped", "checked", i, "error", err)
				return i
			}
		}
		c.set(p, c.exists(p))
	}
	return len(paths)
}

// Wait blocks until the running sweep, if any, has finished.
func (c *Cache) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Sweeping reports whether a sweep is in progress.
func (c *Cache) Sweeping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweeping
}

// OnEvent drops the cache after bulk history changes. Subscribe it to a
// notify.Bus.
func (c *Cache) OnEvent(e notify.Event) {
	if e.Kind == notify.HistoryChanged && e.Bulk {
		c.Invalidate()
	}
}

// Paths returns the distinct paths of entries, in order.
func Paths(entries []model.HistoryEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	return dedupe(out)
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
