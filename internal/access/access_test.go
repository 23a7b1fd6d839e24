package access

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/pageledger/internal/model"
	"github.com/rcliao/pageledger/internal/notify"
)

type fakeFS struct {
	mu     sync.Mutex
	files  map[string]bool
	checks map[string]int
}

func newFakeFS(paths ...string) *fakeFS {
	f := &fakeFS{files: map[string]bool{}, checks: map[string]int{}}
	for _, p := range paths {
		f.files[p] = true
	}
	return f
}

func (f *fakeFS) exists(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks[p]++
	return f.files[p]
}

func (f *fakeFS) remove(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, p)
}

func (f *fakeFS) count(p string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks[p]
}

func noWait(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestIsAccessibleCaches(t *testing.T) {
	fs := newFakeFS("/a")
	c := New(WithExists(fs.exists))

	assert.True(t, c.IsAccessible("/a"))
	assert.False(t, c.IsAccessible("/b"))

	fs.remove("/a")
	assert.True(t, c.IsAccessible("/a"), "cached answer until invalidated")
	assert.Equal(t, 1, fs.count("/a"))

	c.Invalidate()
	assert.Zero(t, c.Len())
	assert.False(t, c.IsAccessible("/a"))
	assert.Equal(t, 2, fs.count("/a"))
}

func TestDefaultExistsUsesFilesystem(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "book.cbz")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	c := New()
	assert.True(t, c.IsAccessible(p))
	assert.False(t, c.IsAccessible(filepath.Join(dir, "missing.cbz")))
}

func TestSweepRefreshesAndNotifiesOnce(t *testing.T) {
	fs := newFakeFS("/a", "/b")
	var refreshed atomic.Int32
	var waits atomic.Int32
	c := New(
		WithExists(fs.exists),
		WithWait(func(ctx context.Context, d time.Duration) error {
			waits.Add(1)
			assert.Equal(t, 5*time.Millisecond, d)
			return nil
		}),
		WithDelay(5*time.Millisecond),
		WithNotifier(notify.Func(func(e notify.Event) {
			if e.Kind == notify.AccessibilityRefreshed {
				refreshed.Add(1)
			}
		})),
	)

	// Warm the cache, then change the world underneath it.
	c.IsAccessible("/a")
	fs.remove("/a")

	require.True(t, c.StartSweep(context.Background(), []string{"/a", "/b", "/a", "/c"}))
	c.Wait()

	ok, known := c.Cached("/a")
	assert.True(t, known)
	assert.False(t, ok)
	ok, _ = c.Cached("/b")
	assert.True(t, ok)
	ok, known = c.Cached("/c")
	assert.True(t, known)
	assert.False(t, ok)

	assert.Equal(t, int32(1), refreshed.Load())
	assert.Equal(t, int32(2), waits.Load(), "one pause between each of three distinct paths")
	assert.False(t, c.Sweeping())
}

func TestSweepNotifiesEvenWhenNothingChanged(t *testing.T) {
	var refreshed atomic.Int32
	c := New(
		WithExists(func(string) bool { return true }),
		WithWait(noWait),
		WithNotifier(notify.Func(func(notify.Event) { refreshed.Add(1) })),
	)
	require.True(t, c.StartSweep(context.Background(), nil))
	c.Wait()
	assert.Equal(t, int32(1), refreshed.Load())
}

func TestSweepIsNotRestarted(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	c := New(
		WithExists(func(string) bool { return true }),
		WithWait(func(ctx context.Context, _ time.Duration) error {
			once.Do(func() { close(started) })
			<-release
			return nil
		}),
	)

	require.True(t, c.StartSweep(context.Background(), []string{"/a", "/b"}))
	<-started
	assert.True(t, c.Sweeping())
	assert.False(t, c.StartSweep(context.Background(), []string{"/c"}))

	close(release)
	c.Wait()
	_, known := c.Cached("/c")
	assert.False(t, known)

	// A finished sweep can be started again.
	assert.True(t, c.StartSweep(context.Background(), []string{"/c"}))
	c.Wait()
	_, known = c.Cached("/c")
	assert.True(t, known)
}

func TestSweepStopsOnCancel(t *testing.T) {
	fs := newFakeFS("/a", "/b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(WithExists(fs.exists), WithWait(noWait))
	require.True(t, c.StartSweep(ctx, []string{"/a", "/b"}))
	c.Wait()

	assert.Equal(t, 1, fs.count("/a"))
	assert.Zero(t, fs.count("/b"))
}

func TestOnEventInvalidatesOnBulk(t *testing.T) {
	c := New(WithExists(func(string) bool { return true }))
	c.IsAccessible("/a")

	c.OnEvent(notify.Event{Kind: notify.HistoryChanged})
	assert.Equal(t, 1, c.Len())

	c.OnEvent(notify.Event{Kind: notify.HistoryChanged, Bulk: true})
	assert.Zero(t, c.Len())
}

func TestPaths(t *testing.T) {
	entries := []model.HistoryEntry{
		{ID: "1", Path: "/x"},
		{ID: "2", Path: "/y"},
		{ID: "3", Path: "/x"},
		{ID: "4"},
	}
	assert.Equal(t, []string{"/x", "/y"}, Paths(entries))
}
