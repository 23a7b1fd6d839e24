package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rcliao/pageledger/internal/model"
	"github.com/rcliao/pageledger/internal/prefs"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now advances one second per call so every access has a distinct time.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fakeCreds struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (f *fakeCreds) DeletePassword(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, path)
	return f.err
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Dir: filepath.Join(t.TempDir(), "data"),
		Now: newFakeClock().Now,
	}
}

func newTestStore(t *testing.T, mods ...func(*Options)) *Store {
	t.Helper()
	opts := testOptions(t)
	for _, m := range mods {
		m(&opts)
	}
	s, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesCurrentVersion(t *testing.T) {
	s := newTestStore(t)

	if !s.IsInitialized() {
		t.Fatal("expected initialized store")
	}
	if got := s.SchemaVersion(); got != CurrentSchemaVersion {
		t.Errorf("expected version %d, got %d", CurrentSchemaVersion, got)
	}

	state, err := prefs.Open(filepath.Join(s.opts.Dir, stateFileName))
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	v, ok := state.Int(versionKey)
	if !ok || v != CurrentSchemaVersion {
		t.Errorf("expected persisted version %d, got %d (ok=%v)", CurrentSchemaVersion, v, ok)
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t)

	s, err := Open(ctx, opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.RecordAccess(ctx, "100-aaaaaaaaaaaaaaaa", "/f/a.cbz", "a.cbz"); err != nil {
		t.Fatalf("record: %v", err)
	}
	s.Close()

	s2, err := Open(ctx, opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if s2.Count() != 1 {
		t.Errorf("expected 1 entry after reopen, got %d", s2.Count())
	}
}

func TestSchemaVersionMismatch(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t)

	state, err := prefs.Open(filepath.Join(opts.Dir, stateFileName))
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	if err := state.Set(versionKey, CurrentSchemaVersion+1); err != nil {
		t.Fatalf("set version: %v", err)
	}

	s, err := Open(ctx, opts)
	defer s.Close()

	var mismatch *SchemaVersionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected SchemaVersionMismatchError, got %v", err)
	}
	if mismatch.Stored != CurrentSchemaVersion+1 || mismatch.Current != CurrentSchemaVersion {
		t.Errorf("unexpected versions: %+v", mismatch)
	}
	if s.IsInitialized() {
		t.Error("store must not be initialized")
	}
	if n := len(s.Entries()); n != 0 {
		t.Errorf("expected no entries, got %d", n)
	}
	if _, err := os.Stat(s.DBPath()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("container must not be created on mismatch, stat err = %v", err)
	}
	if _, err := s.RecordAccess(ctx, "100-aaaaaaaaaaaaaaaa", "/f/a.cbz", "a.cbz"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestSchemaVersionMismatchOlderBuild(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t)

	s, err := Open(ctx, opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Close()

	// A build whose newest schema is 5 must refuse a v6 store.
	opts.TargetVersion = 5
	old, err := Open(ctx, opts)
	defer old.Close()

	var mismatch *SchemaVersionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if mismatch.Stored != 6 || mismatch.Current != 5 {
		t.Errorf("expected (6,5), got (%d,%d)", mismatch.Stored, mismatch.Current)
	}
}

func TestResetRecoversFromMismatch(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t)

	state, _ := prefs.Open(filepath.Join(opts.Dir, stateFileName))
	state.Set(versionKey, 99)

	s, err := Open(ctx, opts)
	if err == nil {
		t.Fatal("expected open failure")
	}
	defer s.Close()

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !s.IsInitialized() {
		t.Fatal("expected initialized after reset")
	}
	if s.InitError() != nil {
		t.Errorf("expected init error cleared, got %v", s.InitError())
	}
	if s.SchemaVersion() != CurrentSchemaVersion {
		t.Errorf("expected version %d, got %d", CurrentSchemaVersion, s.SchemaVersion())
	}
	if _, err := s.RecordAccess(ctx, "100-aaaaaaaaaaaaaaaa", "/f/a.cbz", "a.cbz"); err != nil {
		t.Errorf("record after reset: %v", err)
	}
}

func TestResetDiscardsData(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.RecordAccess(ctx, "100-aaaaaaaaaaaaaaaa", "/f/a.cbz", "a.cbz")
	s.RecordCatalog(ctx, "5-bbbbbbbbbbbbbbbb", "/f/b.png", "b.png")

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("expected empty ledger, got %d", s.Count())
	}
	cat, _ := s.CatalogEntries(ctx, 0)
	if len(cat) != 0 {
		t.Errorf("expected empty catalog, got %d", len(cat))
	}
}

func TestStoreLocked(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t)

	s, err := Open(ctx, opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	other, err := Open(ctx, opts)
	defer other.Close()
	if !errors.Is(err, ErrStoreLocked) {
		t.Fatalf("expected ErrStoreLocked, got %v", err)
	}
}

func TestLockFileSurvivesClose(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t)

	s, err := Open(ctx, opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(opts.Dir, lockFileName)); err != nil {
		t.Fatalf("expected lock file to stay after close: %v", err)
	}

	again, err := Open(ctx, opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()

	other, err := Open(ctx, opts)
	defer other.Close()
	if !errors.Is(err, ErrStoreLocked) {
		t.Fatalf("expected ErrStoreLocked on the kept file, got %v", err)
	}
}

func TestLegacyLocationMoved(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	legacy := filepath.Join(root, "old")
	clock := newFakeClock()

	old, err := Open(ctx, Options{Dir: legacy, Now: clock.Now})
	if err != nil {
		t.Fatalf("open legacy: %v", err)
	}
	old.RecordAccess(ctx, "100-aaaaaaaaaaaaaaaa", "/f/a.cbz", "a.cbz")
	old.Close()

	s, err := Open(ctx, Options{Dir: filepath.Join(root, "new"), LegacyDir: legacy, Now: clock.Now})
	if err != nil {
		t.Fatalf("open new: %v", err)
	}
	defer s.Close()

	if s.Count() != 1 {
		t.Errorf("expected migrated entry, got %d", s.Count())
	}
	if _, err := os.Stat(filepath.Join(legacy, dbFileName)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected legacy container moved, stat err = %v", err)
	}
}

func TestMissingLegacyLocationIsNoop(t *testing.T) {
	s := newTestStore(t, func(o *Options) {
		o.LegacyDir = filepath.Join(t.TempDir(), "never-existed")
	})
	if !s.IsInitialized() {
		t.Fatal("expected initialized store")
	}
}

func TestUninitializedReadsAreEmpty(t *testing.T) {
	ctx := context.Background()
	s := New(testOptions(t))

	if got, err := s.CheckIdentity(ctx, "100-aaaaaaaaaaaaaaaa", "a.cbz"); err != nil || got.Status != NewFile {
		t.Errorf("expected NewFile, got %v (%v)", got.Status, err)
	}
	if st, err := s.LoadSettings(ctx, "x"); st != nil || err != nil {
		t.Errorf("expected nil settings, got %v (%v)", st, err)
	}
	if _, err := s.ClearAll(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
	if err := s.SaveSettings(ctx, "x", model.Settings{}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
	if res := s.Import(ctx, &Document{Entries: []DocumentEntry{}}, Merge); res.Success {
		t.Error("expected import to fail on uninitialized store")
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.RecordAccess(ctx, "100-aaaaaaaaaaaaaaaa", "/f/a.cbz", "a.cbz")
	s.RecordAccess(ctx, "100-aaaaaaaaaaaaaaaa", "/f/a.cbz", "a.cbz")
	s.RecordCatalog(ctx, "5-bbbbbbbbbbbbbbbb", "/f/b.png", "b.png")

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.HistoryEntries != 1 || st.TotalAccesses != 2 || st.CatalogEntries != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if st.SchemaVersion != CurrentSchemaVersion || !st.Initialized {
		t.Errorf("unexpected version info: %+v", st)
	}
}
