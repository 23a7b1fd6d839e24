// Package store persists viewing history, catalogued images and saved
// sessions in a versioned SQLite container.
//
// A Store is the single writer for its directory: every mutation runs under
// one mutex, and listings are served from an immutable snapshot that is
// swapped after each write.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcliao/pageledger/internal/identity"
	"github.com/rcliao/pageledger/internal/model"
	"github.com/rcliao/pageledger/internal/notify"
	"github.com/rcliao/pageledger/internal/prefs"
)

// CurrentSchemaVersion is the newest schema this build understands.
const CurrentSchemaVersion = 6

const (
	dbFileName    = "history.db"
	stateFileName = "state.yaml"
	lockFileName  = ".lock"
	versionKey    = "schema_version"
)

var (
	// ErrNotInitialized is returned by mutations while the store is not open.
	ErrNotInitialized = errors.New("store not initialized")
	// ErrNotFound is returned when an id does not name an existing record.
	ErrNotFound = errors.New("not found")
	// ErrStoreLocked means another process holds the store directory.
	ErrStoreLocked = errors.New("store is locked by another process")
	// ErrInvalidChoice is returned for an unknown identity choice.
	ErrInvalidChoice = errors.New("invalid identity choice")
)

// SchemaVersionMismatchError is returned by Open when the store was written
// by a newer build. The container is not opened.
type SchemaVersionMismatchError struct {
	Stored  int
	Current int
}

func (e *SchemaVersionMismatchError) Error() string {
	return fmt.Sprintf("schema version mismatch: store is v%d, this build supports up to v%d", e.Stored, e.Current)
}

// MigrationError records a migration step that failed and was rolled back.
type MigrationError struct {
	From int
	To   int
	Name string
	Err  error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration v%d->v%d (%s): %v", e.From, e.To, e.Name, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// CredentialStore holds per-file passwords. Deletion is best-effort.
type CredentialStore interface {
	DeletePassword(path string) error
}

type nopCredentials struct{}

func (nopCredentials) DeletePassword(string) error { return nil }

// Options configures a Store.
type Options struct {
	// Dir holds history.db and state.yaml.
	Dir string
	// LegacyDir is an older data location. Files found there are moved to
	// Dir on first open.
	LegacyDir string

	MaxHistoryCount  int
	MaxCatalogCount  int
	MaxSessionGroups int

	// TargetVersion caps the migration ladder. Zero means CurrentSchemaVersion.
	TargetVersion int

	Credentials CredentialStore
	Notifier    notify.Notifier
	Hasher      identity.Hasher
	// KeyForPath computes the live content key of a file for key repair.
	// Defaults to identity.KeyForFile with Hasher.
	KeyForPath func(path string) (string, error)
	Now        func() time.Time
	Logger     *slog.Logger
}

// Default limits.
const (
	DefaultMaxHistoryCount  = 1000
	DefaultMaxCatalogCount  = 5000
	DefaultMaxSessionGroups = 50
)

// Ledger is the history surface used by callers that only record and list.
type Ledger interface {
	RecordAccess(ctx context.Context, contentKey, path, displayName string) (*model.HistoryEntry, error)
	CheckIdentity(ctx context.Context, contentKey, displayName string) (IdentityResult, error)
	RecordAccessWithChoice(ctx context.Context, p AccessParams, existing model.HistoryEntry, choice Choice) (*model.HistoryEntry, error)
	RemoveEntry(ctx context.Context, id string) error
	RemoveByContentKey(ctx context.Context, contentKey string) (int, error)
	ClearAll(ctx context.Context) (int, error)
	ResetAccessCounts(ctx context.Context) error
	Entries() []model.HistoryEntry
}

var _ Ledger = (*Store)(nil)

// Store is an explicit handle on one data directory.
type Store struct {
	opts    Options
	log     *slog.Logger
	now     func() time.Time
	target  int
	ladder  []migration
	creds   CredentialStore
	notif   notify.Notifier
	keyFunc func(string) (string, error)

	mu          sync.Mutex
	db          *sql.DB
	state       *prefs.File
	lock        *os.File
	initialized bool
	initErr     error
	version     int
	migErrs     []*MigrationError
	entropy     *rand.Rand

	view atomic.Pointer[view]
}

// New returns an unopened store.
func New(opts Options) *Store {
	if opts.MaxHistoryCount <= 0 {
		opts.MaxHistoryCount = DefaultMaxHistoryCount
	}
	if opts.MaxCatalogCount <= 0 {
		opts.MaxCatalogCount = DefaultMaxCatalogCount
	}
	if opts.MaxSessionGroups <= 0 {
		opts.MaxSessionGroups = DefaultMaxSessionGroups
	}
	if opts.Hasher == nil {
		opts.Hasher = identity.NewXXHash()
	}
	s := &Store{
		opts:    opts,
		log:     opts.Logger,
		now:     opts.Now,
		target:  opts.TargetVersion,
		ladder:  ladder,
		creds:   opts.Credentials,
		notif:   opts.Notifier,
		keyFunc: opts.KeyForPath,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.target <= 0 || s.target > CurrentSchemaVersion {
		s.target = CurrentSchemaVersion
	}
	if s.creds == nil {
		s.creds = nopCredentials{}
	}
	if s.notif == nil {
		s.notif = notify.Nop{}
	}
	if s.keyFunc == nil {
		h := opts.Hasher
		s.keyFunc = func(p string) (string, error) { return identity.KeyForFile(p, h) }
	}
	s.view.Store(newView(nil))
	return s
}

// Open is New followed by (*Store).Open. On failure the returned store is
// still usable as an empty, uninitialized ledger.
func Open(ctx context.Context, opts Options) (*Store, error) {
	s := New(opts)
	return s, s.Open(ctx)
}

// Open moves legacy files, checks the schema version, opens the container
// and runs pending migrations. A newer stored version fails with
// *SchemaVersionMismatchError before the container is touched.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	if err := s.openLocked(ctx); err != nil {
		s.initErr = err
		s.closeLocked()
		return err
	}
	s.initErr = nil
	return nil
}

func (s *Store) openLocked(ctx context.Context) error {
	if s.opts.Dir == "" {
		return errors.New("store dir is required")
	}
	if err := os.MkdirAll(s.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	lock, err := acquireLock(filepath.Join(s.opts.Dir, lockFileName))
	if err != nil {
		return err
	}
	s.lock = lock

	if s.opts.LegacyDir != "" {
		if err := moveLegacyFiles(s.opts.LegacyDir, s.opts.Dir, s.log); err != nil {
			return fmt.Errorf("move legacy store: %w", err)
		}
	}

	state, err := prefs.Open(s.statePath())
	if err != nil {
		return err
	}
	s.state = state

	stored, _ := state.Int(versionKey)
	if stored > s.target {
		return &SchemaVersionMismatchError{Stored: stored, Current: s.target}
	}

	db, err := openDB(ctx, s.DBPath())
	if err != nil {
		return err
	}
	s.db = db

	reached, errs := runMigrations(ctx, s, stored)
	s.migErrs = errs
	if _, ok := state.Int(versionKey); !ok || reached != stored {
		if err := state.Set(versionKey, reached); err != nil {
			return fmt.Errorf("persist schema version: %w", err)
		}
	}
	s.version = reached

	entries, err := loadEntries(ctx, s.db)
	if err != nil {
		if len(errs) == 0 {
			return fmt.Errorf("load history: %w", err)
		}
		// A stalled ladder can leave columns missing; open anyway and
		// let the next Open retry the step.
		s.log.Warn("history unreadable at partial schema", "version", reached, "error", err)
		entries = nil
	}
	s.view.Store(newView(entries))
	s.initialized = true

	s.log.Debug("store opened", "dir", s.opts.Dir, "version", reached, "entries", len(entries))
	return nil
}

// Close releases the database and the directory lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Store) closeLocked() error {
	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	if s.lock != nil {
		errs = append(errs, releaseLock(s.lock))
		s.lock = nil
	}
	s.initialized = false
	s.view.Store(newView(nil))
	return errors.Join(errs...)
}

// Reset discards every backing file and the stored version, then reopens an
// empty store at the current version. It also clears a previous open failure.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.closeLocked(); err != nil {
		s.log.Warn("close before reset", "error", err)
	}
	for _, name := range backingFiles() {
		p := filepath.Join(s.opts.Dir, name)
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.initErr = fmt.Errorf("remove %s: %w", name, err)
			return s.initErr
		}
	}
	s.state = nil
	s.migErrs = nil

	if err := s.openLocked(ctx); err != nil {
		s.initErr = err
		s.closeLocked()
		return err
	}
	s.initErr = nil
	s.log.Info("store reset", "dir", s.opts.Dir)
	s.notif.Notify(notify.Event{Kind: notify.HistoryChanged, Bulk: true})
	return nil
}

func backingFiles() []string {
	return []string{dbFileName, dbFileName + "-wal", dbFileName + "-shm", stateFileName}
}

// IsInitialized reports whether the store opened successfully.
func (s *Store) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// InitError returns the error from the last failed Open or Reset.
func (s *Store) InitError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initErr
}

// SchemaVersion returns the version the open store is at.
func (s *Store) SchemaVersion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// MigrationErrors returns the steps that failed during the last open.
func (s *Store) MigrationErrors() []*MigrationError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*MigrationError(nil), s.migErrs...)
}

// DBPath returns the container path.
func (s *Store) DBPath() string { return filepath.Join(s.opts.Dir, dbFileName) }

func (s *Store) statePath() string { return filepath.Join(s.opts.Dir, stateFileName) }

func (s *Store) changed(bulk bool) {
	s.notif.Notify(notify.Event{Kind: notify.HistoryChanged, Bulk: bulk})
}

// withTx runs fn in a transaction. Callers hold s.mu.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
