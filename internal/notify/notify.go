// Package notify carries UI-facing signals out of the persistence and
// scheduling layers.
package notify

import (
	"log/slog"
	"sync"
)

// Kind identifies an event.
type Kind int

const (
	// HistoryChanged fires after any ledger mutation. Bulk is set for
	// clears, imports, resets and key repair.
	HistoryChanged Kind = iota + 1
	// AccessibilityRefreshed fires once at the end of every sweep.
	AccessibilityRefreshed
	// ProgressShown fires when a restore run grows past one request.
	ProgressShown
	// ProgressUpdated carries Processed/Total of the current restore run.
	ProgressUpdated
	// AllWindowsReady fires when a restore run has drained completely.
	AllWindowsReady
)

func (k Kind) String() string {
	switch k {
	case HistoryChanged:
		return "history_changed"
	case AccessibilityRefreshed:
		return "accessibility_refreshed"
	case ProgressShown:
		return "progress_shown"
	case ProgressUpdated:
		return "progress_updated"
	case AllWindowsReady:
		return "all_windows_ready"
	}
	return "unknown"
}

// Event is a single notification.
type Event struct {
	Kind      Kind
	Bulk      bool
	Processed int
	Total     int
}

// Notifier receives events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// Func adapts a function to Notifier.
type Func func(Event)

func (f Func) Notify(e Event) { f(e) }

// Nop drops everything.
type Nop struct{}

func (Nop) Notify(Event) {}

// Bus fans events out to subscribers in subscription order.
type Bus struct {
	mu   sync.RWMutex
	subs []func(Event)
}

// NewBus returns an empty bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers fn for every subsequent event.
func (b *Bus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
}

func (b *Bus) Notify(e Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}

// Logger logs each event at debug level.
type Logger struct {
	Log *slog.Logger
}

func (l Logger) Notify(e Event) {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.Debug("notify", "event", e.Kind.String(), "bulk", e.Bulk, "processed", e.Processed, "total", e.Total)
}
