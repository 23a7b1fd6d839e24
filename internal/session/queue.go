// Package session schedules window-open requests when a saved session or a
// batch of files is restored.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/pageledger/internal/model"
	"github.com/rcliao/pageledger/internal/notify"
)

var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("session queue closed")
	// ErrDuplicateID is returned by Enqueue when a request id is already
	// pending or in flight, or repeats within the batch.
	ErrDuplicateID = errors.New("duplicate request id")
)

// DefaultDebounce is the quiet period that batches near-simultaneous
// enqueues into one run.
const DefaultDebounce = 150 * time.Millisecond

// State is the queue's scheduling state.
type State int

const (
	Idle State = iota
	Scheduled
	Processing
)

func (s State) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Processing:
		return "processing"
	}
	return "idle"
}

// Target says where a request should be shown.
type Target int

const (
	// ExistingWindow reuses the window that is already open. Only the first
	// request of a run gets it.
	ExistingWindow Target = iota
	// NewWindow opens an additional window.
	NewWindow
)

func (t Target) String() string {
	if t == ExistingWindow {
		return "existing"
	}
	return "new"
}

// Request asks for one file to be opened.
type Request struct {
	ID         string
	Path       string
	ContentKey string
	PageNumber int
	Geometry   *model.Geometry
}

// Opener creates or reuses a window for req. It must eventually lead to
// WindowLoaded(req.ID); the queue never times a request out.
type Opener func(req Request, target Target)

// Timer is the part of *time.Timer the queue uses.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Option configures a Queue.
type Option func(*Queue)

// WithLimit sets how many requests may be in flight at once. Values below
// one are raised to one.
func WithLimit(n int) Option {
	return func(q *Queue) { q.limit = n }
}

// WithDebounce sets the batching window.
func WithDebounce(d time.Duration) Option {
	return func(q *Queue) { q.debounce = d }
}

// WithAfterFunc replaces time.AfterFunc, for deterministic tests.
func WithAfterFunc(fn AfterFunc) Option {
	return func(q *Queue) { q.afterFunc = fn }
}

// WithNotifier sets where progress events go.
func WithNotifier(n notify.Notifier) Option {
	return func(q *Queue) { q.notif = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// Queue is a FIFO of pending requests drained with at most limit in flight.
//
// Idle -> Scheduled on the first enqueue; every further enqueue restarts the
// debounce timer. When it fires the queue is Processing until every request
// of the run has been reported loaded, then it sends AllWindowsReady and
// returns to Idle.
type Queue struct {
	open      Opener
	debounce  time.Duration
	afterFunc AfterFunc
	notif     notify.Notifier
	log       *slog.Logger

	mu            sync.Mutex
	limit         int
	state         State
	pending       []Request
	inFlight      map[string]Request
	processed     int
	total         int
	dispatched    bool
	shownProgress bool
	timer         Timer
	closed        bool
}

// New returns an idle queue that hands requests to open.
func New(open Opener, opts ...Option) *Queue {
	q := &Queue{
		open:      open,
		debounce:  DefaultDebounce,
		afterFunc: realAfterFunc,
		notif:     notify.Nop{},
		log:       slog.Default(),
		limit:     1,
		inFlight:  make(map[string]Request),
	}
	for _, o := range opts {
		o(q)
	}
	if q.limit < 1 {
		q.limit = 1
	}
	if q.afterFunc == nil {
		q.afterFunc = realAfterFunc
	}
	return q
}

type dispatch struct {
	req    Request
	target Target
}

// Enqueue appends reqs. Requests without an ID get one. A batch holding an
// id that is already queued is rejected whole. It returns the requests as
// queued.
func (q *Queue) Enqueue(reqs ...Request) ([]Request, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	if len(reqs) == 0 {
		q.mu.Unlock()
		return nil, nil
	}

	live := make(map[string]bool, len(q.pending)+len(q.inFlight)+len(reqs))
	for _, r := range q.pending {
		live[r.ID] = true
	}
	for id := range q.inFlight {
		live[id] = true
	}
	queued := make([]Request, len(reqs))
	for i, r := range reqs {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if live[r.ID] {
			q.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
		}
		live[r.ID] = true
		queued[i] = r
	}
	q.pending = append(q.pending, queued...)
	q.total += len(queued)

	var (
		events []notify.Event
		out    []dispatch
	)
	switch q.state {
	case Idle:
		q.state = Scheduled
		q.timer = q.afterFunc(q.debounce, q.fire)
	case Scheduled:
		if q.timer != nil {
			q.timer.Stop()
		}
		q.timer = q.afterFunc(q.debounce, q.fire)
	case Processing:
		events = q.progressLocked()
		out = q.dequeueLocked()
	}
	q.mu.Unlock()

	q.emit(events)
	q.run(out)
	return queued, nil
}

// fire ends the debounce window.
func (q *Queue) fire() {
	q.mu.Lock()
	if q.closed || q.state != Scheduled {
		q.mu.Unlock()
		return
	}
	q.state = Processing
	q.timer = nil
	q.log.Debug("session run started", "requests", q.total, "limit", q.limit)
	events := q.progressLocked()
	out := q.dequeueLocked()
	q.mu.Unlock()

	q.emit(events)
	q.run(out)
}

// progressLocked shows the progress UI once a run holds more than one
// request, and reports the current counts.
func (q *Queue) progressLocked() []notify.Event {
	if q.total <= 1 {
		return nil
	}
	var events []notify.Event
	if !q.shownProgress {
		q.shownProgress = true
		events = append(events, notify.Event{Kind: notify.ProgressShown, Total: q.total})
	}
	return append(events, notify.Event{Kind: notify.ProgressUpdated, Processed: q.processed, Total: q.total})
}

// dequeueLocked pops requests while there is room under the limit.
func (q *Queue) dequeueLocked() []dispatch {
	var out []dispatch
	for len(q.inFlight) < q.limit && len(q.pending) > 0 {
		req := q.pending[0]
		q.pending[0] = Request{}
		q.pending = q.pending[1:]

		target := NewWindow
		if !q.dispatched {
			target = ExistingWindow
			q.dispatched = true
		}
		q.inFlight[req.ID] = req
		out = append(out, dispatch{req: req, target: target})
	}
	if len(q.pending) == 0 {
		q.pending = nil
	}
	return out
}

func (q *Queue) run(out []dispatch) {
	for _, d := range out {
		q.open(d.req, d.target)
	}
}

func (q *Queue) emit(events []notify.Event) {
	for _, e := range events {
		q.notif.Notify(e)
	}
}

// WindowLoaded reports that the request id finished loading, successfully
// or not. It frees a slot for the next request. Unknown ids are ignored and
// reported as false.
func (q *Queue) WindowLoaded(id string) bool {
	q.mu.Lock()
	if _, ok := q.inFlight[id]; !ok {
		q.mu.Unlock()
		q.log.Debug("window loaded for unknown request", "id", id)
		return false
	}
	delete(q.inFlight, id)
	q.processed++

	var (
		events []notify.Event
		out    []dispatch
	)
	if q.total > 1 {
		events = append(events, notify.Event{Kind: notify.ProgressUpdated, Processed: q.processed, Total: q.total})
	}
	if q.processed == q.total && len(q.pending) == 0 {
		events = append(events, notify.Event{Kind: notify.AllWindowsReady, Processed: q.processed, Total: q.total})
		q.log.Debug("session run finished", "requests", q.total)
		q.resetLocked()
	} else {
		out = q.dequeueLocked()
	}
	q.mu.Unlock()

	q.emit(events)
	q.run(out)
	return true
}

func (q *Queue) resetLocked() {
	q.state = Idle
	q.processed = 0
	q.total = 0
	q.dispatched = false
	q.shownProgress = false
}

// SetLimit changes the in-flight ceiling. Raising it dispatches at once.
func (q *Queue) SetLimit(n int) {
	if n < 1 {
		n = 1
	}
	q.mu.Lock()
	q.limit = n
	var out []dispatch
	if q.state == Processing && !q.closed {
		out = q.dequeueLocked()
	}
	q.mu.Unlock()
	q.run(out)
}

// Close drops pending work and stops the debounce timer. Requests already
// handed to the opener are not recalled.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.pending = nil
	q.inFlight = make(map[string]Request)
	q.resetLocked()
}

// Snapshot is a point-in-time view of the queue.
type Snapshot struct {
	State     State
	Pending   int
	InFlight  int
	Processed int
	Total     int
	Limit     int
}

// Snapshot returns the current counters.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Snapshot{
		State:     q.state,
		Pending:   len(q.pending),
		InFlight:  len(q.inFlight),
		Processed: q.processed,
		Total:     q.total,
		Limit:     q.limit,
	}
}

// RequestsFromGroup turns a saved group into requests, in window order.
func RequestsFromGroup(g model.SessionGroup) []Request {
	reqs := make([]Request, 0, len(g.Items))
	for _, it := range g.Items {
		reqs = append(reqs, Request{
			Path:       it.Path,
			ContentKey: it.ContentKey,
			PageNumber: it.PageNumber,
			Geometry:   it.Geometry,
		})
	}
	return reqs
}
