package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Mode is the edit state of a view.
type Mode int

const (
	Viewing Mode = iota
	Editing
)

func (m Mode) String() string {
	if m == Editing {
		return "editing"
	}
	return "viewing"
}

// Backend is everything the editor needs from the remote API.
type Backend interface {
	Lister
	RosterAPI
}

// Permission decides whether the caller in ctx may mark attendance.
type Permission interface {
	CanMarkAttendance(ctx context.Context) bool
}

// Observer is notified after every save that reached the committer.
type Observer interface {
	CommitFinished(ctx context.Context, res Result, pending int, err error)
}

// Row is a record with pending edits overlaid.
type Row struct {
	Record    Record
	Effective bool
	Pending   bool
}

// ViewState is what a client renders.
type ViewState struct {
	Mode         Mode
	Busy         bool
	Query        Query
	Total        int
	Rows         []Row
	PendingCount int
}

// Editor is the attendance editing engine of one view: it owns the snapshot,
// the pending edits and the edit mode, and picks the commit strategy.
type Editor struct {
	store     *SnapshotStore
	edits     *PendingEdits
	committer *Committer
	perm      Permission
	observer  Observer
	logger    *slog.Logger

	mu   sync.Mutex
	mode Mode
	busy bool
	// stale is set when the snapshot could not be reread after a partial batch.
	stale bool
}

// EditorOption configures an Editor.
type EditorOption func(*Editor)

// WithObserver registers an observer for commit outcomes.
func WithObserver(o Observer) EditorOption {
	return func(e *Editor) { e.observer = o }
}

// WithLogger sets the logger used by the editor and its committer.
func WithLogger(l *slog.Logger) EditorOption {
	return func(e *Editor) { e.logger = l }
}

// WithToggleConcurrency bounds parallel toggle calls on diff-toggle saves.
func WithToggleConcurrency(n int) EditorOption {
	return func(e *Editor) { e.committer.concurrency = n }
}

// NewEditor builds an editor in Viewing mode.
func NewEditor(backend Backend, perm Permission, opts ...EditorOption) *Editor {
	e := &Editor{
		store:     NewSnapshotStore(backend),
		edits:     NewPendingEdits(),
		committer: NewCommitter(backend, nil, 0),
		perm:      perm,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.committer.logger = e.logger
	return e
}

// Mode returns the current edit mode.
func (e *Editor) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Load fetches a page. Pending edits are keyed by record and survive paging.
func (e *Editor) Load(ctx context.Context, q Query) (ViewState, error) {
	if _, err := e.store.Load(ctx, q); err != nil {
		return ViewState{}, err
	}
	e.mu.Lock()
	e.stale = false
	e.mu.Unlock()
	return e.View(), nil
}

// BeginEdit switches to Editing if the caller may mark attendance.
func (e *Editor) BeginEdit(ctx context.Context) error {
	if e.perm == nil || !e.perm.CanMarkAttendance(ctx) {
		return ErrForbidden
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = Editing
	return nil
}

// Toggle records the desired presence for a record in the current page.
func (e *Editor) Toggle(key string, desired bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode != Editing {
		return ErrNotEditing
	}
	if e.busy {
		return ErrSaveInProgress
	}
	if _, ok := e.store.Lookup(key); !ok {
		return ErrUnknownRecord
	}
	e.edits.Set(key, desired)
	return nil
}

// Cancel drops all pending edits and leaves edit mode. It never calls the
// backend and never touches the snapshot.
func (e *Editor) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return ErrSaveInProgress
	}
	e.edits.Clear()
	e.mode = Viewing
	return nil
}

// Save commits the pending edits. A view scoped to one session uses
// SessionReplace, any other view uses DiffToggle. On error the editor stays
// in Editing with every pending edit kept; after a partial DiffToggle batch
// the snapshot is reloaded so a retry only sends what is still different.
func (e *Editor) Save(ctx context.Context) (Result, error) {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return Result{}, ErrSaveInProgress
	}
	if e.mode != Editing {
		e.mu.Unlock()
		return Result{}, ErrNotEditing
	}
	edits := e.edits.Snapshot()
	q := e.store.Query()
	if len(edits) == 0 {
		e.mode = Viewing
		e.mu.Unlock()
		return Result{NoChanges: true, SessionID: q.SessionID}, nil
	}
	e.busy = true
	stale := e.stale
	e.mu.Unlock()

	if stale && !q.SingleSession() {
		if _, err := e.store.Reload(ctx); err != nil {
			e.mu.Lock()
			e.busy = false
			e.mu.Unlock()
			return Result{Strategy: DiffToggle}, fmt.Errorf("refresh before retry: %w", err)
		}
		e.mu.Lock()
		e.stale = false
		e.mu.Unlock()
	}

	var (
		res   Result
		err   error
		start = time.Now()
	)
	if q.SingleSession() {
		res, err = e.committer.CommitSession(ctx, q.SessionID, edits)
	} else {
		res, err = e.committer.CommitToggles(ctx, e.store.Current(), edits)
	}
	res.Elapsed = time.Since(start)
	if e.observer != nil {
		e.observer.CommitFinished(ctx, res, len(edits), err)
	}

	if err != nil {
		// Toggles only flip, so the records that did change must be reread
		// before a retry or the retry would flip them back.
		var (
			batch  *BatchError
			failed bool
		)
		if errors.As(err, &batch) {
			if _, rerr := e.store.Reload(ctx); rerr != nil && !errors.Is(rerr, ErrStaleLoad) {
				res.RefreshFailed, failed = true, true
				e.logger.Warn("refresh after partial save failed", slog.String("error", rerr.Error()))
			}
		}
		e.mu.Lock()
		e.busy = false
		if failed {
			e.stale = true
		}
		e.mu.Unlock()
		e.logger.Warn("save failed, edits kept", slog.String("strategy", string(res.Strategy)), slog.String("error", err.Error()))
		return res, err
	}

	e.mu.Lock()
	e.busy = false
	e.edits.Clear()
	e.mode = Viewing
	e.mu.Unlock()

	if res.NoChanges {
		return res, nil
	}
	if _, rerr := e.store.Reload(ctx); rerr != nil && !errors.Is(rerr, ErrStaleLoad) {
		res.RefreshFailed = true
		e.logger.Warn("refresh after save failed", slog.String("error", rerr.Error()))
	}
	return res, nil
}

// View overlays the pending edits on the cached snapshot.
func (e *Editor) View() ViewState {
	e.mu.Lock()
	mode, busy := e.mode, e.busy
	e.mu.Unlock()

	set := e.store.Current()
	edits := e.edits.Snapshot()
	rows := make([]Row, 0, len(set.Records))
	for _, r := range set.Records {
		effective, pending := edits[r.Key()]
		if !pending {
			effective = EffectivePresence(r)
		}
		rows = append(rows, Row{
			Record:    r,
			Effective: effective,
			Pending:   pending,
		})
	}
	return ViewState{
		Mode:         mode,
		Busy:         busy,
		Query:        e.store.Query(),
		Total:        set.Total,
		Rows:         rows,
		PendingCount: len(edits),
	}
}
