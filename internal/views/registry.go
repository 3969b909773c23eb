package views

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"portal/internal/attendance"
	"portal/internal/audit"
	"portal/internal/queue"
)

var (
	ErrNotFound = errors.New("view not found")
	ErrNotOwner = errors.New("view belongs to another user")
)

// View is one open attendance screen.
type View struct {
	ID     string
	Owner  string
	Editor *attendance.Editor

	lastUsed time.Time
}

// Options configures a Registry.
type Options struct {
	Backend           attendance.Backend
	Permission        attendance.Permission
	Queue             queue.Queue
	Observer          attendance.Observer
	Logger            *slog.Logger
	ToggleConcurrency int
	IdleTTL           time.Duration
	// OnSizeChange is called with the number of open views after every change.
	OnSizeChange func(n int)
}

// Registry holds open views keyed by ID.
type Registry struct {
	opts Options
	now  func() time.Time

	mu    sync.Mutex
	views map[string]*View
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	return &Registry{opts: opts, now: time.Now, views: make(map[string]*View)}
}

// Open creates a view owned by owner.
func (r *Registry) Open(owner string) *View {
	v := &View{ID: uuid.NewString(), Owner: owner}
	rec := &commitRecorder{
		viewID: v.ID,
		owner:  owner,
		queue:  r.opts.Queue,
		next:   r.opts.Observer,
		logger: r.opts.Logger,
	}
	v.Editor = attendance.NewEditor(r.opts.Backend, r.opts.Permission,
		attendance.WithObserver(rec),
		attendance.WithLogger(r.opts.Logger.With(slog.String("view", v.ID))),
		attendance.WithToggleConcurrency(r.opts.ToggleConcurrency),
	)

	r.mu.Lock()
	v.lastUsed = r.now()
	r.views[v.ID] = v
	n := len(r.views)
	r.mu.Unlock()
	r.sizeChanged(n)
	return v
}

// Get returns the view if owner opened it and marks it used.
func (r *Registry) Get(id, owner string) (*View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[id]
	if !ok {
		return nil, ErrNotFound
	}
	if v.Owner != owner {
		return nil, ErrNotOwner
	}
	v.lastUsed = r.now()
	return v, nil
}

// Close drops a view and its pending edits.
func (r *Registry) Close(id, owner string) error {
	r.mu.Lock()
	v, ok := r.views[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if v.Owner != owner {
		r.mu.Unlock()
		return ErrNotOwner
	}
	delete(r.views, id)
	n := len(r.views)
	r.mu.Unlock()
	r.sizeChanged(n)
	return nil
}

// Len returns the number of open views.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

// Sweep evicts views idle for longer than the TTL. Views with a save in
// flight are kept.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	cutoff := r.now().Add(-r.opts.IdleTTL)
	evicted := 0
	for id, v := range r.views {
		if v.lastUsed.After(cutoff) || v.Editor.View().Busy {
			continue
		}
		delete(r.views, id)
		evicted++
		r.opts.Logger.Info("view expired", slog.String("view", id), slog.String("owner", v.Owner))
	}
	n := len(r.views)
	r.mu.Unlock()
	if evicted > 0 {
		r.sizeChanged(n)
	}
	return evicted
}

// Run sweeps on every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) sizeChanged(n int) {
	if r.opts.OnSizeChange != nil {
		r.opts.OnSizeChange(n)
	}
}

// commitRecorder turns finished saves into audit events.
type commitRecorder struct {
	viewID string
	owner  string
	queue  queue.Queue
	next   attendance.Observer
	logger *slog.Logger
}

func (c *commitRecorder) CommitFinished(ctx context.Context, res attendance.Result, pending int, err error) {
	if c.next != nil {
		c.next.CommitFinished(ctx, res, pending, err)
	}
	if c.queue == nil {
		return
	}
	msg, merr := queue.NewMessage(queue.TypeCommit, entryFor(c.viewID, c.owner, res, pending, err))
	if merr != nil {
		c.logger.Error("encode commit event", slog.String("error", merr.Error()))
		return
	}
	// The request may already be finishing; the event should still go out.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if perr := c.queue.Publish(pubCtx, msg); perr != nil {
		c.logger.Warn("publish commit event", slog.String("error", perr.Error()))
	}
}

func entryFor(viewID, owner string, res attendance.Result, pending int, err error) audit.Entry {
	e := audit.Entry{
		ID:        uuid.NewString(),
		ViewID:    viewID,
		UserID:    owner,
		SessionID: res.SessionID,
		Strategy:  string(res.Strategy),
		Pending:   pending,
		Attempted: res.Attempted,
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		Changed:   res.Changed,
		Skipped:   res.Skipped,
		NoChanges: res.NoChanges,
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
