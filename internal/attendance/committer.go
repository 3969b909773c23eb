package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

// Strategy names the reconciliation algorithm used for a commit.
type Strategy string

const (
	// SessionReplace fetches the whole roster and upserts every person.
	SessionReplace Strategy = "session_replace"
	// DiffToggle flips only the records whose value actually changed.
	DiffToggle Strategy = "diff_toggle"
)

// RosterAPI is the write side of the remote attendance API.
type RosterAPI interface {
	SessionRoster(ctx context.Context, sessionID string) (Roster, error)
	BulkUpsert(ctx context.Context, sessionID string, payload UpsertPayload) error
	Toggle(ctx context.Context, recordID string) (Record, error)
}

// Result summarizes a commit.
type Result struct {
	Strategy  Strategy
	SessionID string
	// Attempted is the number of people sent (SessionReplace) or toggle calls issued (DiffToggle).
	Attempted int
	Succeeded int
	Failed    int
	// Changed counts people whose effective presence differs from the server's.
	Changed int
	// Skipped counts pending edits dropped as no-ops or stale references.
	Skipped   int
	NoChanges bool
	// RefreshFailed is set when the commit succeeded but reloading the view did not.
	RefreshFailed bool
	Elapsed       time.Duration
}

// Message is the user-facing summary of the result.
func (r Result) Message() string {
	switch {
	case r.NoChanges:
		return "no actual changes"
	case r.Failed > 0:
		return fmt.Sprintf("%d succeeded, %d failed", r.Succeeded, r.Failed)
	case r.Strategy == SessionReplace && r.Skipped > 0:
		return fmt.Sprintf("saved attendance for %d people (%d changed), %d edits outside this session discarded",
			r.Attempted, r.Changed, r.Skipped)
	case r.Strategy == SessionReplace:
		return fmt.Sprintf("saved attendance for %d people (%d changed)", r.Attempted, r.Changed)
	default:
		return fmt.Sprintf("saved %d changes", r.Succeeded)
	}
}

// Committer turns pending edits into network calls.
type Committer struct {
	api         RosterAPI
	logger      *slog.Logger
	concurrency int
}

// NewCommitter creates a committer. concurrency bounds parallel toggle calls;
// zero or less means unbounded.
func NewCommitter(api RosterAPI, logger *slog.Logger, concurrency int) *Committer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Committer{api: api, logger: logger, concurrency: concurrency}
}

// CommitSession replaces the presence of every person in the session. The
// full roster is fetched first so people outside the visible page keep their
// current value instead of being reverted.
func (c *Committer) CommitSession(ctx context.Context, sessionID string, edits map[string]bool) (Result, error) {
	res := Result{Strategy: SessionReplace, SessionID: sessionID}

	roster, err := c.api.SessionRoster(ctx, sessionID)
	if err != nil {
		return res, fmt.Errorf("fetch session roster: %w", err)
	}

	used := make(map[string]bool, len(edits))
	overlay := func(t PersonType, e RosterEntry) (bool, bool) {
		original := true
		if e.Record != nil {
			original = e.Record.Presence.Effective()
			if e.Record.ID != "" {
				if v, ok := edits[e.Record.ID]; ok {
					used[e.Record.ID] = true
					return v, v != original
				}
			}
		}
		key := PersonKey(t, e.PersonID)
		if v, ok := edits[key]; ok {
			used[key] = true
			return v, v != original
		}
		return original, false
	}

	var payload UpsertPayload
	for _, e := range roster.Teachers {
		present, changed := overlay(Teacher, e)
		if changed {
			res.Changed++
		}
		payload.Teachers = append(payload.Teachers, TeacherMark{TeacherID: e.PersonID, Present: present})
	}
	for _, e := range roster.Students {
		present, changed := overlay(Student, e)
		if changed {
			res.Changed++
		}
		payload.Students = append(payload.Students, StudentMark{StudentID: e.PersonID, Present: present})
	}

	for key := range edits {
		if !used[key] {
			res.Skipped++
			c.logger.Warn("pending edit not in session roster", slog.String("key", key), slog.String("session", sessionID))
		}
	}

	res.Attempted = len(payload.Teachers) + len(payload.Students)
	if res.Attempted == 0 {
		res.NoChanges = true
		return res, nil
	}

	if err := c.api.BulkUpsert(ctx, sessionID, payload); err != nil {
		res.Failed = res.Attempted
		return res, fmt.Errorf("bulk upsert session %s: %w", sessionID, err)
	}
	res.Succeeded = res.Attempted
	c.logger.Info("session attendance saved",
		slog.String("session", sessionID),
		slog.Int("teachers", len(payload.Teachers)),
		slog.Int("students", len(payload.Students)),
		slog.Int("changed", res.Changed))
	return res, nil
}

// CommitToggles flips each record whose desired value differs from its
// effective value in snapshot. Edits that match, or whose record is not in
// snapshot, are dropped without a network call. If any toggle fails a
// *BatchError is returned.
func (c *Committer) CommitToggles(ctx context.Context, snapshot RecordSet, edits map[string]bool) (Result, error) {
	res := Result{Strategy: DiffToggle}

	keys := make([]string, 0, len(edits))
	for k := range edits {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var targets []string
	for _, key := range keys {
		rec, ok := snapshot.Lookup(key)
		if !ok || rec.ID == "" {
			res.Skipped++
			c.logger.Warn("pending edit has no record in current page", slog.String("key", key))
			continue
		}
		if edits[key] == rec.Presence.Effective() {
			res.Skipped++
			continue
		}
		targets = append(targets, rec.ID)
	}

	if len(targets) == 0 {
		res.NoChanges = true
		return res, nil
	}

	errs := make([]error, len(targets))
	var g errgroup.Group
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}
	for i, id := range targets {
		g.Go(func() error {
			if _, err := c.api.Toggle(ctx, id); err != nil {
				errs[i] = fmt.Errorf("toggle %s: %w", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Attempted = len(targets)
	var first error
	for _, err := range errs {
		if err != nil {
			res.Failed++
			if first == nil {
				first = err
			}
			c.logger.Error("toggle failed", slog.String("error", err.Error()))
		}
	}
	res.Succeeded = res.Attempted - res.Failed
	res.Changed = res.Succeeded
	if res.Failed > 0 {
		return res, &BatchError{Failed: res.Failed, Total: res.Attempted, First: first}
	}
	return res, nil
}
