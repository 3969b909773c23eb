package attendance

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Query holds the filters and pagination of an attendance list view.
type Query struct {
	SessionID  string
	StateID    string
	DistrictID string
	BlockID    string
	From       time.Time
	To         time.Time
	Search     string
	PersonType PersonType
	Page       int
	PageSize   int
}

// SingleSession reports whether the view is scoped to exactly one session.
func (q Query) SingleSession() bool {
	return q.SessionID != ""
}

// SameFilters compares every field except Page.
func (q Query) SameFilters(o Query) bool {
	return q.SessionID == o.SessionID &&
		q.StateID == o.StateID &&
		q.DistrictID == o.DistrictID &&
		q.BlockID == o.BlockID &&
		q.From.Equal(o.From) &&
		q.To.Equal(o.To) &&
		q.Search == o.Search &&
		q.PersonType == o.PersonType &&
		q.PageSize == o.PageSize
}

func (q Query) normalize() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	return q
}

// Lister fetches one page of attendance records.
type Lister interface {
	ListAttendance(ctx context.Context, q Query) (RecordSet, error)
}

// SnapshotStore caches the last server response for the view's query.
// The cached set is only ever replaced as a whole.
type SnapshotStore struct {
	lister Lister

	mu        sync.Mutex
	requested Query
	hasQuery  bool
	gen       uint64
	loaded    Query
	current   RecordSet
}

// NewSnapshotStore creates an empty store backed by lister.
func NewSnapshotStore(lister Lister) *SnapshotStore {
	return &SnapshotStore{lister: lister}
}

// Load fetches the page described by q and replaces the cached set.
// If any filter other than the page number changed since the previous
// request, the page is reset to 1. When a newer Load starts before this one
// returns, the result is dropped and ErrStaleLoad is returned.
func (s *SnapshotStore) Load(ctx context.Context, q Query) (RecordSet, error) {
	s.mu.Lock()
	q = q.normalize()
	if s.hasQuery && !s.requested.SameFilters(q) {
		q.Page = 1
	}
	s.requested = q
	s.hasQuery = true
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	set, err := s.lister.ListAttendance(ctx, q)
	if err != nil {
		return RecordSet{}, fmt.Errorf("list attendance: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return RecordSet{}, ErrStaleLoad
	}
	s.loaded = q
	s.current = RecordSet{Records: slices.Clone(set.Records), Total: set.Total}
	return set, nil
}

// Reload re-runs the most recently requested query.
func (s *SnapshotStore) Reload(ctx context.Context) (RecordSet, error) {
	s.mu.Lock()
	q := s.requested
	s.mu.Unlock()
	return s.Load(ctx, q)
}

// Current returns a copy of the cached set.
func (s *SnapshotStore) Current() RecordSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RecordSet{Records: slices.Clone(s.current.Records), Total: s.current.Total}
}

// Query returns the query whose results are currently cached.
func (s *SnapshotStore) Query() Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Lookup finds a cached record by edit key.
func (s *SnapshotStore) Lookup(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Lookup(key)
}

// EffectivePresence applies the unmarked-means-present rule to a record.
func EffectivePresence(r Record) bool {
	return r.Presence.Effective()
}
