package attendance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

var errBackend = errors.New("backend unavailable")

// fakeBackend is an in-memory stand-in for the remote API.
type fakeBackend struct {
	mu sync.Mutex

	page   RecordSet
	listFn func(ctx context.Context, q Query) (RecordSet, error)

	roster    Roster
	rosterErr error
	upsertErr error

	failToggle map[string]bool
	toggleGate chan struct{}

	listCalls   int
	rosterCalls int
	queries     []Query
	upserts     []UpsertPayload
	toggled     []string
}

func (f *fakeBackend) ListAttendance(ctx context.Context, q Query) (RecordSet, error) {
	f.mu.Lock()
	f.listCalls++
	f.queries = append(f.queries, q)
	fn, page := f.listFn, f.page
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, q)
	}
	return page, nil
}

func (f *fakeBackend) SessionRoster(_ context.Context, _ string) (Roster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rosterCalls++
	return f.roster, f.rosterErr
}

func (f *fakeBackend) BulkUpsert(_ context.Context, _ string, payload UpsertPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, payload)
	return nil
}

func (f *fakeBackend) Toggle(_ context.Context, id string) (Record, error) {
	if f.toggleGate != nil {
		<-f.toggleGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggled = append(f.toggled, id)
	if f.failToggle[id] {
		return Record{}, fmt.Errorf("toggle %s: %w", id, errBackend)
	}
	return Record{ID: id}, nil
}

// networkCalls counts every call except listing.
func (f *fakeBackend) networkCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rosterCalls + len(f.upserts) + len(f.toggled)
}

type allow bool

func (a allow) CanMarkAttendance(context.Context) bool { return bool(a) }

func boolPtr(b bool) *bool { return &b }

func present(id string) Record {
	return Record{ID: id, PersonID: "p-" + id, PersonType: Student, Presence: Present, MarkedBy: "trainer-1"}
}

func absent(id string) Record {
	return Record{ID: id, PersonID: "p-" + id, PersonType: Student, Presence: Absent, MarkedBy: "trainer-1"}
}

func unmarked(id string) Record {
	return Record{ID: id, PersonID: "p-" + id, PersonType: Student, Presence: Unmarked, MarkedBy: SystemMarker}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
