package audit

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry is one finished attendance save.
type Entry struct {
	ID        string    `json:"id"`
	ViewID    string    `json:"view_id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	Strategy  string    `json:"strategy"`
	Pending   int       `json:"pending"`
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Changed   int       `json:"changed"`
	Skipped   int       `json:"skipped"`
	NoChanges bool      `json:"no_changes"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListFilter narrows ListEntries.
type ListFilter struct {
	SessionID string
	UserID    string
	Limit     int
	Offset    int
}

const schema = `
CREATE TABLE IF NOT EXISTS attendance_commits (
	id          UUID PRIMARY KEY,
	view_id     TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	session_id  TEXT,
	strategy    TEXT NOT NULL,
	pending     INT NOT NULL DEFAULT 0,
	attempted   INT NOT NULL DEFAULT 0,
	succeeded   INT NOT NULL DEFAULT 0,
	failed      INT NOT NULL DEFAULT 0,
	changed     INT NOT NULL DEFAULT 0,
	skipped     INT NOT NULL DEFAULT 0,
	no_changes  BOOLEAN NOT NULL DEFAULT FALSE,
	error       TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_attendance_commits_session ON attendance_commits (session_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_attendance_commits_user ON attendance_commits (user_id, created_at DESC);
`

// Repository persists the commit log in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the commit log table if needed.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Insert writes an entry. Entries are idempotent on ID so a redelivered
// queue message does not duplicate a row.
func (r *Repository) Insert(ctx context.Context, e Entry) (Entry, error) {
	if e.ViewID == "" || e.UserID == "" {
		return Entry{}, errors.New("view and user required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_commits
			(id, view_id, user_id, session_id, strategy, pending, attempted, succeeded, failed, changed, skipped, no_changes, error, created_at)
		VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12,NULLIF($13,''),$14)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.ViewID, e.UserID, e.SessionID, e.Strategy, e.Pending, e.Attempted, e.Succeeded, e.Failed, e.Changed, e.Skipped, e.NoChanges, e.Error, e.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// List returns entries newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Entry, error) {
	query, args := buildListQuery(f)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Entry
	for rows.Next() {
		var (
			e         Entry
			sessionID sql.NullString
			errText   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ViewID, &e.UserID, &sessionID, &e.Strategy, &e.Pending, &e.Attempted,
			&e.Succeeded, &e.Failed, &e.Changed, &e.Skipped, &e.NoChanges, &errText, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SessionID, e.Error = sessionID.String, errText.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func buildListQuery(f ListFilter) (string, []any) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT id, view_id, user_id, session_id, strategy, pending, attempted, succeeded, failed, changed, skipped, no_changes, error, created_at FROM attendance_commits`
	var (
		args    []any
		clauses []string
	)
	if f.SessionID != "" {
		args = append(args, f.SessionID)
		clauses = append(clauses, "session_id = $"+strconv.Itoa(len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		clauses = append(clauses, "user_id = $"+strconv.Itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, f.Limit, f.Offset)
	return query, args
}
