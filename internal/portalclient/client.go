package portalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"portal/internal/attendance"
)

// APIError is returned for non-2xx responses from the portal API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("portal api error %d: %s", e.Status, e.Body)
}

// Client calls the remote training-program attendance API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Token returns the bearer token to forward for the request in ctx.
	Token func(ctx context.Context) string
}

// New creates a client with the given request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type wireRecord struct {
	ID         string     `json:"_id"`
	PersonID   string     `json:"personId"`
	PersonType string     `json:"personType"`
	PersonName string     `json:"personName,omitempty"`
	SessionID  string     `json:"sessionId"`
	Present    *bool      `json:"present"`
	MarkedBy   string     `json:"markedBy"`
	MarkedAt   *time.Time `json:"markedAt"`
}

func (w wireRecord) record() attendance.Record {
	r := attendance.Record{
		ID:         w.ID,
		PersonID:   w.PersonID,
		PersonType: attendance.PersonType(w.PersonType),
		PersonName: w.PersonName,
		SessionID:  w.SessionID,
		Presence:   attendance.PresenceOf(w.Present, w.MarkedBy),
		MarkedBy:   w.MarkedBy,
	}
	if w.MarkedAt != nil {
		r.MarkedAt = *w.MarkedAt
	}
	return r
}

type wirePerson struct {
	ID         string      `json:"_id"`
	Name       string      `json:"name"`
	Attendance *wireRecord `json:"attendance"`
}

// ListAttendance fetches one page of records matching q.
func (c *Client) ListAttendance(ctx context.Context, q attendance.Query) (attendance.RecordSet, error) {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("sessionId", q.SessionID)
	set("stateId", q.StateID)
	set("districtId", q.DistrictID)
	set("blockId", q.BlockID)
	set("search", q.Search)
	set("personType", string(q.PersonType))
	if !q.From.IsZero() {
		v.Set("from", q.From.Format(time.DateOnly))
	}
	if !q.To.IsZero() {
		v.Set("to", q.To.Format(time.DateOnly))
	}
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("limit", strconv.Itoa(q.PageSize))

	var out struct {
		Data  []wireRecord `json:"data"`
		Total int          `json:"total"`
	}
	if err := c.do(ctx, http.MethodGet, "/attendance?"+v.Encode(), nil, &out); err != nil {
		return attendance.RecordSet{}, err
	}

	recs := make([]attendance.Record, 0, len(out.Data))
	for _, w := range out.Data {
		recs = append(recs, w.record())
	}
	return attendance.RecordSet{Records: recs, Total: out.Total}, nil
}

// SessionRoster fetches every teacher and student of a session with their
// attendance, unpaginated.
func (c *Client) SessionRoster(ctx context.Context, sessionID string) (attendance.Roster, error) {
	if sessionID == "" {
		return attendance.Roster{}, fmt.Errorf("session id required")
	}
	var out struct {
		Teachers []wirePerson `json:"teachers"`
		Students []wirePerson `json:"students"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/attendance", nil, &out); err != nil {
		return attendance.Roster{}, err
	}

	entries := func(t attendance.PersonType, people []wirePerson) []attendance.RosterEntry {
		res := make([]attendance.RosterEntry, 0, len(people))
		for _, p := range people {
			e := attendance.RosterEntry{PersonID: p.ID, PersonName: p.Name}
			if p.Attendance != nil {
				r := p.Attendance.record()
				r.PersonID, r.PersonType, r.PersonName, r.SessionID = p.ID, t, p.Name, sessionID
				e.Record = &r
			}
			res = append(res, e)
		}
		return res
	}
	return attendance.Roster{
		SessionID: sessionID,
		Teachers:  entries(attendance.Teacher, out.Teachers),
		Students:  entries(attendance.Student, out.Students),
	}, nil
}

// BulkUpsert writes the presence of every person in payload for one session.
func (c *Client) BulkUpsert(ctx context.Context, sessionID string, payload attendance.UpsertPayload) error {
	if sessionID == "" {
		return fmt.Errorf("session id required")
	}
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/attendance", payload, nil)
}

// Toggle flips the presence of one record and returns it as updated.
func (c *Client) Toggle(ctx context.Context, recordID string) (attendance.Record, error) {
	if recordID == "" {
		return attendance.Record{}, fmt.Errorf("record id required")
	}
	var out wireRecord
	if err := c.do(ctx, http.MethodPatch, "/attendance/"+url.PathEscape(recordID)+"/toggle", nil, &out); err != nil {
		return attendance.Record{}, err
	}
	return out.record(), nil
}

// Health checks if the portal API is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != nil {
		if tok := c.Token(ctx); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("portal api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: string(bodyBytes)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
