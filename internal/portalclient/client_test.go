package portalclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal/internal/attendance"
)

var _ attendance.Backend = (*Client)(nil)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(srv.URL, 5*time.Second)
	c.Token = func(context.Context) string { return "tok" }
	return c
}

func TestListAttendance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/attendance", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "s1", q.Get("sessionId"))
		assert.Equal(t, "2024-06-01", q.Get("from"))
		assert.Equal(t, "", q.Get("to"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "25", q.Get("limit"))
		assert.Equal(t, "Student", q.Get("personType"))

		_, _ = w.Write([]byte(`{"data":[
			{"_id":"a1","personId":"p1","personType":"Student","sessionId":"s1","present":false,"markedBy":"u1"},
			{"_id":"a2","personId":"p2","personType":"Student","sessionId":"s1","markedBy":"system:not-marked"},
			{"_id":"a3","personId":"p3","personType":"Teacher","sessionId":"s1","present":true,"markedBy":"u1","markedAt":"2024-06-01T10:00:00Z"}
		],"total":42}`))
	})

	set, err := c.ListAttendance(context.Background(), attendance.Query{
		SessionID:  "s1",
		From:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		PersonType: attendance.Student,
		Page:       2,
		PageSize:   25,
	})
	require.NoError(t, err)
	assert.Equal(t, 42, set.Total)
	require.Len(t, set.Records, 3)
	assert.Equal(t, attendance.Absent, set.Records[0].Presence)
	assert.Equal(t, attendance.Unmarked, set.Records[1].Presence)
	assert.True(t, set.Records[1].Presence.Effective())
	assert.Equal(t, attendance.Present, set.Records[2].Presence)
	assert.Equal(t, attendance.Teacher, set.Records[2].PersonType)
	assert.False(t, set.Records[2].MarkedAt.IsZero())
}

func TestSessionRoster(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/sessions/s1/attendance", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"teachers":[{"_id":"t1","name":"Asha","attendance":{"_id":"r1","present":false,"markedBy":"u1"}}],
			"students":[{"_id":"s1","name":"Ravi","attendance":null}]
		}`))
	})

	roster, err := c.SessionRoster(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, roster.Teachers, 1)
	require.Len(t, roster.Students, 1)

	tr := roster.Teachers[0].Record
	require.NotNil(t, tr)
	assert.Equal(t, "r1", tr.ID)
	assert.Equal(t, "t1", tr.PersonID)
	assert.Equal(t, attendance.Teacher, tr.PersonType)
	assert.Equal(t, attendance.Absent, tr.Presence)
	assert.Nil(t, roster.Students[0].Record)
	assert.Equal(t, "Ravi", roster.Students[0].PersonName)
}

func TestBulkUpsert(t *testing.T) {
	var got map[string]json.RawMessage
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sessions/s1/attendance", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	err := c.BulkUpsert(context.Background(), "s1", attendance.UpsertPayload{
		Teachers: []attendance.TeacherMark{{TeacherID: "t1", Present: true}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"teacherId":"t1","present":true}]`, string(got["teachers"]))
	_, hasStudents := got["students"]
	assert.False(t, hasStudents, "empty side is omitted")
}

func TestToggle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/attendance/a1/toggle", r.URL.Path)
		_, _ = w.Write([]byte(`{"_id":"a1","personId":"p1","personType":"Student","present":true,"markedBy":"u1"}`))
	})

	rec, err := c.Toggle(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, attendance.Present, rec.Presence)

	_, err = c.Toggle(context.Background(), "")
	assert.Error(t, err)
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	err := c.Health(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Contains(t, apiErr.Body, "boom")
}

func TestNoTokenHeaderWhenEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
	})
	c.Token = nil
	require.NoError(t, c.Health(context.Background()))
}
