package handler

import (
	"fmt"
	"strings"
	"time"

	"portal/internal/attendance"
)

type queryRequest struct {
	SessionID  string `json:"sessionId" form:"sessionId"`
	StateID    string `json:"stateId" form:"stateId"`
	DistrictID string `json:"districtId" form:"districtId"`
	BlockID    string `json:"blockId" form:"blockId"`
	From       string `json:"from" form:"from"`
	To         string `json:"to" form:"to"`
	Search     string `json:"search" form:"search"`
	PersonType string `json:"personType" form:"personType"`
	Page       int    `json:"page" form:"page"`
	Limit      int    `json:"limit" form:"limit"`
}

func (r queryRequest) toQuery() (attendance.Query, error) {
	q := attendance.Query{
		SessionID:  strings.TrimSpace(r.SessionID),
		StateID:    r.StateID,
		DistrictID: r.DistrictID,
		BlockID:    r.BlockID,
		Search:     strings.TrimSpace(r.Search),
		Page:       r.Page,
		PageSize:   r.Limit,
	}
	var err error
	if q.From, err = parseDate(r.From); err != nil {
		return q, fmt.Errorf("from: %w", err)
	}
	if q.To, err = parseDate(r.To); err != nil {
		return q, fmt.Errorf("to: %w", err)
	}
	switch strings.ToLower(r.PersonType) {
	case "":
	case "teacher":
		q.PersonType = attendance.Teacher
	case "student":
		q.PersonType = attendance.Student
	default:
		return q, fmt.Errorf("personType must be Teacher or Student")
	}
	return q, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

type queryDTO struct {
	SessionID  string `json:"sessionId,omitempty"`
	StateID    string `json:"stateId,omitempty"`
	DistrictID string `json:"districtId,omitempty"`
	BlockID    string `json:"blockId,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Search     string `json:"search,omitempty"`
	PersonType string `json:"personType,omitempty"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
}

type rowDTO struct {
	Key        string     `json:"key"`
	ID         string     `json:"id,omitempty"`
	PersonID   string     `json:"personId"`
	PersonType string     `json:"personType"`
	PersonName string     `json:"personName"`
	SessionID  string     `json:"sessionId,omitempty"`
	Presence   string     `json:"presence"`
	Present    bool       `json:"present"`
	Pending    bool       `json:"pending"`
	MarkedBy   string     `json:"markedBy,omitempty"`
	MarkedAt   *time.Time `json:"markedAt,omitempty"`
}

type viewDTO struct {
	ID           string   `json:"id"`
	Mode         string   `json:"mode"`
	Busy         bool     `json:"busy"`
	Query        queryDTO `json:"query"`
	Total        int      `json:"total"`
	PendingCount int      `json:"pendingCount"`
	Rows         []rowDTO `json:"rows"`
}

func newViewDTO(id string, s attendance.ViewState) viewDTO {
	out := viewDTO{
		ID:           id,
		Mode:         s.Mode.String(),
		Busy:         s.Busy,
		Total:        s.Total,
		PendingCount: s.PendingCount,
		Rows:         make([]rowDTO, 0, len(s.Rows)),
		Query: queryDTO{
			SessionID:  s.Query.SessionID,
			StateID:    s.Query.StateID,
			DistrictID: s.Query.DistrictID,
			BlockID:    s.Query.BlockID,
			From:       formatDate(s.Query.From),
			To:         formatDate(s.Query.To),
			Search:     s.Query.Search,
			PersonType: string(s.Query.PersonType),
			Page:       s.Query.Page,
			Limit:      s.Query.PageSize,
		},
	}
	for _, row := range s.Rows {
		r := row.Record
		dto := rowDTO{
			Key:        r.Key(),
			ID:         r.ID,
			PersonID:   r.PersonID,
			PersonType: string(r.PersonType),
			PersonName: r.PersonName,
			SessionID:  r.SessionID,
			Presence:   r.Presence.String(),
			Present:    row.Effective,
			Pending:    row.Pending,
			MarkedBy:   r.MarkedBy,
		}
		if !r.MarkedAt.IsZero() {
			t := r.MarkedAt
			dto.MarkedAt = &t
		}
		out.Rows = append(out.Rows, dto)
	}
	return out
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

type resultDTO struct {
	Strategy      string `json:"strategy,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	Attempted     int    `json:"attempted"`
	Succeeded     int    `json:"succeeded"`
	Failed        int    `json:"failed"`
	Changed       int    `json:"changed"`
	Skipped       int    `json:"skipped"`
	NoChanges     bool   `json:"noChanges"`
	RefreshFailed bool   `json:"refreshFailed,omitempty"`
	ElapsedMS     int64  `json:"elapsedMs"`
	Message       string `json:"message"`
}

func newResultDTO(r attendance.Result) resultDTO {
	return resultDTO{
		Strategy:      string(r.Strategy),
		SessionID:     r.SessionID,
		Attempted:     r.Attempted,
		Succeeded:     r.Succeeded,
		Failed:        r.Failed,
		Changed:       r.Changed,
		Skipped:       r.Skipped,
		NoChanges:     r.NoChanges,
		RefreshFailed: r.RefreshFailed,
		ElapsedMS:     r.Elapsed.Milliseconds(),
		Message:       r.Message(),
	}
}
