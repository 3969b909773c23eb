package attendance

import "time"

// SystemMarker is the markedBy value the backend writes on placeholder rows
// that no human has marked yet.
const SystemMarker = "system:not-marked"

// PersonType distinguishes the two kinds of people on a session roster.
type PersonType string

const (
	Teacher PersonType = "Teacher"
	Student PersonType = "Student"
)

// Presence is the tri-state attendance value of a record.
type Presence int

const (
	Unmarked Presence = iota
	Present
	Absent
)

// PresenceOf converts the wire representation (nullable flag plus the
// markedBy sentinel) into a Presence.
func PresenceOf(present *bool, markedBy string) Presence {
	if present == nil || markedBy == SystemMarker {
		return Unmarked
	}
	if *present {
		return Present
	}
	return Absent
}

// Effective reports the boolean used for display and diffing.
// Unmarked people are assumed present.
func (p Presence) Effective() bool {
	return p != Absent
}

func (p Presence) String() string {
	switch p {
	case Present:
		return "present"
	case Absent:
		return "absent"
	default:
		return "unmarked"
	}
}

// Record is one person's attendance for one session as last seen on the server.
type Record struct {
	ID         string
	PersonID   string
	PersonType PersonType
	PersonName string
	SessionID  string
	Presence   Presence
	MarkedBy   string
	MarkedAt   time.Time
}

// Key identifies the record in the pending edit buffer. Records that were never
// written have no ID yet, so they are keyed by person instead.
func (r Record) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return PersonKey(r.PersonType, r.PersonID)
}

// PersonKey is the edit key used for a person without an attendance record.
func PersonKey(t PersonType, personID string) string {
	return string(t) + ":" + personID
}

// RecordSet is a page (or a whole session) of records plus the server-side total.
type RecordSet struct {
	Records []Record
	Total   int
}

// Lookup finds a record by edit key.
func (s RecordSet) Lookup(key string) (Record, bool) {
	for _, r := range s.Records {
		if r.Key() == key {
			return r, true
		}
	}
	return Record{}, false
}

// RosterEntry is one person in a full-session roster. Record is nil when the
// person has no attendance row yet.
type RosterEntry struct {
	PersonID   string
	PersonName string
	Record     *Record
}

// Roster is the complete, unpaginated list of people enrolled in a session.
type Roster struct {
	SessionID string
	Teachers  []RosterEntry
	Students  []RosterEntry
}

// TeacherMark is one teacher line of a bulk upsert.
type TeacherMark struct {
	TeacherID string `json:"teacherId"`
	Present   bool   `json:"present"`
}

// StudentMark is one student line of a bulk upsert.
type StudentMark struct {
	StudentID string `json:"studentId"`
	Present   bool   `json:"present"`
}

// UpsertPayload replaces the presence of every person in one session.
type UpsertPayload struct {
	Teachers []TeacherMark `json:"teachers,omitempty"`
	Students []StudentMark `json:"students,omitempty"`
}
