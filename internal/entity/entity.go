// Package entity defines the envelope shared by every synced row and the
// fixed set of table kinds the engine knows about. Entity-specific fields
// are opaque to the engine: it only ever reads and writes the envelope.
package entity

import (
	"time"

	"github.com/google/uuid"
)

// Table enumerates the synced entity kinds. The engine is entity-agnostic
// beyond this fixed set; adding a domain entity means adding one constant
// here plus a table in the local store and the remote store.
type Table string

const (
	TableGoals          Table = "goals"
	TableRoutines       Table = "routines"
	TableRoutineEntries Table = "routine_entries"
	TableHabits         Table = "habits"
	TableTasks          Table = "tasks"
	TableProjects       Table = "projects"
	TableTags           Table = "tags"
	TableNotes          Table = "notes"
	TableReminders      Table = "reminders"
	TableJournalEntries Table = "journal_entries"
	TableSettings       Table = "settings"
	TableDevices        Table = "devices"
)

// Tables lists every synced table the engine knows about, in a stable
// order used for parallel pull reconcile (§4.6) and for clearing local
// state on logout.
var Tables = []Table{
	TableGoals,
	TableRoutines,
	TableRoutineEntries,
	TableHabits,
	TableTasks,
	TableProjects,
	TableTags,
	TableNotes,
	TableReminders,
	TableJournalEntries,
	TableSettings,
	TableDevices,
}

// Valid reports whether t is one of the fixed, enumerated table kinds.
func (t Table) Valid() bool {
	for _, known := range Tables {
		if known == t {
			return true
		}
	}
	return false
}

// Fields is the opaque, entity-specific payload of a row: everything the
// engine does not interpret. Envelope columns never appear as keys here;
// they live on Envelope instead.
type Fields map[string]any

// Envelope holds the fields every synced row carries regardless of table,
// per spec §3. UserID, CreatedAt and ID are never subject to conflict
// merging (§4.7 Tier 2).
type Envelope struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Deleted   bool      `json:"deleted"`
	Version   int64     `json:"_version"`
	DeviceID  string    `json:"device_id"`
}

// Row is a full synced row: envelope plus opaque entity fields.
type Row struct {
	Envelope
	Table  Table  `json:"-"`
	Fields Fields `json:"fields"`
}

// Clone returns a deep-enough copy of r suitable for mutation without
// aliasing the caller's Fields map.
func (r *Row) Clone() *Row {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Fields = make(Fields, len(r.Fields))
	for k, v := range r.Fields {
		cp.Fields[k] = v
	}
	return &cp
}

// Get returns the value of an entity field, or (nil, false) if absent.
// "deleted", "updated_at", "_version" and other envelope fields are never
// read through Get; callers use the Envelope struct fields directly.
func (r *Row) Get(field string) (any, bool) {
	v, ok := r.Fields[field]
	return v, ok
}

// NewID generates a globally unique row identifier. The generator's
// randomness is what guarantees the "at-most-one active create per id"
// invariant of spec §3: two devices never independently mint the same id.
func NewID() string {
	return uuid.NewString()
}
