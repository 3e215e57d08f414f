package store

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Table names.
const (
	Seminars           = "seminars"
	Attendance         = "attendance"
	JoinedParticipants = "joined_participants"
	Evaluations        = "evaluations"
	APILogs            = "api_logs"
)

// SchemaSQL creates every table the service uses.
//
//go:embed schema.sql
var SchemaSQL string

// Table describes the columns of one table.
type Table struct {
	Name    string
	Columns []string
	// Generated holds the values a store fills in on insert when absent.
	Generated map[string]func(now time.Time) any
}

// Has reports whether column belongs to the table.
func (t Table) Has(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Check rejects records with columns outside the table.
func (t Table) Check(rec Record) error {
	for k := range rec {
		if !t.Has(k) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.Name, k)
		}
	}
	return nil
}

func newID(time.Time) any { return uuid.NewString() }

func stamp(t time.Time) any { return FormatTime(t) }

var tables = map[string]Table{
	Seminars: {
		Name: Seminars,
		Columns: []string{
			"id", "title", "duration", "speaker", "capacity", "date",
			"start_datetime", "end_datetime", "start_time", "end_time",
			"questions", "metadata", "certificate_template_url", "created_at", "updated_at",
		},
		Generated: map[string]func(time.Time) any{"id": newID, "created_at": stamp},
	},
	Attendance: {
		Name:      Attendance,
		Columns:   []string{"id", "seminar_id", "participant_email", "time_in", "time_out", "created_at"},
		Generated: map[string]func(time.Time) any{"id": newID, "created_at": stamp},
	},
	JoinedParticipants: {
		Name: JoinedParticipants,
		Columns: []string{
			"id", "seminar_id", "participant_email", "participant_name", "metadata",
			"present", "check_in", "check_out", "joined_at",
		},
		Generated: map[string]func(time.Time) any{
			"id":        newID,
			"joined_at": stamp,
			"present":   func(time.Time) any { return false },
		},
	},
	Evaluations: {
		Name:      Evaluations,
		Columns:   []string{"id", "seminar_id", "participant_email", "answers", "created_at"},
		Generated: map[string]func(time.Time) any{"id": newID, "created_at": stamp},
	},
	APILogs: {
		Name:      APILogs,
		Columns:   []string{"id", "timestamp", "endpoint", "method", "status_code", "error_message"},
		Generated: map[string]func(time.Time) any{"id": newID, "timestamp": stamp},
	},
}

// Lookup returns the description of a table.
func Lookup(name string) (Table, error) {
	t, ok := tables[name]
	if !ok {
		return Table{}, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return t, nil
}
