package attendance

import (
	"context"

	"seminarhub/internal/store"
)

// Repository reads and writes attendance and joined_participants rows.
type Repository struct {
	store store.Store
}

// NewRepository creates a repo.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// List returns a seminar's attendance ordered by creation.
func (r *Repository) List(ctx context.Context, seminarID string) ([]store.Record, error) {
	return r.store.Select(ctx, store.From(store.Attendance).Eq("seminar_id", seminarID).OrderBy("created_at"))
}

// Find returns the attendance record of a participant. Absence is reported
// with found == false.
func (r *Repository) Find(ctx context.Context, seminarID, email string) (store.Record, bool, error) {
	return r.store.First(ctx, store.From(store.Attendance).
		Eq("seminar_id", seminarID).Eq("participant_email", email))
}

// Open returns the records of participants that have not timed out yet.
func (r *Repository) Open(ctx context.Context, seminarID string) ([]store.Record, error) {
	return r.store.Select(ctx, store.From(store.Attendance).
		Eq("seminar_id", seminarID).IsNull(TimeOutField).OrderBy("created_at"))
}

// Insert creates a record with only field set.
func (r *Repository) Insert(ctx context.Context, seminarID, email, field, value string) ([]store.Record, error) {
	return r.store.Insert(ctx, store.Attendance, store.Record{
		"seminar_id":        seminarID,
		"participant_email": email,
		field:               value,
	})
}

// SetField updates one column of the record with the given id.
func (r *Repository) SetField(ctx context.Context, id any, field, value string) ([]store.Record, error) {
	return r.store.Update(ctx, store.From(store.Attendance).Eq("id", id), store.Record{field: value})
}

// MarkParticipant sets present and one timestamp on every registration of
// email for the seminar.
func (r *Repository) MarkParticipant(ctx context.Context, seminarID, email string, present bool, field, value string) ([]store.Record, error) {
	return r.store.Update(ctx, store.From(store.JoinedParticipants).
		Eq("seminar_id", seminarID).Eq("participant_email", email),
		store.Record{"present": present, field: value})
}
