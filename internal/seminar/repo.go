package seminar

import (
	"context"
	"errors"
	"time"

	"seminarhub/internal/store"
)

// ErrNotFound is returned when no seminar has the requested id.
var ErrNotFound = errors.New("seminar not found")

// Repository reads and writes seminars, joined participants and evaluations.
type Repository struct {
	store store.Store
	clock func() time.Time
}

// NewRepository creates a repo over s.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s, clock: time.Now}
}

// List returns every seminar ordered by date.
func (r *Repository) List(ctx context.Context) ([]store.Record, error) {
	return r.store.Select(ctx, store.From(store.Seminars).OrderBy("date"))
}

// Get returns one seminar or ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (store.Record, error) {
	rec, found, err := r.store.First(ctx, store.From(store.Seminars).Eq("id", id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Create inserts a seminar built from a validated body.
func (r *Repository) Create(ctx context.Context, body map[string]any) ([]store.Record, error) {
	return r.store.Insert(ctx, store.Seminars, Payload(body))
}

// Replace overwrites every writable column of seminar id.
func (r *Repository) Replace(ctx context.Context, id string, body map[string]any) ([]store.Record, error) {
	rows, err := r.store.Update(ctx, store.From(store.Seminars).Eq("id", id), Replacement(body, r.clock()))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows, nil
}

// Delete removes seminar id. Deleting a missing seminar is not an error.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, store.From(store.Seminars).Eq("id", id))
}

// SetTemplate records the certificate template location.
func (r *Repository) SetTemplate(ctx context.Context, id, url string) ([]store.Record, error) {
	rows, err := r.store.Update(ctx, store.From(store.Seminars).Eq("id", id), store.Record{
		"certificate_template_url": url,
		"updated_at":               store.FormatTime(r.clock()),
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows, nil
}

// Join registers a participant.
func (r *Repository) Join(ctx context.Context, seminarID string, body map[string]any) ([]store.Record, error) {
	return r.store.Insert(ctx, store.JoinedParticipants, store.Record{
		"seminar_id":        seminarID,
		"participant_email": body["participant_email"],
		"participant_name":  body["participant_name"],
		"metadata":          body["metadata"],
	})
}

// Participants lists who joined a seminar, oldest first.
func (r *Repository) Participants(ctx context.Context, seminarID string) ([]store.Record, error) {
	return r.store.Select(ctx, store.From(store.JoinedParticipants).Eq("seminar_id", seminarID).OrderBy("joined_at"))
}

// Participant returns the first registration of email, if any.
func (r *Repository) Participant(ctx context.Context, seminarID, email string) (store.Record, bool, error) {
	return r.store.First(ctx, store.From(store.JoinedParticipants).
		Eq("seminar_id", seminarID).Eq("participant_email", email).OrderBy("joined_at"))
}

// Submit stores an evaluation. Repeated submissions are kept.
func (r *Repository) Submit(ctx context.Context, seminarID string, body map[string]any) ([]store.Record, error) {
	return r.store.Insert(ctx, store.Evaluations, store.Record{
		"seminar_id":        seminarID,
		"participant_email": body["participant_email"],
		"answers":           body["answers"],
	})
}

// Evaluations lists a seminar's evaluations, optionally for one participant.
func (r *Repository) Evaluations(ctx context.Context, seminarID, email string) ([]store.Record, error) {
	q := store.From(store.Evaluations).Eq("seminar_id", seminarID)
	if email != "" {
		q = q.Eq("participant_email", email)
	}
	return r.store.Select(ctx, q)
}

// HasEvaluated reports whether email submitted at least one evaluation.
func (r *Repository) HasEvaluated(ctx context.Context, seminarID, email string) (bool, error) {
	_, found, err := r.store.First(ctx, store.From(store.Evaluations).
		Eq("seminar_id", seminarID).Eq("participant_email", email))
	return found, err
}
