package attendance

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"seminarhub/internal/metrics"
	"seminarhub/internal/store"
)

// Timestamp columns.
const (
	TimeInField   = "time_in"
	TimeOutField  = "time_out"
	CheckInField  = "check_in"
	CheckOutField = "check_out"
)

// ErrParticipantNotFound is returned by check-in and check-out when nobody
// with that email joined the seminar.
var ErrParticipantNotFound = errors.New("participant not found for this seminar")

// Mark is the result of a time-in or time-out call.
type Mark struct {
	Record  store.Record
	Outcome store.Outcome
}

// Rows returns the record in the list shape used by write responses.
func (m Mark) Rows() []store.Record {
	return []store.Record{m.Record}
}

// Service records attendance so that each (seminar, participant) pair has
// at most one record and each timestamp is written once.
type Service struct {
	repo  *Repository
	once  store.OnceSetter
	locks Locker
	log   *zap.Logger
	clock func() time.Time
}

// NewService creates a service over s. When s can set a column atomically
// locks are not used.
func NewService(s store.Store, locks Locker, log *zap.Logger) *Service {
	if locks == nil {
		locks = NewKeyedMutex()
	}
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Service{repo: NewRepository(s), locks: locks, log: log, clock: time.Now}
	if once, ok := s.(store.OnceSetter); ok {
		svc.once = once
	}
	return svc
}

// Repo exposes the underlying repository for read endpoints.
func (s *Service) Repo() *Repository { return s.repo }

// TimeIn records the first arrival of a participant.
func (s *Service) TimeIn(ctx context.Context, seminarID, email string) (Mark, error) {
	return s.mark(ctx, TimeInField, seminarID, email)
}

// TimeOut records the first departure of a participant.
func (s *Service) TimeOut(ctx context.Context, seminarID, email string) (Mark, error) {
	return s.mark(ctx, TimeOutField, seminarID, email)
}

// CheckIn marks a joined participant present.
func (s *Service) CheckIn(ctx context.Context, seminarID, email string) ([]store.Record, error) {
	return s.markParticipant(ctx, seminarID, email, true, CheckInField)
}

// CheckOut marks a joined participant absent again.
func (s *Service) CheckOut(ctx context.Context, seminarID, email string) ([]store.Record, error) {
	return s.markParticipant(ctx, seminarID, email, false, CheckOutField)
}

func (s *Service) markParticipant(ctx context.Context, seminarID, email string, present bool, field string) ([]store.Record, error) {
	rows, err := s.repo.MarkParticipant(ctx, seminarID, email, present, field, store.FormatTime(s.clock()))
	if err != nil {
		metrics.AttendanceMarks.WithLabelValues(field, "error").Inc()
		return nil, err
	}
	if len(rows) == 0 {
		metrics.AttendanceMarks.WithLabelValues(field, "not_found").Inc()
		return nil, ErrParticipantNotFound
	}
	metrics.AttendanceMarks.WithLabelValues(field, store.Updated.String()).Inc()
	return rows, nil
}

func (s *Service) mark(ctx context.Context, field, seminarID, email string) (Mark, error) {
	var (
		m   Mark
		err error
	)
	if s.once != nil {
		key := store.Record{"seminar_id": seminarID, "participant_email": email}
		m.Record, m.Outcome, err = s.once.SetOnce(ctx, store.Attendance, key, field, store.FormatTime(s.clock()))
	} else {
		m, err = s.markLocked(ctx, field, seminarID, email)
	}
	if err != nil {
		metrics.AttendanceMarks.WithLabelValues(field, "error").Inc()
		return Mark{}, err
	}
	metrics.AttendanceMarks.WithLabelValues(field, m.Outcome.String()).Inc()
	return m, nil
}

// markLocked is the read-then-write path for stores without OnceSetter.
// The pair lock and the lookup both fail open.
func (s *Service) markLocked(ctx context.Context, field, seminarID, email string) (Mark, error) {
	log := s.log.With(zap.String("field", field), zap.String("seminar_id", seminarID), zap.String("participant_email", email))

	unlock, err := s.locks.Lock(ctx, seminarID+"|"+email)
	if err != nil {
		log.Warn("attendance lock unavailable, continuing unlocked", zap.Error(err))
	} else {
		defer unlock()
	}

	existing, found, err := s.repo.Find(ctx, seminarID, email)
	if err != nil {
		log.Warn("attendance table check failed", zap.Error(err))
		found = false
	}
	now := store.FormatTime(s.clock())

	if found {
		if existing.Set(field) {
			return Mark{Record: existing, Outcome: store.Unchanged}, nil
		}
		rows, err := s.repo.SetField(ctx, existing["id"], field, now)
		if err != nil {
			return Mark{}, err
		}
		if len(rows) > 0 {
			return Mark{Record: rows[0], Outcome: store.Updated}, nil
		}
		log.Warn("attendance record vanished before update")
	}

	rows, err := s.repo.Insert(ctx, seminarID, email, field, now)
	if err != nil {
		return Mark{}, err
	}
	if len(rows) == 0 {
		return Mark{}, errors.New("store returned no attendance row")
	}
	return Mark{Record: rows[0], Outcome: store.Created}, nil
}
