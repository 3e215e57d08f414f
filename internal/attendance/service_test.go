package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"seminarhub/internal/store"
)

// plainStore hides OnceSetter so the read-then-write path runs.
type plainStore struct{ store.Store }

// flakyLookups fails every First call.
type flakyLookups struct{ store.Store }

func (flakyLookups) First(context.Context, store.Query) (store.Record, bool, error) {
	return nil, false, errors.New("connection reset")
}

type brokenLocker struct{}

func (brokenLocker) Lock(context.Context, string) (func(), error) {
	return nil, errors.New("redis down")
}

func newService(s store.Store, locks Locker) (*Service, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	svc := NewService(s, locks, zap.New(core))
	tick := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	svc.clock = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Minute)
		return tick
	}
	return svc, logs
}

func backends() map[string]func(*store.Memory) store.Store {
	return map[string]func(*store.Memory) store.Store{
		"atomic":          func(m *store.Memory) store.Store { return m },
		"read then write": func(m *store.Memory) store.Store { return plainStore{m} },
	}
}

func TestTimeInIsWrittenOnce(t *testing.T) {
	for name, wrap := range backends() {
		t.Run(name, func(t *testing.T) {
			mem := store.NewMemory()
			svc, _ := newService(wrap(mem), nil)
			ctx := context.Background()

			first, err := svc.TimeIn(ctx, "s1", "a@x.com")
			require.NoError(t, err)
			assert.Equal(t, store.Created, first.Outcome)
			assert.Equal(t, "2024-05-01T09:01:00.000000Z", first.Record["time_in"])
			assert.Nil(t, first.Record["time_out"])

			second, err := svc.TimeIn(ctx, "s1", "a@x.com")
			require.NoError(t, err)
			assert.Equal(t, store.Unchanged, second.Outcome)
			assert.Equal(t, first.Record["time_in"], second.Record["time_in"])
			assert.Equal(t, []store.Record{second.Record}, second.Rows())
		})
	}
}

func TestTimeInThenTimeOutSharesOneRecord(t *testing.T) {
	for name, wrap := range backends() {
		t.Run(name, func(t *testing.T) {
			mem := store.NewMemory()
			svc, _ := newService(wrap(mem), nil)
			ctx := context.Background()

			in, err := svc.TimeIn(ctx, "s1", "a@x.com")
			require.NoError(t, err)
			out, err := svc.TimeOut(ctx, "s1", "a@x.com")
			require.NoError(t, err)
			assert.Equal(t, store.Updated, out.Outcome)
			assert.Equal(t, in.Record["id"], out.Record["id"])
			assert.NotNil(t, out.Record["time_in"])
			assert.NotNil(t, out.Record["time_out"])
			assert.Equal(t, 1, mem.Len(store.Attendance))

			rows, err := svc.Repo().List(ctx, "s1")
			require.NoError(t, err)
			assert.Len(t, rows, 1)
		})
	}
}

func TestTimeOutWithoutTimeInCreatesRecord(t *testing.T) {
	mem := store.NewMemory()
	svc, _ := newService(plainStore{mem}, nil)

	m, err := svc.TimeOut(context.Background(), "s1", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, store.Created, m.Outcome)
	assert.Nil(t, m.Record["time_in"])
	assert.NotNil(t, m.Record["time_out"])
}

func TestConcurrentTimeInCreatesOneRecord(t *testing.T) {
	for name, wrap := range backends() {
		t.Run(name, func(t *testing.T) {
			mem := store.NewMemory()
			svc, _ := newService(wrap(mem), NewKeyedMutex())

			var wg sync.WaitGroup
			var mu sync.Mutex
			created := 0
			for i := 0; i < 25; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					m, err := svc.TimeIn(context.Background(), "s1", "a@x.com")
					assert.NoError(t, err)
					if m.Outcome == store.Created {
						mu.Lock()
						created++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, created)
			assert.Equal(t, 1, mem.Len(store.Attendance))
		})
	}
}

func TestLookupFailureFailsOpen(t *testing.T) {
	mem := store.NewMemory()
	svc, logs := newService(flakyLookups{mem}, nil)

	m, err := svc.TimeIn(context.Background(), "s1", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, store.Created, m.Outcome)
	assert.Equal(t, 1, logs.FilterMessage("attendance table check failed").Len())
}

func TestLockFailureFailsOpen(t *testing.T) {
	mem := store.NewMemory()
	svc, logs := newService(plainStore{mem}, brokenLocker{})

	m, err := svc.TimeIn(context.Background(), "s1", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, store.Created, m.Outcome)
	assert.Equal(t, 1, logs.FilterMessage("attendance lock unavailable, continuing unlocked").Len())
}

func TestCheckInAndOut(t *testing.T) {
	mem := store.NewMemory()
	svc, _ := newService(mem, nil)
	ctx := context.Background()

	_, err := svc.CheckIn(ctx, "s1", "a@x.com")
	assert.ErrorIs(t, err, ErrParticipantNotFound)

	_, err = mem.Insert(ctx, store.JoinedParticipants, store.Record{"seminar_id": "s1", "participant_email": "a@x.com"})
	require.NoError(t, err)

	rows, err := svc.CheckIn(ctx, "s1", "a@x.com")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, true, rows[0]["present"])
	assert.NotNil(t, rows[0]["check_in"])
	assert.Nil(t, rows[0]["check_out"])

	rows, err = svc.CheckOut(ctx, "s1", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, false, rows[0]["present"])
	assert.NotNil(t, rows[0]["check_out"])

	_, err = svc.CheckOut(ctx, "s2", "a@x.com")
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestOpenListsParticipantsStillPresent(t *testing.T) {
	svc, _ := newService(store.NewMemory(), nil)
	ctx := context.Background()

	_, err := svc.TimeIn(ctx, "s1", "stays@x.com")
	require.NoError(t, err)
	_, err = svc.TimeIn(ctx, "s1", "leaves@x.com")
	require.NoError(t, err)
	_, err = svc.TimeOut(ctx, "s1", "leaves@x.com")
	require.NoError(t, err)
	_, err = svc.TimeIn(ctx, "s2", "elsewhere@x.com")
	require.NoError(t, err)

	open, err := svc.Repo().Open(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "stays@x.com", open[0]["participant_email"])
}
