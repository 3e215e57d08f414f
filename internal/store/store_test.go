package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seminarhub/internal/metrics"
)

func TestQueryBuilderDoesNotShareFilters(t *testing.T) {
	base := From(Attendance).Eq("seminar_id", "s1")
	a := base.Eq("participant_email", "a@x")
	b := base.IsNull("time_out")

	require.Len(t, a.Filters, 2)
	require.Len(t, b.Filters, 2)
	assert.Equal(t, "participant_email", a.Filters[1].Column)
	assert.Equal(t, OpIsNull, b.Filters[1].Op)
	assert.Len(t, base.Filters, 1)
}

func TestQueryValidate(t *testing.T) {
	assert.NoError(t, From(Seminars).Eq("id", "1").OrderBy("date").Validate())
	assert.ErrorIs(t, From("nope").Validate(), ErrUnknownTable)
	assert.ErrorIs(t, From(Seminars).Eq("email", "x").Validate(), ErrUnknownColumn)
	assert.ErrorIs(t, From(Seminars).OrderBy("joined_at").Validate(), ErrUnknownColumn)
}

func TestRecordHelpers(t *testing.T) {
	r := Record{"a": "x", "b": nil, "c": "", "d": 3}
	assert.True(t, r.Set("a"))
	assert.False(t, r.Set("b"))
	assert.False(t, r.Set("c"))
	assert.False(t, r.Set("missing"))
	assert.True(t, r.Set("d"))
	assert.Equal(t, "3", r.String("d"))
	assert.Equal(t, "", r.String("b"))
	assert.Nil(t, Record(nil).Clone())
}

func TestConfigErrorMessage(t *testing.T) {
	err := &ConfigError{Service: "Supabase", Missing: []string{"SUPABASE_URL", "SUPABASE_SERVICE_ROLE_KEY"}}
	assert.Equal(t, "Supabase service client not configured. Set SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY.", err.Error())
}

func TestHandle(t *testing.T) {
	var zero Handle
	_, err := zero.Get()
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.False(t, zero.Ready())

	reason := &ConfigError{Service: "Postgres", Missing: []string{"DATABASE_URL"}}
	_, err = Unconfigured(reason).Get()
	assert.Same(t, reason, err)

	mem := NewMemory()
	h := Configured(mem)
	s, err := h.Get()
	require.NoError(t, err)
	assert.Same(t, mem, s)
	assert.True(t, h.Ready())
}

func TestFormatTime(t *testing.T) {
	loc := time.FixedZone("PHT", 8*3600)
	ts := time.Date(2024, 5, 1, 17, 30, 0, 1500, loc)
	assert.Equal(t, "2024-05-01T09:30:00.000001Z", FormatTime(ts))
}

func TestInstrumentKeepsOnceSetter(t *testing.T) {
	s := Instrument(NewMemory(), "memory")
	once, ok := s.(OnceSetter)
	require.True(t, ok)

	before := testutil.ToFloat64(metrics.StoreOperations.WithLabelValues("memory", Attendance, "set_once", "ok"))
	_, outcome, err := once.SetOnce(context.Background(), Attendance,
		Record{"seminar_id": "s", "participant_email": "e"}, "time_in", "now")
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)
	after := testutil.ToFloat64(metrics.StoreOperations.WithLabelValues("memory", Attendance, "set_once", "ok"))
	assert.Equal(t, before+1, after)

	failed := metrics.StoreOperations.WithLabelValues("memory", "nope", "select", "error")
	before = testutil.ToFloat64(failed)
	_, err = s.Select(context.Background(), From("nope"))
	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(failed))
}

type plainStore struct{ Store }

func TestInstrumentWithoutOnceSetter(t *testing.T) {
	s := Instrument(plainStore{NewMemory()}, "plain")
	_, ok := s.(OnceSetter)
	assert.False(t, ok)
}
