// Package store is the table-oriented view of the remote data store that owns
// seminars, attendance, joined participants and evaluations. Backends: the
// Supabase REST API (package postgrest), Postgres over pgx, and memory.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Record is one row as returned by the store.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the value of column as a string, or "" when unset.
func (r Record) String(column string) string {
	switch v := r[column].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Set reports whether column holds a non-null value.
func (r Record) Set(column string) bool {
	v, ok := r[column]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	return true
}

// Op is a filter operator.
type Op int

const (
	OpEq Op = iota
	OpIsNull
)

// Filter restricts a query to rows where Column matches.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Query selects rows of one table.
type Query struct {
	Table   string
	Filters []Filter
	Order   string
	Desc    bool
	Limit   int
}

// From starts a query on table.
func From(table string) Query {
	return Query{Table: table}
}

// Eq adds an equality filter.
func (q Query) Eq(column string, value any) Query {
	return q.with(Filter{Column: column, Op: OpEq, Value: value})
}

// IsNull adds a filter matching rows where column is null.
func (q Query) IsNull(column string) Query {
	return q.with(Filter{Column: column, Op: OpIsNull})
}

// OrderBy sorts ascending by column.
func (q Query) OrderBy(column string) Query {
	q.Order, q.Desc = column, false
	return q
}

// OrderByDesc sorts descending by column.
func (q Query) OrderByDesc(column string) Query {
	q.Order, q.Desc = column, true
	return q
}

// Take limits the number of rows returned.
func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

func (q Query) with(f Filter) Query {
	filters := make([]Filter, 0, len(q.Filters)+1)
	filters = append(filters, q.Filters...)
	q.Filters = append(filters, f)
	return q
}

// Validate checks the table and every referenced column against the schema.
func (q Query) Validate() error {
	t, err := Lookup(q.Table)
	if err != nil {
		return err
	}
	for _, f := range q.Filters {
		if !t.Has(f.Column) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, q.Table, f.Column)
		}
	}
	if q.Order != "" && !t.Has(q.Order) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, q.Table, q.Order)
	}
	return nil
}

// Store is the remote data store.
type Store interface {
	Select(ctx context.Context, q Query) ([]Record, error)
	// First returns the first matching row. A missing row is reported with
	// found == false and a nil error.
	First(ctx context.Context, q Query) (rec Record, found bool, err error)
	Insert(ctx context.Context, table string, rec Record) ([]Record, error)
	Update(ctx context.Context, q Query, set Record) ([]Record, error)
	Delete(ctx context.Context, q Query) error
}

// Outcome of a SetOnce call.
type Outcome int

const (
	Created Outcome = iota
	Updated
	Unchanged
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// OnceSetter is implemented by stores that can insert-or-set-if-null in one
// atomic step. key must match a unique constraint of table.
type OnceSetter interface {
	SetOnce(ctx context.Context, table string, key Record, column string, value any) (Record, Outcome, error)
}

var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownColumn = errors.New("unknown column")
	ErrUnfiltered    = errors.New("refusing to modify rows without a filter")
)

// ConfigError reports that the store cannot be used because settings are missing.
type ConfigError struct {
	Service string
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s service client not configured. Set %s.", e.Service, strings.Join(e.Missing, " and "))
}

// Handle is the process-wide store reference. It is either configured or
// carries the reason it is not.
type Handle struct {
	store Store
	err   error
}

// Configured wraps a ready store.
func Configured(s Store) Handle {
	return Handle{store: s}
}

// Unconfigured records why no store is available.
func Unconfigured(err error) Handle {
	return Handle{err: err}
}

// Get returns the store or the configuration error.
func (h Handle) Get() (Store, error) {
	if h.store == nil {
		if h.err == nil {
			return nil, &ConfigError{Service: "Store", Missing: []string{"STORE_BACKEND"}}
		}
		return nil, h.err
	}
	return h.store, nil
}

// Ready reports whether Get would succeed.
func (h Handle) Ready() bool {
	return h.store != nil
}

// FormatTime renders t the way every timestamp column is written.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}
