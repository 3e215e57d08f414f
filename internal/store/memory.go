package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory keeps tables in process. Rows are returned in insertion order unless
// the query orders them.
type Memory struct {
	mu    sync.RWMutex
	rows  map[string][]Record
	clock func() time.Time
}

// NewMemory returns an empty memory store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string][]Record), clock: time.Now}
}

// WithClock replaces the clock used for generated timestamps.
func (m *Memory) WithClock(clock func() time.Time) *Memory {
	m.clock = clock
	return m
}

func (m *Memory) Select(_ context.Context, q Query) ([]Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectLocked(q), nil
}

func (m *Memory) First(ctx context.Context, q Query) (Record, bool, error) {
	res, err := m.Select(ctx, q.Take(1))
	if err != nil || len(res) == 0 {
		return nil, false, err
	}
	return res[0], true, nil
}

func (m *Memory) Insert(_ context.Context, table string, rec Record) ([]Record, error) {
	t, err := Lookup(table)
	if err != nil {
		return nil, err
	}
	if err := t.Check(rec); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return []Record{m.insertLocked(t, rec)}, nil
}

func (m *Memory) Update(_ context.Context, q Query, set Record) ([]Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if len(q.Filters) == 0 {
		return nil, ErrUnfiltered
	}
	t, _ := Lookup(q.Table)
	if err := t.Check(set); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, row := range m.rows[q.Table] {
		if !matches(row, q.Filters) {
			continue
		}
		for k, v := range set {
			row[k] = v
		}
		out = append(out, row.Clone())
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, q Query) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if len(q.Filters) == 0 {
		return ErrUnfiltered
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[q.Table][:0]
	for _, row := range m.rows[q.Table] {
		if !matches(row, q.Filters) {
			kept = append(kept, row)
		}
	}
	m.rows[q.Table] = kept
	return nil
}

// SetOnce inserts key with column = value, or sets column on the existing row
// when it is still null.
func (m *Memory) SetOnce(_ context.Context, table string, key Record, column string, value any) (Record, Outcome, error) {
	t, err := Lookup(table)
	if err != nil {
		return nil, Unchanged, err
	}
	if err := t.Check(key); err != nil {
		return nil, Unchanged, err
	}
	if !t.Has(column) {
		return nil, Unchanged, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, column)
	}
	q := From(table)
	for k, v := range key {
		q = q.Eq(k, v)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows[table] {
		if !matches(row, q.Filters) {
			continue
		}
		if row.Set(column) {
			return row.Clone(), Unchanged, nil
		}
		row[column] = value
		return row.Clone(), Updated, nil
	}
	rec := key.Clone()
	rec[column] = value
	return m.insertLocked(t, rec), Created, nil
}

// Len returns the number of rows in table.
func (m *Memory) Len(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows[table])
}

func (m *Memory) insertLocked(t Table, rec Record) Record {
	row := make(Record, len(t.Columns))
	for _, c := range t.Columns {
		row[c] = nil
	}
	now := m.clock()
	for c, gen := range t.Generated {
		row[c] = gen(now)
	}
	for k, v := range rec {
		row[k] = v
	}
	m.rows[t.Name] = append(m.rows[t.Name], row)
	return row.Clone()
}

func (m *Memory) selectLocked(q Query) []Record {
	out := []Record{}
	for _, row := range m.rows[q.Table] {
		if matches(row, q.Filters) {
			out = append(out, row.Clone())
		}
	}
	if q.Order != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i][q.Order], out[j][q.Order])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func matches(row Record, filters []Filter) bool {
	for _, f := range filters {
		switch f.Op {
		case OpIsNull:
			if row[f.Column] != nil {
				return false
			}
		default:
			if compare(row[f.Column], f.Value) != 0 {
				return false
			}
		}
	}
	return true
}

// compare orders numbers numerically and everything else by its string form.
// Nulls sort last, as in Postgres.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	x, y := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
