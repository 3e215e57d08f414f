package store

import (
	"context"
	"time"

	"seminarhub/internal/metrics"
)

// Instrument records a metric for every call made through s. The result
// still implements OnceSetter when s does.
func Instrument(s Store, backend string) Store {
	base := &instrumented{next: s, backend: backend}
	if once, ok := s.(OnceSetter); ok {
		return &instrumentedOnce{instrumented: base, once: once}
	}
	return base
}

type instrumented struct {
	next    Store
	backend string
}

func (i *instrumented) observe(table, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.StoreOperations.WithLabelValues(i.backend, table, op, outcome).Inc()
	metrics.StoreDuration.WithLabelValues(i.backend, op).Observe(time.Since(start).Seconds())
}

func (i *instrumented) Select(ctx context.Context, q Query) ([]Record, error) {
	start := time.Now()
	out, err := i.next.Select(ctx, q)
	i.observe(q.Table, "select", start, err)
	return out, err
}

func (i *instrumented) First(ctx context.Context, q Query) (Record, bool, error) {
	start := time.Now()
	rec, found, err := i.next.First(ctx, q)
	i.observe(q.Table, "first", start, err)
	return rec, found, err
}

func (i *instrumented) Insert(ctx context.Context, table string, rec Record) ([]Record, error) {
	start := time.Now()
	out, err := i.next.Insert(ctx, table, rec)
	i.observe(table, "insert", start, err)
	return out, err
}

func (i *instrumented) Update(ctx context.Context, q Query, set Record) ([]Record, error) {
	start := time.Now()
	out, err := i.next.Update(ctx, q, set)
	i.observe(q.Table, "update", start, err)
	return out, err
}

func (i *instrumented) Delete(ctx context.Context, q Query) error {
	start := time.Now()
	err := i.next.Delete(ctx, q)
	i.observe(q.Table, "delete", start, err)
	return err
}

type instrumentedOnce struct {
	*instrumented
	once OnceSetter
}

func (i *instrumentedOnce) SetOnce(ctx context.Context, table string, key Record, column string, value any) (Record, Outcome, error) {
	start := time.Now()
	rec, outcome, err := i.once.SetOnce(ctx, table, key, column, value)
	i.observe(table, "set_once", start, err)
	return rec, outcome, err
}
