package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Postgres runs queries directly against the database that backs the REST
// API. Values travel as one JSON document per statement and are typed by
// json_populate_record against the table's row type; rows come back as
// row_to_json.
type Postgres struct {
	db *sql.DB
}

// NewPostgres returns a store over db.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Select(ctx context.Context, q Query) ([]Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	b := newSQLBuilder(q.Table)
	b.from()
	where, err := b.where(q.Filters)
	if err != nil {
		return nil, err
	}
	stmt := "SELECT row_to_json(t) FROM " + b.tableAs() + b.joins + where
	if q.Order != "" {
		stmt += " ORDER BY t." + ident(q.Order)
		if q.Desc {
			stmt += " DESC"
		}
	}
	if q.Limit > 0 {
		stmt += " LIMIT " + strconv.Itoa(q.Limit)
	}
	return p.query(ctx, stmt, b.args...)
}

func (p *Postgres) First(ctx context.Context, q Query) (Record, bool, error) {
	res, err := p.Select(ctx, q.Take(1))
	if err != nil || len(res) == 0 {
		return nil, false, err
	}
	return res[0], true, nil
}

func (p *Postgres) Insert(ctx context.Context, table string, rec Record) ([]Record, error) {
	t, err := Lookup(table)
	if err != nil {
		return nil, err
	}
	if err := t.Check(rec); err != nil {
		return nil, err
	}
	if len(rec) == 0 {
		return p.query(ctx, "INSERT INTO "+ident(table)+" AS t DEFAULT VALUES RETURNING row_to_json(t)")
	}
	b := newSQLBuilder(table)
	cols := columns(rec)
	doc, err := b.bind(rec)
	if err != nil {
		return nil, err
	}
	list := identList(cols)
	stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM json_populate_record(NULL::%s, %s) RETURNING row_to_json(t)",
		b.tableAs(), list, list, ident(table), doc)
	return p.query(ctx, stmt, b.args...)
}

func (p *Postgres) Update(ctx context.Context, q Query, set Record) ([]Record, error) {
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
	if len(set) == 0 {
		return p.Select(ctx, Query{Table: q.Table, Filters: q.Filters})
	}
	b := newSQLBuilder(q.Table)
	doc, err := b.bind(set)
	if err != nil {
		return nil, err
	}
	assigns := make([]string, 0, len(set))
	for _, c := range columns(set) {
		assigns = append(assigns, ident(c)+" = v."+ident(c))
	}
	b.joins = " CROSS JOIN json_populate_record(NULL::" + ident(q.Table) + ", " + doc + ") AS v"
	b.from()
	where, err := b.where(q.Filters)
	if err != nil {
		return nil, err
	}
	from := strings.Replace(b.joins, " CROSS JOIN ", " FROM ", 1)
	stmt := "UPDATE " + b.tableAs() + " SET " + strings.Join(assigns, ", ") + from + where + " RETURNING row_to_json(t)"
	return p.query(ctx, stmt, b.args...)
}

func (p *Postgres) Delete(ctx context.Context, q Query) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if len(q.Filters) == 0 {
		return ErrUnfiltered
	}
	b := newSQLBuilder(q.Table)
	b.from()
	where, err := b.where(q.Filters)
	if err != nil {
		return err
	}
	using := strings.Replace(b.joins, " CROSS JOIN ", " USING ", 1)
	_, err = p.db.ExecContext(ctx, "DELETE FROM "+b.tableAs()+using+where, b.args...)
	return err
}

// SetOnce relies on a unique constraint over the key columns.
func (p *Postgres) SetOnce(ctx context.Context, table string, key Record, column string, value any) (Record, Outcome, error) {
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
	rec := key.Clone()
	rec[column] = value
	b := newSQLBuilder(table)
	doc, err := b.bind(rec)
	if err != nil {
		return nil, Unchanged, err
	}
	list := identList(columns(rec))
	col := ident(column)
	stmt := fmt.Sprintf(`INSERT INTO %s (%s) SELECT %s FROM json_populate_record(NULL::%s, %s)
		ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s WHERE t.%s IS NULL
		RETURNING row_to_json(t), (t.xmax = 0)`,
		b.tableAs(), list, list, ident(table), doc, identList(columns(key)), col, col, col)

	var raw []byte
	var inserted bool
	err = p.db.QueryRowContext(ctx, stmt, b.args...).Scan(&raw, &inserted)
	if errors.Is(err, sql.ErrNoRows) {
		q := From(table)
		for k, v := range key {
			q = q.Eq(k, v)
		}
		existing, found, err := p.First(ctx, q)
		if err != nil {
			return nil, Unchanged, err
		}
		if !found {
			return nil, Unchanged, fmt.Errorf("%s row vanished during upsert", table)
		}
		return existing, Unchanged, nil
	}
	if err != nil {
		return nil, Unchanged, err
	}
	var out Record
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, Unchanged, fmt.Errorf("decode %s row: %w", table, err)
	}
	if inserted {
		return out, Created, nil
	}
	return out, Updated, nil
}

func (p *Postgres) query(ctx context.Context, stmt string, args ...any) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Record{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type sqlBuilder struct {
	table string
	args  []any
	joins string
	eq    Record
}

func newSQLBuilder(table string) *sqlBuilder {
	return &sqlBuilder{table: table}
}

func (b *sqlBuilder) tableAs() string {
	return ident(b.table) + " AS t"
}

// bind adds rec as a JSON parameter and returns its placeholder.
func (b *sqlBuilder) bind(rec Record) (string, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode %s values: %w", b.table, err)
	}
	b.args = append(b.args, string(raw))
	return "$" + strconv.Itoa(len(b.args)) + "::json", nil
}

// from prepares the join that carries equality filter values.
func (b *sqlBuilder) from() {
	b.eq = Record{}
}

func (b *sqlBuilder) where(filters []Filter) (string, error) {
	var clauses []string
	for _, f := range filters {
		switch f.Op {
		case OpIsNull:
			clauses = append(clauses, "t."+ident(f.Column)+" IS NULL")
		default:
			b.eq[f.Column] = f.Value
			clauses = append(clauses, "t."+ident(f.Column)+" = f."+ident(f.Column))
		}
	}
	if len(b.eq) > 0 {
		doc, err := b.bind(b.eq)
		if err != nil {
			return "", err
		}
		b.joins += " CROSS JOIN json_populate_record(NULL::" + ident(b.table) + ", " + doc + ") AS f"
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), nil
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func identList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = ident(c)
	}
	return strings.Join(out, ", ")
}

func columns(rec Record) []string {
	cols := make([]string, 0, len(rec))
	for c := range rec {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
