package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sifan077/shortlinkd/internal/kv"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements kv.Store on the kv_items table.
type Store struct {
	db   DB
	opts kv.Options
}

var (
	_ kv.Store   = (*Store)(nil)
	_ kv.Remover = (*Store)(nil)
	_ kv.Sweeper = (*Store)(nil)
)

// NewStore returns a Store backed by db. The kv_items table must exist (see
// Migrate).
func NewStore(db DB, opts ...kv.Option) *Store {
	return &Store{db: db, opts: kv.ApplyOptions(opts...)}
}

const itemColumns = "pk, sk, gsi1pk, gsi1sk, attrs"

func (s *Store) PutItem(ctx context.Context, table string, item kv.Item, overwrite bool) error {
	const op = "kv.postgres.PutItem"
	if err := kv.ValidatePut(op, table, item); err != nil {
		return err
	}

	attrs, err := encodeAttrs(item.Attrs)
	if err != nil {
		return kv.Invalid(op, "attributes are not encodable: %v", err)
	}

	sql := `INSERT INTO kv_items (tbl, pk, sk, gsi1pk, gsi1sk, attrs)
VALUES ($1, $2, $3, $4, $5, $6::jsonb)
ON CONFLICT DO NOTHING`
	if overwrite {
		sql = `INSERT INTO kv_items (tbl, pk, sk, gsi1pk, gsi1sk, attrs)
VALUES ($1, $2, $3, $4, $5, $6::jsonb)
ON CONFLICT (tbl, pk, sk) DO UPDATE
SET gsi1pk = EXCLUDED.gsi1pk, gsi1sk = EXCLUDED.gsi1sk, attrs = EXCLUDED.attrs`
	}

	tag, err := s.db.Exec(ctx, sql, table, item.PK, item.SK, nullable(item.GSI1PK), nullable(item.GSI1SK), attrs)
	if err != nil {
		if isUniqueViolation(err) {
			return kv.Collision(op, table, item.Key())
		}
		return mapError(op, table, item.Key(), err)
	}
	if tag.RowsAffected() == 0 {
		return kv.Collision(op, table, item.Key())
	}
	return nil
}

func (s *Store) GetItems(ctx context.Context, table string, q kv.Query) (kv.Page, error) {
	const op = "kv.postgres.GetItems"
	if err := kv.ValidateQuery(op, table, q); err != nil {
		return kv.Page{}, err
	}

	sql, args, err := buildSelect(table, q)
	if err != nil {
		return kv.Page{}, kv.Invalid(op, "filter values are not encodable: %v", err)
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return kv.Page{}, mapError(op, table, kv.Key{}, err)
	}
	defer rows.Close()

	items := make([]kv.Item, 0, q.Limit+1)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return kv.Page{}, mapError(op, table, kv.Key{}, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return kv.Page{}, mapError(op, table, kv.Key{}, err)
	}

	page := kv.Page{Items: items}
	if len(items) > q.Limit {
		page.Items = items[:q.Limit]
		last := page.Items[q.Limit-1].KeyFor(q.IndexName)
		page.LastEvaluatedKey = &last
	}
	return page, nil
}

func (s *Store) UpdateItem(ctx context.Context, table string, key kv.Key, upd *kv.Update) (kv.Item, error) {
	const op = "kv.postgres.UpdateItem"
	if err := kv.ValidateUpdate(op, table, key, upd); err != nil {
		return kv.Item{}, err
	}

	sql, args, err := buildUpdate(table, key.Primary(), upd)
	if err != nil {
		return kv.Item{}, kv.Invalid(op, "update values are not encodable: %v", err)
	}

	it, err := scanItem(s.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return kv.Item{}, kv.NotFound(op, table, key)
		}
		return kv.Item{}, mapError(op, table, key, err)
	}
	return it, nil
}

func (s *Store) DeleteItem(ctx context.Context, table string, key kv.Key) error {
	_, err := s.remove(ctx, "kv.postgres.DeleteItem", table, key)
	return err
}

// RemoveItem deletes key and reports whether a row was removed.
func (s *Store) RemoveItem(ctx context.Context, table string, key kv.Key) (bool, error) {
	return s.remove(ctx, "kv.postgres.RemoveItem", table, key)
}

func (s *Store) remove(ctx context.Context, op, table string, key kv.Key) (bool, error) {
	if err := kv.ValidateDelete(op, table, key); err != nil {
		return false, err
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM kv_items WHERE tbl = $1 AND pk = $2 AND sk = $3`, table, key.PK, key.SK)
	if err != nil {
		return false, mapError(op, table, key, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpired removes items whose TTL attribute is a number below before.
func (s *Store) DeleteExpired(ctx context.Context, table string, before time.Time) (int64, error) {
	const op = "kv.postgres.DeleteExpired"
	if err := kv.ValidateTable(op, table); err != nil {
		return 0, err
	}
	if s.opts.TTLAttribute == "" {
		return 0, kv.Invalid(op, "no TTL attribute configured")
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM kv_items
WHERE tbl = $1
  AND CASE WHEN jsonb_typeof(attrs -> $2::text) = 'number'
           THEN (attrs ->> $2::text)::double precision < $3
           ELSE false END`,
		table, s.opts.TTLAttribute, float64(before.UnixMilli()))
	if err != nil {
		return 0, mapError(op, table, kv.Key{}, err)
	}
	return tag.RowsAffected(), nil
}

// args collects positional parameters while a statement is assembled.
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

func buildSelect(table string, q kv.Query) (string, []any, error) {
	var (
		a     args
		where []string
	)
	pkCol, skCol := "pk", "sk"
	if q.IndexName == kv.IndexGSI1 {
		pkCol, skCol = "gsi1pk", "gsi1sk"
	}

	where = append(where, "tbl = "+a.add(table))
	where = append(where, pkCol+" = "+a.add(q.Key.Partition))
	switch {
	case q.Key.SortEquals != "":
		where = append(where, skCol+" = "+a.add(q.Key.SortEquals))
	case q.Key.SortPrefix != "":
		where = append(where, "starts_with("+skCol+", "+a.add(q.Key.SortPrefix)+")")
	}

	if len(q.Filter) > 0 {
		filter := make(map[string]any, len(q.Filter))
		for _, c := range q.Filter {
			filter[c.Name] = c.Value
		}
		raw, err := json.Marshal(filter)
		if err != nil {
			return "", nil, err
		}
		where = append(where, "attrs @> "+a.add(string(raw))+"::jsonb")
	}

	order := `sk COLLATE "C"`
	if q.IndexName == kv.IndexGSI1 {
		order = `gsi1sk COLLATE "C", pk COLLATE "C", sk COLLATE "C"`
	}
	cmp, dir := ">", "ASC"
	if q.NewestFirst {
		cmp, dir = "<", "DESC"
	}

	if start := q.ExclusiveStartKey; start != nil {
		if q.IndexName == kv.IndexGSI1 {
			where = append(where, fmt.Sprintf(`(gsi1sk COLLATE "C", pk COLLATE "C", sk COLLATE "C") %s (%s, %s, %s)`,
				cmp, a.add(start.IndexSK), a.add(start.PK), a.add(start.SK)))
		} else {
			where = append(where, fmt.Sprintf(`sk COLLATE "C" %s %s`, cmp, a.add(start.SK)))
		}
	}

	orderBy := strings.ReplaceAll(order, `"C"`, `"C" `+dir)
	sql := fmt.Sprintf("SELECT %s FROM kv_items WHERE %s ORDER BY %s LIMIT %d",
		itemColumns, strings.Join(where, " AND "), orderBy, q.Limit+1)
	return sql, a, nil
}

func buildUpdate(table string, key kv.Key, upd *kv.Update) (string, []any, error) {
	var a args
	tbl, pk, sk := a.add(table), a.add(key.PK), a.add(key.SK)

	expr := "attrs"
	if sets := upd.Sets(); len(sets) > 0 {
		raw, err := json.Marshal(sets)
		if err != nil {
			return "", nil, err
		}
		expr = "attrs || " + a.add(string(raw)) + "::jsonb"
	}

	adds := upd.Adds()
	for _, name := range sortedNames(adds) {
		p := a.add(name)
		expr = fmt.Sprintf("jsonb_set(%s, ARRAY[%s::text], to_jsonb(COALESCE((attrs ->> %s::text)::numeric, 0) + %s::numeric))",
			expr, p, p, a.add(adds[name]))
	}

	sql := fmt.Sprintf("UPDATE kv_items SET attrs = %s WHERE tbl = %s AND pk = %s AND sk = %s RETURNING %s",
		expr, tbl, pk, sk, itemColumns)
	return sql, a, nil
}

func scanItem(row pgx.Row) (kv.Item, error) {
	var (
		it     kv.Item
		gsi1pk *string
		gsi1sk *string
		raw    []byte
	)
	if err := row.Scan(&it.PK, &it.SK, &gsi1pk, &gsi1sk, &raw); err != nil {
		return kv.Item{}, err
	}
	if gsi1pk != nil {
		it.GSI1PK = *gsi1pk
	}
	if gsi1sk != nil {
		it.GSI1SK = *gsi1sk
	}
	it.Attrs = kv.Attributes{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &it.Attrs); err != nil {
			return kv.Item{}, fmt.Errorf("decode attrs: %w", err)
		}
	}
	return it, nil
}

func encodeAttrs(attrs kv.Attributes) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sortedNames(m map[string]int64) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// mapError translates driver failures. Bad numeric casts come from ADD on a
// non-numeric attribute.
func mapError(op, table string, key kv.Key, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22P02", "22003":
			return kv.Invalid(op, "%s", pgErr.Message)
		}
	}
	return kv.Unavailable(op, table, key, err)
}
