package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/huntflow/internal/ir"
	"github.com/roach88/huntflow/internal/pattern"
	"github.com/roach88/huntflow/internal/querysql"
	"github.com/roach88/huntflow/internal/stix"
)

// ErrNotFound is returned when a row set id is not in the catalog.
var ErrNotFound = errors.New("row set not found")

// RowSet is an immutable handle to rows held by the store. Every store
// operation that transforms rows returns a new RowSet.
type RowSet struct {
	ID         string
	Session    string
	EntityType string
	Columns    []querysql.Column
	Count      int64
	Provenance string

	table string
}

// Table returns the SQL source for the row set.
func (rs RowSet) Table() querysql.Table {
	return querysql.Table{Name: rs.table, Columns: rs.Columns}
}

// Attributes returns the attribute names in column order.
func (rs RowSet) Attributes() []string {
	return rs.Table().ColumnNames()
}

// HasAttribute reports whether the row set has a column named attr.
func (rs RowSet) HasAttribute(attr string) bool {
	_, ok := rs.Table().Column(attr)
	return ok
}

// Materialize stores rows as a new row set. Nested objects are flattened to
// dotted attributes and rows missing an attribute hold NULL for it.
func (s *Store) Materialize(ctx context.Context, session, entityType string, rows []ir.IRObject, provenance string) (RowSet, error) {
	flat := make([]ir.IRObject, len(rows))
	for i, row := range rows {
		flat[i] = ir.Flatten(row)
	}
	names := ir.Columns(flat)
	flat = ir.NullFill(flat, names)
	cols := inferColumns(flat, names)

	rs := s.newRowSet(session, entityType, cols, provenance)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, querysql.CreateTable(rs.table, cols)); err != nil {
			return fmt.Errorf("create table: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, querysql.Insert(rs.table, cols))
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		args := make([]any, len(cols)+1)
		for i, row := range flat {
			args[0] = int64(i + 1)
			for j, col := range cols {
				v, err := encodeValue(row[col.Name], col.Kind)
				if err != nil {
					return fmt.Errorf("row %d attribute %q: %w", i, col.Name, err)
				}
				args[j+1] = v
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("insert row %d: %w", i, err)
			}
		}

		rs.Count = int64(len(flat))
		return s.writeCatalog(ctx, tx, &rs)
	})
	if err != nil {
		return RowSet{}, fmt.Errorf("materialize %s: %w", entityType, err)
	}
	return rs, nil
}

// Selection is the transform pipeline applied by Select. When Timestamped is
// set the TIMESTAMPED transform runs first, deriving first_observed from
// TimestampAttrs.
type Selection struct {
	querysql.SelectSpec
	Timestamped    bool
	TimestampAttrs []string
}

// Select derives a row set by filtering, projecting, sorting and windowing src.
func (s *Store) Select(ctx context.Context, src RowSet, sel Selection, provenance string) (RowSet, error) {
	table := src.Table()
	if sel.Timestamped {
		ts, err := querysql.Timestamped(table, sel.TimestampAttrs)
		if err != nil {
			return RowSet{}, err
		}
		table = ts
	}
	query, args, cols, err := querysql.Select(table, sel.SelectSpec)
	if err != nil {
		return RowSet{}, err
	}
	return s.derive(ctx, src.Session, src.EntityType, cols, query, args, provenance)
}

// Aggregate derives a row set with one row per group.
func (s *Store) Aggregate(ctx context.Context, src RowSet, keys []querysql.GroupKey, aggs []querysql.Aggregation, provenance string) (RowSet, error) {
	query, args, cols, err := querysql.Aggregate(src.Table(), keys, aggs)
	if err != nil {
		return RowSet{}, err
	}
	return s.derive(ctx, src.Session, src.EntityType, cols, query, args, provenance)
}

// Join derives the inner join of left and right. The result keeps the left
// entity type.
func (s *Store) Join(ctx context.Context, left, right RowSet, pairs []querysql.KeyPair, provenance string) (RowSet, error) {
	query, args, cols, err := querysql.Join(left.Table(), right.Table(), pairs)
	if err != nil {
		return RowSet{}, err
	}
	return s.derive(ctx, left.Session, left.EntityType, cols, query, args, provenance)
}

// Union derives the set union of sets, which must all share one entity type.
func (s *Store) Union(ctx context.Context, sets []RowSet, provenance string) (RowSet, error) {
	tables, err := unionTables(sets)
	if err != nil {
		return RowSet{}, err
	}
	query, args, cols, err := querysql.Union(tables)
	if err != nil {
		return RowSet{}, err
	}
	return s.derive(ctx, sets[0].Session, sets[0].EntityType, cols, query, args, provenance)
}

// UnionBy is Union deduplicating on attribute key alone, so rows of the same
// entity collapse even when the sets carry different extra attributes.
func (s *Store) UnionBy(ctx context.Context, sets []RowSet, key, provenance string) (RowSet, error) {
	tables, err := unionTables(sets)
	if err != nil {
		return RowSet{}, err
	}
	query, args, cols, err := querysql.UnionBy(tables, key)
	if err != nil {
		return RowSet{}, err
	}
	return s.derive(ctx, sets[0].Session, sets[0].EntityType, cols, query, args, provenance)
}

func unionTables(sets []RowSet) ([]querysql.Table, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("union requires at least one row set")
	}
	tables := make([]querysql.Table, len(sets))
	for i, rs := range sets {
		if rs.EntityType != sets[0].EntityType {
			return nil, fmt.Errorf("cannot union %s with %s", sets[0].EntityType, rs.EntityType)
		}
		tables[i] = rs.Table()
	}
	return tables, nil
}

// Related derives the rows of candidates linked to some row of input,
// filtered by where and capped by limit.
func (s *Store) Related(ctx context.Context, candidates, input RowSet, links []stix.Link, where pattern.Predicate, limit *int, provenance string) (RowSet, error) {
	query, args, cols, err := querysql.Related(candidates.Table(), input.Table(), links, where, limit)
	if err != nil {
		return RowSet{}, err
	}
	return s.derive(ctx, candidates.Session, candidates.EntityType, cols, query, args, provenance)
}

// Values returns the distinct non-null values of attr in rs in order of
// first appearance. Elements of list attributes are returned individually.
func (s *Store) Values(ctx context.Context, rs RowSet, attr string) ([]ir.IRValue, error) {
	table := rs.Table()
	col, ok := table.Column(attr)
	if !ok {
		return nil, fmt.Errorf("unknown attribute %q", attr)
	}
	query, args, err := querysql.Values(table, attr)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query values: %w", err)
	}
	defer rows.Close()

	kind := col.Kind
	if kind == querysql.KindJSON {
		// json_each yields SQL values for elements
		kind = querysql.KindScalar
	}
	values := []ir.IRValue{}
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		v, err := decodeValue(raw, kind)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate values: %w", err)
	}
	return values, nil
}

// Rows reads every row of rs in row order. Each row carries every column;
// missing values are IRNull.
func (s *Store) Rows(ctx context.Context, rs RowSet) ([]ir.IRObject, error) {
	query, args := querysql.Rows(rs.Table())
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	dest := make([]any, len(rs.Columns)+1)
	ptrs := make([]any, len(dest))
	for i := range dest {
		ptrs[i] = &dest[i]
	}

	out := []ir.IRObject{}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(ir.IRObject, len(rs.Columns))
		for i, col := range rs.Columns {
			v, err := decodeValue(dest[i+1], col.Kind)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %w", col.Name, err)
			}
			row[col.Name] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// AttributeInfo describes one attribute of a row set.
type AttributeInfo struct {
	Name    string        `json:"name"`
	Kind    querysql.Kind `json:"kind"`
	NonNull int64         `json:"non_null"`
}

// Description is the schema and row count of a row set.
type Description struct {
	EntityType string
	Count      int64
	Attributes []AttributeInfo
	Provenance string
}

// Describe reports the schema of rs and how many rows set each attribute.
func (s *Store) Describe(ctx context.Context, rs RowSet) (Description, error) {
	query, args := querysql.Counts(rs.Table())
	counts := make([]int64, len(rs.Columns)+1)
	ptrs := make([]any, len(counts))
	for i := range counts {
		ptrs[i] = &counts[i]
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(ptrs...); err != nil {
		return Description{}, fmt.Errorf("describe %s: %w", rs.ID, err)
	}

	desc := Description{
		EntityType: rs.EntityType,
		Count:      counts[0],
		Attributes: make([]AttributeInfo, len(rs.Columns)),
		Provenance: rs.Provenance,
	}
	for i, col := range rs.Columns {
		desc.Attributes[i] = AttributeInfo{Name: col.Name, Kind: col.Kind, NonNull: counts[i+1]}
	}
	return desc, nil
}

// Get loads a row set handle from the catalog.
func (s *Store) Get(ctx context.Context, id string) (RowSet, error) {
	rs := RowSet{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, entity_type, table_name, row_count, provenance
		FROM rowsets
		WHERE id = ?
	`, id).Scan(&rs.Session, &rs.EntityType, &rs.table, &rs.Count, &rs.Provenance)
	if errors.Is(err, sql.ErrNoRows) {
		return RowSet{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return RowSet{}, fmt.Errorf("query row set: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, kind
		FROM rowset_columns
		WHERE rowset_id = ?
		ORDER BY position ASC
	`, id)
	if err != nil {
		return RowSet{}, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return RowSet{}, fmt.Errorf("scan column: %w", err)
		}
		k, err := querysql.ParseKind(kind)
		if err != nil {
			return RowSet{}, err
		}
		rs.Columns = append(rs.Columns, querysql.Column{Name: name, Kind: k})
	}
	if err := rows.Err(); err != nil {
		return RowSet{}, fmt.Errorf("iterate columns: %w", err)
	}
	return rs, nil
}

// SessionRowSets lists the ids of a session's row sets in creation order.
func (s *Store) SessionRowSets(ctx context.Context, session string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM rowsets
		WHERE session_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("query session row sets: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan row set id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate row sets: %w", err)
	}
	return ids, nil
}

// Drop removes a row set and its rows.
func (s *Store) Drop(ctx context.Context, rs RowSet) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return dropRowSet(ctx, tx, rs.ID, rs.table)
	})
}

// DropSession removes every row set created by session.
func (s *Store) DropSession(ctx context.Context, session string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id, table_name FROM rowsets WHERE session_id = ?`, session)
		if err != nil {
			return fmt.Errorf("query session row sets: %w", err)
		}
		type entry struct{ id, table string }
		var entries []entry
		for rows.Next() {
			var e entry
			if err := rows.Scan(&e.id, &e.table); err != nil {
				rows.Close()
				return fmt.Errorf("scan row set: %w", err)
			}
			entries = append(entries, e)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate row sets: %w", err)
		}
		rows.Close()

		for _, e := range entries {
			if err := dropRowSet(ctx, tx, e.id, e.table); err != nil {
				return err
			}
		}
		return nil
	})
}

func dropRowSet(ctx context.Context, ex execer, id, table string) error {
	if _, err := ex.ExecContext(ctx, querysql.DropTable(table)); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	if _, err := ex.ExecContext(ctx, `DELETE FROM rowsets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete row set %s: %w", id, err)
	}
	return nil
}

// derive fills a new row-set table from a builder query.
func (s *Store) derive(ctx context.Context, session, entityType string, cols []querysql.Column, query string, args []any, provenance string) (RowSet, error) {
	rs := s.newRowSet(session, entityType, cols, provenance)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, querysql.CreateTable(rs.table, cols)); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
		res, err := tx.ExecContext(ctx, querysql.InsertSelect(rs.table, cols, query), args...)
		if err != nil {
			return fmt.Errorf("fill table: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("count rows: %w", err)
		}
		rs.Count = n
		return s.writeCatalog(ctx, tx, &rs)
	})
	if err != nil {
		return RowSet{}, err
	}
	return rs, nil
}

func (s *Store) newRowSet(session, entityType string, cols []querysql.Column, provenance string) RowSet {
	id := s.newID()
	return RowSet{
		ID:         id,
		Session:    session,
		EntityType: entityType,
		Columns:    cols,
		Provenance: provenance,
		table:      "rs_" + strings.ReplaceAll(id, "-", ""),
	}
}

// writeCatalog records rs and its columns.
func (s *Store) writeCatalog(ctx context.Context, tx *sql.Tx, rs *RowSet) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rowsets (id, session_id, entity_type, table_name, row_count, seq, provenance)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM rowsets), ?)
	`, rs.ID, rs.Session, rs.EntityType, rs.table, rs.Count, rs.Provenance)
	if err != nil {
		return fmt.Errorf("insert row set: %w", err)
	}
	for i, col := range rs.Columns {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rowset_columns (rowset_id, position, name, kind)
			VALUES (?, ?, ?, ?)
		`, rs.ID, i, col.Name, col.Kind.String())
		if err != nil {
			return fmt.Errorf("insert column %q: %w", col.Name, err)
		}
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func defaultID() string {
	return uuid.Must(uuid.NewV7()).String()
}
