package main

import (
	"context"
	"fmt"
)

// Reflector reads the live catalog shape for one target database. Each call
// is independent; failures surface to the caller.
type Reflector interface {
	ListTables(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) (map[string]ColumnShape, []string, error)
	IndexNames(ctx context.Context, table string) ([]string, error)
	UniqueConstraintNames(ctx context.Context, table string) ([]string, error)
	PrimaryKeyColumns(ctx context.Context, table string) ([]string, error)
	UniqueIndexDefs(ctx context.Context, table string) ([]UniqueIndexDef, error)
}

// reflectTableShape assembles the full TableShape for one table.
func reflectTableShape(ctx context.Context, r Reflector, table string) (*TableShape, error) {
	columns, order, err := r.Columns(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("reflect columns of %s: %w", table, err)
	}
	indexes, err := r.IndexNames(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("reflect indexes of %s: %w", table, err)
	}
	uniques, err := r.UniqueConstraintNames(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("reflect unique constraints of %s: %w", table, err)
	}
	pk, err := r.PrimaryKeyColumns(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("reflect primary key of %s: %w", table, err)
	}

	shape := &TableShape{
		Columns:               columns,
		ColumnOrder:           order,
		IndexNames:            map[string]bool{},
		UniqueConstraintNames: map[string]bool{},
		PrimaryKeyColumns:     pk,
	}
	for _, name := range indexes {
		shape.IndexNames[name] = true
	}
	for _, name := range uniques {
		shape.UniqueConstraintNames[name] = true
	}
	return shape, nil
}

// catalogReflector reads pg_catalog/information_schema through the executor
// port.
type catalogReflector struct {
	exec Executor
}

func newCatalogReflector(exec Executor) *catalogReflector {
	return &catalogReflector{exec: exec}
}

func (r *catalogReflector) ListTables(ctx context.Context) ([]string, error) {
	const q = `SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`
	return collectStrings(ctx, r.exec, q)
}

func (r *catalogReflector) Columns(ctx context.Context, table string) (map[string]ColumnShape, []string, error) {
	const q = `SELECT column_name, data_type, is_nullable, character_maximum_length,
			column_default, numeric_precision, numeric_scale
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`

	rows, err := r.exec.Query(ctx, q, table)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns := map[string]ColumnShape{}
	var order []string
	for rows.Next() {
		var col ColumnShape
		var nullable string
		if err := rows.Scan(&col.Name, &col.DataType, &nullable, &col.CharMaxLength,
			&col.DefaultExpr, &col.NumericPrecision, &col.NumericScale); err != nil {
			return nil, nil, err
		}
		col.IsNullable = nullable == "YES"
		columns[col.Name] = col
		order = append(order, col.Name)
	}
	return columns, order, rows.Err()
}

func (r *catalogReflector) IndexNames(ctx context.Context, table string) ([]string, error) {
	const q = `SELECT indexname FROM pg_indexes
		WHERE schemaname = 'public' AND tablename = $1
		ORDER BY indexname`
	return collectStrings(ctx, r.exec, q, table)
}

func (r *catalogReflector) UniqueConstraintNames(ctx context.Context, table string) ([]string, error) {
	const q = `SELECT c.conname
		FROM pg_constraint c
		JOIN pg_class t ON c.conrelid = t.oid
		JOIN pg_namespace n ON t.relnamespace = n.oid
		WHERE n.nspname = 'public' AND t.relname = $1 AND c.contype = 'u'
		ORDER BY c.conname`
	return collectStrings(ctx, r.exec, q, table)
}

func (r *catalogReflector) PrimaryKeyColumns(ctx context.Context, table string) ([]string, error) {
	const q = `SELECT a.attname
		FROM pg_index i
		JOIN pg_class t ON t.oid = i.indrelid
		JOIN pg_namespace n ON t.relnamespace = n.oid
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(i.indkey)
		WHERE n.nspname = 'public' AND t.relname = $1 AND i.indisprimary
		ORDER BY array_position(i.indkey, a.attnum)`
	return collectStrings(ctx, r.exec, q, table)
}

func (r *catalogReflector) UniqueIndexDefs(ctx context.Context, table string) ([]UniqueIndexDef, error) {
	const q = `SELECT c.relname, a.attname
		FROM pg_index i
		JOIN pg_class t ON t.oid = i.indrelid
		JOIN pg_class c ON c.oid = i.indexrelid
		JOIN pg_namespace n ON t.relnamespace = n.oid
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(i.indkey)
		WHERE n.nspname = 'public' AND t.relname = $1
			AND i.indisunique AND NOT i.indisprimary
		ORDER BY i.indexrelid, array_position(i.indkey, a.attnum)`

	rows, err := r.exec.Query(ctx, q, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []UniqueIndexDef
	for rows.Next() {
		var index, column string
		if err := rows.Scan(&index, &column); err != nil {
			return nil, err
		}
		if len(defs) == 0 || defs[len(defs)-1].Name != index {
			defs = append(defs, UniqueIndexDef{Name: index})
		}
		defs[len(defs)-1].Columns = append(defs[len(defs)-1].Columns, column)
	}
	return defs, rows.Err()
}

// databaseExists probes for a database through an admin executor that has no
// target database selected.
func databaseExists(ctx context.Context, admin Executor, name string) (bool, error) {
	var exists bool
	err := admin.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check database %s: %w", name, err)
	}
	return exists, nil
}

// collectStrings gathers a single-column string result set.
func collectStrings(ctx context.Context, exec Executor, query string, args ...any) ([]string, error) {
	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
