package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRows implements pgx.Rows over canned data.
type fakeRows struct {
	cols []string
	rows [][]any
	idx  int
	err  error
}

func (r *fakeRows) Close()                        {}
func (r *fakeRows) Err() error                    { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *fakeRows) Conn() *pgx.Conn               { return nil }
func (r *fakeRows) RawValues() [][]byte           { return nil }

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	fields := make([]pgconn.FieldDescription, len(r.cols))
	for i, c := range r.cols {
		fields[i] = pgconn.FieldDescription{Name: c}
	}
	return fields
}

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.idx-1], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(row))
	}
	for i, d := range dest {
		if err := assignValue(d, row[i]); err != nil {
			return err
		}
	}
	return nil
}

func assignValue(dest, v any) error {
	switch d := dest.(type) {
	case *any:
		*d = v
	case *string:
		*d = v.(string)
	case *bool:
		*d = v.(bool)
	case *int:
		*d = v.(int)
	case *int64:
		*d = v.(int64)
	case **int64:
		if v == nil {
			*d = nil
		} else {
			n := v.(int64)
			*d = &n
		}
	case **string:
		if v == nil {
			*d = nil
		} else {
			s := v.(string)
			*d = &s
		}
	default:
		return fmt.Errorf("scan: unsupported destination %T", dest)
	}
	return nil
}

// fakeRow adapts fakeRows to pgx.Row.
type fakeRow struct {
	rows *fakeRows
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if !r.rows.Next() {
		return pgx.ErrNoRows
	}
	return r.rows.Scan(dest...)
}

// fakeQuery is one canned result set matched by SQL substring.
type fakeQuery struct {
	match string
	cols  []string
	rows  [][]any
	err   error
}

// fakeExec is an in-memory Executor recording every statement.
type fakeExec struct {
	execLog  []string
	queryLog []string
	failOn   map[string]error // SQL substring -> error
	queries  []fakeQuery
}

func (f *fakeExec) failFor(sql string) error {
	for substr, err := range f.failOn {
		if strings.Contains(sql, substr) {
			return err
		}
	}
	return nil
}

func (f *fakeExec) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execLog = append(f.execLog, sql)
	if err := f.failFor(sql); err != nil {
		return pgconn.CommandTag{}, err
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakeExec) find(sql string) *fakeQuery {
	for i := range f.queries {
		if strings.Contains(sql, f.queries[i].match) {
			return &f.queries[i]
		}
	}
	return nil
}

func (f *fakeExec) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	f.queryLog = append(f.queryLog, sql)
	if err := f.failFor(sql); err != nil {
		return nil, err
	}
	if q := f.find(sql); q != nil {
		if q.err != nil {
			return nil, q.err
		}
		return &fakeRows{cols: q.cols, rows: q.rows}, nil
	}
	return &fakeRows{}, nil
}

func (f *fakeExec) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.queryLog = append(f.queryLog, sql)
	if err := f.failFor(sql); err != nil {
		return fakeRow{err: err}
	}
	if q := f.find(sql); q != nil {
		return fakeRow{rows: &fakeRows{cols: q.cols, rows: q.rows}, err: q.err}
	}
	return fakeRow{rows: &fakeRows{}}
}

// fakeReflector serves canned catalog shapes.
type fakeReflector struct {
	tables    []string
	shapes    map[string]*TableShape
	pk        map[string][]string
	uniques   map[string][]UniqueIndexDef
	listErr    error
	reflectErr error
}

func (f *fakeReflector) ListTables(context.Context) ([]string, error) {
	return f.tables, f.listErr
}

func (f *fakeReflector) Columns(_ context.Context, table string) (map[string]ColumnShape, []string, error) {
	if f.reflectErr != nil {
		return nil, nil, f.reflectErr
	}
	shape, ok := f.shapes[table]
	if !ok {
		return map[string]ColumnShape{}, nil, nil
	}
	return shape.Columns, shape.ColumnOrder, nil
}

func (f *fakeReflector) IndexNames(_ context.Context, table string) ([]string, error) {
	if shape, ok := f.shapes[table]; ok {
		return sortedKeys(shape.IndexNames), nil
	}
	return nil, nil
}

func (f *fakeReflector) UniqueConstraintNames(_ context.Context, table string) ([]string, error) {
	if shape, ok := f.shapes[table]; ok {
		return sortedKeys(shape.UniqueConstraintNames), nil
	}
	return nil, nil
}

func (f *fakeReflector) PrimaryKeyColumns(_ context.Context, table string) ([]string, error) {
	return f.pk[table], nil
}

func (f *fakeReflector) UniqueIndexDefs(_ context.Context, table string) ([]UniqueIndexDef, error) {
	return f.uniques[table], nil
}

// shapeFromSchema simulates the catalog state left behind by applying
// emitCreateTable for a declaration, for round-trip tests.
func shapeFromSchema(table string, s *ParsedSchema) *TableShape {
	shape := &TableShape{
		Columns:               map[string]ColumnShape{},
		IndexNames:            map[string]bool{},
		UniqueConstraintNames: map[string]bool{},
	}

	for _, f := range s.Columns {
		col := ColumnShape{
			Name:     f.Name,
			DataType: catalogType(f.Type),
		}
		switch {
		case isSerialType(f.Type):
			col.IsNullable = false
			seq := fmt.Sprintf("nextval('%s_%s_seq'::regclass)", table, f.Name)
			col.DefaultExpr = &seq
		case f.Key == KeyPrimary:
			col.IsNullable = false
		default:
			col.IsNullable = f.Nullable != NullableNo
		}
		if n, ok := typeLength(f.Type); ok && (col.DataType == "character varying" || col.DataType == "character") {
			col.CharMaxLength = &n
		}
		if col.DataType == "numeric" {
			if p, sc, ok := typePrecisionScale(f.Type); ok {
				col.NumericPrecision = &p
				col.NumericScale = &sc
			}
		}
		if f.HasDefault && !isSerialType(f.Type) {
			if expr, ok := normalizeDefault(f.DefaultRaw, f.Type); ok {
				col.DefaultExpr = &expr
			}
		}
		shape.Columns[f.Name] = col
		shape.ColumnOrder = append(shape.ColumnOrder, f.Name)

		if f.Key == KeyPrimary {
			shape.IndexNames[primaryKeyIndexName(table)] = true
			shape.PrimaryKeyColumns = []string{f.Name}
		}
		if f.Key == KeyUniqueSingle {
			shape.UniqueConstraintNames[uniqueConstraintName(table, f.Name)] = true
			shape.IndexNames[uniqueConstraintName(table, f.Name)] = true
		}
	}

	for _, col := range s.IndividualIndexes {
		shape.IndexNames[indexName(table, col)] = true
	}
	for _, group := range s.CompositeIndexGroups() {
		shape.IndexNames[indexName(table, group)] = true
	}
	for _, group := range s.CompositeUniqueGroups() {
		shape.IndexNames[uniqueIndexName(table, group)] = true
	}
	return shape
}
