package main

import (
	"sort"
	"strings"
)

// sortedKeys returns map keys in lexicographic order so drop statements are
// emitted deterministically.
func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// expectedIndexNames computes every index name the declaration accounts for.
// Names outside this set are candidates for DROP INDEX; the primary-key
// index is always kept.
func expectedIndexNames(table string, s *ParsedSchema) map[string]bool {
	names := map[string]bool{primaryKeyIndexName(table): true}
	for _, col := range s.IndividualIndexes {
		names[indexName(table, col)] = true
	}
	for _, group := range s.CompositeIndexGroups() {
		names[indexName(table, group)] = true
	}
	for _, group := range s.CompositeUniqueGroups() {
		names[uniqueIndexName(table, group)] = true
	}
	for _, f := range s.Columns {
		if f.Key == KeyUniqueSingle {
			// A unique constraint owns an index of the same name.
			names[uniqueConstraintName(table, f.Name)] = true
		}
	}
	return names
}

// expectedUniqueNames computes the unique-constraint names the declaration
// accounts for.
func expectedUniqueNames(table string, s *ParsedSchema) map[string]bool {
	names := map[string]bool{}
	for _, f := range s.Columns {
		if f.Key == KeyUniqueSingle {
			names[uniqueConstraintName(table, f.Name)] = true
		}
	}
	return names
}

// diffTable compares a declaration against the live shape and returns the
// minimal ordered statement list that reconciles them. Pure: identical
// inputs produce an identical list. Emission order is a correctness
// property — drops precede adds, adds precede alters, index and constraint
// adds come last.
func diffTable(table string, s *ParsedSchema, shape *TableShape) []Statement {
	var stmts []Statement

	// 1. drop columns gone from the declaration
	for _, name := range shape.ColumnOrder {
		if _, ok := s.Column(name); !ok {
			stmts = append(stmts, emitDropColumn(table, name))
		}
	}

	// 2. drop unique constraints the declaration no longer accounts for
	wantUniques := expectedUniqueNames(table, s)
	for _, name := range sortedKeys(shape.UniqueConstraintNames) {
		if !wantUniques[name] && name != primaryKeyIndexName(table) {
			stmts = append(stmts, emitDropConstraint(table, name))
		}
	}

	// 3. drop indexes not accounted for; never the primary-key index
	wantIndexes := expectedIndexNames(table, s)
	for _, name := range sortedKeys(shape.IndexNames) {
		if wantIndexes[name] || name == primaryKeyIndexName(table) {
			continue
		}
		// Constraint-owned indexes were dropped with their constraint.
		if shape.UniqueConstraintNames[name] && !wantUniques[name] {
			continue
		}
		stmts = append(stmts, emitDropIndex(table, name))
	}

	// 4. add declared columns missing from the live table
	for _, f := range s.Columns {
		if _, ok := shape.Columns[f.Name]; !ok {
			stmts = append(stmts, emitAddColumn(table, f))
		}
	}

	// 5. type, length, precision drift on retained columns
	for _, f := range s.Columns {
		col, ok := shape.Columns[f.Name]
		if !ok {
			continue
		}
		if typeDiffers(f, col) {
			stmts = append(stmts, emitAlterColumnType(table, f.Name, f.Type))
		}
	}

	// 6. default drift
	for _, f := range s.Columns {
		col, ok := shape.Columns[f.Name]
		if !ok || isSerialType(f.Type) {
			continue
		}
		if f.Key == KeyPrimary && col.DefaultExpr != nil &&
			strings.Contains(strings.ToLower(*col.DefaultExpr), "nextval(") {
			continue
		}
		raw := ""
		if f.HasDefault {
			raw = f.DefaultRaw
		}
		switch verdict, expr := compareDefault(raw, f.Type, col.DefaultExpr); verdict {
		case defaultSet:
			stmts = append(stmts, emitSetDefault(table, f.Name, expr))
		case defaultDrop:
			stmts = append(stmts, emitDropDefault(table, f.Name))
		}
	}

	// 7. nullability drift
	for _, f := range s.Columns {
		col, ok := shape.Columns[f.Name]
		if !ok || isSerialType(f.Type) || f.Nullable == NullableUnset {
			continue
		}
		// The catalog enforces NOT NULL on primary keys on its own.
		if f.Key == KeyPrimary {
			continue
		}
		switch {
		case f.Nullable == NullableNo && col.IsNullable:
			stmts = append(stmts, emitSetNotNull(table, f.Name))
		case f.Nullable == NullableYes && !col.IsNullable:
			stmts = append(stmts, emitDropNotNull(table, f.Name))
		}
	}

	// 8. missing indexes
	for _, idx := range emitSchemaIndexes(table, s) {
		name := indexStatementName(idx)
		if !shape.IndexNames[name] {
			stmts = append(stmts, idx)
		}
	}

	// 9. missing single-column unique constraints
	for _, f := range s.Columns {
		if f.Key != KeyUniqueSingle {
			continue
		}
		if !shape.UniqueConstraintNames[uniqueConstraintName(table, f.Name)] {
			stmts = append(stmts, emitAddUniqueConstraint(table, f.Name))
		}
	}

	return stmts
}

// indexStatementName recovers the index name an emitAddIndex statement
// creates, from its description label.
func indexStatementName(st Statement) string {
	return strings.TrimPrefix(st.Description, "add index ")
}

// typeDiffers reports whether a retained column needs an ALTER TYPE.
func typeDiffers(f FieldDefinition, col ColumnShape) bool {
	declared := catalogType(f.Type)
	if declared != col.DataType {
		return true
	}

	switch declared {
	case "numeric":
		if p, s, ok := typePrecisionScale(f.Type); ok {
			if col.NumericPrecision == nil || col.NumericScale == nil {
				return true
			}
			return *col.NumericPrecision != p || *col.NumericScale != s
		}
	case "character varying", "character":
		if n, ok := typeLength(f.Type); ok {
			if col.CharMaxLength == nil {
				return true
			}
			return *col.CharMaxLength != n
		}
	}
	return false
}
