package main

import (
	"fmt"
	"strings"
)

// columnDefinition renders the body of a column clause shared by CREATE
// TABLE and ADD COLUMN: type, nullability, default, extra, inline key.
func columnDefinition(f FieldDefinition) string {
	var b strings.Builder
	b.WriteString(pgIdent(f.Name))
	b.WriteByte(' ')
	b.WriteString(f.Type)

	switch f.Nullable {
	case NullableNo:
		b.WriteString(" NOT NULL")
	case NullableYes:
		b.WriteString(" NULL")
	}

	if f.HasDefault && !isSerialType(f.Type) {
		if expr, ok := normalizeDefault(f.DefaultRaw, f.Type); ok {
			b.WriteString(" DEFAULT ")
			b.WriteString(expr)
		}
	}

	if f.Extra != "" {
		b.WriteByte(' ')
		b.WriteString(f.Extra)
	}

	if f.Key == KeyPrimary {
		b.WriteString(" PRIMARY KEY")
	}
	return b.String()
}

// emitCreateTable produces the CREATE TABLE statement plus the follow-up
// unique-constraint and index statements for a table that does not exist yet.
func emitCreateTable(table string, s *ParsedSchema) []Statement {
	cols := make([]string, len(s.Columns))
	for i, f := range s.Columns {
		cols[i] = columnDefinition(f)
	}

	stmts := []Statement{{
		Table:       table,
		Kind:        StmtCreateTable,
		SQL:         fmt.Sprintf("CREATE TABLE %s (%s)", pgIdent(table), strings.Join(cols, ", ")),
		Description: fmt.Sprintf("create table %s", table),
	}}

	for _, f := range s.Columns {
		if f.Key == KeyUniqueSingle {
			stmts = append(stmts, emitAddUniqueConstraint(table, f.Name))
		}
	}
	stmts = append(stmts, emitSchemaIndexes(table, s)...)
	return stmts
}

// emitSchemaIndexes produces the index statements a ParsedSchema calls for:
// individual, composite, then composite-unique.
func emitSchemaIndexes(table string, s *ParsedSchema) []Statement {
	var stmts []Statement
	for _, col := range s.IndividualIndexes {
		stmts = append(stmts, emitAddIndex(table, indexName(table, col), []string{col}, false))
	}
	for _, group := range s.CompositeIndexGroups() {
		stmts = append(stmts, emitAddIndex(table, indexName(table, group), s.CompositeIndexes[group], false))
	}
	for _, group := range s.CompositeUniqueGroups() {
		stmts = append(stmts, emitAddIndex(table, uniqueIndexName(table, group), s.CompositeUniqueIndexes[group], true))
	}
	return stmts
}

func indexName(table, colOrGroup string) string  { return table + "_" + colOrGroup + "_idx" }
func uniqueIndexName(table, group string) string { return table + "_" + group + "_unique_idx" }
func uniqueConstraintName(table, col string) string {
	return table + "_" + col + "_unique"
}
func primaryKeyIndexName(table string) string { return table + "_pkey" }

// emitAddIndex creates an index CONCURRENTLY; concurrent builds cannot run
// inside a transaction, which is why the orchestrator applies statements
// individually.
func emitAddIndex(table, name string, cols []string, unique bool) Statement {
	uniq := ""
	if unique {
		uniq = "UNIQUE "
	}
	return Statement{
		Table:       table,
		Kind:        StmtAddIndex,
		SQL:         fmt.Sprintf("CREATE %sINDEX CONCURRENTLY %s ON %s (%s)", uniq, pgIdent(name), pgIdent(table), quotedColumnList(cols)),
		Description: fmt.Sprintf("add index %s", name),
	}
}

func emitAddUniqueConstraint(table, col string) Statement {
	name := uniqueConstraintName(table, col)
	return Statement{
		Table:       table,
		Kind:        StmtAddUnique,
		SQL:         fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)", pgIdent(table), pgIdent(name), pgIdent(col)),
		Description: fmt.Sprintf("add unique %s", name),
	}
}

func emitDropConstraint(table, name string) Statement {
	return Statement{
		Table:       table,
		Kind:        StmtDropUnique,
		SQL:         fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", pgIdent(table), pgIdent(name)),
		Description: fmt.Sprintf("drop unique %s", name),
	}
}

func emitDropIndex(table, name string) Statement {
	return Statement{
		Table:       table,
		Kind:        StmtDropIndex,
		SQL:         fmt.Sprintf("DROP INDEX IF EXISTS %s", pgIdent(name)),
		Description: fmt.Sprintf("drop index %s", name),
	}
}

func emitAddColumn(table string, f FieldDefinition) Statement {
	return Statement{
		Table:       table,
		Kind:        StmtAddColumn,
		SQL:         fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", pgIdent(table), columnDefinition(f)),
		Description: fmt.Sprintf("add column %s.%s", table, f.Name),
	}
}

func emitDropColumn(table, col string) Statement {
	return Statement{
		Table:       table,
		Kind:        StmtDropColumn,
		SQL:         fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", pgIdent(table), pgIdent(col)),
		Description: fmt.Sprintf("drop column %s.%s", table, col),
	}
}

func emitAlterColumnType(table, col, declaredType string) Statement {
	return Statement{
		Table:       table,
		Kind:        StmtAlterColumn,
		SQL:         fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s", pgIdent(table), pgIdent(col), declaredType),
		Description: fmt.Sprintf("alter type %s.%s", table, col),
	}
}

func emitSetDefault(table, col, expr string) Statement {
	return Statement{
		Table:       table,
		Kind:        StmtAlterColumn,
		SQL:         fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", pgIdent(table), pgIdent(col), expr),
		Description: fmt.Sprintf("set default %s.%s", table, col),
	}
}

func emitDropDefault(table, col string) Statement {
	return Statement{
		Table:       table,
		Kind:        StmtAlterColumn,
		SQL:         fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", pgIdent(table), pgIdent(col)),
		Description: fmt.Sprintf("drop default %s.%s", table, col),
	}
}

func emitSetNotNull(table, col string) Statement {
	return Statement{
		Table:       table,
		Kind:        StmtAlterColumn,
		SQL:         fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", pgIdent(table), pgIdent(col)),
		Description: fmt.Sprintf("set not null %s.%s", table, col),
	}
}

func emitDropNotNull(table, col string) Statement {
	return Statement{
		Table:       table,
		Kind:        StmtAlterColumn,
		SQL:         fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", pgIdent(table), pgIdent(col)),
		Description: fmt.Sprintf("drop not null %s.%s", table, col),
	}
}

func emitDropTable(table string) Statement {
	return Statement{
		Table:       table,
		Kind:        StmtDropTable,
		SQL:         fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", pgIdent(table)),
		Description: fmt.Sprintf("drop table %s", table),
	}
}

func emitCreateDatabase(name string) Statement {
	return Statement{
		Kind:        StmtCreateDB,
		SQL:         fmt.Sprintf("CREATE DATABASE %s ENCODING 'UTF8'", pgIdent(name)),
		Description: fmt.Sprintf("create database %s", name),
	}
}
