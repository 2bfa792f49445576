package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
)

// SeedOptions carries caller-requested behavior for one seed run.
type SeedOptions struct {
	Apply        bool
	File         string // explicit seed file; empty means every file under seedPath
	TableFilter  string
	NameFilter   string
	TenantFilter string
}

// SeedTargetResult is the per-target outcome of a seed run.
type SeedTargetResult struct {
	Target    Target
	Reports   []SeedReport
	Cancelled bool
	Err       error
}

// Failed reports whether the result should set a non-zero exit.
func (r SeedTargetResult) Failed() bool {
	if r.Err != nil {
		return true
	}
	for _, report := range r.Reports {
		if report.Failed > 0 {
			return true
		}
	}
	return false
}

// seedConfirmFunc sits between the analyze and apply passes of a seed run.
type seedConfirmFunc func(target Target, table string, plans []SeedRowPlan) bool

// runSeed reconciles declared row sets against every filtered target.
func runSeed(ctx context.Context, cfg *Config, opts SeedOptions, open func(ctx context.Context, target Target, admin bool) (*targetSession, error), confirm seedConfirmFunc) []SeedTargetResult {
	files := []string{}
	if opts.File != "" {
		files = append(files, opts.File)
	} else if cfg.SeedPath != "" {
		listed, err := listYAMLFiles([]string{cfg.resolvePath(cfg.SeedPath)})
		if err != nil {
			return []SeedTargetResult{{Err: err}}
		}
		files = listed
	}

	var tables []SeedTable
	for _, file := range files {
		loaded, err := loadSeedFile(file)
		if err != nil {
			log.Printf("WARN: skipping %s: %v", file, err)
			continue
		}
		tables = append(tables, loaded...)
	}

	var results []SeedTargetResult
	for _, target := range cfg.Targets(opts.NameFilter, opts.TenantFilter) {
		result := SeedTargetResult{Target: target}

		session, err := open(ctx, target, false)
		if err != nil {
			result.Err = fmt.Errorf("target %s/%s: %w", target.Cluster, target.Node.Name, err)
			results = append(results, result)
			continue
		}

		for _, declared := range tables {
			table := seedTableName(declared.TableName, target.Node.Prefix)
			if opts.TableFilter != "" && opts.TableFilter != table && opts.TableFilter != declared.TableName {
				continue
			}

			report, cancelled, err := reconcileSeedTable(ctx, session, table, declared, opts.Apply, target, confirm)
			if err != nil {
				result.Err = err
				break
			}
			result.Reports = append(result.Reports, report)
			if cancelled {
				result.Cancelled = true
				break
			}
		}
		results = append(results, result)
	}
	return results
}

// seedTableName applies the cluster prefix when the declared name does not
// already carry it.
func seedTableName(name, prefix string) string {
	if prefix != "" && !strings.HasPrefix(name, prefix) {
		return prefix + name
	}
	return name
}

// reconcileSeedTable analyzes every declared row and, when requested,
// reconciles the non-trivial ones.
func reconcileSeedTable(ctx context.Context, session *targetSession, table string, declared SeedTable, apply bool, target Target, confirm seedConfirmFunc) (SeedReport, bool, error) {
	report := SeedReport{Table: table}
	if len(declared.Rows) == 0 {
		return report, false, nil
	}

	match, err := discoverMatchColumns(ctx, session.reflector, table, declared.Rows[0])
	if err != nil {
		return report, false, fmt.Errorf("table %s: %w", table, err)
	}

	plans := make([]SeedRowPlan, len(declared.Rows))
	for i, row := range declared.Rows {
		plans[i] = analyzeSeedRow(ctx, session.exec, table, match, row)
	}

	for _, plan := range plans {
		switch plan.Action {
		case SeedUnchanged:
			report.Unchanged++
		case SeedSkipped:
			report.Skipped++
			log.Printf("WARN: %s (%s): row skipped: %v", table, declared.SourceFile, plan.Err)
		}
	}

	if !apply {
		for _, plan := range plans {
			switch plan.Action {
			case SeedInsert:
				report.Inserted++
			case SeedUpdate:
				report.Updated++
			}
		}
		return report, false, nil
	}

	if confirm != nil && !confirm(target, table, plans) {
		return report, true, nil
	}

	for _, plan := range plans {
		if plan.Action != SeedInsert && plan.Action != SeedUpdate {
			continue
		}
		inserted, err := applySeedRow(ctx, session.exec, table, match, plan.Row)
		if err != nil {
			report.Failed++
			log.Printf("WARN: %s: row failed: %v", table, err)
			continue
		}
		if inserted {
			report.Inserted++
		} else {
			report.Updated++
		}
	}
	return report, false, nil
}

// discoverMatchColumns picks the primary key when the sample row carries all
// of it, otherwise the first unique index fully present in the row. An empty
// result makes the table insert-only.
func discoverMatchColumns(ctx context.Context, reflector Reflector, table string, sample map[string]any) ([]string, error) {
	pk, err := reflector.PrimaryKeyColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(pk) > 0 && rowHasColumns(sample, pk) {
		return pk, nil
	}

	uniques, err := reflector.UniqueIndexDefs(ctx, table)
	if err != nil {
		return nil, err
	}
	for _, def := range uniques {
		if rowHasColumns(sample, def.Columns) {
			return def.Columns, nil
		}
	}
	return nil, nil
}

func rowHasColumns(row map[string]any, cols []string) bool {
	for _, col := range cols {
		if _, ok := row[col]; !ok {
			return false
		}
	}
	return true
}

// analyzeSeedRow classifies one declared row by selecting its live
// counterpart through the match columns.
func analyzeSeedRow(ctx context.Context, exec Executor, table string, match []string, row map[string]any) SeedRowPlan {
	plan := SeedRowPlan{Row: row}
	if len(match) == 0 {
		plan.Action = SeedInsert
		return plan
	}

	compare := nonMatchColumns(row, match)
	selectCols := compare
	if len(selectCols) == 0 {
		selectCols = match
	}

	where, args := matchPredicate(match, row, 0)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		quotedColumnList(selectCols), pgIdent(table), where)

	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		plan.Action = SeedSkipped
		plan.Err = fmt.Errorf("%w\nSQL: %s", err, query)
		return plan
	}
	defer rows.Close()

	found := 0
	live := make([]any, len(selectCols))
	for rows.Next() {
		found++
		if found > 1 {
			continue
		}
		ptrs := make([]any, len(selectCols))
		for i := range live {
			ptrs[i] = &live[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			plan.Action = SeedSkipped
			plan.Err = err
			return plan
		}
	}
	if err := rows.Err(); err != nil {
		plan.Action = SeedSkipped
		plan.Err = err
		return plan
	}

	switch {
	case found == 0:
		plan.Action = SeedInsert
	case found > 1:
		plan.Action = SeedSkipped
		plan.Err = fmt.Errorf("match columns (%s) selected %d rows", strings.Join(match, ", "), found)
	default:
		plan.Action = SeedUnchanged
		for i, col := range compare {
			if !seedValuesEqual(row[col], live[i]) {
				plan.Action = SeedUpdate
				plan.Changed = append(plan.Changed, col)
			}
		}
	}
	return plan
}

// applySeedRow reconciles one non-trivial row. With match columns it issues
// a single upsert whose RETURNING clause distinguishes insert from update;
// without them it checks for an identical row and inserts when absent.
func applySeedRow(ctx context.Context, exec Executor, table string, match []string, row map[string]any) (inserted bool, err error) {
	cols := sortedRowColumns(row)
	args := make([]any, len(cols))
	placeholders := make([]string, len(cols))
	for i, col := range cols {
		args[i] = row[col]
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	if len(match) == 0 {
		where, whereArgs := matchPredicate(cols, row, 0)
		checkQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", pgIdent(table), where)
		var count int
		if err := exec.QueryRow(ctx, checkQuery, whereArgs...).Scan(&count); err != nil {
			return false, fmt.Errorf("%w\nSQL: %s", err, checkQuery)
		}
		if count > 0 {
			return false, nil
		}
		insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			pgIdent(table), quotedColumnList(cols), strings.Join(placeholders, ", "))
		if _, err := exec.Exec(ctx, insert, args...); err != nil {
			return false, fmt.Errorf("%w\nSQL: %s", err, insert)
		}
		return true, nil
	}

	nonMatch := nonMatchColumns(row, match)
	if len(nonMatch) == 0 {
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
			pgIdent(table), quotedColumnList(cols), strings.Join(placeholders, ", "),
			quotedColumnList(match))
		if _, err := exec.Exec(ctx, query, args...); err != nil {
			return false, fmt.Errorf("%w\nSQL: %s", err, query)
		}
		return true, nil
	}

	sets := make([]string, len(nonMatch))
	for i, col := range nonMatch {
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", pgIdent(col), pgIdent(col))
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING (xmax = 0) AS is_insert",
		pgIdent(table), quotedColumnList(cols), strings.Join(placeholders, ", "),
		quotedColumnList(match), strings.Join(sets, ", "))

	var isInsert bool
	if err := exec.QueryRow(ctx, query, args...).Scan(&isInsert); err != nil {
		return false, fmt.Errorf("%w\nSQL: %s", err, query)
	}
	return isInsert, nil
}

// matchPredicate renders an IS NOT DISTINCT FROM predicate over cols so NULL
// match values still select their row. Placeholder numbering starts after
// offset.
func matchPredicate(cols []string, row map[string]any, offset int) (string, []any) {
	parts := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		parts[i] = fmt.Sprintf("%s IS NOT DISTINCT FROM $%d", pgIdent(col), offset+i+1)
		args[i] = row[col]
	}
	return strings.Join(parts, " AND "), args
}

func nonMatchColumns(row map[string]any, match []string) []string {
	var cols []string
	for _, col := range sortedRowColumns(row) {
		if !containsString(match, col) {
			cols = append(cols, col)
		}
	}
	return cols
}

func sortedRowColumns(row map[string]any) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
