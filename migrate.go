package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// MigrateOptions carries the caller-requested behavior for one migration or
// diff run.
type MigrateOptions struct {
	Apply        bool // false renders only (dry run)
	CreateDB     bool
	DropOrphans  bool
	NameFilter   string
	TenantFilter string
	Mute         bool
}

// TargetResult is the per-target outcome: the analyzed statement list, the
// orphan tables, and the apply report when statements ran.
type TargetResult struct {
	Target     Target
	Statements []Statement
	Orphans    []string
	Report     ApplyReport
	Cancelled  bool
	Err        error
}

// Failed reports whether anything in the result should set a non-zero exit.
func (r TargetResult) Failed() bool {
	return r.Err != nil || len(r.Report.Failures) > 0
}

// confirmFunc sits between the analyze and apply phases. Callers interleave
// interactive prompts here; nil approves everything.
type confirmFunc func(target Target, stmts []Statement) bool

// targetSession bundles the ports one target needs.
type targetSession struct {
	exec      Executor
	admin     Executor // nil unless database creation was requested
	reflector Reflector
}

// runMigration drives every filtered target sequentially and returns the
// per-target results. Pool lifecycle stays with the caller-provided opener.
func runMigration(ctx context.Context, cfg *Config, opts MigrateOptions, open func(ctx context.Context, target Target, admin bool) (*targetSession, error), confirm confirmFunc) []TargetResult {
	targets := cfg.Targets(opts.NameFilter, opts.TenantFilter)
	if len(targets) == 0 {
		log.Printf("WARN: no targets match the requested filters")
	}

	var results []TargetResult
	for _, target := range targets {
		result := TargetResult{Target: target}

		session, err := open(ctx, target, opts.CreateDB)
		if err != nil {
			result.Err = fmt.Errorf("target %s/%s: %w", target.Cluster, target.Node.Name, err)
			results = append(results, result)
			continue
		}

		results = append(results, runTarget(ctx, cfg, target, session, opts, confirm))
	}
	return results
}

// runTarget analyzes one target and optionally applies the statement list.
func runTarget(ctx context.Context, cfg *Config, target Target, session *targetSession, opts MigrateOptions, confirm confirmFunc) TargetResult {
	result := TargetResult{Target: target}

	if opts.CreateDB && session.admin != nil {
		created, err := ensureDatabase(ctx, session, target.Node.Name, opts, &result)
		if err != nil {
			result.Err = err
			return result
		}
		if created {
			log.Printf("  created database %s", target.Node.Name)
		}
	}

	stmts, orphans, err := analyzeTarget(ctx, cfg, target, session.reflector, opts)
	if err != nil {
		result.Err = err
		return result
	}
	result.Statements = append(result.Statements, stmts...)
	result.Orphans = orphans
	result.Report.Total = len(result.Statements)

	if !opts.Apply || len(stmts) == 0 {
		return result
	}
	if confirm != nil && !confirm(target, result.Statements) {
		result.Cancelled = true
		return result
	}

	if err := runHookFiles(ctx, session.exec, cfg, cfg.Hooks.BeforeApply, "before_apply", &result.Report); err != nil {
		result.Err = err
		return result
	}
	// The CREATE DATABASE statement, if any, already ran via the admin
	// executor; only the analyzed statements go through the target pool.
	applyStatements(ctx, session.exec, stmts, &result.Report)
	if err := runHookFiles(ctx, session.exec, cfg, cfg.Hooks.AfterApply, "after_apply", &result.Report); err != nil {
		result.Err = err
	}
	return result
}

// ensureDatabase creates the target database through the admin executor when
// it does not exist. Returns whether a CREATE DATABASE ran.
func ensureDatabase(ctx context.Context, session *targetSession, name string, opts MigrateOptions, result *TargetResult) (bool, error) {
	exists, err := databaseExists(ctx, session.admin, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	stmt := emitCreateDatabase(name)
	result.Statements = append(result.Statements, stmt)
	if !opts.Apply {
		return false, nil
	}
	if _, err := session.admin.Exec(ctx, stmt.SQL); err != nil {
		return false, fmt.Errorf("%s: %w\nSQL: %s", stmt.Description, err, stmt.SQL)
	}
	result.Report.Executed++
	return true, nil
}

// analyzeTarget parses every declaration file, diffs each table against the
// live catalog, and computes orphans. Pure aside from reflector reads.
func analyzeTarget(ctx context.Context, cfg *Config, target Target, reflector Reflector, opts MigrateOptions) ([]Statement, []string, error) {
	live, err := reflector.ListTables(ctx)
	if err != nil {
		// Proceed with create-only semantics when the catalog cannot be
		// enumerated (fresh database, limited grants).
		log.Printf("WARN: cannot enumerate tables for %s: %v", target.Node.Name, err)
		live = nil
	}
	liveSet := map[string]bool{}
	for _, t := range live {
		liveSet[t] = true
	}

	files, err := listYAMLFiles(cfg.declarationDirs(target.Node))
	if err != nil {
		return nil, nil, fmt.Errorf("target %s/%s: %w", target.Cluster, target.Node.Name, err)
	}

	var stmts []Statement
	declared := map[string]bool{}
	for _, file := range files {
		decls, err := loadDeclarationFile(file)
		if err != nil {
			log.Printf("WARN: skipping %s: %v", file, err)
			continue
		}
		for _, decl := range decls {
			if decl.Ignore {
				continue
			}
			table := rewriteTableName(decl.Name, target.Node.Prefix)

			schema, err := parseSchema(table, decl.Fields, cfg.CustomFields)
			if err != nil {
				log.Printf("WARN: skipping %s: %v", file, err)
				continue
			}
			declared[table] = true

			if !liveSet[table] {
				stmts = append(stmts, emitCreateTable(table, schema)...)
				continue
			}

			shape, err := reflectTableShape(ctx, reflector, table)
			if err != nil {
				log.Printf("WARN: skipping table %s: %v", table, err)
				continue
			}
			stmts = append(stmts, diffTable(table, schema, shape)...)
		}
	}

	var orphans []string
	for _, t := range live {
		if !declared[t] {
			orphans = append(orphans, t)
		}
	}
	sort.Strings(orphans)

	if opts.DropOrphans {
		for _, t := range orphans {
			stmts = append(stmts, emitDropTable(t))
		}
	} else if len(orphans) > 0 && !opts.Mute {
		log.Printf("WARN: orphan tables not covered by any declaration: %s", strings.Join(orphans, ", "))
	}

	return stmts, orphans, nil
}

// rewriteTableName applies the cluster prefix to ~-named tenant tables.
func rewriteTableName(name, prefix string) string {
	if rest, ok := strings.CutPrefix(name, "~"); ok {
		return prefix + rest
	}
	return name
}

// applyStatements runs each statement individually — never inside a
// transaction, because concurrent index creation forbids one. Fail-soft: a
// failing statement is recorded and the rest continue. Cancellation stops
// further dispatch; the in-flight statement completes.
func applyStatements(ctx context.Context, exec Executor, stmts []Statement, report *ApplyReport) {
	for _, stmt := range stmts {
		if ctx.Err() != nil {
			return
		}
		if _, err := exec.Exec(ctx, stmt.SQL); err != nil {
			report.Failures = append(report.Failures, StatementError{
				Statement: stmt,
				Err:       fmt.Errorf("%s: %w\nSQL: %s", stmt.Description, err, stmt.SQL),
			})
			continue
		}
		report.Executed++
	}
}

// runHookFiles executes each hook SQL file statement by statement. Hook
// statements count toward the report like engine-emitted ones.
func runHookFiles(ctx context.Context, exec Executor, cfg *Config, files []string, phase string, report *ApplyReport) error {
	if len(files) == 0 {
		return nil
	}
	log.Printf("  running %s hooks (%d files)...", phase, len(files))

	for _, f := range files {
		path := cfg.resolvePath(f)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("hook %s: read %s: %w", phase, f, err)
		}

		stmts := splitStatements(string(data))
		for i, raw := range stmts {
			stmt := Statement{
				Kind:        StmtRaw,
				SQL:         raw,
				Description: fmt.Sprintf("hook %s %s #%d", phase, f, i+1),
			}
			report.Total++
			if _, err := exec.Exec(ctx, raw); err != nil {
				report.Failures = append(report.Failures, StatementError{Statement: stmt, Err: err})
				continue
			}
			report.Executed++
		}
	}
	return nil
}
