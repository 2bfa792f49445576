package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// DumpOptions carries caller-requested behavior for seed:dump.
type DumpOptions struct {
	Tables       []string
	Exclude      []string
	All          bool
	Limit        int
	SkipAuto     bool // drop sequence-backed columns so reseeding reassigns them
	NameFilter   string
	TenantFilter string
}

// runSeedDump reads live rows from the first matching target and writes one
// seed file per table under seedPath.
func runSeedDump(ctx context.Context, cfg *Config, opts DumpOptions, open func(ctx context.Context, target Target, admin bool) (*targetSession, error)) error {
	if !opts.All && len(opts.Tables) == 0 {
		return fmt.Errorf("seed:dump requires --table or --all")
	}
	if cfg.SeedPath == "" {
		return fmt.Errorf("seed:dump requires seedPath in the configuration")
	}

	targets := cfg.Targets(opts.NameFilter, opts.TenantFilter)
	if len(targets) == 0 {
		return fmt.Errorf("no targets match the requested filters")
	}
	target := targets[0]

	session, err := open(ctx, target, false)
	if err != nil {
		return fmt.Errorf("target %s/%s: %w", target.Cluster, target.Node.Name, err)
	}

	tables, err := selectDumpTables(ctx, session.reflector, opts)
	if err != nil {
		return err
	}

	outDir := cfg.resolvePath(cfg.SeedPath)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", outDir, err)
	}

	for _, table := range tables {
		if err := dumpTable(ctx, session, table, outDir, cfg.SeedSuffix, opts); err != nil {
			return err
		}
	}
	return nil
}

func selectDumpTables(ctx context.Context, reflector Reflector, opts DumpOptions) ([]string, error) {
	live, err := reflector.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	var tables []string
	for _, table := range live {
		if containsString(opts.Exclude, table) {
			continue
		}
		if opts.All || containsString(opts.Tables, table) {
			tables = append(tables, table)
		}
	}
	for _, requested := range opts.Tables {
		if !containsString(live, requested) {
			log.Printf("WARN: table %s does not exist, skipping", requested)
		}
	}
	return tables, nil
}

func dumpTable(ctx context.Context, session *targetSession, table, outDir, suffix string, opts DumpOptions) error {
	columns, order, err := session.reflector.Columns(ctx, table)
	if err != nil {
		return fmt.Errorf("reflect %s: %w", table, err)
	}

	var cols []string
	for _, name := range order {
		if opts.SkipAuto {
			col := columns[name]
			if col.DefaultExpr != nil && strings.Contains(strings.ToLower(*col.DefaultExpr), "nextval(") {
				continue
			}
		}
		cols = append(cols, name)
	}
	if len(cols) == 0 {
		log.Printf("WARN: table %s has no dumpable columns, skipping", table)
		return nil
	}

	orderBy, err := session.reflector.PrimaryKeyColumns(ctx, table)
	if err != nil || len(orderBy) == 0 {
		orderBy = cols[:1]
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		quotedColumnList(cols), pgIdent(table), quotedColumnList(orderBy))
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := session.exec.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("dump %s: %w\nSQL: %s", table, err, query)
	}
	defer rows.Close()

	var dumped []yaml.MapSlice
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("dump %s: %w", table, err)
		}

		row := make(yaml.MapSlice, len(cols))
		for i, col := range cols {
			row[i] = yaml.MapItem{Key: col, Value: dumpValue(values[i])}
		}
		dumped = append(dumped, row)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("dump %s: %w", table, err)
	}

	doc := yaml.MapSlice{{Key: table, Value: dumped}}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("dump %s: %w", table, err)
	}

	path := filepath.Join(outDir, table+suffix)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	log.Printf("  wrote %s (%d row(s))", path, len(dumped))
	return nil
}

// dumpValue converts a driver value into a YAML-friendly scalar.
func dumpValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Local().Format(subSecondFmt)
	case []byte:
		return string(t)
	default:
		return v
	}
}
