package main

import (
	"context"
	"fmt"
	"log"
	"sort"

	"golang.org/x/sync/errgroup"
)

// targetStatus computes the per-table verdicts for one target. Reflection
// runs per table and is independent, so tables are inspected concurrently;
// nothing here mutates the database.
func targetStatus(ctx context.Context, cfg *Config, target Target, reflector Reflector) ([]TableStatus, error) {
	live, err := reflector.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("target %s/%s: %w", target.Cluster, target.Node.Name, err)
	}
	liveSet := map[string]bool{}
	for _, t := range live {
		liveSet[t] = true
	}

	files, err := listYAMLFiles(cfg.declarationDirs(target.Node))
	if err != nil {
		return nil, fmt.Errorf("target %s/%s: %w", target.Cluster, target.Node.Name, err)
	}

	type declared struct {
		table  string
		schema *ParsedSchema
	}
	var decls []declared
	for _, file := range files {
		tables, err := loadDeclarationFile(file)
		if err != nil {
			log.Printf("WARN: skipping %s: %v", file, err)
			continue
		}
		for _, decl := range tables {
			if decl.Ignore {
				continue
			}
			table := rewriteTableName(decl.Name, target.Node.Prefix)
			schema, err := parseSchema(table, decl.Fields, cfg.CustomFields)
			if err != nil {
				log.Printf("WARN: skipping %s: %v", file, err)
				continue
			}
			decls = append(decls, declared{table: table, schema: schema})
		}
	}

	statuses := make([]TableStatus, len(decls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, d := range decls {
		i, d := i, d
		g.Go(func() error {
			if !liveSet[d.table] {
				statuses[i] = TableStatus{Table: d.table, Missing: true, Pending: len(emitCreateTable(d.table, d.schema))}
				return nil
			}
			shape, err := reflectTableShape(gctx, reflector, d.table)
			if err != nil {
				return err
			}
			statuses[i] = TableStatus{Table: d.table, Pending: len(diffTable(d.table, d.schema, shape))}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("target %s/%s: %w", target.Cluster, target.Node.Name, err)
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Table < statuses[j].Table })
	return statuses, nil
}
