package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "pgdecl",
	Short:         "Declarative PostgreSQL schema sync and seed tool",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func main() {
	// .env feeds <ENV.NAME> placeholders; absence is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "pgdecl.yml", "path to the configuration file")

	rootCmd.AddCommand(newUpCmd())
	rootCmd.AddCommand(newDiffCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newSeedCmd())
	rootCmd.AddCommand(newSeedDumpCmd())
	rootCmd.AddCommand(newInitCmd())
}

// sessionOpener builds per-target sessions backed by the shared pool
// manager.
func sessionOpener(pm *poolManager) func(ctx context.Context, target Target, admin bool) (*targetSession, error) {
	return func(ctx context.Context, target Target, withAdmin bool) (*targetSession, error) {
		pool, err := pm.Acquire(ctx, target.Node, target.Host, target.Node.Name)
		if err != nil {
			return nil, err
		}
		session := &targetSession{exec: pool, reflector: newCatalogReflector(pool)}
		if withAdmin {
			admin, err := pm.Admin(ctx, target.Node, target.Host)
			if err != nil {
				return nil, err
			}
			session.admin = admin
		}
		return session, nil
	}
}

// promptYesNo asks for interactive confirmation on stdin.
func promptYesNo(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "y", "yes":
		return true
	}
	return false
}

func displayMode(cfg *Config, flag string) string {
	if flag != "" {
		return flag
	}
	return cfg.DisplayMode
}

func newUpCmd() *cobra.Command {
	var (
		yes, create, mute, dry, dropOrphans bool
		name, tenant, display               string
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply declared schema changes to every matching target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			pm := newPoolManager()
			defer pm.Close()

			mode := displayMode(cfg, display)
			confirm := func(target Target, stmts []Statement) bool {
				renderStatements(mode, target, stmts)
				if yes {
					return true
				}
				return promptYesNo(fmt.Sprintf("apply %d statement(s) to %s/%s?", len(stmts), target.Cluster, target.Node.Name))
			}

			opts := MigrateOptions{
				Apply:        !dry,
				CreateDB:     create,
				DropOrphans:  dropOrphans,
				NameFilter:   name,
				TenantFilter: tenant,
				Mute:         mute,
			}
			results := runMigration(cmd.Context(), cfg, opts, sessionOpener(pm), confirm)

			failed := 0
			for _, result := range results {
				if dry {
					renderStatements(mode, result.Target, result.Statements)
					renderOrphans(result.Orphans, dropOrphans)
					continue
				}
				if result.Cancelled {
					fmt.Printf("%s/%s: cancelled\n", result.Target.Cluster, result.Target.Node.Name)
					continue
				}
				if result.Err != nil {
					fmt.Fprintln(os.Stderr, result.Err)
				} else {
					renderApplyReport(result.Target, result.Report)
				}
				if result.Failed() {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d target(s) had failures", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "apply without interactive confirmation")
	cmd.Flags().BoolVar(&create, "create", false, "create missing target databases")
	cmd.Flags().StringVar(&name, "name", "", "only targets of this cluster or database name")
	cmd.Flags().StringVar(&tenant, "tenant", "", "only clusters carrying this tenant key")
	cmd.Flags().BoolVar(&mute, "mute", false, "suppress orphan warnings")
	cmd.Flags().BoolVar(&dry, "dry", false, "analyze and print statements without applying")
	cmd.Flags().BoolVar(&dropOrphans, "drop-orphans", false, "drop live tables absent from every declaration")
	cmd.Flags().StringVar(&display, "display", "", "statement display mode: list, sql or quiet")
	return cmd
}

func newDiffCmd() *cobra.Command {
	var (
		dropOrphans           bool
		name, tenant, display string
	)

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Print the statements an up run would apply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			pm := newPoolManager()
			defer pm.Close()

			opts := MigrateOptions{
				Apply:        false,
				DropOrphans:  dropOrphans,
				NameFilter:   name,
				TenantFilter: tenant,
			}
			results := runMigration(cmd.Context(), cfg, opts, sessionOpener(pm), nil)

			mode := displayMode(cfg, display)
			for _, result := range results {
				if result.Err != nil {
					fmt.Fprintln(os.Stderr, result.Err)
					continue
				}
				renderStatements(mode, result.Target, result.Statements)
				renderOrphans(result.Orphans, dropOrphans)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "only targets of this cluster or database name")
	cmd.Flags().StringVar(&tenant, "tenant", "", "only clusters carrying this tenant key")
	cmd.Flags().BoolVar(&dropOrphans, "drop-orphans", false, "include DROP TABLE statements for orphans")
	cmd.Flags().StringVar(&display, "display", "", "statement display mode: list, sql or quiet")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var name, tenant string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-table up-to-date/pending state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			pm := newPoolManager()
			defer pm.Close()
			open := sessionOpener(pm)

			for _, target := range cfg.Targets(name, tenant) {
				session, err := open(cmd.Context(), target, false)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					continue
				}
				statuses, err := targetStatus(cmd.Context(), cfg, target, session.reflector)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					continue
				}
				renderStatus(target, statuses)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "only targets of this cluster or database name")
	cmd.Flags().StringVar(&tenant, "tenant", "", "only clusters carrying this tenant key")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var (
		name, tenant string
		params       []string
	)

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Execute raw SQL against every matching target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			named := map[string]any{}
			for _, pair := range params {
				key, value, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("--param must be name=value, got %q", pair)
				}
				named[key] = value
			}
			sql, queryArgs := rewriteNamedParams(args[0], named)
			if len(named) > 0 && len(queryArgs) == 0 {
				return fmt.Errorf("no :name placeholders matched parameters %s", strings.Join(sortedParamNames(named), ", "))
			}

			pm := newPoolManager()
			defer pm.Close()
			open := sessionOpener(pm)

			failed := 0
			for _, target := range cfg.Targets(name, tenant) {
				session, err := open(cmd.Context(), target, false)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					failed++
					continue
				}
				if err := runQuery(cmd.Context(), session.exec, target, sql, queryArgs); err != nil {
					fmt.Fprintln(os.Stderr, err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d target(s) failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "only targets of this cluster or database name")
	cmd.Flags().StringVar(&tenant, "tenant", "", "only clusters carrying this tenant key")
	cmd.Flags().StringArrayVar(&params, "param", nil, "named parameter as name=value (repeatable)")
	return cmd
}

// runQuery executes one statement and renders its result set, or the
// affected-row count for statements without one.
func runQuery(ctx context.Context, exec Executor, target Target, sql string, args []any) error {
	headerColor.Printf("%s/%s (%s)\n", target.Cluster, target.Node.Name, target.Host)

	rows, err := exec.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("query failed: %w\nSQL: %s", err, sql)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}

	var result [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return fmt.Errorf("query failed: %w\nSQL: %s", err, sql)
		}
		result = append(result, values)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("query failed: %w\nSQL: %s", err, sql)
	}

	if len(cols) == 0 {
		fmt.Printf("%s (%d row(s) affected)\n", rows.CommandTag(), rows.CommandTag().RowsAffected())
		return nil
	}
	renderRows(cols, result)
	return nil
}

func newSeedCmd() *cobra.Command {
	var (
		yes         bool
		table, name string
		tenant      string
	)

	cmd := &cobra.Command{
		Use:   "seed [file]",
		Short: "Reconcile declared seed rows against every matching target",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			pm := newPoolManager()
			defer pm.Close()

			opts := SeedOptions{
				Apply:        true,
				TableFilter:  table,
				NameFilter:   name,
				TenantFilter: tenant,
			}
			if len(args) > 0 {
				opts.File = args[0]
			}

			confirm := func(target Target, tableName string, plans []SeedRowPlan) bool {
				inserts, updates := 0, 0
				for _, plan := range plans {
					switch plan.Action {
					case SeedInsert:
						inserts++
					case SeedUpdate:
						updates++
					}
				}
				if inserts == 0 && updates == 0 {
					return true
				}
				if yes {
					return true
				}
				return promptYesNo(fmt.Sprintf("%s/%s: %s needs %d insert(s), %d update(s); apply?",
					target.Cluster, target.Node.Name, tableName, inserts, updates))
			}

			results := runSeed(cmd.Context(), cfg, opts, sessionOpener(pm), confirm)

			failed := 0
			for _, result := range results {
				if result.Err != nil {
					fmt.Fprintln(os.Stderr, result.Err)
					failed++
					continue
				}
				headerColor.Printf("%s/%s (%s)\n", result.Target.Cluster, result.Target.Node.Name, result.Target.Host)
				for _, report := range result.Reports {
					renderSeedReport(report, true)
				}
				if result.Cancelled {
					fmt.Println("  cancelled")
				}
				if result.Failed() {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d target(s) had failures", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "apply without interactive confirmation")
	cmd.Flags().StringVar(&table, "table", "", "only this table")
	cmd.Flags().StringVar(&name, "name", "", "only targets of this cluster or database name")
	cmd.Flags().StringVar(&tenant, "tenant", "", "only clusters carrying this tenant key")
	return cmd
}

func newSeedDumpCmd() *cobra.Command {
	var opts DumpOptions

	cmd := &cobra.Command{
		Use:   "seed:dump",
		Short: "Write live rows as seed files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			pm := newPoolManager()
			defer pm.Close()

			return runSeedDump(cmd.Context(), cfg, opts, sessionOpener(pm))
		},
	}

	cmd.Flags().StringArrayVar(&opts.Tables, "table", nil, "table to dump (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Exclude, "exclude", nil, "table to skip (repeatable)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "dump every table")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum rows per table (0 = no limit)")
	cmd.Flags().BoolVar(&opts.SkipAuto, "skip-auto", false, "omit sequence-backed columns")
	cmd.Flags().StringVar(&opts.NameFilter, "name", "", "only targets of this cluster or database name")
	cmd.Flags().StringVar(&opts.TenantFilter, "tenant", "", "only clusters carrying this tenant key")
	return cmd
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write sample configuration, declaration, and seed files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeSampleFiles(".")
		},
	}
}
