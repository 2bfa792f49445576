package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	addColor    = color.New(color.FgGreen)
	dropColor   = color.New(color.FgRed)
	alterColor  = color.New(color.FgYellow)
	dimColor    = color.New(color.Faint)
)

func statementColor(kind StatementKind) *color.Color {
	switch kind {
	case StmtDropTable, StmtDropColumn, StmtDropIndex, StmtDropUnique:
		return dropColor
	case StmtAlterColumn:
		return alterColor
	default:
		return addColor
	}
}

// renderStatements prints one target's statement list per the display mode.
func renderStatements(mode string, target Target, stmts []Statement) {
	if mode == "quiet" {
		return
	}
	headerColor.Printf("%s/%s (%s): %d statement(s)\n", target.Cluster, target.Node.Name, target.Host, len(stmts))
	for _, stmt := range stmts {
		c := statementColor(stmt.Kind)
		switch mode {
		case "sql":
			c.Printf("  %s;\n", stmt.SQL)
		default:
			c.Printf("  %-16s %s\n", stmt.Kind, stmt.Description)
		}
	}
}

// renderApplyReport prints the outcome of one target's apply pass.
func renderApplyReport(target Target, report ApplyReport) {
	if len(report.Failures) == 0 {
		fmt.Printf("%s/%s: %d/%d statement(s) applied\n",
			target.Cluster, target.Node.Name, report.Executed, report.Total)
		return
	}

	dropColor.Printf("%s/%s: %d/%d applied, %d failed\n",
		target.Cluster, target.Node.Name, report.Executed, report.Total, len(report.Failures))
	for _, failure := range report.Failures {
		dropColor.Printf("  FAIL %s\n", failure.Statement.Description)
		dimColor.Printf("       %v\n", failure.Err)
	}
}

// renderOrphans warns about undeclared live tables.
func renderOrphans(orphans []string, dropped bool) {
	if len(orphans) == 0 {
		return
	}
	if dropped {
		dropColor.Printf("  dropping orphan table(s): %s\n", strings.Join(orphans, ", "))
		return
	}
	alterColor.Printf("  orphan table(s): %s\n", strings.Join(orphans, ", "))
}

// renderSeedReport prints one table's reconcile counts.
func renderSeedReport(report SeedReport, applied bool) {
	verb := "would reconcile"
	if applied {
		verb = "reconciled"
	}
	line := fmt.Sprintf("  %s: %s %d insert(s), %d update(s), %d unchanged",
		report.Table, verb, report.Inserted, report.Updated, report.Unchanged)
	if report.Skipped > 0 {
		line += fmt.Sprintf(", %d skipped", report.Skipped)
	}
	if report.Failed > 0 {
		dropColor.Printf("%s, %d FAILED\n", line, report.Failed)
		return
	}
	fmt.Println(line)
}

// TableStatus is one table's verdict for the status command.
type TableStatus struct {
	Table   string
	Missing bool // not present in the live database
	Pending int  // statements a migration would run
}

// renderStatus prints the per-table up-to-date/pending overview.
func renderStatus(target Target, statuses []TableStatus) {
	headerColor.Printf("%s/%s (%s)\n", target.Cluster, target.Node.Name, target.Host)
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	for _, st := range statuses {
		switch {
		case st.Missing:
			fmt.Fprintf(w, "  %s\t%s\n", st.Table, dropColor.Sprint("missing"))
		case st.Pending > 0:
			fmt.Fprintf(w, "  %s\t%s\n", st.Table, alterColor.Sprintf("pending (%d)", st.Pending))
		default:
			fmt.Fprintf(w, "  %s\t%s\n", st.Table, addColor.Sprint("up-to-date"))
		}
	}
	w.Flush()
}

// renderRows writes a query result as an aligned text table.
func renderRows(cols []string, rows [][]any) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))

	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()
	fmt.Printf("(%d row(s))\n", len(rows))
}
