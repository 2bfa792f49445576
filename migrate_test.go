package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testConfig(t *testing.T, schemaDir string) *Config {
	return &Config{
		Clusters: map[string][]Node{
			"main": {{
				Name:  "app",
				Hosts: []string{"127.0.0.1"},
				Port:  5432,
				User:  "postgres",
				Type:  "write",
				Paths: []string{schemaDir},
			}},
		},
		CustomFields: testAliases,
		DisplayMode:  "list",
	}
}

func testTarget(cfg *Config) Target {
	node := cfg.Clusters["main"][0]
	return Target{Cluster: "main", Node: node, Host: node.Hosts[0]}
}

func TestAnalyzeTarget_FreshTable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "users.yml"), `users:
  user_id: id
  user_name: "str required"
  user_email: "email unique index"
`)

	cfg := testConfig(t, dir)
	reflector := &fakeReflector{}

	stmts, orphans, err := analyzeTarget(context.Background(), cfg, testTarget(cfg), reflector, MigrateOptions{})
	if err != nil {
		t.Fatalf("analyzeTarget() error: %v", err)
	}
	if len(orphans) != 0 {
		t.Errorf("fresh database has no orphans: %v", orphans)
	}
	if len(stmts) != 3 {
		t.Fatalf("expected create + unique + index, got %d", len(stmts))
	}
	if stmts[0].Kind != StmtCreateTable || !strings.Contains(stmts[0].SQL, `"user_id" SERIAL`) {
		t.Errorf("create statement wrong: %s", stmts[0].SQL)
	}
}

func TestAnalyzeTarget_IdempotentRerun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "users.yml"), `users:
  user_id: id
  user_name: "str required"
  user_email: "email unique index"
`)

	cfg := testConfig(t, dir)
	schema := mustParse(t, "users", []fieldEntry{
		{Name: "user_id", Spec: "id"},
		{Name: "user_name", Spec: "str required"},
		{Name: "user_email", Spec: "email unique index"},
	})
	reflector := &fakeReflector{
		tables: []string{"users"},
		shapes: map[string]*TableShape{"users": shapeFromSchema("users", schema)},
	}

	stmts, _, err := analyzeTarget(context.Background(), cfg, testTarget(cfg), reflector, MigrateOptions{})
	if err != nil {
		t.Fatalf("analyzeTarget() error: %v", err)
	}
	if len(stmts) != 0 {
		t.Fatalf("rerun against the applied shape must emit nothing, got %d statement(s)", len(stmts))
	}
}

func TestAnalyzeTarget_IgnoreAndPrefix(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tables.yml"), `skipped:
  x: int
  ~ignore: true
~tenant_things:
  id: id
`)

	cfg := testConfig(t, dir)
	cfg.Clusters["main"][0].Prefix = "acme_"
	reflector := &fakeReflector{}

	stmts, _, err := analyzeTarget(context.Background(), cfg, testTarget(cfg), reflector, MigrateOptions{})
	if err != nil {
		t.Fatalf("analyzeTarget() error: %v", err)
	}
	if len(stmts) != 1 {
		t.Fatalf("only the tenant table should emit, got %d", len(stmts))
	}
	if !strings.Contains(stmts[0].SQL, `"acme_tenant_things"`) {
		t.Errorf("tenant table should carry the cluster prefix: %s", stmts[0].SQL)
	}
	for _, st := range stmts {
		if strings.Contains(st.SQL, "skipped") {
			t.Errorf("~ignore table must not emit statements: %s", st.SQL)
		}
	}
}

func TestAnalyzeTarget_Orphans(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "users.yml"), `users:
  user_id: id
`)

	cfg := testConfig(t, dir)
	schema := mustParse(t, "users", []fieldEntry{{Name: "user_id", Spec: "id"}})
	reflector := &fakeReflector{
		tables: []string{"sessions", "users"},
		shapes: map[string]*TableShape{"users": shapeFromSchema("users", schema)},
	}

	// without drop-orphans: reported, nothing emitted
	stmts, orphans, err := analyzeTarget(context.Background(), cfg, testTarget(cfg), reflector, MigrateOptions{})
	if err != nil {
		t.Fatalf("analyzeTarget() error: %v", err)
	}
	if len(stmts) != 0 {
		t.Errorf("orphans must not emit without the option, got %v", stmts)
	}
	if len(orphans) != 1 || orphans[0] != "sessions" {
		t.Errorf("orphan list wrong: %v", orphans)
	}

	// with drop-orphans: one DROP TABLE appended
	stmts, _, err = analyzeTarget(context.Background(), cfg, testTarget(cfg), reflector, MigrateOptions{DropOrphans: true})
	if err != nil {
		t.Fatalf("analyzeTarget() error: %v", err)
	}
	if len(stmts) != 1 || stmts[0].SQL != `DROP TABLE IF EXISTS "sessions" CASCADE` {
		t.Fatalf("expected one drop table, got %v", stmts)
	}
}

func TestAnalyzeTarget_ListTablesFailureIsCreateOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "users.yml"), `users:
  user_id: id
`)

	cfg := testConfig(t, dir)
	reflector := &fakeReflector{listErr: errors.New("permission denied")}

	stmts, _, err := analyzeTarget(context.Background(), cfg, testTarget(cfg), reflector, MigrateOptions{})
	if err != nil {
		t.Fatalf("analyzeTarget() must proceed create-only, got error: %v", err)
	}
	if len(stmts) != 1 || stmts[0].Kind != StmtCreateTable {
		t.Fatalf("expected create-only semantics, got %v", stmts)
	}
}

func TestRunTarget_FailSoftApply(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tables.yml"), `alpha:
  id: id
beta:
  id: id
`)

	cfg := testConfig(t, dir)
	exec := &fakeExec{failOn: map[string]error{`"alpha"`: errors.New("boom")}}
	session := &targetSession{exec: exec, reflector: &fakeReflector{}}

	result := runTarget(context.Background(), cfg, testTarget(cfg), session, MigrateOptions{Apply: true}, nil)
	if result.Err != nil {
		t.Fatalf("runTarget() error: %v", result.Err)
	}
	if result.Report.Total != 2 {
		t.Errorf("expected 2 statements total, got %d", result.Report.Total)
	}
	if len(result.Report.Failures) != 1 {
		t.Fatalf("expected one failure, got %d", len(result.Report.Failures))
	}
	if result.Report.Executed != 1 {
		t.Errorf("the beta statement should still run, got %d executed", result.Report.Executed)
	}
	if !strings.Contains(result.Report.Failures[0].Err.Error(), "SQL:") {
		t.Errorf("failure must carry the offending SQL: %v", result.Report.Failures[0].Err)
	}
	if !result.Failed() {
		t.Error("a failed statement must mark the target failed")
	}
}

func TestRunTarget_UserCancel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tables.yml"), `alpha:
  id: id
`)

	cfg := testConfig(t, dir)
	exec := &fakeExec{}
	session := &targetSession{exec: exec, reflector: &fakeReflector{}}

	decline := func(Target, []Statement) bool { return false }
	result := runTarget(context.Background(), cfg, testTarget(cfg), session, MigrateOptions{Apply: true}, decline)
	if !result.Cancelled {
		t.Fatal("declined confirmation must cancel the target")
	}
	if len(exec.execLog) != 0 {
		t.Errorf("cancelled target must not execute anything: %v", exec.execLog)
	}
}

func TestRunTarget_DryRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tables.yml"), `alpha:
  id: id
`)

	cfg := testConfig(t, dir)
	exec := &fakeExec{}
	session := &targetSession{exec: exec, reflector: &fakeReflector{}}

	result := runTarget(context.Background(), cfg, testTarget(cfg), session, MigrateOptions{Apply: false}, nil)
	if len(result.Statements) != 1 {
		t.Fatalf("dry run should still analyze, got %v", result.Statements)
	}
	if len(exec.execLog) != 0 {
		t.Errorf("dry run must not execute: %v", exec.execLog)
	}
}

func TestRewriteTableName(t *testing.T) {
	if got := rewriteTableName("~things", "acme_"); got != "acme_things" {
		t.Errorf("tenant rewrite wrong: %s", got)
	}
	if got := rewriteTableName("things", "acme_"); got != "things" {
		t.Errorf("plain names must not be prefixed: %s", got)
	}
	if got := rewriteTableName("~things", ""); got != "things" {
		t.Errorf("no prefix strips the marker: %s", got)
	}
}

func TestApplyStatements_ContextCancel(t *testing.T) {
	exec := &fakeExec{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := ApplyReport{Total: 1}
	applyStatements(ctx, exec, []Statement{emitDropTable("x")}, &report)
	if len(exec.execLog) != 0 {
		t.Errorf("cancelled context must stop dispatch: %v", exec.execLog)
	}
}
