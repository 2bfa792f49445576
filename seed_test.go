package main

import (
	"context"
	"strings"
	"testing"
)

func TestDiscoverMatchColumns(t *testing.T) {
	reflector := &fakeReflector{
		pk: map[string][]string{"users": {"id"}},
		uniques: map[string][]UniqueIndexDef{
			"users": {
				{Name: "users_email_key", Columns: []string{"email"}},
				{Name: "users_name_org_key", Columns: []string{"name", "org"}},
			},
		},
	}
	ctx := context.Background()

	match, err := discoverMatchColumns(ctx, reflector, "users", map[string]any{"id": 1, "name": "A"})
	if err != nil {
		t.Fatalf("discoverMatchColumns() error: %v", err)
	}
	if len(match) != 1 || match[0] != "id" {
		t.Errorf("primary key should win when present: %v", match)
	}

	match, err = discoverMatchColumns(ctx, reflector, "users", map[string]any{"email": "a@b.c", "name": "A"})
	if err != nil {
		t.Fatalf("discoverMatchColumns() error: %v", err)
	}
	if len(match) != 1 || match[0] != "email" {
		t.Errorf("first covering unique index should win: %v", match)
	}

	match, err = discoverMatchColumns(ctx, reflector, "users", map[string]any{"name": "A", "org": "x"})
	if err != nil {
		t.Fatalf("discoverMatchColumns() error: %v", err)
	}
	if len(match) != 2 || match[0] != "name" || match[1] != "org" {
		t.Errorf("composite unique index should match: %v", match)
	}

	match, err = discoverMatchColumns(ctx, reflector, "users", map[string]any{"bio": "?"})
	if err != nil {
		t.Fatalf("discoverMatchColumns() error: %v", err)
	}
	if match != nil {
		t.Errorf("no covering key set should yield insert-only: %v", match)
	}
}

func TestAnalyzeSeedRow(t *testing.T) {
	ctx := context.Background()
	row := map[string]any{"id": 1, "name": "A"}

	// no live row -> insert
	exec := &fakeExec{}
	plan := analyzeSeedRow(ctx, exec, "users", []string{"id"}, row)
	if plan.Action != SeedInsert {
		t.Errorf("missing live row should insert, got %v", plan.Action)
	}
	if len(exec.queryLog) != 1 || !strings.Contains(exec.queryLog[0], `"id" IS NOT DISTINCT FROM $1`) {
		t.Errorf("match predicate wrong: %v", exec.queryLog)
	}

	// identical live row -> unchanged
	exec = &fakeExec{queries: []fakeQuery{
		{match: `FROM "users"`, cols: []string{"name"}, rows: [][]any{{"A"}}},
	}}
	plan = analyzeSeedRow(ctx, exec, "users", []string{"id"}, row)
	if plan.Action != SeedUnchanged {
		t.Errorf("identical row should be unchanged, got %v", plan.Action)
	}

	// differing live row -> update
	exec = &fakeExec{queries: []fakeQuery{
		{match: `FROM "users"`, cols: []string{"name"}, rows: [][]any{{"B"}}},
	}}
	plan = analyzeSeedRow(ctx, exec, "users", []string{"id"}, row)
	if plan.Action != SeedUpdate {
		t.Errorf("differing row should update, got %v", plan.Action)
	}
	if len(plan.Changed) != 1 || plan.Changed[0] != "name" {
		t.Errorf("changed columns wrong: %v", plan.Changed)
	}

	// wire-form skew only -> unchanged
	skew := map[string]any{"id": 1, "amount": 180}
	exec = &fakeExec{queries: []fakeQuery{
		{match: `FROM "users"`, cols: []string{"amount"}, rows: [][]any{{"180.00"}}},
	}}
	plan = analyzeSeedRow(ctx, exec, "users", []string{"id"}, skew)
	if plan.Action != SeedUnchanged {
		t.Errorf("wire-form skew must not trigger an update, got %v", plan.Action)
	}

	// empty match columns -> insert-only
	plan = analyzeSeedRow(ctx, &fakeExec{}, "users", nil, row)
	if plan.Action != SeedInsert {
		t.Errorf("insert-only table should insert, got %v", plan.Action)
	}
}

func TestApplySeedRow_Upsert(t *testing.T) {
	ctx := context.Background()
	row := map[string]any{"id": 1, "name": "A"}

	exec := &fakeExec{queries: []fakeQuery{
		{match: "RETURNING", cols: []string{"is_insert"}, rows: [][]any{{true}}},
	}}
	inserted, err := applySeedRow(ctx, exec, "users", []string{"id"}, row)
	if err != nil {
		t.Fatalf("applySeedRow() error: %v", err)
	}
	if !inserted {
		t.Error("is_insert=true should report an insert")
	}

	sql := exec.queryLog[0]
	for _, want := range []string{
		`INSERT INTO "users" ("id", "name")`,
		`ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name"`,
		`RETURNING (xmax = 0) AS is_insert`,
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("upsert should contain %q, got:\n%s", want, sql)
		}
	}

	exec = &fakeExec{queries: []fakeQuery{
		{match: "RETURNING", cols: []string{"is_insert"}, rows: [][]any{{false}}},
	}}
	inserted, err = applySeedRow(ctx, exec, "users", []string{"id"}, row)
	if err != nil {
		t.Fatalf("applySeedRow() error: %v", err)
	}
	if inserted {
		t.Error("is_insert=false should report an update")
	}
}

func TestApplySeedRow_MatchOnlyColumns(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExec{}

	inserted, err := applySeedRow(ctx, exec, "tags", []string{"name"}, map[string]any{"name": "blue"})
	if err != nil {
		t.Fatalf("applySeedRow() error: %v", err)
	}
	if !inserted {
		t.Error("DO NOTHING upserts count as inserts")
	}
	if len(exec.execLog) != 1 || !strings.Contains(exec.execLog[0], "ON CONFLICT (\"name\") DO NOTHING") {
		t.Errorf("expected DO NOTHING upsert, got %v", exec.execLog)
	}
}

func TestApplySeedRow_InsertOnly(t *testing.T) {
	ctx := context.Background()
	row := map[string]any{"a": 1, "b": "x"}

	// absent -> check then insert
	exec := &fakeExec{queries: []fakeQuery{
		{match: "SELECT COUNT(*)", cols: []string{"count"}, rows: [][]any{{0}}},
	}}
	inserted, err := applySeedRow(ctx, exec, "t", nil, row)
	if err != nil {
		t.Fatalf("applySeedRow() error: %v", err)
	}
	if !inserted || len(exec.execLog) != 1 {
		t.Errorf("absent row should insert: inserted=%t execs=%v", inserted, exec.execLog)
	}

	// present -> no insert
	exec = &fakeExec{queries: []fakeQuery{
		{match: "SELECT COUNT(*)", cols: []string{"count"}, rows: [][]any{{1}}},
	}}
	inserted, err = applySeedRow(ctx, exec, "t", nil, row)
	if err != nil {
		t.Fatalf("applySeedRow() error: %v", err)
	}
	if inserted || len(exec.execLog) != 0 {
		t.Errorf("present row should not insert: inserted=%t execs=%v", inserted, exec.execLog)
	}
}

func TestReconcileSeedTable_Analyze(t *testing.T) {
	ctx := context.Background()
	reflector := &fakeReflector{pk: map[string][]string{"app_users": {"id"}}}
	exec := &fakeExec{queries: []fakeQuery{
		{match: "IS NOT DISTINCT FROM", cols: []string{"name"}, rows: [][]any{{"A"}}},
	}}
	session := &targetSession{exec: exec, reflector: reflector}

	declared := SeedTable{
		TableName:  "users",
		Rows:       []map[string]any{{"id": 1, "name": "A"}},
		SourceFile: "seed/users.yml",
	}

	report, cancelled, err := reconcileSeedTable(ctx, session, "app_users", declared, false, Target{}, nil)
	if err != nil {
		t.Fatalf("reconcileSeedTable() error: %v", err)
	}
	if cancelled {
		t.Fatal("analyze-only run cannot be cancelled")
	}
	if report.Unchanged != 1 || report.Inserted != 0 || report.Updated != 0 {
		t.Errorf("report wrong: %+v", report)
	}
}

func TestSeedTableName_Prefix(t *testing.T) {
	if got := seedTableName("users", "app_"); got != "app_users" {
		t.Errorf("prefix should apply: %s", got)
	}
	if got := seedTableName("app_users", "app_"); got != "app_users" {
		t.Errorf("existing prefix must not double: %s", got)
	}
	if got := seedTableName("users", ""); got != "users" {
		t.Errorf("no prefix: %s", got)
	}
}
