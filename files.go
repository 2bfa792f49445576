package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
)

// tableDecl is one top-level table entry of a declaration file.
type tableDecl struct {
	Name   string
	Fields []fieldEntry
	Ignore bool
}

// listYAMLFiles enumerates .yml/.yaml files across dirs in lexicographic
// order, deduplicating directories that alias the same path.
func listYAMLFiles(dirs []string) ([]string, error) {
	seen := map[string]bool{}
	var files []string

	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", dir, err)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true

		entries, err := os.ReadDir(abs)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml") {
				files = append(files, filepath.Join(abs, name))
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

// loadDeclarationFile parses one declaration file, preserving table and
// column order.
func loadDeclarationFile(path string) ([]tableDecl, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var doc any
	if err := yaml.UnmarshalWithOptions(data, &doc, yaml.UseOrderedMap()); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc == nil {
		return nil, nil
	}

	top, ok := doc.(yaml.MapSlice)
	if !ok {
		return nil, fmt.Errorf("parse %s: top level must be a mapping of tables", path)
	}

	var decls []tableDecl
	for _, item := range top {
		decl := tableDecl{Name: fmt.Sprintf("%v", item.Key)}

		fields, ok := item.Value.(yaml.MapSlice)
		if !ok {
			return nil, fmt.Errorf("parse %s: table %s must be a mapping of columns", path, decl.Name)
		}
		for _, field := range fields {
			name := fmt.Sprintf("%v", field.Key)
			if name == "~ignore" && truthy(field.Value) {
				decl.Ignore = true
				continue
			}
			decl.Fields = append(decl.Fields, fieldEntry{
				Name: name,
				Spec: scalarString(field.Value),
			})
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

// loadSeedFile parses one seed file into declared row sets, preserving
// table order.
func loadSeedFile(path string) ([]SeedTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var doc any
	if err := yaml.UnmarshalWithOptions(data, &doc, yaml.UseOrderedMap()); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc == nil {
		return nil, nil
	}

	top, ok := doc.(yaml.MapSlice)
	if !ok {
		return nil, fmt.Errorf("parse %s: top level must be a mapping of tables", path)
	}

	var tables []SeedTable
	for _, item := range top {
		table := SeedTable{
			TableName:  fmt.Sprintf("%v", item.Key),
			SourceFile: path,
		}

		rows, ok := item.Value.([]any)
		if !ok {
			return nil, fmt.Errorf("parse %s: table %s must hold a row list", path, table.TableName)
		}
		for i, raw := range rows {
			row, err := plainMap(raw)
			if err != nil {
				return nil, fmt.Errorf("parse %s: table %s row %d: %w", path, table.TableName, i+1, err)
			}
			table.Rows = append(table.Rows, row)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

// plainMap converts an ordered YAML mapping into a plain row map.
func plainMap(v any) (map[string]any, error) {
	ms, ok := v.(yaml.MapSlice)
	if !ok {
		return nil, fmt.Errorf("row must be a mapping")
	}
	row := make(map[string]any, len(ms))
	for _, item := range ms {
		row[fmt.Sprintf("%v", item.Key)] = plainValue(item.Value)
	}
	return row, nil
}

// plainValue strips ordered-map wrappers from nested YAML values.
func plainValue(v any) any {
	switch t := v.(type) {
	case yaml.MapSlice:
		m := make(map[string]any, len(t))
		for _, item := range t {
			m[fmt.Sprintf("%v", item.Key)] = plainValue(item.Value)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plainValue(item)
		}
		return out
	default:
		return v
	}
}

// scalarString renders a YAML scalar the way the DSL expects it.
func scalarString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// truthy mirrors the loose truth test declaration meta-keys use.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(t) {
		case "", "false", "no", "off", "0":
			return false
		}
		return true
	case int, int64, uint64, float64:
		return fmt.Sprintf("%v", t) != "0"
	case nil:
		return false
	default:
		return true
	}
}
