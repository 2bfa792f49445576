package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
)

// Node is one cluster member: a single PostgreSQL endpoint plus the
// declaration layout it serves.
type Node struct {
	Name       string   // database name
	Hosts      []string // one or more hosts sharing the same role
	Port       int
	User       string
	Pass       string
	Type       string // "write" or "read"
	Prefix     string // table prefix applied to ~-named tables
	Paths      []string
	TenantKeys []string
	PoolMax    int
}

// HooksConfig names SQL files executed around the apply pass.
type HooksConfig struct {
	BeforeApply []string
	AfterApply  []string
}

// Config is the full engine configuration record. It is passed explicitly so
// several engine instances can coexist and tests can parameterize it.
type Config struct {
	Clusters     map[string][]Node
	CustomFields map[string]CustomField
	SeedPath     string
	SeedSuffix   string
	DisplayMode  string
	Hooks        HooksConfig

	baseDir string
}

// Target is one (cluster, node, host) the orchestrator works against.
type Target struct {
	Cluster string
	Node    Node
	Host    string
}

// envPlaceholderRe matches <ENV.NAME> tokens inside configuration strings.
var envPlaceholderRe = regexp.MustCompile(`<ENV\.([A-Za-z_][A-Za-z0-9_]*)>`)

// loadConfig reads a YAML or TOML config file and returns a validated
// Config with defaults applied.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var tree map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension %q (use .yml, .yaml or .toml)", filepath.Ext(path))
	}

	expandEnvTree(tree)

	cfg, err := buildConfig(tree)
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.baseDir = filepath.Dir(absPath)
	return cfg, nil
}

// expandEnvTree replaces <ENV.NAME> placeholders in every string of the
// decoded tree. A missing variable expands empty with a warning.
func expandEnvTree(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			if s, ok := item.(string); ok {
				t[k] = expandEnvString(s)
			} else {
				expandEnvTree(item)
			}
		}
	case []any:
		for i, item := range t {
			if s, ok := item.(string); ok {
				t[i] = expandEnvString(s)
			} else {
				expandEnvTree(item)
			}
		}
	}
}

func expandEnvString(s string) string {
	return envPlaceholderRe.ReplaceAllStringFunc(s, func(match string) string {
		name := envPlaceholderRe.FindStringSubmatch(match)[1]
		value, ok := os.LookupEnv(name)
		if !ok {
			log.Printf("WARN: environment variable %s is not set (expanding empty)", name)
		}
		return value
	})
}

func buildConfig(tree map[string]any) (*Config, error) {
	if err := rejectUnknownKeys(tree, "clusters", "customFields", "seedPath", "seedSuffix", "displayMode", "hooks"); err != nil {
		return nil, err
	}

	cfg := &Config{
		Clusters:     map[string][]Node{},
		CustomFields: map[string]CustomField{},
		SeedSuffix:   ".yml",
		DisplayMode:  "list",
	}

	clusters, ok := tree["clusters"].(map[string]any)
	if !ok || len(clusters) == 0 {
		return nil, fmt.Errorf("config: clusters is required")
	}
	for id, raw := range clusters {
		nodes, err := buildNodes(id, raw)
		if err != nil {
			return nil, err
		}
		cfg.Clusters[id] = nodes
	}

	if raw, ok := tree["customFields"].(map[string]any); ok {
		for alias, spec := range raw {
			field, err := buildCustomField(alias, spec)
			if err != nil {
				return nil, err
			}
			cfg.CustomFields[alias] = field
		}
	}

	cfg.SeedPath = asString(tree["seedPath"])
	if s := asString(tree["seedSuffix"]); s != "" {
		cfg.SeedSuffix = s
	}
	if s := asString(tree["displayMode"]); s != "" {
		cfg.DisplayMode = s
	}
	switch cfg.DisplayMode {
	case "list", "sql", "quiet":
	default:
		return nil, fmt.Errorf("config: displayMode must be one of: list, sql, quiet")
	}

	if raw, ok := tree["hooks"].(map[string]any); ok {
		if err := rejectUnknownKeys(raw, "beforeApply", "afterApply"); err != nil {
			return nil, fmt.Errorf("config hooks: %w", err)
		}
		cfg.Hooks.BeforeApply = asStringList(raw["beforeApply"])
		cfg.Hooks.AfterApply = asStringList(raw["afterApply"])
	}

	return cfg, nil
}

func buildNodes(cluster string, raw any) ([]Node, error) {
	var rawNodes []any
	switch t := raw.(type) {
	case []any:
		rawNodes = t
	case map[string]any:
		rawNodes = []any{t}
	default:
		return nil, fmt.Errorf("config cluster %s: must be a node or node list", cluster)
	}

	var nodes []Node
	for i, rawNode := range rawNodes {
		m, ok := rawNode.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config cluster %s: node %d must be a mapping", cluster, i+1)
		}
		if err := rejectUnknownKeys(m, "name", "host", "port", "user", "pass", "type", "pref", "path", "tenantKeys", "poolMax"); err != nil {
			return nil, fmt.Errorf("config cluster %s: %w", cluster, err)
		}

		node := Node{
			Name:       asString(m["name"]),
			Hosts:      asStringList(m["host"]),
			Port:       asInt(m["port"]),
			User:       asString(m["user"]),
			Pass:       asString(m["pass"]),
			Type:       asString(m["type"]),
			Prefix:     asString(m["pref"]),
			Paths:      asStringList(m["path"]),
			TenantKeys: asStringList(m["tenantKeys"]),
			PoolMax:    asInt(m["poolMax"]),
		}
		if node.Name == "" {
			return nil, fmt.Errorf("config cluster %s: node %d: name is required", cluster, i+1)
		}
		if len(node.Hosts) == 0 {
			return nil, fmt.Errorf("config cluster %s: node %s: host is required", cluster, node.Name)
		}
		if node.User == "" {
			return nil, fmt.Errorf("config cluster %s: node %s: user is required", cluster, node.Name)
		}
		if node.Port == 0 {
			node.Port = 5432
		}
		switch node.Type {
		case "":
			node.Type = "write"
		case "write", "read":
		default:
			return nil, fmt.Errorf("config cluster %s: node %s: type must be write or read", cluster, node.Name)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func buildCustomField(alias string, raw any) (CustomField, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return CustomField{}, fmt.Errorf("config customFields.%s: must be a mapping", alias)
	}
	if err := rejectUnknownKeys(m, "type", "key", "default", "extra"); err != nil {
		return CustomField{}, fmt.Errorf("config customFields.%s: %w", alias, err)
	}

	field := CustomField{
		Type:  asString(m["type"]),
		Key:   asString(m["key"]),
		Extra: asString(m["extra"]),
	}
	if field.Type == "" {
		return CustomField{}, fmt.Errorf("config customFields.%s: type is required", alias)
	}
	if v, ok := m["default"]; ok {
		field.Default = asString(v)
		field.HasDef = true
	}
	switch strings.ToLower(field.Key) {
	case "", "primary", "unique":
	default:
		return CustomField{}, fmt.Errorf("config customFields.%s: key must be primary or unique", alias)
	}
	return field, nil
}

// Targets materializes the filtered write-target list in deterministic
// order: cluster ids lexicographic, nodes and hosts in declared order.
func (c *Config) Targets(nameFilter, tenantFilter string) []Target {
	ids := make([]string, 0, len(c.Clusters))
	for id := range c.Clusters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var targets []Target
	for _, id := range ids {
		for _, node := range c.Clusters[id] {
			if node.Type != "write" {
				continue
			}
			if nameFilter != "" && nameFilter != id && nameFilter != node.Name {
				continue
			}
			if tenantFilter != "" && !containsString(node.TenantKeys, tenantFilter) {
				continue
			}
			for _, host := range node.Hosts {
				targets = append(targets, Target{Cluster: id, Node: node, Host: host})
			}
		}
	}
	return targets
}

// resolvePath resolves a path relative to the config file directory.
func (c *Config) resolvePath(p string) string {
	if filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

// declarationDirs returns a node's declaration directories resolved against
// the config location.
func (c *Config) declarationDirs(node Node) []string {
	dirs := make([]string, len(node.Paths))
	for i, p := range node.Paths {
		dirs[i] = c.resolvePath(p)
	}
	return dirs
}

func rejectUnknownKeys(m map[string]any, known ...string) error {
	var unknown []string
	for k := range m {
		if !containsString(known, k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown config keys: %s", strings.Join(unknown, ", "))
	}
	return nil
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case uint64:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func asStringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, asString(item))
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return []string{asString(v)}
	}
}
