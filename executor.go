package main

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Executor is the query port the engine drives. *pgxpool.Pool satisfies it;
// tests substitute an in-memory fake.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// adminDatabase is the server meta database used for CREATE DATABASE and
// existence probing without selecting a target database.
const adminDatabase = "postgres"

type poolKey struct {
	user     string
	host     string
	port     int
	database string
}

// poolManager owns every pgx pool the engine opens. Pools are keyed by
// (user, host, port, database) so write- and read-routing to the same
// endpoint share a pool. Close is signalled exactly once.
type poolManager struct {
	mu    sync.Mutex
	pools map[poolKey]*pgxpool.Pool
}

func newPoolManager() *poolManager {
	return &poolManager{pools: map[poolKey]*pgxpool.Pool{}}
}

// Acquire returns the pool for an endpoint/database pair, opening it on
// first use.
func (m *poolManager) Acquire(ctx context.Context, node Node, host, database string) (*pgxpool.Pool, error) {
	key := poolKey{user: node.User, host: host, port: node.Port, database: database}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pool, ok := m.pools[key]; ok {
		return pool, nil
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		host, node.Port, node.User, node.Pass, database)
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pool config for %s:%d/%s: %w", host, node.Port, database, err)
	}
	if node.PoolMax > 0 {
		cfg.MaxConns = int32(node.PoolMax)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect %s:%d/%s: %w", host, node.Port, database, err)
	}
	m.pools[key] = pool
	return pool, nil
}

// Admin returns a pool bound to the server's meta database.
func (m *poolManager) Admin(ctx context.Context, node Node, host string) (*pgxpool.Pool, error) {
	return m.Acquire(ctx, node, host, adminDatabase)
}

// Close closes every pool. Safe to call once after all targets finish.
func (m *poolManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, pool := range m.pools {
		pool.Close()
		delete(m.pools, key)
	}
}

// namedParamRe matches :name placeholders, also capturing the ::type cast
// form so casts can be skipped (no look-behind in RE2).
var namedParamRe = regexp.MustCompile(`:{1,2}[a-zA-Z_][a-zA-Z0-9_]*`)

// rewriteNamedParams rewrites :name placeholders to $N positional form and
// returns the argument list in placeholder order. ::type casts pass through
// untouched. A name missing from params is left as written.
func rewriteNamedParams(sql string, params map[string]any) (string, []any) {
	positions := map[string]int{}
	var args []any

	rewritten := namedParamRe.ReplaceAllStringFunc(sql, func(match string) string {
		if strings.HasPrefix(match, "::") {
			return match
		}
		name := match[1:]
		value, ok := params[name]
		if !ok {
			return match
		}
		n, seen := positions[name]
		if !seen {
			args = append(args, value)
			n = len(args)
			positions[name] = n
		}
		return fmt.Sprintf("$%d", n)
	})
	return rewritten, args
}

// sortedParamNames is a debugging aid for error messages mentioning the
// accepted parameter set.
func sortedParamNames(params map[string]any) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
