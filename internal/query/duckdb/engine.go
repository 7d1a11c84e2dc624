package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/harvestql/harvestql/internal/observability"
	"github.com/harvestql/harvestql/internal/query"
	"github.com/harvestql/harvestql/internal/relation"
)

var (
	ErrRelationExists   = errors.New("relation already exists")
	ErrRelationNotFound = errors.New("relation not found")
)

// RelationInfo describes a live relation. Arguments is the canonical list
// with defaults resolved, so re-declaring it fetches the same window.
type RelationInfo struct {
	Name       string
	InstanceID string
	Arguments  []string
	Parameters relation.Parameters
	Rows       int
	Pages      int
	Truncated  bool
	CreatedAt  time.Time
}

// Engine hosts harvest relations inside an in-memory DuckDB database. Every
// relation is reachable as a view backed by a table function, so dropping and
// recreating a name swaps the rows without re-registering the function.
type Engine struct {
	module *relation.Module
	logger *slog.Logger

	db   *sql.DB
	conn *sql.Conn
	// connMu serializes statements on conn.
	connMu sync.Mutex

	// relations and registered are keyed by relationKey: DuckDB resolves
	// view and function names case-insensitively.
	mu         sync.RWMutex
	relations  map[string]*entry
	registered map[string]bool
}

type entry struct {
	name      string
	rel       *relation.Relation
	arguments []string
}

var _ query.Engine = (*Engine)(nil)

func NewEngine(ctx context.Context, module *relation.Module, logger *slog.Logger) (*Engine, error) {
	if module == nil {
		return nil, fmt.Errorf("relation module is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open duckdb connection: %w", err)
	}
	return &Engine{
		module:     module,
		logger:     logger,
		db:         db,
		conn:       conn,
		relations:  map[string]*entry{},
		registered: map[string]bool{},
	}, nil
}

// Create declares a relation: arguments are parsed, every page is fetched and
// the result is exposed as a view named name.
func (e *Engine) Create(ctx context.Context, name string, args []string) (RelationInfo, error) {
	if err := relation.ValidateName(name); err != nil {
		return RelationInfo{}, err
	}
	key := relationKey(name)
	if e.exists(key) {
		return RelationInfo{}, fmt.Errorf("%w: %s", ErrRelationExists, name)
	}

	rel, err := e.module.Create(ctx, name, args)
	if err != nil {
		return RelationInfo{}, err
	}

	e.connMu.Lock()
	defer e.connMu.Unlock()

	e.mu.Lock()
	if _, ok := e.relations[key]; ok {
		e.mu.Unlock()
		rel.Destroy()
		return RelationInfo{}, fmt.Errorf("%w: %s", ErrRelationExists, name)
	}
	item := &entry{name: name, rel: rel, arguments: rel.Parameters().Arguments()}
	e.relations[key] = item
	needsRegister := !e.registered[key]
	e.mu.Unlock()

	if err := e.expose(ctx, name, needsRegister); err != nil {
		e.mu.Lock()
		delete(e.relations, key)
		e.mu.Unlock()
		rel.Destroy()
		return RelationInfo{}, err
	}
	return describe(item), nil
}

func (e *Engine) expose(ctx context.Context, name string, register bool) error {
	if register {
		if err := duckdb.RegisterTableUDF(e.conn, scanFunctionName(name), e.tableFunction(relationKey(name))); err != nil {
			return fmt.Errorf("register scan function for %q: %w", name, err)
		}
		e.mu.Lock()
		e.registered[relationKey(name)] = true
		e.mu.Unlock()
	}
	viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM %s()`, quoteIdent(name), quoteIdent(scanFunctionName(name)))
	if _, err := e.conn.ExecContext(ctx, viewSQL); err != nil {
		return fmt.Errorf("create view for relation %q: %w", name, err)
	}
	return nil
}

func (e *Engine) tableFunction(key string) duckdb.RowTableFunction {
	return duckdb.RowTableFunction{
		BindArguments: func(map[string]any, ...any) (duckdb.RowTableSource, error) {
			e.mu.RLock()
			item, ok := e.relations[key]
			e.mu.RUnlock()
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrRelationNotFound, key)
			}
			return newScanSource(item.rel, item.rel.Len())
		},
	}
}

// Drop destroys the relation and removes its view. Scans already bound keep
// their rows.
func (e *Engine) Drop(ctx context.Context, name string) error {
	e.connMu.Lock()
	defer e.connMu.Unlock()

	key := relationKey(name)
	e.mu.Lock()
	item, ok := e.relations[key]
	delete(e.relations, key)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRelationNotFound, name)
	}
	item.rel.Destroy()

	if _, err := e.conn.ExecContext(ctx, fmt.Sprintf(`DROP VIEW IF EXISTS %s`, quoteIdent(item.name))); err != nil {
		return fmt.Errorf("drop view for relation %q: %w", item.name, err)
	}
	observability.WithRelation(e.logger, item.name, item.rel.InstanceID()).InfoContext(ctx, "relation_dropped")
	return nil
}

func (e *Engine) Get(name string) (RelationInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	item, ok := e.relations[relationKey(name)]
	if !ok {
		return RelationInfo{}, fmt.Errorf("%w: %s", ErrRelationNotFound, name)
	}
	return describe(item), nil
}

func (e *Engine) List() []RelationInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]RelationInfo, 0, len(e.relations))
	for _, item := range e.relations {
		out = append(out, describe(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot returns the materialized rows of a live relation.
func (e *Engine) Snapshot(name string) (RelationInfo, relation.RowSet, error) {
	e.mu.RLock()
	item, ok := e.relations[relationKey(name)]
	e.mu.RUnlock()
	if !ok {
		return RelationInfo{}, relation.RowSet{}, fmt.Errorf("%w: %s", ErrRelationNotFound, name)
	}
	rows, err := item.rel.Rows()
	if err != nil {
		return RelationInfo{}, relation.RowSet{}, err
	}
	return describe(item), rows, nil
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	start := time.Now()
	e.connMu.Lock()
	defer e.connMu.Unlock()

	rows, err := e.conn.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return query.Result{
		Columns:   columns,
		Rows:      resultRows,
		Relations: e.names(),
		Duration:  time.Since(start),
	}, nil
}

// Ping checks that the embedded database still answers.
func (e *Engine) Ping(ctx context.Context) error {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	return e.conn.PingContext(ctx)
}

// Close destroys every relation and closes the database.
func (e *Engine) Close() error {
	e.mu.Lock()
	for name, item := range e.relations {
		item.rel.Destroy()
		delete(e.relations, name)
	}
	e.mu.Unlock()

	e.connMu.Lock()
	defer e.connMu.Unlock()
	connErr := e.conn.Close()
	dbErr := e.db.Close()
	return errors.Join(connErr, dbErr)
}

func (e *Engine) exists(key string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.relations[key]
	return ok
}

func (e *Engine) names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.relations))
	for _, item := range e.relations {
		names = append(names, item.name)
	}
	sort.Strings(names)
	return names
}

func describe(item *entry) RelationInfo {
	stats := item.rel.FetchStats()
	return RelationInfo{
		Name:       item.name,
		InstanceID: item.rel.InstanceID(),
		Arguments:  append([]string(nil), item.arguments...),
		Parameters: item.rel.Parameters(),
		Rows:       item.rel.Len(),
		Pages:      stats.Pages,
		Truncated:  stats.Truncated,
		CreatedAt:  item.rel.CreatedAt(),
	}
}

func relationKey(name string) string {
	return strings.ToLower(name)
}

// scanFunctionName is lower-cased so a relation re-created under another
// spelling reuses the function registered for the first one.
func scanFunctionName(name string) string {
	return relationKey(name) + "_scan"
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
