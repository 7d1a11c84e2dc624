package relation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harvestql/harvestql/internal/observability"
)

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Table is the contract a host engine drives: declare the schema once, open
// one cursor per scan, destroy when the relation is dropped.
type Table interface {
	Name() string
	Schema() string
	Open() (*Cursor, error)
	Destroy()
}

var _ Table = (*Relation)(nil)

// Relation binds one parameter set to the rows materialized for it.
type Relation struct {
	name       string
	instanceID string
	params     Parameters
	createdAt  time.Time
	stats      FetchStats

	mu        sync.RWMutex
	rows      RowSet
	destroyed bool
}

func (r *Relation) Name() string { return r.name }

// InstanceID identifies this materialization; recreating a relation under the
// same name yields a new ID.
func (r *Relation) InstanceID() string { return r.instanceID }

func (r *Relation) Parameters() Parameters { return r.params }

func (r *Relation) CreatedAt() time.Time { return r.createdAt }

func (r *Relation) FetchStats() FetchStats { return r.stats }

// Schema is the table declaration handed to the host engine.
func (r *Relation) Schema() string {
	defs := make([]string, 0, len(Columns))
	for _, column := range Columns {
		defs = append(defs, quoteIdent(column.Name)+" "+column.Type)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(r.name), strings.Join(defs, ", "))
}

func (r *Relation) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rows.Len()
}

func (r *Relation) Rows() (RowSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.destroyed {
		return RowSet{}, fmt.Errorf("%w: relation %q was destroyed", ErrProtocolViolation, r.name)
	}
	return r.rows, nil
}

// Open starts an independent scan over the materialized rows.
func (r *Relation) Open() (*Cursor, error) {
	rows, err := r.Rows()
	if err != nil {
		return nil, err
	}
	observability.IncrementCursorsOpened()
	return newCursor(rows), nil
}

// Destroy releases the rows. Cursors already open keep their own view.
func (r *Relation) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}
	r.destroyed = true
	r.rows = RowSet{}
	observability.AddActiveRelations(-1)
}

// Module creates relations from declaration arguments.
type Module struct {
	Connector Connector
	Logger    *slog.Logger
	Now       func() time.Time
}

func NewModule(connector Connector, logger *slog.Logger) *Module {
	return &Module{Connector: connector, Logger: logger, Now: time.Now}
}

// Create parses raw KEY 'value' arguments and materializes the relation.
func (m *Module) Create(ctx context.Context, name string, args []string) (*Relation, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	params, err := ParseArguments(args, m.now())
	if err != nil {
		return nil, err
	}
	return m.Materialize(ctx, name, params)
}

// Materialize fetches every page for params and returns the relation. Either
// the whole row set is built or an error is returned.
func (m *Module) Materialize(ctx context.Context, name string, params Parameters) (*Relation, error) {
	if m.Connector == nil {
		return nil, fmt.Errorf("%w: no connector configured", ErrAuthentication)
	}
	start := time.Now()

	fetcher, err := m.Connector.Connect(ctx, params.Coverage())
	if err != nil {
		if !errors.Is(err, ErrAuthentication) && !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		observability.ObserveMaterialize(string(params.Coverage()), 0, 0, false, time.Since(start), err)
		return nil, fmt.Errorf("connect %s endpoint: %w", params.Coverage(), err)
	}

	records, stats, err := FetchAll(ctx, fetcher, params)
	observability.ObserveMaterialize(string(params.Coverage()), stats.Pages, stats.Records, stats.Truncated, time.Since(start), err)
	if err != nil {
		observability.WithRelation(m.logger(), name, "").WarnContext(ctx, "relation_materialize_failed",
			slog.String("parameters", params.String()),
			slog.Int("pages", stats.Pages),
			slog.Any("error", err),
		)
		return nil, err
	}

	rel := &Relation{
		name:       name,
		instanceID: uuid.NewString(),
		params:     params,
		createdAt:  m.now().UTC(),
		stats:      stats,
		rows:       NewRowSet(records),
	}
	observability.AddActiveRelations(1)
	observability.WithRelation(m.logger(), name, rel.instanceID).InfoContext(ctx, "relation_materialized",
		slog.String("parameters", params.String()),
		slog.Int("pages", stats.Pages),
		slog.Int("rows", rel.rows.Len()),
		slog.Bool("truncated", stats.Truncated),
		slog.String("duration", time.Since(start).String()),
	)
	return rel, nil
}

func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid relation name %q", ErrConfiguration, name)
	}
	return nil
}

func (m *Module) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

func (m *Module) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return m.Logger
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
