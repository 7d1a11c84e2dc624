package catalog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("catalog: not found")

// Repository persists relation definitions and export history. Rows fetched
// from the remote service are never stored here.
type Repository interface {
	HealthCheck(ctx context.Context) error
	SaveDefinition(ctx context.Context, in SaveDefinitionInput) (Definition, error)
	GetDefinition(ctx context.Context, name string) (Definition, error)
	ListDefinitions(ctx context.Context) ([]Definition, error)
	DeleteDefinition(ctx context.Context, name string) (bool, error)
	RecordExport(ctx context.Context, in RecordExportInput) (Export, error)
	ListExports(ctx context.Context, relationName string, limit int) ([]Export, error)
	ListExportedRelations(ctx context.Context) ([]string, error)
	ListExportCandidates(ctx context.Context, relationName string, keep int, olderThan time.Time) ([]Export, error)
	DeleteExport(ctx context.Context, exportID int64) error
}

// Definition is the declaration a relation was created from, kept so the
// relation can be re-created with a fresh fetch after a restart.
type Definition struct {
	Name       string
	Arguments  []string
	InstanceID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type SaveDefinitionInput struct {
	Name       string
	Arguments  []string
	InstanceID string
}

type Export struct {
	ExportID   int64
	Relation   string
	InstanceID string
	ObjectKey  string
	RowCount   int64
	SizeBytes  int64
	CreatedAt  time.Time
}

type RecordExportInput struct {
	Relation   string
	InstanceID string
	ObjectKey  string
	RowCount   int64
	SizeBytes  int64
}
