package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harvestql/harvestql/internal/catalog"
)

type Repository struct {
	db *sql.DB
}

var _ catalog.Repository = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

// SaveDefinition inserts or replaces the definition stored under in.Name.
func (r *Repository) SaveDefinition(ctx context.Context, in catalog.SaveDefinitionInput) (catalog.Definition, error) {
	if strings.TrimSpace(in.Name) == "" {
		return catalog.Definition{}, fmt.Errorf("relation name is required")
	}
	arguments, err := json.Marshal(in.Arguments)
	if err != nil {
		return catalog.Definition{}, fmt.Errorf("marshal relation arguments: %w", err)
	}

	query := `
INSERT INTO relation_definition (name, arguments_json, instance_id)
VALUES ($1, $2::jsonb, $3)
ON CONFLICT (name)
DO UPDATE SET arguments_json = EXCLUDED.arguments_json, instance_id = EXCLUDED.instance_id, updated_at = NOW()
RETURNING created_at, updated_at`

	def := catalog.Definition{
		Name:       in.Name,
		Arguments:  append([]string(nil), in.Arguments...),
		InstanceID: in.InstanceID,
	}
	if err := r.db.QueryRowContext(ctx, query, in.Name, string(arguments), in.InstanceID).Scan(&def.CreatedAt, &def.UpdatedAt); err != nil {
		return catalog.Definition{}, fmt.Errorf("save relation definition: %w", err)
	}
	return def, nil
}

func (r *Repository) GetDefinition(ctx context.Context, name string) (catalog.Definition, error) {
	query := `
SELECT name, arguments_json, instance_id, created_at, updated_at
FROM relation_definition
WHERE name = $1`

	def, err := scanDefinition(r.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Definition{}, catalog.ErrNotFound
		}
		return catalog.Definition{}, fmt.Errorf("get relation definition: %w", err)
	}
	return def, nil
}

func (r *Repository) ListDefinitions(ctx context.Context) ([]catalog.Definition, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT name, arguments_json, instance_id, created_at, updated_at
FROM relation_definition
ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list relation definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	defs := make([]catalog.Definition, 0)
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relation definition row: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relation definition rows: %w", err)
	}
	return defs, nil
}

func (r *Repository) DeleteDefinition(ctx context.Context, name string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM relation_definition
WHERE name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("delete relation definition: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete relation definition rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *Repository) RecordExport(ctx context.Context, in catalog.RecordExportInput) (catalog.Export, error) {
	query := `
INSERT INTO relation_export (relation_name, instance_id, object_key, row_count, size_bytes)
VALUES ($1, $2, $3, $4, $5)
RETURNING export_id, created_at`

	export := catalog.Export{
		Relation:   in.Relation,
		InstanceID: in.InstanceID,
		ObjectKey:  in.ObjectKey,
		RowCount:   in.RowCount,
		SizeBytes:  in.SizeBytes,
	}
	if err := r.db.QueryRowContext(ctx, query, in.Relation, in.InstanceID, in.ObjectKey, in.RowCount, in.SizeBytes).Scan(&export.ExportID, &export.CreatedAt); err != nil {
		return catalog.Export{}, fmt.Errorf("record export: %w", err)
	}
	return export, nil
}

// ListExports returns the newest exports of a relation first.
func (r *Repository) ListExports(ctx context.Context, relationName string, limit int) ([]catalog.Export, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT export_id, relation_name, instance_id, object_key, row_count, size_bytes, created_at
FROM relation_export
WHERE relation_name = $1
ORDER BY export_id DESC
LIMIT $2`, relationName, limit)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanExports(rows)
}

func scanExports(rows *sql.Rows) ([]catalog.Export, error) {
	exports := make([]catalog.Export, 0)
	for rows.Next() {
		var export catalog.Export
		if err := rows.Scan(
			&export.ExportID,
			&export.Relation,
			&export.InstanceID,
			&export.ObjectKey,
			&export.RowCount,
			&export.SizeBytes,
			&export.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		exports = append(exports, export)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export rows: %w", err)
	}
	return exports, nil
}

// ListExportedRelations returns every relation name with at least one
// recorded export, including relations that have since been dropped.
func (r *Repository) ListExportedRelations(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT relation_name
FROM relation_export
ORDER BY relation_name`)
	if err != nil {
		return nil, fmt.Errorf("list exported relations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan exported relation: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exported relations: %w", err)
	}
	return names, nil
}

// ListExportCandidates returns the exports of a relation beyond the newest
// keep that were created before olderThan, oldest first.
func (r *Repository) ListExportCandidates(ctx context.Context, relationName string, keep int, olderThan time.Time) ([]catalog.Export, error) {
	if keep < 0 {
		keep = 0
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT export_id, relation_name, instance_id, object_key, row_count, size_bytes, created_at
FROM (
	SELECT e.*, ROW_NUMBER() OVER (ORDER BY export_id DESC) AS recency
	FROM relation_export e
	WHERE relation_name = $1
) ranked
WHERE recency > $2 AND created_at < $3
ORDER BY export_id ASC`, relationName, keep, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list export candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanExports(rows)
}

func (r *Repository) DeleteExport(ctx context.Context, exportID int64) error {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM relation_export
WHERE export_id = $1`, exportID)
	if err != nil {
		return fmt.Errorf("delete export %d: %w", exportID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete export rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("delete export %d: %w", exportID, catalog.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (catalog.Definition, error) {
	var (
		def       catalog.Definition
		arguments []byte
	)
	if err := row.Scan(&def.Name, &arguments, &def.InstanceID, &def.CreatedAt, &def.UpdatedAt); err != nil {
		return catalog.Definition{}, err
	}
	if err := json.Unmarshal(arguments, &def.Arguments); err != nil {
		return catalog.Definition{}, fmt.Errorf("decode arguments of %q: %w", def.Name, err)
	}
	return def, nil
}
