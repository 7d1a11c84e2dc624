package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/harvestql/harvestql/internal/catalog"
	"github.com/harvestql/harvestql/internal/observability"
	"github.com/harvestql/harvestql/internal/relation"
	"github.com/harvestql/harvestql/internal/storage"
)

const contentType = "application/vnd.apache.parquet"

// Recorder keeps the export history; catalog.Repository satisfies it.
type Recorder interface {
	RecordExport(ctx context.Context, in catalog.RecordExportInput) (catalog.Export, error)
}

// Source names the relation instance a snapshot was taken from.
type Source struct {
	Relation   string
	InstanceID string
}

type Result struct {
	ExportID     int64
	ObjectKey    string
	RowCount     int64
	SizeBytes    int64
	MinTimestamp *int64
	MaxTimestamp *int64
	CreatedAt    time.Time
}

// Exporter writes relation snapshots to the object store.
type Exporter struct {
	Store    storage.ObjectStore
	Recorder Recorder
	Logger   *slog.Logger
	Now      func() time.Time
}

func (e *Exporter) Export(ctx context.Context, source Source, rows relation.RowSet) (result Result, err error) {
	defer func() { observability.ObserveExport(err) }()

	if e.Store == nil {
		return Result{}, fmt.Errorf("object store is required")
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	createdAt := now().UTC()

	key, err := storage.BuildExportPath(source.Relation, source.InstanceID, createdAt)
	if err != nil {
		return Result{}, err
	}
	encoded, err := EncodeRows(rows)
	if err != nil {
		return Result{}, err
	}

	metadata := map[string]string{
		"relation":    source.Relation,
		"instance-id": source.InstanceID,
		"row-count":   strconv.FormatInt(encoded.RowCount, 10),
	}
	info, err := e.Store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{
		ContentType: contentType,
		Metadata:    metadata,
	})
	if err != nil {
		return Result{}, fmt.Errorf("upload export: %w", err)
	}

	result = Result{
		ObjectKey:    key,
		RowCount:     encoded.RowCount,
		SizeBytes:    info.Size,
		MinTimestamp: encoded.MinTimestamp,
		MaxTimestamp: encoded.MaxTimestamp,
		CreatedAt:    createdAt,
	}
	if e.Recorder != nil {
		record, err := e.Recorder.RecordExport(ctx, catalog.RecordExportInput{
			Relation:   source.Relation,
			InstanceID: source.InstanceID,
			ObjectKey:  key,
			RowCount:   encoded.RowCount,
			SizeBytes:  info.Size,
		})
		if err != nil {
			if deleteErr := e.Store.Delete(ctx, key); deleteErr != nil {
				err = errors.Join(err, fmt.Errorf("remove unrecorded export: %w", deleteErr))
			}
			return Result{}, err
		}
		result.ExportID = record.ExportID
		result.CreatedAt = record.CreatedAt
	}

	if e.Logger != nil {
		observability.WithRelation(e.Logger, source.Relation, source.InstanceID).InfoContext(ctx, "relation_exported",
			slog.String("object_key", key),
			slog.Int64("rows", encoded.RowCount),
			slog.Int64("bytes", info.Size),
		)
	}
	return result, nil
}

// Open streams a previously written export.
func (e *Exporter) Open(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	if e.Store == nil {
		return nil, storage.ObjectInfo{}, fmt.Errorf("object store is required")
	}
	if err := storage.ValidateExportKey(key); err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	info, err := e.Store.Stat(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	reader, err := e.Store.Get(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	return reader, info, nil
}
