package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/harvestql/harvestql/internal/catalog"
	"github.com/harvestql/harvestql/internal/export"
	"github.com/harvestql/harvestql/internal/query/duckdb"
	"github.com/harvestql/harvestql/internal/storage"
)

type relationCreateRequest struct {
	Name      string   `json:"name"`
	Arguments []string `json:"arguments"`
}

func handleListRelations(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Relations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "RELATIONS_NOT_CONFIGURED", "relation host is not configured", false, nil)
		return
	}
	infos := deps.Relations.List()
	items := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		items = append(items, relationPayload(info))
	}
	writeJSON(w, http.StatusOK, map[string]any{"relations": items})
}

func handleCreateRelation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Relations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "RELATIONS_NOT_CONFIGURED", "relation host is not configured", false, nil)
		return
	}

	var req relationCreateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid create relation request body", false, map[string]any{"details": err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "RELATION_NAME_REQUIRED", "name is required", false, nil)
		return
	}

	info, err := deps.Relations.Create(r.Context(), name, req.Arguments)
	if err != nil {
		writeRelationError(r, w, err)
		return
	}

	if deps.Catalog != nil {
		if _, err := deps.Catalog.SaveDefinition(r.Context(), catalog.SaveDefinitionInput{
			Name:       info.Name,
			Arguments:  info.Arguments,
			InstanceID: info.InstanceID,
		}); err != nil {
			if dropErr := deps.Relations.Drop(r.Context(), info.Name); dropErr != nil {
				err = errors.Join(err, dropErr)
			}
			writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to persist relation definition", true, map[string]any{"details": err.Error()})
			return
		}
	}

	writeJSON(w, http.StatusCreated, relationPayload(info))
}

func handleGetRelation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Relations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "RELATIONS_NOT_CONFIGURED", "relation host is not configured", false, nil)
		return
	}
	info, err := deps.Relations.Get(r.PathValue("name"))
	if err != nil {
		writeRelationError(r, w, err)
		return
	}
	writeJSON(w, http.StatusOK, relationPayload(info))
}

func handleDropRelation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Relations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "RELATIONS_NOT_CONFIGURED", "relation host is not configured", false, nil)
		return
	}
	name := r.PathValue("name")
	if info, err := deps.Relations.Get(name); err == nil {
		name = info.Name
	}
	if err := deps.Relations.Drop(r.Context(), name); err != nil {
		writeRelationError(r, w, err)
		return
	}
	if deps.Catalog != nil {
		if _, err := deps.Catalog.DeleteDefinition(r.Context(), name); err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "relation dropped but its definition could not be removed", true, map[string]any{"details": err.Error()})
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleExportRelation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Relations == nil || deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "export is not configured", false, nil)
		return
	}
	info, rows, err := deps.Relations.Snapshot(r.PathValue("name"))
	if err != nil {
		writeRelationError(r, w, err)
		return
	}
	result, err := deps.Exporter.Export(r.Context(), export.Source{Relation: info.Name, InstanceID: info.InstanceID}, rows)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_FAILED", "failed to export relation", true, map[string]any{"details": err.Error()})
		return
	}

	payload := map[string]any{
		"relation":    info.Name,
		"instance_id": info.InstanceID,
		"object_key":  result.ObjectKey,
		"row_count":   result.RowCount,
		"size_bytes":  result.SizeBytes,
		"created_at":  result.CreatedAt,
	}
	if result.ExportID > 0 {
		payload["export_id"] = result.ExportID
	}
	if result.MinTimestamp != nil {
		payload["min_timestamp"] = *result.MinTimestamp
		payload["max_timestamp"] = *result.MaxTimestamp
	}
	writeJSON(w, http.StatusCreated, payload)
}

func handleListExports(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CATALOG_NOT_CONFIGURED", "export history requires the catalog", false, nil)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, nil)
			return
		}
		limit = parsed
	}

	name := r.PathValue("name")
	exports, err := deps.Catalog.ListExports(r.Context(), name, limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list exports", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]map[string]any, 0, len(exports))
	for _, item := range exports {
		items = append(items, map[string]any{
			"export_id":   item.ExportID,
			"instance_id": item.InstanceID,
			"object_key":  item.ObjectKey,
			"row_count":   item.RowCount,
			"size_bytes":  item.SizeBytes,
			"created_at":  item.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"relation": name, "exports": items})
}

func handleDownloadExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "export is not configured", false, nil)
		return
	}
	key := r.PathValue("key")
	reader, info, err := deps.Exporter.Open(r.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrObjectNotFound):
			writeError(r.Context(), w, http.StatusNotFound, "EXPORT_NOT_FOUND", "export was not found", false, map[string]any{"object_key": key})
		case errors.Is(err, storage.ErrInvalidKey):
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_EXPORT_KEY", err.Error(), false, nil)
		default:
			writeError(r.Context(), w, http.StatusBadGateway, "OBJECT_STORE_ERROR", "failed to open export", true, map[string]any{"details": err.Error()})
		}
		return
	}
	defer func() { _ = reader.Close() }()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", lastSegment(key)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil && deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "export download interrupted", slog.String("object_key", key), slog.Any("error", err))
	}
}

func relationPayload(info duckdb.RelationInfo) map[string]any {
	params := info.Parameters
	return map[string]any{
		"name":        info.Name,
		"instance_id": info.InstanceID,
		"arguments":   info.Arguments,
		"parameters": map[string]any{
			"identifier": params.Identifier(),
			"from":       params.From(),
			"to":         params.To(),
			"coverage":   string(params.Coverage()),
			"limit":      params.Limit(),
		},
		"rows":       info.Rows,
		"pages":      info.Pages,
		"truncated":  info.Truncated,
		"created_at": info.CreatedAt,
	}
}

func lastSegment(key string) string {
	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		return key[idx+1:]
	}
	return key
}
