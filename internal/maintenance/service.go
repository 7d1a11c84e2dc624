// Package maintenance keeps the parquet export history tidy: retention
// prunes old export objects and integrity checks that every recorded export
// still exists in the object store with the recorded size.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harvestql/harvestql/internal/catalog"
	"github.com/harvestql/harvestql/internal/storage"
)

type Catalog interface {
	ListExportedRelations(ctx context.Context) ([]string, error)
	ListExports(ctx context.Context, relationName string, limit int) ([]catalog.Export, error)
	ListExportCandidates(ctx context.Context, relationName string, keep int, olderThan time.Time) ([]catalog.Export, error)
	DeleteExport(ctx context.Context, exportID int64) error
}

type Config struct {
	// RetentionInterval is the period of the background loop. Zero disables it.
	RetentionInterval    time.Duration
	KeepExports          int
	SafetyAge            time.Duration
	IntegrityExportLimit int
}

type Service struct {
	Catalog     Catalog
	ObjectStore storage.ObjectStore
	Config      Config
	Logger      *slog.Logger
	Clock       func() time.Time
}

type RetentionSummary struct {
	RelationsScanned int `json:"relations_scanned"`
	CandidateExports int `json:"candidate_exports"`
	ExportsDeleted   int `json:"exports_deleted"`
	Failures         int `json:"failures"`
}

type IntegritySummary struct {
	RelationsScanned    int `json:"relations_scanned"`
	ExportsChecked      int `json:"exports_checked"`
	MissingObjects      int `json:"missing_objects"`
	SizeMismatchObjects int `json:"size_mismatch_objects"`
	OperationalFailures int `json:"operational_failures"`
}

// Run applies retention every RetentionInterval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	interval := s.Config.RetentionInterval
	if interval <= 0 {
		return nil
	}
	logger := s.logger()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			summary, err := s.RunRetentionOnce(ctx, "")
			if err != nil {
				logger.ErrorContext(ctx, "export retention cycle failed", slog.Any("error", err), slog.Any("summary", summary))
				continue
			}
			logger.InfoContext(ctx, "export retention cycle completed", slog.Any("summary", summary))
		}
	}
}

// RunRetentionOnce keeps the newest KeepExports exports of each relation and
// removes older ones past the safety age, object first and catalog row second.
// An empty relationName covers every relation with recorded exports.
func (s *Service) RunRetentionOnce(ctx context.Context, relationName string) (RetentionSummary, error) {
	if err := s.requireDependencies(); err != nil {
		return RetentionSummary{}, err
	}

	relations, err := s.listTargetRelations(ctx, relationName)
	if err != nil {
		return RetentionSummary{}, err
	}

	summary := RetentionSummary{RelationsScanned: len(relations)}
	failures := make([]string, 0)
	cfg := s.settings()
	cutoff := s.now().Add(-cfg.SafetyAge)

	for _, name := range relations {
		candidates, err := s.Catalog.ListExportCandidates(ctx, name, cfg.KeepExports, cutoff)
		if err != nil {
			summary.Failures++
			failures = append(failures, fmt.Sprintf("relation %s export candidates: %v", name, err))
			continue
		}
		summary.CandidateExports += len(candidates)

		for _, candidate := range candidates {
			if err := s.ObjectStore.Delete(ctx, candidate.ObjectKey); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
				summary.Failures++
				failures = append(failures, fmt.Sprintf("relation %s delete object %s: %v", name, candidate.ObjectKey, err))
				continue
			}
			if err := s.Catalog.DeleteExport(ctx, candidate.ExportID); err != nil && !errors.Is(err, catalog.ErrNotFound) {
				summary.Failures++
				failures = append(failures, fmt.Sprintf("relation %s delete export %d: %v", name, candidate.ExportID, err))
				continue
			}
			summary.ExportsDeleted++
		}
	}

	if summary.ExportsDeleted > 0 {
		exportsDeletedTotal.Add(float64(summary.ExportsDeleted))
	}
	if len(failures) > 0 {
		retentionRunsTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("retention encountered %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	retentionRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

// RunIntegrityCheckOnce stats the object of each relation's newest
// IntegrityExportLimit exports and reports missing or resized objects.
func (s *Service) RunIntegrityCheckOnce(ctx context.Context, relationName string) (IntegritySummary, error) {
	if err := s.requireDependencies(); err != nil {
		return IntegritySummary{}, err
	}

	relations, err := s.listTargetRelations(ctx, relationName)
	if err != nil {
		return IntegritySummary{}, err
	}
	summary := IntegritySummary{RelationsScanned: len(relations)}
	limit := s.settings().IntegrityExportLimit
	const maxIssueSamples = 20
	issueSamples := make([]string, 0, maxIssueSamples)
	issueCount := 0
	addIssue := func(message string) {
		issueCount++
		if len(issueSamples) < maxIssueSamples {
			issueSamples = append(issueSamples, message)
		}
	}

	for _, name := range relations {
		exports, err := s.Catalog.ListExports(ctx, name, limit)
		if err != nil {
			summary.OperationalFailures++
			addIssue(fmt.Sprintf("relation %s list exports: %v", name, err))
			continue
		}
		for _, item := range exports {
			summary.ExportsChecked++
			info, err := s.ObjectStore.Stat(ctx, item.ObjectKey)
			if err != nil {
				if errors.Is(err, storage.ErrObjectNotFound) {
					summary.MissingObjects++
					addIssue(fmt.Sprintf("relation %s missing object %s (export_id=%d)", name, item.ObjectKey, item.ExportID))
					continue
				}
				summary.OperationalFailures++
				addIssue(fmt.Sprintf("relation %s stat object %s: %v", name, item.ObjectKey, err))
				continue
			}
			if info.Size != item.SizeBytes {
				summary.SizeMismatchObjects++
				addIssue(fmt.Sprintf("relation %s size mismatch for %s (expected=%d actual=%d)", name, item.ObjectKey, item.SizeBytes, info.Size))
			}
		}
	}

	if summary.ExportsChecked > 0 {
		integrityObjectsCheckedTotal.Add(float64(summary.ExportsChecked))
	}
	if summary.MissingObjects > 0 {
		integrityMissingObjectsTotal.Add(float64(summary.MissingObjects))
	}
	if summary.SizeMismatchObjects > 0 {
		integritySizeMismatchTotal.Add(float64(summary.SizeMismatchObjects))
	}
	if issueCount > 0 {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		if extra := issueCount - len(issueSamples); extra > 0 {
			return summary, fmt.Errorf("integrity check found %d issue(s): %s; ... plus %d more", issueCount, strings.Join(issueSamples, "; "), extra)
		}
		return summary, fmt.Errorf("integrity check found %d issue(s): %s", issueCount, strings.Join(issueSamples, "; "))
	}
	integrityRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

func (s *Service) requireDependencies() error {
	if s.Catalog == nil {
		return fmt.Errorf("catalog is required")
	}
	if s.ObjectStore == nil {
		return fmt.Errorf("object store is required")
	}
	return nil
}

func (s *Service) listTargetRelations(ctx context.Context, relationName string) ([]string, error) {
	if name := strings.TrimSpace(relationName); name != "" {
		return []string{name}, nil
	}
	relations, err := s.Catalog.ListExportedRelations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list exported relations: %w", err)
	}
	return relations, nil
}

// settings returns Config with defaults filled in. Service fields are never
// written after construction, so Run and the HTTP-triggered passes can share
// one Service.
func (s *Service) settings() Config {
	cfg := s.Config
	if cfg.KeepExports < 1 {
		cfg.KeepExports = 5
	}
	if cfg.SafetyAge < 0 {
		cfg.SafetyAge = 0
	}
	if cfg.IntegrityExportLimit <= 0 {
		cfg.IntegrityExportLimit = 50
	}
	return cfg
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
