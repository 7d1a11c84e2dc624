package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/harvestql/harvestql/internal/catalog"
	"github.com/harvestql/harvestql/internal/query/duckdb"
)

// Host creates relations. *duckdb.Engine satisfies it.
type Host interface {
	Create(ctx context.Context, name string, args []string) (duckdb.RelationInfo, error)
}

// Definitions is the part of the catalog startup needs.
type Definitions interface {
	SaveDefinition(ctx context.Context, in catalog.SaveDefinitionInput) (catalog.Definition, error)
	ListDefinitions(ctx context.Context) ([]catalog.Definition, error)
}

// Summary counts what a startup pass did.
type Summary struct {
	Declared int
	Restored int
	Skipped  int
}

// Apply declares the bootstrap relations, then re-creates every catalog
// definition not named by the bootstrap file. A bootstrap declaration that
// fails aborts startup; a stored definition that fails is logged and skipped.
// defs may be nil.
func Apply(ctx context.Context, host Host, decls []Declaration, defs Definitions, logger *slog.Logger) (Summary, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var summary Summary

	declared := make(map[string]struct{}, len(decls))
	for _, decl := range decls {
		info, err := host.Create(ctx, decl.Name, decl.Arguments)
		if err != nil {
			return summary, fmt.Errorf("declare bootstrap relation %q: %w", decl.Name, err)
		}
		declared[strings.ToLower(decl.Name)] = struct{}{}
		summary.Declared++
		if defs != nil {
			if _, err := defs.SaveDefinition(ctx, catalog.SaveDefinitionInput{
				Name:       info.Name,
				Arguments:  info.Arguments,
				InstanceID: info.InstanceID,
			}); err != nil {
				return summary, fmt.Errorf("persist bootstrap relation %q: %w", decl.Name, err)
			}
		}
	}

	if defs != nil {
		if err := restore(ctx, host, defs, declared, &summary, logger); err != nil {
			return summary, err
		}
	}

	logger.InfoContext(ctx, "relations_bootstrapped",
		slog.Int("declared", summary.Declared),
		slog.Int("restored", summary.Restored),
		slog.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

func restore(ctx context.Context, host Host, defs Definitions, declared map[string]struct{}, summary *Summary, logger *slog.Logger) error {
	stored, err := defs.ListDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("list stored relations: %w", err)
	}
	for _, def := range stored {
		if _, ok := declared[strings.ToLower(def.Name)]; ok {
			continue
		}
		info, err := host.Create(ctx, def.Name, def.Arguments)
		if err != nil {
			summary.Skipped++
			logger.WarnContext(ctx, "relation_restore_failed",
				slog.String("relation", def.Name),
				slog.Any("arguments", def.Arguments),
				slog.Any("error", err),
			)
			continue
		}
		summary.Restored++
		if _, err := defs.SaveDefinition(ctx, catalog.SaveDefinitionInput{
			Name:       info.Name,
			Arguments:  info.Arguments,
			InstanceID: info.InstanceID,
		}); err != nil {
			logger.WarnContext(ctx, "relation_restore_persist_failed",
				slog.String("relation", def.Name),
				slog.Any("error", err),
			)
		}
	}
	return nil
}
