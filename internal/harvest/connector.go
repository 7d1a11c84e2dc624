package harvest

import (
	"context"
	"log/slog"
	"strings"

	"github.com/harvestql/harvestql/internal/relation"
)

// Connector authenticates once per materialization. Sessions are never
// shared between relations.
type Connector struct {
	Config Config
	// BaseURL overrides the coverage endpoint when set.
	BaseURL string
	Logger  *slog.Logger
}

var _ relation.Connector = (*Connector)(nil)

func (c *Connector) Connect(ctx context.Context, coverage relation.Coverage) (relation.PageFetcher, error) {
	baseURL := strings.TrimSpace(c.BaseURL)
	if baseURL == "" {
		baseURL = EndpointFor(coverage)
	}
	client, err := NewClient(baseURL, c.Config)
	if err != nil {
		return nil, err
	}
	session, err := client.Auth(ctx)
	if err != nil {
		return nil, err
	}
	if c.Logger != nil {
		c.Logger.DebugContext(ctx, "harvest_session_opened",
			slog.String("coverage", string(coverage)),
			slog.String("endpoint", baseURL),
			slog.String("operator_id", session.OperatorID),
		)
	}
	return session, nil
}
