package harvest

import "github.com/harvestql/harvestql/internal/relation"

const (
	GlobalEndpoint = "https://g.api.soracom.io"
	JapanEndpoint  = "https://api.soracom.io"
)

// EndpointFor returns the API base URL serving SIMs of the given coverage.
func EndpointFor(coverage relation.Coverage) string {
	if coverage == relation.CoverageJapan {
		return JapanEndpoint
	}
	return GlobalEndpoint
}
