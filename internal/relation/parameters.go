package relation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultLimit  = 100
	MaxLimit      = 1000
	DefaultWindow = 24 * time.Hour
)

type Coverage string

const (
	CoverageGlobal Coverage = "global"
	CoverageJapan  Coverage = "japan"
)

func ParseCoverage(raw string) (Coverage, error) {
	switch Coverage(strings.ToLower(strings.TrimSpace(raw))) {
	case CoverageGlobal:
		return CoverageGlobal, nil
	case CoverageJapan:
		return CoverageJapan, nil
	default:
		return "", fmt.Errorf("%w: invalid COVERAGE %q: expected global or japan", ErrConfiguration, raw)
	}
}

// Parameters is the validated argument set of one relation. The zero value is
// not valid; use Parse or ParseArguments.
type Parameters struct {
	identifier string
	from       int64
	to         int64
	coverage   Coverage
	limit      int
}

func (p Parameters) Identifier() string { return p.identifier }

// From is the inclusive start of the search range in unix milliseconds.
func (p Parameters) From() int64 { return p.from }

// To is the end of the search range in unix milliseconds.
func (p Parameters) To() int64 { return p.to }

func (p Parameters) Coverage() Coverage { return p.coverage }

func (p Parameters) Limit() int { return p.limit }

// Arguments renders the parameters back into the KEY 'value' form accepted by
// ParseArguments, with every default made explicit.
func (p Parameters) Arguments() []string {
	return []string{
		"IMSI " + quoteValue(p.identifier),
		fmt.Sprintf("FROM '%d'", p.from),
		fmt.Sprintf("TO '%d'", p.to),
		fmt.Sprintf("COVERAGE '%s'", p.coverage),
		"LIMIT '" + strconv.Itoa(p.limit) + "'",
	}
}

func (p Parameters) String() string {
	return fmt.Sprintf("identifier=%s from=%d to=%d coverage=%s limit=%d", p.identifier, p.from, p.to, p.coverage, p.limit)
}

func quoteValue(value string) string {
	if strings.Contains(value, "'") {
		return `"` + value + `"`
	}
	return "'" + value + "'"
}
