package relation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Argument is one KEY 'value' pair given when a relation is declared.
type Argument struct {
	Key   string
	Value string
}

// String renders the pair in the form SplitArgument accepts.
func (a Argument) String() string {
	return strings.ToUpper(strings.TrimSpace(a.Key)) + " " + quoteValue(a.Value)
}

var argumentPattern = regexp.MustCompile(`^\s*([A-Za-z_]+)\s+(?:'([^']*)'|"([^"]*)")\s*$`)

// SplitArgument splits a raw `KEY 'value'` or `KEY "value"` string.
func SplitArgument(raw string) (Argument, error) {
	matches := argumentPattern.FindStringSubmatch(raw)
	if matches == nil {
		return Argument{}, fmt.Errorf("%w: malformed argument %q: expected KEY 'value'", ErrConfiguration, raw)
	}
	value := matches[2]
	if value == "" {
		value = matches[3]
	}
	return Argument{Key: matches[1], Value: value}, nil
}

// ParseArguments parses the raw argument strings of a relation declaration.
func ParseArguments(args []string, now time.Time) (Parameters, error) {
	pairs := make([]Argument, 0, len(args))
	for _, raw := range args {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		pair, err := SplitArgument(raw)
		if err != nil {
			return Parameters{}, err
		}
		pairs = append(pairs, pair)
	}
	return Parse(pairs, now)
}

// Parse validates key/value pairs into Parameters. Keys are case-insensitive;
// unknown or repeated keys are rejected. now anchors the default time range.
func Parse(args []Argument, now time.Time) (Parameters, error) {
	params := Parameters{
		from:     now.Add(-DefaultWindow).UnixMilli(),
		to:       now.UnixMilli(),
		coverage: CoverageGlobal,
		limit:    DefaultLimit,
	}

	seen := make(map[string]struct{}, len(args))
	for _, arg := range args {
		key := strings.ToUpper(strings.TrimSpace(arg.Key))
		if key == "IDENTIFIER" {
			key = "IMSI"
		}
		if _, dup := seen[key]; dup {
			return Parameters{}, fmt.Errorf("%w: argument %s given more than once", ErrConfiguration, key)
		}
		seen[key] = struct{}{}

		switch key {
		case "IMSI":
			params.identifier = strings.TrimSpace(arg.Value)
		case "FROM":
			from, err := parseMillis(key, arg.Value)
			if err != nil {
				return Parameters{}, err
			}
			params.from = from
		case "TO":
			to, err := parseMillis(key, arg.Value)
			if err != nil {
				return Parameters{}, err
			}
			params.to = to
		case "COVERAGE":
			coverage, err := ParseCoverage(arg.Value)
			if err != nil {
				return Parameters{}, err
			}
			params.coverage = coverage
		case "LIMIT":
			limit, err := strconv.Atoi(strings.TrimSpace(arg.Value))
			if err != nil || limit < 1 || limit > MaxLimit {
				return Parameters{}, fmt.Errorf("%w: invalid LIMIT %q: expected an integer from 1 to %d", ErrConfiguration, arg.Value, MaxLimit)
			}
			params.limit = limit
		default:
			return Parameters{}, fmt.Errorf("%w: unknown argument %q", ErrConfiguration, arg.Key)
		}
	}

	if params.identifier == "" {
		return Parameters{}, fmt.Errorf("%w: IMSI is required", ErrConfiguration)
	}
	if strings.Contains(params.identifier, "'") && strings.Contains(params.identifier, `"`) {
		return Parameters{}, fmt.Errorf("%w: IMSI %q mixes quote characters", ErrConfiguration, params.identifier)
	}
	if params.to < params.from {
		return Parameters{}, fmt.Errorf("%w: TO (%d) is before FROM (%d)", ErrConfiguration, params.to, params.from)
	}
	return params, nil
}

func parseMillis(key, raw string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%w: invalid %s %q: expected unix time in milliseconds", ErrConfiguration, key, raw)
	}
	return value, nil
}
