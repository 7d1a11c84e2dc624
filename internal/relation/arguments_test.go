package relation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.UnixMilli(1700000000000)

func TestParseArgumentsFullSet(t *testing.T) {
	params, err := ParseArguments([]string{
		"IMSI '441200000050000'",
		"FROM '1668003111681'",
		"TO '1668604289406'",
		"LIMIT '1000'",
		"COVERAGE 'japan'",
	}, fixedNow)
	require.NoError(t, err)
	require.Equal(t, "441200000050000", params.Identifier())
	require.Equal(t, int64(1668003111681), params.From())
	require.Equal(t, int64(1668604289406), params.To())
	require.Equal(t, 1000, params.Limit())
	require.Equal(t, CoverageJapan, params.Coverage())
}

func TestParseArgumentsDefaults(t *testing.T) {
	params, err := ParseArguments([]string{"IMSI '001010000000001'"}, fixedNow)
	require.NoError(t, err)
	require.Equal(t, fixedNow.UnixMilli(), params.To())
	require.Equal(t, fixedNow.Add(-24*time.Hour).UnixMilli(), params.From())
	require.Equal(t, CoverageGlobal, params.Coverage())
	require.Equal(t, DefaultLimit, params.Limit())
}

func TestParseArgumentsKeysAreCaseInsensitive(t *testing.T) {
	params, err := ParseArguments([]string{`identifier "abc"`, "coverage 'JAPAN'", "limit '5'"}, fixedNow)
	require.NoError(t, err)
	require.Equal(t, "abc", params.Identifier())
	require.Equal(t, CoverageJapan, params.Coverage())
	require.Equal(t, 5, params.Limit())
}

func TestParseArgumentsRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown coverage", args: []string{"IMSI 'x'", "COVERAGE 'mars'"}},
		{name: "limit zero", args: []string{"IMSI 'x'", "LIMIT '0'"}},
		{name: "limit too large", args: []string{"IMSI 'x'", "LIMIT '1001'"}},
		{name: "limit not a number", args: []string{"IMSI 'x'", "LIMIT 'ten'"}},
		{name: "missing identifier", args: []string{"LIMIT '10'"}},
		{name: "empty identifier", args: []string{"IMSI ''"}},
		{name: "non numeric from", args: []string{"IMSI 'x'", "FROM 'yesterday'"}},
		{name: "negative to", args: []string{"IMSI 'x'", "TO '-1'"}},
		{name: "to before from", args: []string{"IMSI 'x'", "FROM '200'", "TO '100'"}},
		{name: "unknown key", args: []string{"IMSI 'x'", "SORT 'desc'"}},
		{name: "duplicate key", args: []string{"IMSI 'x'", "IDENTIFIER 'y'"}},
		{name: "unquoted value", args: []string{"IMSI x"}},
		{name: "missing value", args: []string{"IMSI"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseArguments(tc.args, fixedNow)
			require.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestParseArgumentsSkipsBlankEntries(t *testing.T) {
	params, err := ParseArguments([]string{"", "  ", "IMSI 'x'"}, fixedNow)
	require.NoError(t, err)
	require.Equal(t, "x", params.Identifier())
}

func TestParametersArgumentsRoundTrip(t *testing.T) {
	params, err := Parse([]Argument{
		{Key: "imsi", Value: "it's"},
		{Key: "from", Value: "10"},
		{Key: "to", Value: "20"},
		{Key: "limit", Value: "3"},
	}, fixedNow)
	require.NoError(t, err)

	rendered := params.Arguments()
	require.Equal(t, `IMSI "it's"`, rendered[0])

	reparsed, err := ParseArguments(rendered, time.Time{})
	require.NoError(t, err)
	require.Equal(t, params, reparsed)
}

func TestSplitArgument(t *testing.T) {
	arg, err := SplitArgument(`  FROM   '1668003111681'  `)
	require.NoError(t, err)
	require.Equal(t, Argument{Key: "FROM", Value: "1668003111681"}, arg)

	_, err = SplitArgument(`FROM '1' extra`)
	require.ErrorIs(t, err, ErrConfiguration)

	require.Equal(t, `IMSI "it's"`, Argument{Key: "imsi", Value: "it's"}.String())
	round, err := SplitArgument(Argument{Key: "limit", Value: "10"}.String())
	require.NoError(t, err)
	require.Equal(t, Argument{Key: "LIMIT", Value: "10"}, round)
}
