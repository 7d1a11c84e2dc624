package harvestqlctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// errRequest marks failures talking to the API, as opposed to usage errors.
var errRequest = errors.New("request failed")

// Run executes one harvestqlctl invocation and returns its exit code:
// 0 on success, 1 when the API call fails and 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	if args == nil {
		args = []string{}
	}
	root := newRootCommand(defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SilenceErrors = true
	root.SilenceUsage = true

	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errRequest) {
			_, _ = fmt.Fprintln(stderr, err)
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "error: %v\n\n", err)
		_, _ = fmt.Fprint(stderr, root.UsageString())
		return 2
	}
	return 0
}

type session struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

func newRootCommand(defaults Options) *cobra.Command {
	s := &session{client: defaults.HTTPClient}

	root := &cobra.Command{
		Use:   "harvestqlctl",
		Short: "Operate a harvestql API server",
		Long: `harvestqlctl talks to a running harvestql API.

Examples:
  harvestqlctl relations create harvest "IMSI '001010000000001'" "LIMIT '500'"
  harvestqlctl query "SELECT timestamp, json_extract_string(value, '$.temp') FROM harvest"
  harvestqlctl relations export harvest`,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&s.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "harvestql API base URL")
	flags.StringVar(&s.apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	flags.DurationVar(&s.timeout, "timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")

	root.AddCommand(
		simpleCommand(s, "health", "GET /v1/health", http.MethodGet, "/v1/health"),
		simpleCommand(s, "ready", "GET /v1/ready", http.MethodGet, "/v1/ready"),
		newRelationsCommand(s),
		newQueryCommand(s),
		newDownloadCommand(s),
		newMaintenanceCommand(s),
	)
	return root
}

func simpleCommand(s *session, use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.printJSON(cmd, method, path, nil)
		},
	}
}

func newRelationsCommand(s *session) *cobra.Command {
	relations := &cobra.Command{
		Use:   "relations",
		Short: "Manage harvest relations",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List live relations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.printJSON(cmd, http.MethodGet, "/v1/relations", nil)
		},
	}

	get := &cobra.Command{
		Use:   "get NAME",
		Short: "Describe one relation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.printJSON(cmd, http.MethodGet, "/v1/relations/"+url.PathEscape(args[0]), nil)
		},
	}

	create := &cobra.Command{
		Use:   "create NAME [KEY 'value'...]",
		Short: "Declare a relation and fetch its rows",
		Long: `Declare a relation. Each argument is one KEY 'value' pair:
IMSI (required), FROM and TO in unix milliseconds, COVERAGE (global or japan)
and LIMIT.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{"name": args[0], "arguments": append([]string{}, args[1:]...)}
			return s.printJSON(cmd, http.MethodPost, "/v1/relations", payload)
		},
	}

	drop := &cobra.Command{
		Use:   "drop NAME",
		Short: "Drop a relation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := s.do(cmd.Context(), http.MethodDelete, "/v1/relations/"+url.PathEscape(args[0]), nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "relation %q dropped\n", args[0])
			return nil
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export NAME",
		Short: "Write the relation rows to the object store as parquet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.printJSON(cmd, http.MethodPost, "/v1/relations/"+url.PathEscape(args[0])+"/export", nil)
		},
	}

	var limit int
	exports := &cobra.Command{
		Use:   "exports NAME",
		Short: "List past exports of a relation, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/relations/" + url.PathEscape(args[0]) + "/exports"
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			return s.printJSON(cmd, http.MethodGet, path, nil)
		},
	}
	exports.Flags().IntVar(&limit, "limit", 0, "maximum number of exports to list")

	relations.AddCommand(list, get, create, drop, exportCmd, exports)
	return relations
}

func newQueryCommand(s *session) *cobra.Command {
	var rowLimit int
	cmd := &cobra.Command{
		Use:   "query SQL",
		Short: "Run a read-only SQL query over the live relations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{"sql": args[0]}
			if rowLimit > 0 {
				payload["row_limit"] = rowLimit
			}
			return s.printJSON(cmd, http.MethodPost, "/v1/query", payload)
		},
	}
	cmd.Flags().IntVar(&rowLimit, "row-limit", 0, "maximum rows to return (server default when 0)")
	return cmd
}

func newDownloadCommand(s *session) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download KEY",
		Short: "Download an export object by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := s.do(cmd.Context(), http.MethodGet, "/v1/exports/"+strings.TrimPrefix(args[0], "/"), nil)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(body)
				return err
			}
			if err := os.WriteFile(output, body, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(body), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (stdout when empty)")
	return cmd
}

func newMaintenanceCommand(s *session) *cobra.Command {
	var relationName string
	maintenance := &cobra.Command{
		Use:   "maintenance",
		Short: "Run export housekeeping on demand",
	}
	run := func(kind string) func(cmd *cobra.Command, _ []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			path := "/v1/maintenance/" + kind
			if relationName != "" {
				path += "?relation=" + url.QueryEscape(relationName)
			}
			return s.printJSON(cmd, http.MethodPost, path, nil)
		}
	}
	retention := &cobra.Command{
		Use:   "retention",
		Short: "Delete exports beyond the configured keep count",
		Args:  cobra.NoArgs,
		RunE:  run("retention"),
	}
	integrity := &cobra.Command{
		Use:   "integrity",
		Short: "Check recorded exports against the object store",
		Args:  cobra.NoArgs,
		RunE:  run("integrity"),
	}
	maintenance.PersistentFlags().StringVar(&relationName, "relation", "", "limit the run to one relation")
	maintenance.AddCommand(retention, integrity)
	return maintenance
}

func (s *session) printJSON(cmd *cobra.Command, method, path string, payload any) error {
	body, err := s.do(cmd.Context(), method, path, payload)
	if err != nil {
		return err
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), pretty)
		return nil
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(body))
	}
	return nil
}

func (s *session) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(s.baseURL, "/")+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(s.apiKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	client := s.client
	if client == nil {
		client = &http.Client{Timeout: s.timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRequest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", errRequest, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: http %d: %s", errRequest, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
