package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harvestql/harvestql/internal/relation"
)

const (
	nextKeyHeader = "X-Soracom-Next-Key"
	maxErrorBody  = 512
)

// ErrUnauthorized is returned when the service rejects the credentials or
// the session token.
var ErrUnauthorized = fmt.Errorf("%w: credentials rejected by harvest api", relation.ErrAuthentication)

type Credentials struct {
	AuthKeyID     string
	AuthKeySecret string
}

// Validate reports missing credentials as relation.ErrAuthentication.
func (c Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.AuthKeyID) == "" {
		missing = append(missing, "auth key id")
	}
	if strings.TrimSpace(c.AuthKeySecret) == "" {
		missing = append(missing, "auth key secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", relation.ErrAuthentication, strings.Join(missing, " and "))
	}
	return nil
}

type Config struct {
	Credentials Credentials
	Timeout     time.Duration
	UserAgent   string
	HTTPClient  *http.Client
}

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed status=%d body=%s", e.Op, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return relation.ErrTransport
}

type Client struct {
	baseURL     string
	credentials Credentials
	userAgent   string
	client      *http.Client
}

func NewClient(baseURL string, cfg Config) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if err := cfg.Credentials.Validate(); err != nil {
		return nil, err
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = "harvestql"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		credentials: cfg.Credentials,
		userAgent:   userAgent,
		client:      httpClient,
	}, nil
}

// Session is an authenticated view of the API.
type Session struct {
	client     *Client
	APIKey     string
	Token      string
	OperatorID string
	UserName   string
}

func (c *Client) Auth(ctx context.Context) (*Session, error) {
	body, err := json.Marshal(map[string]string{
		"authKeyId": c.credentials.AuthKeyID,
		"authKey":   c.credentials.AuthKeySecret,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/auth", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	raw, _, err := c.do(req, "auth")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		APIKey     string `json:"apiKey"`
		Token      string `json:"token"`
		OperatorID string `json:"operatorId"`
		UserName   string `json:"userName"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode auth response: %w", relation.ErrTransport, err)
	}
	if parsed.APIKey == "" || parsed.Token == "" {
		return nil, fmt.Errorf("%w: auth response carried no api key or token", relation.ErrAuthentication)
	}
	return &Session{
		client:     c,
		APIKey:     parsed.APIKey,
		Token:      parsed.Token,
		OperatorID: parsed.OperatorID,
		UserName:   parsed.UserName,
	}, nil
}

// DataEntry is one stored Harvest Data entry.
type DataEntry struct {
	Time        int64  `json:"time"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type DataEntriesQuery struct {
	IMSI             string
	From             int64
	To               int64
	Limit            int
	Descending       bool
	LastEvaluatedKey string
}

type DataEntriesPage struct {
	Entries []DataEntry
	NextKey string
}

// ListDataEntries fetches one page of entries sent from a SIM. Content is
// passed through DecodeContent.
func (s *Session) ListDataEntries(ctx context.Context, q DataEntriesQuery) (DataEntriesPage, error) {
	if strings.TrimSpace(q.IMSI) == "" {
		return DataEntriesPage{}, fmt.Errorf("imsi is required")
	}
	if q.Limit < 1 || q.Limit > relation.MaxPageSize {
		return DataEntriesPage{}, fmt.Errorf("limit must be from 1 to %d", relation.MaxPageSize)
	}

	params := url.Values{}
	params.Set("from", strconv.FormatInt(q.From, 10))
	params.Set("to", strconv.FormatInt(q.To, 10))
	params.Set("limit", strconv.Itoa(q.Limit))
	if q.Descending {
		params.Set("sort", "desc")
	} else {
		params.Set("sort", "asc")
	}
	if q.LastEvaluatedKey != "" {
		params.Set("lastEvaluatedKey", q.LastEvaluatedKey)
	}

	endpoint := s.client.baseURL + "/v1/data/Subscriber/" + url.PathEscape(q.IMSI) + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return DataEntriesPage{}, fmt.Errorf("build data entries request: %w", err)
	}
	s.authorize(req)

	raw, header, err := s.client.do(req, "list data entries")
	if err != nil {
		return DataEntriesPage{}, err
	}

	var entries []DataEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return DataEntriesPage{}, fmt.Errorf("%w: decode data entries: %w", relation.ErrTransport, err)
	}
	for i := range entries {
		entries[i].Content = DecodeContent(entries[i].Content)
	}
	return DataEntriesPage{Entries: entries, NextKey: strings.TrimSpace(header.Get(nextKeyHeader))}, nil
}

// FetchPage serves relation materialization in ascending time order.
func (s *Session) FetchPage(ctx context.Context, req relation.PageRequest) (relation.Page, error) {
	page, err := s.ListDataEntries(ctx, DataEntriesQuery{
		IMSI:             req.Identifier,
		From:             req.From,
		To:               req.To,
		Limit:            req.Limit,
		LastEvaluatedKey: req.Continuation,
	})
	if err != nil {
		return relation.Page{}, err
	}
	records := make([]relation.Record, 0, len(page.Entries))
	for _, entry := range page.Entries {
		records = append(records, relation.Record{
			ReceivedAt:  entry.Time,
			ContentType: entry.ContentType,
			Payload:     entry.Content,
		})
	}
	return relation.Page{Records: records, Next: page.NextKey}, nil
}

func (s *Session) authorize(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.client.userAgent)
	req.Header.Set("X-Soracom-API-Key", s.APIKey)
	req.Header.Set("X-Soracom-Token", s.Token)
	req.Header.Set("X-Soracom-Lang", "en")
}

func (c *Client) do(req *http.Request, op string) ([]byte, http.Header, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, fmt.Errorf("%w: %s: %w", relation.ErrTransport, op, err)
		}
		return nil, nil, fmt.Errorf("%w: %s request: %w", relation.ErrTransport, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read %s response: %w", relation.ErrTransport, op, err)
	}
	if resp.StatusCode >= 400 {
		body := strings.TrimSpace(string(raw))
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: body}
	}
	return raw, resp.Header, nil
}
