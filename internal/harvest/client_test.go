package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harvestql/harvestql/internal/relation"
)

type fakeHarvest struct {
	mu         sync.Mutex
	entries    []DataEntry
	authHits   int
	queries    []string
	rejectAuth bool
}

func (f *fakeHarvest) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authHits++
		f.mu.Unlock()
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if f.rejectAuth || body["authKeyId"] != "keyId-test" || body["authKey"] != "secret-test" {
			http.Error(w, `{"code":"AUM0001"}`, http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"apiKey":     "api-key",
			"token":      "token",
			"operatorId": "OP0000000000",
			"userName":   "",
		})
	})
	mux.HandleFunc("GET /v1/data/Subscriber/{imsi}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Soracom-API-Key") != "api-key" || r.Header.Get("X-Soracom-Token") != "token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		f.queries = append(f.queries, r.URL.RawQuery)
		f.mu.Unlock()

		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		start := 0
		if key := q.Get("lastEvaluatedKey"); key != "" {
			start, _ = strconv.Atoi(key)
		}
		end := min(start+limit, len(f.entries))
		if end < len(f.entries) {
			w.Header().Set("x-soracom-next-key", strconv.Itoa(end))
		}
		_ = json.NewEncoder(w).Encode(f.entries[start:end])
	})
	return mux
}

func testCredentials() Credentials {
	return Credentials{AuthKeyID: "keyId-test", AuthKeySecret: "secret-test"}
}

func TestCredentialsValidate(t *testing.T) {
	err := Credentials{}.Validate()
	require.ErrorIs(t, err, relation.ErrAuthentication)
	require.Contains(t, err.Error(), "auth key id and auth key secret")

	require.NoError(t, testCredentials().Validate())
}

func TestAuthReturnsSession(t *testing.T) {
	fake := &fakeHarvest{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	client, err := NewClient(server.URL, Config{Credentials: testCredentials()})
	require.NoError(t, err)

	session, err := client.Auth(context.Background())
	require.NoError(t, err)
	require.Equal(t, "api-key", session.APIKey)
	require.Equal(t, "token", session.Token)
	require.Equal(t, "OP0000000000", session.OperatorID)
}

func TestAuthRejectedIsAuthenticationError(t *testing.T) {
	fake := &fakeHarvest{rejectAuth: true}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	client, err := NewClient(server.URL, Config{Credentials: testCredentials()})
	require.NoError(t, err)

	_, err = client.Auth(context.Background())
	require.ErrorIs(t, err, relation.ErrAuthentication)
	require.ErrorIs(t, err, ErrUnauthorized)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestListDataEntriesFollowsNextKey(t *testing.T) {
	fake := &fakeHarvest{entries: []DataEntry{
		{Time: 100, ContentType: "application/json", Content: `{"payload":"aGVsbG8="}`},
		{Time: 200, ContentType: "application/json", Content: `{"t":1}`},
		{Time: 300, ContentType: "application/json", Content: `{"t":2}`},
	}}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	client, err := NewClient(server.URL, Config{Credentials: testCredentials()})
	require.NoError(t, err)
	session, err := client.Auth(context.Background())
	require.NoError(t, err)

	first, err := session.ListDataEntries(context.Background(), DataEntriesQuery{IMSI: "001010000000001", From: 0, To: 1000, Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)
	require.Equal(t, `{"value":"hello"}`, first.Entries[0].Content)
	require.Equal(t, "2", first.NextKey)

	second, err := session.ListDataEntries(context.Background(), DataEntriesQuery{IMSI: "001010000000001", From: 0, To: 1000, Limit: 2, LastEvaluatedKey: first.NextKey})
	require.NoError(t, err)
	require.Len(t, second.Entries, 1)
	require.Equal(t, int64(300), second.Entries[0].Time)
	require.Empty(t, second.NextKey)

	require.Contains(t, fake.queries[0], "sort=asc")
	require.Contains(t, fake.queries[1], "lastEvaluatedKey=2")
}

func TestListDataEntriesValidatesLimit(t *testing.T) {
	session := &Session{client: &Client{baseURL: "http://unused", client: http.DefaultClient}}
	_, err := session.ListDataEntries(context.Background(), DataEntriesQuery{IMSI: "x", Limit: 0})
	require.Error(t, err)
	_, err = session.ListDataEntries(context.Background(), DataEntriesQuery{IMSI: "x", Limit: relation.MaxPageSize + 1})
	require.Error(t, err)
	_, err = session.ListDataEntries(context.Background(), DataEntriesQuery{Limit: 10})
	require.Error(t, err)
}

func TestServerErrorIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	session := &Session{client: &Client{baseURL: server.URL, userAgent: "harvestql", client: server.Client()}}
	_, err := session.FetchPage(context.Background(), relation.PageRequest{Identifier: "x", Limit: 10})
	require.ErrorIs(t, err, relation.ErrTransport)
	require.NotErrorIs(t, err, relation.ErrAuthentication)
}

func TestConnectorMaterializesThroughModule(t *testing.T) {
	entries := make([]DataEntry, 0, 25)
	for i := range 25 {
		entries = append(entries, DataEntry{Time: int64(1000 + i), ContentType: "application/json", Content: fmt.Sprintf(`{"n":%d}`, i)})
	}
	fake := &fakeHarvest{entries: entries}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	module := relation.NewModule(&Connector{Config: Config{Credentials: testCredentials()}, BaseURL: server.URL}, nil)
	rel, err := module.Create(context.Background(), "harvest", []string{
		"IMSI '001010000000001'",
		"FROM '0'",
		"TO '5000'",
		"LIMIT '20'",
	})
	require.NoError(t, err)
	defer rel.Destroy()

	require.Equal(t, 20, rel.Len())
	require.Equal(t, 1, fake.authHits)

	rows, err := rel.Rows()
	require.NoError(t, err)
	require.Equal(t, int64(1000), rows.At(0).Timestamp)
	require.Equal(t, `{"n":19}`, rows.At(19).Value)
}

func TestConnectorMissingCredentials(t *testing.T) {
	connector := &Connector{BaseURL: "http://unused"}
	_, err := connector.Connect(context.Background(), relation.CoverageGlobal)
	require.ErrorIs(t, err, relation.ErrAuthentication)
}
