package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantql/covenant/internal/config"
	"github.com/covenantql/covenant/internal/engine"
	"github.com/covenantql/covenant/internal/server"
	"github.com/covenantql/covenant/internal/storage"
	"github.com/covenantql/covenant/internal/storage/sqlite"
	"github.com/covenantql/covenant/pkg/types"
)

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	docs := []storage.ContractDoc{
		{ID: "c-001", Title: "Westervelt MSA", ContractorParty: "westervelt", ContractingParty: "acme", GoverningLawState: "california", ContractType: "msa", ValueUSD: 250000},
		{ID: "c-002", Title: "Westervelt NDA", ContractorParty: "westervelt", ContractingParty: "acme", GoverningLawState: "california", ContractType: "nda", ValueUSD: 0},
		{ID: "c-003", Title: "Initech SOW", ContractorParty: "initech", ContractingParty: "globex", GoverningLawState: "alabama", ContractType: "sow", ValueUSD: 90000},
	}
	for _, doc := range docs {
		require.NoError(t, store.SeedContract(ctx, doc))
	}

	catalog := engine.DefaultCatalog()
	catalog.Add(types.EntityContractorParty, "The Westervelt Company", "Westervelt Co")
	catalog.Add(types.EntityContractorParty, "Initech LLC")

	cfg := engine.DefaultConfig()
	cfg.LLMEnabled = false
	eng, err := engine.New(cfg, catalog, engine.ExecutorBackends{Entities: store, Contracts: store}, nil, nil)
	require.NoError(t, err)
	return eng
}

func startTestServer(t *testing.T, apiToken string) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.APIToken = apiToken

	addr, _, err := server.Start(ctx, cfg, testEngine(t))
	require.NoError(t, err)
	return addr
}

func postQuery(t *testing.T, addr, token string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost,
		fmt.Sprintf("http://%s/api/query", addr), bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestServerHealth(t *testing.T) {
	addr := startTestServer(t, "")

	resp, err := http.Get(fmt.Sprintf("http://%s/health", addr))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestServerQuery(t *testing.T) {
	addr := startTestServer(t, "")

	resp := postQuery(t, addr, "", map[string]string{
		"query": "Show all contracts governed by California",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var answer engine.Answer
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&answer))
	require.NotNil(t, answer.Result)
	assert.Equal(t, 2, answer.Result.Count)
	require.NotNil(t, answer.Plan)
	assert.Equal(t, types.StrategyEntityFirst, answer.Plan.Strategy)
	require.NotNil(t, answer.Trace)
	assert.Equal(t, "ok", answer.Trace.Outcome)
}

func TestServerQueryRejectsEmptyBody(t *testing.T) {
	addr := startTestServer(t, "")

	resp := postQuery(t, addr, "", map[string]string{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerQueryRejectsUnknownMode(t *testing.T) {
	addr := startTestServer(t, "")

	resp := postQuery(t, addr, "", map[string]string{
		"query": "Show all contracts",
		"mode":  "dry_run",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerAuth(t *testing.T) {
	addr := startTestServer(t, "secret-token")

	resp := postQuery(t, addr, "", map[string]string{"query": "Show all contracts"})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postQuery(t, addr, "wrong", map[string]string{"query": "Show all contracts"})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postQuery(t, addr, "secret-token", map[string]string{
		"query": "Show all contracts governed by California",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerSchema(t *testing.T) {
	addr := startTestServer(t, "")

	resp, err := http.Get(fmt.Sprintf("http://%s/api/schema", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, engine.SchemaVersion, body["schema_version"])
	assert.Contains(t, body["schema"], "contracts")
	assert.Contains(t, body["ontology"], "cov:")
}

func TestTraceHubBroadcast(t *testing.T) {
	hub := server.NewTraceHub()
	go hub.Run()
	defer hub.Stop()

	received := make(chan []byte, 1)
	mockClient := &server.MockClient{SendChan: received}
	hub.Register(mockClient)

	// Give the hub time to register the client
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(server.TraceEvent{
		Type:     "query_trace",
		TraceID:  "t-123",
		Query:    "Show all MSAs",
		Strategy: string(types.StrategyContractDirect),
		Outcome:  "ok",
	})

	select {
	case msg := <-received:
		assert.Contains(t, string(msg), "query_trace")
		assert.Contains(t, string(msg), "t-123")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
}

func TestQueryBroadcastsTrace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"

	addr, hub, err := server.Start(ctx, cfg, testEngine(t))
	require.NoError(t, err)

	received := make(chan []byte, 1)
	hub.Register(&server.MockClient{SendChan: received})
	time.Sleep(10 * time.Millisecond)

	resp := postQuery(t, addr, "", map[string]string{
		"query": "Show all contracts governed by California",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case msg := <-received:
		var event server.TraceEvent
		require.NoError(t, json.Unmarshal(msg, &event))
		assert.Equal(t, "query_trace", event.Type)
		assert.Equal(t, string(types.StrategyEntityFirst), event.Strategy)
		assert.Equal(t, "ok", event.Outcome)
		assert.Contains(t, event.Rendered, "QUERY TRACE")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for trace event")
	}
}
