package sparql

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantql/covenant/internal/storage"
)

const sampleResponse = `{
	"head": {"vars": ["contract", "party"]},
	"results": {"bindings": [
		{"contract": {"type": "uri", "value": "https://covenant.dev/contract/c-001"},
		 "party": {"type": "literal", "value": "westervelt"}},
		{"contract": {"type": "uri", "value": "https://covenant.dev/contract/c-003"},
		 "party": {"type": "literal", "value": "westervelt"}}
	]}
}`

func TestSelect(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotQuery = r.FormValue("query")
		assert.Equal(t, "application/sparql-results+json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/sparql-results+json")
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	client, err := NewClient(Config{Endpoint: srv.URL})
	require.NoError(t, err)

	query := `PREFIX cov: <https://covenant.dev/ontology/>
SELECT ?contract ?party WHERE { ?contract cov:hasContractorParty ?party }`
	result, err := client.Select(context.Background(), query)
	require.NoError(t, err)

	assert.Equal(t, query, gotQuery)
	assert.Equal(t, []string{"contract", "party"}, result.Variables)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "westervelt", result.Rows[0]["party"])
	assert.Greater(t, result.RequestUnits, 0.0)
}

func TestSelectEmptyQuery(t *testing.T) {
	client, err := NewClient(Config{Endpoint: "http://localhost:3030/ds/query"})
	require.NoError(t, err)

	_, err = client.Select(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))
}

func TestSelectEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "parse error", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = client.Select(context.Background(), "SELECT ?s WHERE { ?s ?p ?o }")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}
