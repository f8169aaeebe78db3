// Package sparql provides an HTTP client for a SPARQL 1.1 endpoint,
// implementing the graph store contract consumed by GRAPH_TRAVERSAL plans.
package sparql

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/covenantql/covenant/internal/storage"
)

// Config holds configuration for the SPARQL endpoint client.
type Config struct {
	Endpoint string        // SPARQL query endpoint URL (required)
	Timeout  time.Duration // default: 15s
}

// Client implements storage.GraphStore against an HTTP SPARQL endpoint.
type Client struct {
	cfg    Config
	client *http.Client
}

// Compile-time assertion.
var _ storage.GraphStore = (*Client)(nil)

// NewClient creates a SPARQL endpoint client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: SPARQL endpoint is required", storage.ErrInvalidInput)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// sparqlJSONResponse is the application/sparql-results+json wire format.
type sparqlJSONResponse struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []map[string]struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"bindings"`
	} `json:"results"`
}

// Select runs a SPARQL SELECT and returns the variable bindings.
func (c *Client) Select(ctx context.Context, sparql string) (*storage.GraphResult, error) {
	if strings.TrimSpace(sparql) == "" {
		return nil, fmt.Errorf("%w: empty SPARQL query", storage.ErrInvalidInput)
	}

	form := url.Values{"query": {sparql}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("sparql: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrBackendUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("sparql: endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var decoded sparqlJSONResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("sparql: failed to decode response: %w", err)
	}

	result := &storage.GraphResult{
		Variables: decoded.Head.Vars,
	}
	for _, binding := range decoded.Results.Bindings {
		row := make(map[string]string, len(binding))
		for name, term := range binding {
			row[name] = term.Value
		}
		result.Rows = append(result.Rows, row)
	}

	// RU model: fixed probe plus per-solution read, matching the document
	// backends so plans compare on the same scale.
	result.RequestUnits = 2.0 + 0.25*float64(len(result.Rows))

	return result, nil
}
