// Package sparql implements the triplestore adapter over the SPARQL 1.1 HTTP
// protocol. It targets any endpoint exposing separate query and update URLs
// (Fuseki, GraphDB, Blazegraph) and keeps all data for a tenant/workspace in a
// named graph derived from the scope.
package sparql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/graphloom/backend/pkg/common"
)

// Vocabulary IRIs for the graph data model.
const (
	NSResource = "https://graphloom.dev/resource/"
	NSOntology = "https://graphloom.dev/ontology#"

	RDFType   = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	RDFSLabel = "http://www.w3.org/2000/01/rdf-schema#label"

	XSDDouble   = "http://www.w3.org/2001/XMLSchema#double"
	XSDDateTime = "http://www.w3.org/2001/XMLSchema#dateTime"
)

// Client talks to a SPARQL endpoint pair (query + update).
type Client struct {
	queryURL  string
	updateURL string
	http      *http.Client
}

// NewClient creates a triplestore client. Per-call timeouts apply on top of
// the supplied context.
func NewClient(queryURL, updateURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		queryURL:  queryURL,
		updateURL: updateURL,
		http:      &http.Client{Timeout: timeout},
	}
}

// GraphIRI derives the named graph IRI for a scope. Only the commit pipeline
// and the synchronizer write to this graph.
func GraphIRI(scope common.Scope) string {
	return "https://graphloom.dev/graphs/" + scope.TenantID + "/" + scope.WorkspaceID
}

// EntityIRI is the resource IRI of a canonical entity.
func EntityIRI(canonicalID string) string {
	return NSResource + "entity/" + canonicalID
}

// AssertionIRI is the resource IRI of a reified assertion.
func AssertionIRI(assertionID string) string {
	return NSResource + "assertion/" + assertionID
}

// EvidenceIRI is the resource IRI of an evidence link, keyed by target and
// text hash so re-commits of the same quote dedupe to one resource.
func EvidenceIRI(targetID, textHash string) string {
	return NSResource + "evidence/" + targetID + "/" + textHash
}

func (c *Client) update(ctx context.Context, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.updateURL, bytes.NewBufferString(body))
	if err != nil {
		return fmt.Errorf("failed to build SPARQL update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/sparql-update")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("SPARQL update failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return fmt.Errorf("SPARQL update returned %d: %s", res.StatusCode, string(msg))
	}
	return nil
}

type bindingValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type queryResults struct {
	Results struct {
		Bindings []map[string]bindingValue `json:"bindings"`
	} `json:"results"`
}

func (c *Client) query(ctx context.Context, body string) (*queryResults, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.queryURL, bytes.NewBufferString(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build SPARQL query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/sparql-query")
	req.Header.Set("Accept", "application/sparql-results+json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("SPARQL query failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return nil, fmt.Errorf("SPARQL query returned %d: %s", res.StatusCode, string(msg))
	}

	var out queryResults
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode SPARQL results: %w", err)
	}
	return &out, nil
}
