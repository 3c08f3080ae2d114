// Package search is a minimal OpenSearch client for keeping the
// provider search index in step with the store. Only the _bulk API is
// used; requests go over a SigV4-signing HTTP transport.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Document is one document to index, keyed by its logical id.
type Document struct {
	ID   string
	Body map[string]any
}

// ItemResult is the per-document outcome of a bulk call. Err is nil on
// success.
type ItemResult struct {
	ID  string
	Err error
}

// Client talks to an OpenSearch domain endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
}

// NewClient creates a new Client. endpoint is the domain base URL
// without a trailing slash.
func NewClient(httpClient *http.Client, endpoint string) *Client {
	return &Client{
		httpClient: httpClient,
		endpoint:   endpoint,
	}
}

// BulkUpsert indexes every document, returning one result per document
// in input order. A non-nil error means the whole call failed and no
// per-item outcome is known.
func (c *Client) BulkUpsert(ctx context.Context, index string, docs []Document) ([]ItemResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	var body bytes.Buffer
	ids := make([]string, 0, len(docs))
	enc := json.NewEncoder(&body)
	for _, doc := range docs {
		action := map[string]map[string]string{
			"index": {"_index": index, "_id": doc.ID},
		}
		if err := enc.Encode(action); err != nil {
			return nil, fmt.Errorf("encode bulk action: %w", err)
		}
		if err := enc.Encode(doc.Body); err != nil {
			return nil, fmt.Errorf("encode document %s: %w", doc.ID, err)
		}
		ids = append(ids, doc.ID)
	}

	return c.bulk(ctx, &body, ids)
}

// BulkDelete removes every id, returning one result per id in input
// order. Deleting an id that is not indexed succeeds.
func (c *Client) BulkDelete(ctx context.Context, index string, ids []string) ([]ItemResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, id := range ids {
		action := map[string]map[string]string{
			"delete": {"_index": index, "_id": id},
		}
		if err := enc.Encode(action); err != nil {
			return nil, fmt.Errorf("encode bulk action: %w", err)
		}
	}

	return c.bulk(ctx, &body, ids)
}

// bulkResponse is the subset of the _bulk response the client reads.
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

func (c *Client) bulk(ctx context.Context, body io.Reader, ids []string) ([]ItemResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/_bulk", body)
	if err != nil {
		return nil, fmt.Errorf("build bulk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bulk request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("bulk request status %d: %s", resp.StatusCode, detail)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}
	if len(parsed.Items) != len(ids) {
		return nil, fmt.Errorf("bulk response has %d items, sent %d", len(parsed.Items), len(ids))
	}

	results := make([]ItemResult, len(ids))
	for i, item := range parsed.Items {
		results[i] = ItemResult{ID: ids[i]}
		for _, outcome := range item {
			if outcome.Error != nil {
				results[i].Err = fmt.Errorf("%s: %s", outcome.Error.Type, outcome.Error.Reason)
			}
		}
	}
	return results, nil
}
