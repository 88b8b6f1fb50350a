// Package catalog talks to an Iceberg REST catalog. The catalog owns the
// table's current metadata pointer; everything else (data files, manifests,
// metadata documents) lives in object storage and is written by us.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"iceberg-ingress/iceberg"
)

var ErrTableNotFound = errors.New("table not found")

type Client struct {
	base string
	http *retryablehttp.Client
	// commit bypasses the retrying client: the conditional swap is not
	// idempotent, and a blind re-POST after a lost response races our own
	// applied commit.
	commit *http.Client
	log    *zap.Logger
}

// NewClient verifies the catalog is reachable and returns a client.
// Transient 5xx and network errors are retried for the idempotent requests;
// the commit POST is sent exactly once, and conflict responses are never
// retried here, the committer owns those.
func NewClient(ctx context.Context, baseURL string, log *zap.Logger) (*Client, error) {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil

	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   rc,
		commit: &http.Client{},
		log:    log,
	}

	resp, err := c.do(ctx, http.MethodGet, c.base+"/v1/config", nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to catalog at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("connecting to catalog at %s: status %d", baseURL, resp.StatusCode)
	}

	return c, nil
}

type loadTableResponse struct {
	MetadataLocation string                 `json:"metadata-location"`
	Metadata         *iceberg.TableMetadata `json:"metadata"`
}

// LoadTable fetches the table's current metadata. The returned token is the
// metadata location; the catalog's conditional swap is keyed on it.
func (c *Client) LoadTable(ctx context.Context, namespace, table string) (*iceberg.TableMetadata, string, error) {
	resp, err := c.do(ctx, http.MethodGet, c.tableURL(namespace, table), nil)
	if err != nil {
		return nil, "", fmt.Errorf("loading table %s.%s: %w", namespace, table, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, "", fmt.Errorf("%w: %s.%s", ErrTableNotFound, namespace, table)
	default:
		return nil, "", fmt.Errorf("loading table %s.%s: status %d", namespace, table, resp.StatusCode)
	}

	var body loadTableResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", fmt.Errorf("decoding table metadata: %w", err)
	}
	if body.Metadata == nil {
		return nil, "", fmt.Errorf("catalog returned no metadata for %s.%s", namespace, table)
	}

	return body.Metadata, body.MetadataLocation, nil
}

type commitTableRequest struct {
	ExpectedMetadataLocation string `json:"expected-metadata-location"`
	MetadataLocation         string `json:"metadata-location"`
}

// CommitTable asks the catalog to advance the table's metadata pointer,
// conditioned on the expected location still being current. A conflict
// status means another writer won the round and the swap was rejected. A
// transport error or 5xx leaves the outcome unknown: the catalog may have
// applied the swap before the response was lost, so ErrCommitAmbiguous is
// reported and the request is never resent.
func (c *Client) CommitTable(ctx context.Context, namespace, table, newLocation, expectedLocation string) error {
	body, err := json.Marshal(commitTableRequest{
		ExpectedMetadataLocation: expectedLocation,
		MetadataLocation:         newLocation,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tableURL(namespace, table), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.commit.Do(req)
	if err != nil {
		return fmt.Errorf("%w: committing table %s.%s: %v", iceberg.ErrCommitAmbiguous, namespace, table, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %s.%s", iceberg.ErrCommitConflict, namespace, table)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s.%s", ErrTableNotFound, namespace, table)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: committing table %s.%s: status %d", iceberg.ErrCommitAmbiguous, namespace, table, resp.StatusCode)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("committing table %s.%s: status %d: %s", namespace, table, resp.StatusCode, msg)
	}
}

// EnsureNamespace creates the namespace if it does not exist. Safe to call
// repeatedly; an already-exists response is success.
func (c *Client) EnsureNamespace(ctx context.Context, namespace string) error {
	resp, err := c.do(ctx, http.MethodGet, c.base+"/v1/namespaces/"+url.PathEscape(namespace), nil)
	if err != nil {
		return fmt.Errorf("checking namespace %s: %w", namespace, err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"namespace":  strings.Split(namespace, "."),
		"properties": map[string]string{},
	})
	if err != nil {
		return err
	}

	resp, err = c.do(ctx, http.MethodPost, c.base+"/v1/namespaces", body)
	if err != nil {
		return fmt.Errorf("creating namespace %s: %w", namespace, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("creating namespace %s: status %d", namespace, resp.StatusCode)
	}
	return nil
}

// EnsureTable creates the table if it does not exist, with the given schema
// and partition spec. Used only during initial setup; ingest requests
// require the table to already exist.
func (c *Client) EnsureTable(ctx context.Context, namespace, table, location string, sch iceberg.SchemaV2, spec iceberg.PartitionSpec) error {
	if err := c.EnsureNamespace(ctx, namespace); err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodGet, c.tableURL(namespace, table), nil)
	if err != nil {
		return fmt.Errorf("checking table %s.%s: %w", namespace, table, err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"name":           table,
		"location":       location,
		"schema":         sch,
		"partition-spec": spec.Fields,
		"properties": map[string]string{
			"write.format.default":           "parquet",
			"write.metadata.metrics.default": "truncate(16)",
		},
	})
	if err != nil {
		return err
	}

	resp, err = c.do(ctx, http.MethodPost, c.base+"/v1/namespaces/"+url.PathEscape(namespace)+"/tables", body)
	if err != nil {
		return fmt.Errorf("creating table %s.%s: %w", namespace, table, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("creating table %s.%s: status %d", namespace, table, resp.StatusCode)
	}

	c.log.Info("ensured table", zap.String("namespace", namespace), zap.String("table", table))
	return nil
}

func (c *Client) tableURL(namespace, table string) string {
	return c.base + "/v1/namespaces/" + url.PathEscape(namespace) + "/tables/" + url.PathEscape(table)
}

func (c *Client) do(ctx context.Context, method, u string, body []byte) (*http.Response, error) {
	var payload any
	if body != nil {
		payload = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}
