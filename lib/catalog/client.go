/*
 * Quilt MCP Server
 * Copyright (C) 2025  Quilt Data, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package catalog is the HTTP client for the Quilt catalog: GraphQL queries
// and mutations, the credential exchange endpoint, and the public
// config.json document. One client is built at startup and shared by all
// requests; per-request identity travels as the bearer token argument.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/quiltdata/quilt-mcp-server/lib/defaults"
	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

// maxResponseBytes bounds catalog response bodies read into memory.
const maxResponseBytes = 32 << 20

// Config holds catalog client settings.
type Config struct {
	// CatalogURL is the catalog web host, e.g. https://demo.quiltdata.com.
	CatalogURL string
	// RegistryURL is the registry API host serving /graphql and
	// /api/auth/get_credentials. Defaults to CatalogURL.
	RegistryURL string
	// Timeout bounds each outbound call.
	Timeout time.Duration
	// HTTPClient overrides the pooled client, used in tests.
	HTTPClient *http.Client
	// Logger emits log messages.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.CatalogURL == "" {
		return trace.BadParameter("missing CatalogURL")
	}
	if _, err := url.Parse(c.CatalogURL); err != nil {
		return trace.BadParameter("invalid CatalogURL: %v", err)
	}
	if c.RegistryURL == "" {
		c.RegistryURL = c.CatalogURL
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.ServiceTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Client talks to the Quilt catalog.
type Client struct {
	cfg Config
}

// NewClient creates a catalog client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Client{cfg: cfg}, nil
}

// CatalogURL returns the configured catalog host.
func (c *Client) CatalogURL() string {
	return strings.TrimSuffix(c.cfg.CatalogURL, "/")
}

// RegistryURL returns the configured registry host.
func (c *Client) RegistryURL() string {
	return strings.TrimSuffix(c.cfg.RegistryURL, "/")
}

// graphQLRequest is the JSON body POSTed to /graphql.
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// GraphQL executes a query or mutation against the registry's /graphql
// endpoint with the caller's bearer token and returns the raw data field.
func (c *Client) GraphQL(ctx context.Context, token, query string, variables map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	endpoint := c.RegistryURL() + "/graphql"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	respBody, err := c.do(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var parsed graphQLResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, trace.Wrap(err, "malformed GraphQL response")
	}
	if len(parsed.Errors) > 0 {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			msgs = append(msgs, e.Message)
		}
		joined := strings.Join(msgs, "; ")
		if strings.Contains(strings.ToLower(joined), "unauthorized") {
			return nil, trace.AccessDenied("GraphQL query not authorized: %s", joined)
		}
		return nil, trace.BadParameter("GraphQL query failed: %s", joined)
	}
	return parsed.Data, nil
}

// GetCredentials exchanges a bearer token for short-lived AWS credentials
// via the catalog's credential exchange endpoint.
func (c *Client) GetCredentials(ctx context.Context, token string) (*session.CredentialBundle, error) {
	if token == "" {
		return nil, trace.BadParameter("missing bearer token")
	}
	endpoint := c.RegistryURL() + "/api/auth/get_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	respBody, err := c.do(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var bundle session.CredentialBundle
	if err := json.Unmarshal(respBody, &bundle); err != nil {
		return nil, trace.Wrap(err, "malformed credential exchange response")
	}
	if bundle.AccessKeyID == "" || bundle.SecretAccessKey == "" {
		return nil, trace.BadParameter("credential exchange returned an incomplete bundle")
	}
	return &bundle, nil
}

// PublicConfig is the catalog's unauthenticated config.json document.
type PublicConfig struct {
	Region          string `json:"region"`
	AnalyticsBucket string `json:"analyticsBucket"`
	RegistryURL     string `json:"registryUrl"`
	S3Proxy         string `json:"s3Proxy"`
}

// TabulatorDatabase derives the Athena database that hosts tabulator
// tables from the stack prefix encoded in the analytics bucket name.
func (pc *PublicConfig) TabulatorDatabase() string {
	prefix := pc.stackPrefix()
	if prefix == "" {
		return ""
	}
	return fmt.Sprintf("quilt-%s-tabulator", prefix)
}

func (pc *PublicConfig) stackPrefix() string {
	bucket := pc.AnalyticsBucket
	if bucket == "" {
		return ""
	}
	if idx := strings.Index(bucket, "analyticsbucket"); idx > 0 {
		return strings.TrimSuffix(bucket[:idx], "-")
	}
	if idx := strings.Index(bucket, "-"); idx > 0 {
		return bucket[:idx]
	}
	return bucket
}

// GetPublicConfig fetches config.json from the catalog. No auth required.
func (c *Client) GetPublicConfig(ctx context.Context) (*PublicConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.CatalogURL()+"/config.json", nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	respBody, err := c.do(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var pc PublicConfig
	if err := json.Unmarshal(respBody, &pc); err != nil {
		return nil, trace.Wrap(err, "malformed config.json")
	}
	return &pc, nil
}

// REST issues an authenticated request against a registry REST path and
// decodes the JSON response into out. Some deployments answer 405 for
// endpoints that moved to GraphQL; that surfaces as a NotImplemented error
// so callers can fall back.
func (c *Client) REST(ctx context.Context, token, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return trace.Wrap(err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.RegistryURL()+path, body)
	if err != nil {
		return trace.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	respBody, err := c.do(req)
	if err != nil {
		return trace.Wrap(err)
	}
	if out == nil {
		return nil
	}
	return trace.Wrap(json.Unmarshal(respBody, out))
}

// do executes the request and maps HTTP status codes onto trace error
// classes. Bodies are size-bounded.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "catalog request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, trace.ConnectionProblem(err, "reading catalog response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, trace.AccessDenied("catalog refused the request (%d)", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, trace.NotFound("catalog endpoint not found: %s", req.URL.Path)
	case resp.StatusCode == http.StatusMethodNotAllowed:
		return nil, trace.NotImplemented("catalog endpoint %s does not accept %s", req.URL.Path, req.Method)
	case resp.StatusCode >= 500:
		return nil, trace.ConnectionProblem(nil, "catalog returned %d", resp.StatusCode)
	default:
		return nil, trace.BadParameter("catalog returned %d: %s", resp.StatusCode, truncate(body, 200))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
