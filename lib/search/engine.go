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

// Package search is the unified search layer: a deterministic query
// classifier, a backend selection table, and a concurrent fan-out that
// merges, deduplicates and ranks hits from Elasticsearch, GraphQL and
// plain S3 listings.
package search

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"golang.org/x/sync/errgroup"

	"github.com/quiltdata/quilt-mcp-server/lib/catalog"
	"github.com/quiltdata/quilt-mcp-server/lib/defaults"
	"github.com/quiltdata/quilt-mcp-server/lib/quilterr"
	"github.com/quiltdata/quilt-mcp-server/lib/quiltops"
	"github.com/quiltdata/quilt-mcp-server/lib/s3ops"
	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

// sourceWeights rank backends by result quality when merging.
var sourceWeights = map[backendName]float64{
	backendElasticsearch: 1.0,
	backendGraphQL:       0.9,
	backendS3:            0.6,
}

// manifestBoost multiplies the score of package hits whose matched
// entries came from manifest documents during package-scope collapse.
const manifestBoost = 2.0

// CredentialSource resolves the AWS bundle for a request, satisfied by
// *auth.Exchanger.
type CredentialSource interface {
	Credentials(ctx context.Context, rc *session.RequestContext) (*session.CredentialBundle, error)
}

// Config configures the search engine. Catalog-less deployments leave
// Catalog nil and run on S3 listings alone.
type Config struct {
	// Catalog reaches the search proxy and GraphQL search; nil disables
	// both backends.
	Catalog *catalog.Client
	// S3 builds request-scoped clients for the listing backend; nil
	// disables it.
	S3 *s3ops.Factory
	// Credentials resolves the AWS bundle per request.
	Credentials CredentialSource
	// HTTPClient performs search proxy calls.
	HTTPClient *http.Client
	// BackendTimeout bounds each backend during the fan-out.
	BackendTimeout time.Duration
	// Logger emits log messages.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Catalog == nil && c.S3 == nil {
		return trace.BadParameter("search needs at least one of a catalog client and an S3 factory")
	}
	if c.S3 != nil && c.Credentials == nil {
		return trace.BadParameter("the S3 search backend needs a credential source")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaults.ServiceTimeout}
	}
	if c.BackendTimeout == 0 {
		c.BackendTimeout = defaults.SearchBackendTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Engine runs unified searches across the configured backends.
type Engine struct {
	cfg Config
}

// New creates a search engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Engine{cfg: cfg}, nil
}

// Plan is the classification and backend selection for one query,
// exposed for explain-style diagnostics.
type Plan struct {
	Class    QueryClass `json:"class"`
	Primary  []string   `json:"primary"`
	Fallback []string   `json:"fallback,omitempty"`
	Buckets  []string   `json:"buckets,omitempty"`
}

// plan applies the selection table for a class given backend availability.
func (e *Engine) plan(q quiltops.SearchQuery) Plan {
	p := Plan{Class: Classify(q.Text), Buckets: q.NormalizedBuckets()}
	hasCatalog := e.cfg.Catalog != nil
	hasS3 := e.cfg.S3 != nil

	add := func(dst *[]string, name backendName, ok bool) {
		if ok {
			*dst = append(*dst, string(name))
		}
	}
	switch p.Class {
	case ClassFileTypeFilter:
		add(&p.Primary, backendElasticsearch, hasCatalog)
		add(&p.Fallback, backendS3, hasS3)
	case ClassMetadataPredicate:
		add(&p.Primary, backendGraphQL, hasCatalog)
		add(&p.Fallback, backendElasticsearch, hasCatalog)
	case ClassAnalytical:
		// No search backend runs; the caller is redirected to SQL.
	default: // text search
		add(&p.Primary, backendElasticsearch, hasCatalog)
		add(&p.Fallback, backendGraphQL, hasCatalog)
		add(&p.Fallback, backendS3, hasS3)
	}
	if len(p.Primary) == 0 && p.Class != ClassAnalytical {
		// Catalog-less deployments run everything on listings.
		p.Primary, p.Fallback = p.Fallback, nil
		if len(p.Primary) == 0 {
			add(&p.Primary, backendS3, hasS3)
		}
	}
	return p
}

// Explain returns the plan for a query without executing it.
func (e *Engine) Explain(q quiltops.SearchQuery) Plan {
	return e.plan(q)
}

// Search classifies the query, fans out to the primary backends, falls
// back when they produce nothing, and merges the hits.
func (e *Engine) Search(ctx context.Context, rc *session.RequestContext, q quiltops.SearchQuery) (*quiltops.SearchResult, error) {
	if q.Limit <= 0 {
		q.Limit = defaults.SearchDefaultLimit
	}
	if q.Scope == "" {
		q.Scope = quiltops.ScopeGlobal
	}
	p := e.plan(q)

	if p.Class == ClassAnalytical {
		return nil, quilterr.New(quilterr.KindValidationFailed,
			"the query asks for aggregation, which search cannot answer").
			WithHint("express the aggregation as SQL and run it with the athena tools").
			WithAlternatives("athena_query_execute", "tabulator_query")
	}

	hits, err := e.fanOut(ctx, rc, q, p.Primary)
	fallbackUsed := false
	if (err != nil || len(hits) == 0) && len(p.Fallback) > 0 {
		if err != nil {
			e.cfg.Logger.WarnContext(ctx, "primary search backends failed, using fallback",
				"class", p.Class, "error", err)
		}
		fallbackUsed = true
		hits, err = e.fanOut(ctx, rc, q, p.Fallback)
	}
	if err != nil && len(hits) == 0 {
		return nil, trace.Wrap(err)
	}

	merged := mergeHits(hits, q)
	return &quiltops.SearchResult{
		Hits:         merged,
		Class:        string(p.Class),
		FallbackUsed: fallbackUsed,
	}, nil
}

// fanOut runs the named backends concurrently, each under its own
// timeout. One backend failing does not abort the others; an error is
// returned only when every backend failed.
func (e *Engine) fanOut(ctx context.Context, rc *session.RequestContext, q quiltops.SearchQuery, backends []string) ([]quiltops.SearchHit, error) {
	if len(backends) == 0 {
		return nil, trace.NotFound("no search backend is available for this query")
	}
	buckets := q.NormalizedBuckets()

	var mu sync.Mutex
	var all []quiltops.SearchHit
	var failures []error

	group, groupCtx := errgroup.WithContext(ctx)
	for _, name := range backends {
		group.Go(func() error {
			backendCtx, cancel := context.WithTimeout(groupCtx, e.cfg.BackendTimeout)
			defer cancel()

			var hits []quiltops.SearchHit
			var err error
			switch backendName(name) {
			case backendElasticsearch:
				hits, err = e.searchElasticsearch(backendCtx, rc, q, buckets)
			case backendGraphQL:
				hits, err = e.searchGraphQL(backendCtx, rc, q, buckets)
			case backendS3:
				hits, err = e.searchS3(backendCtx, rc, q, buckets)
			default:
				err = trace.BadParameter("unknown search backend %q", name)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return nil
			}
			all = append(all, hits...)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, trace.Wrap(err)
	}
	if len(all) == 0 && len(failures) == len(backends) {
		return nil, trace.Wrap(failures[0])
	}
	return all, nil
}

// s3For builds the request-scoped S3 data plane for the listing backend.
func (e *Engine) s3For(ctx context.Context, rc *session.RequestContext) (*s3ops.Ops, error) {
	if e.cfg.S3 == nil {
		return nil, trace.NotFound("the S3 search backend is not configured")
	}
	bundle := rc.Credentials
	if bundle == nil && e.cfg.Credentials != nil {
		var err error
		bundle, err = e.cfg.Credentials.Credentials(ctx, rc)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}
	client, err := e.cfg.S3.ClientFor(ctx, bundle)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return s3ops.New(client), nil
}

// readBounded drains a search proxy response, mapping error statuses.
func readBounded(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, trace.ConnectionProblem(err, "reading search proxy response")
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, trace.AccessDenied("search proxy refused the request (%d)", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, trace.NotFound("search index not found")
	case resp.StatusCode >= 500:
		return nil, trace.ConnectionProblem(nil, "search proxy returned %d", resp.StatusCode)
	default:
		return nil, trace.BadParameter("search proxy returned %d", resp.StatusCode)
	}
}
