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

package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/quiltdata/quilt-mcp-server/lib/quiltops"
	"github.com/quiltdata/quilt-mcp-server/lib/s3ops"
	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

// backendName identifies a search backend in hit sources and plans.
type backendName string

const (
	backendElasticsearch backendName = "elasticsearch"
	backendGraphQL       backendName = "graphql"
	backendS3            backendName = "s3"
)

// esHit mirrors the registry search proxy's Elasticsearch response shape.
type esHit struct {
	Index  string  `json:"_index"`
	Score  float64 `json:"_score"`
	Source struct {
		Key          string    `json:"key"`
		Size         int64     `json:"size"`
		LastModified time.Time `json:"last_modified"`
		// Package documents carry these instead of a key.
		Handle  string `json:"handle"`
		Hash    string `json:"hash"`
		Pointer string `json:"pointer_file"`
	} `json:"_source"`
}

type esResponse struct {
	Hits struct {
		Hits []esHit `json:"hits"`
	} `json:"hits"`
}

// searchElasticsearch queries the registry's search proxy, one call per
// bucket index.
func (e *Engine) searchElasticsearch(ctx context.Context, rc *session.RequestContext, q quiltops.SearchQuery, buckets []string) ([]quiltops.SearchHit, error) {
	if len(buckets) == 0 {
		return nil, trace.BadParameter("elasticsearch search needs at least one bucket")
	}
	var hits []quiltops.SearchHit
	for _, bucket := range buckets {
		endpoint := e.cfg.Catalog.RegistryURL() + "/api/search?" + url.Values{
			"index":  []string{bucket},
			"action": []string{"search"},
			"query":  []string{q.Text},
		}.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if rc.Token != "" {
			req.Header.Set("Authorization", "Bearer "+rc.Token)
		}

		resp, err := e.cfg.HTTPClient.Do(req)
		if err != nil {
			return nil, trace.ConnectionProblem(err, "search proxy request failed")
		}
		body, err := readBounded(resp)
		if err != nil {
			return nil, trace.Wrap(err)
		}

		var parsed esResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, trace.Wrap(err, "malformed search proxy response")
		}
		for _, h := range parsed.Hits.Hits {
			hits = append(hits, esHitToSearchHit(bucket, h))
		}
	}
	return filterByType(hits, q.Type), nil
}

func esHitToSearchHit(bucket string, h esHit) quiltops.SearchHit {
	if h.Source.Handle != "" {
		score := h.Score
		if h.Source.Pointer != "" {
			// A match inside the manifest document itself outranks a
			// match on package metadata alone.
			score *= manifestBoost
		}
		return quiltops.SearchHit{
			Kind:     quiltops.HitPackage,
			Score:    score,
			Source:   string(backendElasticsearch),
			Bucket:   bucket,
			Registry: "s3://" + bucket,
			Name:     h.Source.Handle,
			TopHash:  h.Source.Hash,
		}
	}
	return quiltops.SearchHit{
		Kind:        quiltops.HitObject,
		Score:       h.Score,
		Source:      string(backendElasticsearch),
		Bucket:      bucket,
		Key:         h.Source.Key,
		PhysicalURI: s3ops.URI(bucket, h.Source.Key),
		Size:        h.Source.Size,
		Modified:    h.Source.LastModified,
	}
}

const searchPackagesQuery = `
query ($buckets: [String!], $searchString: String) {
  searchPackages(buckets: $buckets, searchString: $searchString) {
    __typename
    ... on PackagesSearchResultSet {
      firstPage {
        hits { score bucket name hash }
      }
    }
  }
}`

const searchObjectsQuery = `
query ($buckets: [String!], $searchString: String) {
  searchObjects(buckets: $buckets, searchString: $searchString) {
    __typename
    ... on ObjectsSearchResultSet {
      firstPage {
        hits { score bucket key size lastModified }
      }
    }
  }
}`

// searchGraphQL queries the catalog's indexed package and object search.
func (e *Engine) searchGraphQL(ctx context.Context, rc *session.RequestContext, q quiltops.SearchQuery, buckets []string) ([]quiltops.SearchHit, error) {
	vars := map[string]any{"searchString": q.Text}
	if len(buckets) > 0 {
		vars["buckets"] = buckets
	}

	var hits []quiltops.SearchHit
	if q.Type != quiltops.TypeObjects {
		data, err := e.cfg.Catalog.GraphQL(ctx, rc.Token, searchPackagesQuery, vars)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		var resp struct {
			SearchPackages struct {
				FirstPage struct {
					Hits []struct {
						Score  float64 `json:"score"`
						Bucket string  `json:"bucket"`
						Name   string  `json:"name"`
						Hash   string  `json:"hash"`
					} `json:"hits"`
				} `json:"firstPage"`
			} `json:"searchPackages"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, trace.Wrap(err)
		}
		for _, h := range resp.SearchPackages.FirstPage.Hits {
			hits = append(hits, quiltops.SearchHit{
				Kind:     quiltops.HitPackage,
				Score:    h.Score,
				Source:   string(backendGraphQL),
				Bucket:   h.Bucket,
				Registry: "s3://" + h.Bucket,
				Name:     h.Name,
				TopHash:  h.Hash,
			})
		}
	}

	if q.Type != quiltops.TypePackages {
		data, err := e.cfg.Catalog.GraphQL(ctx, rc.Token, searchObjectsQuery, vars)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		var resp struct {
			SearchObjects struct {
				FirstPage struct {
					Hits []struct {
						Score        float64   `json:"score"`
						Bucket       string    `json:"bucket"`
						Key          string    `json:"key"`
						Size         int64     `json:"size"`
						LastModified time.Time `json:"lastModified"`
					} `json:"hits"`
				} `json:"firstPage"`
			} `json:"searchObjects"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, trace.Wrap(err)
		}
		for _, h := range resp.SearchObjects.FirstPage.Hits {
			hits = append(hits, quiltops.SearchHit{
				Kind:        quiltops.HitObject,
				Score:       h.Score,
				Source:      string(backendGraphQL),
				Bucket:      h.Bucket,
				Key:         h.Key,
				PhysicalURI: s3ops.URI(h.Bucket, h.Key),
				Size:        h.Size,
				Modified:    h.LastModified,
			})
		}
	}
	return hits, nil
}

// searchS3 is the last-resort backend: straight listings with substring
// matching on keys. Empty text in bucket scope lists the newest objects.
func (e *Engine) searchS3(ctx context.Context, rc *session.RequestContext, q quiltops.SearchQuery, buckets []string) ([]quiltops.SearchHit, error) {
	if len(buckets) == 0 {
		return nil, trace.BadParameter("s3 search needs at least one bucket")
	}
	ops, err := e.s3For(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	needle := normalizeNeedle(q.Text)
	ext := Extension(q.Text)
	var hits []quiltops.SearchHit
	for _, bucket := range buckets {
		objects, err := ops.ListAll(ctx, bucket, "")
		if err != nil {
			return nil, trace.Wrap(err)
		}
		for _, obj := range objects {
			if strings.HasPrefix(obj.Key, ".quilt/") {
				continue
			}
			score, ok := matchKey(obj.Key, needle, ext)
			if !ok {
				continue
			}
			hits = append(hits, quiltops.SearchHit{
				Kind:        quiltops.HitObject,
				Score:       score,
				Source:      string(backendS3),
				Bucket:      bucket,
				Key:         obj.Key,
				PhysicalURI: s3ops.URI(bucket, obj.Key),
				Size:        obj.Size,
				Modified:    obj.LastModified,
			})
		}
	}

	if needle == "" {
		// Newest first when there is nothing to rank by.
		sort.Slice(hits, func(i, j int) bool {
			return hits[i].Modified.After(hits[j].Modified)
		})
		if limit := q.Limit; limit > 0 && len(hits) > limit {
			hits = hits[:limit]
		}
	}
	return filterByType(hits, q.Type), nil
}

// normalizeNeedle lowercases the query text for key matching. A literal
// "*" means match everything, same as an empty query.
func normalizeNeedle(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "*" {
		return ""
	}
	return t
}

// matchKey scores a key against the query: exact basename 1.0, substring
// 0.7, extension-only match 0.5.
func matchKey(key, needle, ext string) (float64, bool) {
	lower := strings.ToLower(key)
	if ext != "" && !strings.HasSuffix(lower, "."+ext) {
		return 0, false
	}
	if needle == "" {
		return 0.5, true
	}
	base := lower
	if idx := strings.LastIndex(lower, "/"); idx >= 0 {
		base = lower[idx+1:]
	}
	switch {
	case base == needle:
		return 1.0, true
	case strings.Contains(lower, needle):
		return 0.7, true
	case ext != "":
		return 0.5, true
	}
	return 0, false
}

func filterByType(hits []quiltops.SearchHit, t quiltops.SearchType) []quiltops.SearchHit {
	if t == "" || t == quiltops.TypeBoth {
		return hits
	}
	want := quiltops.HitObject
	if t == quiltops.TypePackages {
		want = quiltops.HitPackage
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Kind == want {
			out = append(out, h)
		}
	}
	return out
}
