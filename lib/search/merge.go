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
	"sort"
	"strings"

	"github.com/quiltdata/quilt-mcp-server/lib/defaults"
	"github.com/quiltdata/quilt-mcp-server/lib/quiltops"
)

// mergeHits normalizes scores per source, applies source weights,
// deduplicates, optionally collapses to package granularity, and returns
// the top hits by final score.
func mergeHits(hits []quiltops.SearchHit, q quiltops.SearchQuery) []quiltops.SearchHit {
	normalizeScores(hits)

	// Dedup keeps the best-scoring instance of each identity.
	best := make(map[string]quiltops.SearchHit, len(hits))
	for _, h := range hits {
		key := h.Identity()
		if prev, ok := best[key]; !ok || h.Score > prev.Score {
			best[key] = h
		}
	}
	deduped := make([]quiltops.SearchHit, 0, len(best))
	for _, h := range best {
		deduped = append(deduped, h)
	}

	if q.Scope == quiltops.ScopePackage {
		deduped = collapseToPackages(deduped)
	}

	sort.Slice(deduped, func(i, j int) bool {
		if deduped[i].Score != deduped[j].Score {
			return deduped[i].Score > deduped[j].Score
		}
		return deduped[i].Identity() < deduped[j].Identity()
	})
	if q.Limit > 0 && len(deduped) > q.Limit {
		deduped = deduped[:q.Limit]
	}
	return deduped
}

// normalizeScores maps each source's scores into [0,1] by dividing by
// that source's maximum, then applies the source weight. Raw scores from
// different engines are not comparable without this.
func normalizeScores(hits []quiltops.SearchHit) {
	maxBySource := make(map[string]float64)
	for _, h := range hits {
		if h.Score > maxBySource[h.Source] {
			maxBySource[h.Source] = h.Score
		}
	}
	for i := range hits {
		weight := sourceWeights[backendName(hits[i].Source)]
		if weight == 0 {
			weight = 0.5
		}
		if max := maxBySource[hits[i].Source]; max > 0 {
			hits[i].Score = hits[i].Score / max * weight
		} else {
			hits[i].Score = weight
		}
	}
}

// collapseToPackages folds object hits into package hits keyed by the
// two-segment package prefix of their key. Matched entries are capped;
// hits that matched manifest documents boost their package's score.
func collapseToPackages(hits []quiltops.SearchHit) []quiltops.SearchHit {
	packages := make(map[string]*quiltops.SearchHit)
	var out []quiltops.SearchHit

	for _, h := range hits {
		if h.Kind == quiltops.HitPackage {
			key := h.Registry + "|" + h.Name
			if existing, ok := packages[key]; ok {
				if h.Score > existing.Score {
					existing.Score = h.Score
					existing.TopHash = h.TopHash
				}
				continue
			}
			hit := h
			packages[key] = &hit
			continue
		}

		name, entryPath, isManifest := packageOfKey(h.Key)
		if isManifest {
			// Manifest objects matched by raw key carry no package name;
			// the same revision surfaces through the catalog backends.
			continue
		}
		if name == "" {
			// Loose objects stay as they are in package scope.
			out = append(out, h)
			continue
		}
		key := "s3://" + h.Bucket + "|" + name
		pkg, ok := packages[key]
		if !ok {
			pkg = &quiltops.SearchHit{
				Kind:     quiltops.HitPackage,
				Source:   h.Source,
				Bucket:   h.Bucket,
				Registry: "s3://" + h.Bucket,
				Name:     name,
			}
			packages[key] = pkg
		}
		if h.Score > pkg.Score {
			pkg.Score = h.Score
		}
		if len(pkg.Entries) < defaults.SearchMaxPackageEntries {
			pkg.Entries = append(pkg.Entries, quiltops.MatchedEntry{
				LogicalPath: entryPath,
				Size:        h.Size,
				Score:       h.Score,
			})
		}
	}

	for _, pkg := range packages {
		sort.Slice(pkg.Entries, func(i, j int) bool {
			return pkg.Entries[i].Score > pkg.Entries[j].Score
		})
		out = append(out, *pkg)
	}
	return out
}

// packageOfKey maps an object key onto its package name. Manifest keys
// report the empty entry path with isManifest set; keys with fewer than
// three path segments belong to no package.
func packageOfKey(key string) (name, entryPath string, isManifest bool) {
	if strings.HasPrefix(key, defaults.ManifestPrefix) {
		return "", "", true
	}
	parts := strings.SplitN(key, "/", 3)
	if len(parts) < 3 || strings.HasPrefix(key, ".") {
		return "", "", false
	}
	return parts[0] + "/" + parts[1], parts[2], false
}
