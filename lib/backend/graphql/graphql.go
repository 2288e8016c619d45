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

// Package graphql implements the catalog contract through the Quilt
// catalog's GraphQL API. Mutations return union results; InvalidInput and
// OperationError members are mapped onto the structured failure envelope
// at this edge.
package graphql

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/quiltdata/quilt-mcp-server/lib/catalog"
	"github.com/quiltdata/quilt-mcp-server/lib/defaults"
	"github.com/quiltdata/quilt-mcp-server/lib/quilterr"
	"github.com/quiltdata/quilt-mcp-server/lib/quiltops"
	"github.com/quiltdata/quilt-mcp-server/lib/s3ops"
	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

// CredentialSource resolves the AWS bundle for a request, satisfied by
// *auth.Exchanger.
type CredentialSource interface {
	Credentials(ctx context.Context, rc *session.RequestContext) (*session.CredentialBundle, error)
}

// Searcher runs the unified search layer, satisfied by *search.Engine.
type Searcher interface {
	Search(ctx context.Context, rc *session.RequestContext, q quiltops.SearchQuery) (*quiltops.SearchResult, error)
}

// Config configures the GraphQL backend.
type Config struct {
	// Catalog talks to the catalog's GraphQL and REST endpoints.
	Catalog *catalog.Client
	// S3 stages inline package content; optional. Without it, package
	// writes accept source URIs only.
	S3 *s3ops.Factory
	// Credentials resolves the AWS bundle for staging writes.
	Credentials CredentialSource
	// Searcher runs unified searches.
	Searcher Searcher
	// Logger emits log messages.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Catalog == nil {
		return trace.BadParameter("missing Catalog client")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Backend is the GraphQL implementation of the catalog contract.
type Backend struct {
	cfg Config
}

// New creates a GraphQL backend.
func New(cfg Config) (*Backend, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Backend{cfg: cfg}, nil
}

func (b *Backend) query(ctx context.Context, rc *session.RequestContext, query string, vars map[string]any, out any) error {
	data, err := b.cfg.Catalog.GraphQL(ctx, rc.Token, query, vars)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(json.Unmarshal(data, out))
}

// AuthStatus asks the catalog who the token belongs to.
func (b *Backend) AuthStatus(ctx context.Context, rc *session.RequestContext) (*quiltops.AuthStatus, error) {
	status := &quiltops.AuthStatus{
		Catalog:     rc.CatalogURL,
		Registry:    rc.RegistryURL,
		CatalogName: hostOf(rc.CatalogURL),
	}
	if !rc.Authenticated() {
		return status, nil
	}

	var resp struct {
		Me *struct {
			Name string `json:"name"`
		} `json:"me"`
	}
	err := b.query(ctx, rc, `query { me { name } }`, nil, &resp)
	switch {
	case err != nil && trace.IsAccessDenied(err):
		return status, nil
	case err != nil:
		return nil, trace.Wrap(err)
	case resp.Me == nil:
		return status, nil
	}
	status.LoggedIn = true
	status.Subject = resp.Me.Name
	return status, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}

// BucketList returns the catalog's bucket configs.
func (b *Backend) BucketList(ctx context.Context, rc *session.RequestContext) ([]quiltops.Bucket, error) {
	var resp struct {
		BucketConfigs []struct {
			Name        string `json:"name"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"bucketConfigs"`
	}
	err := b.query(ctx, rc, `query { bucketConfigs { name title description } }`, nil, &resp)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	buckets := make([]quiltops.Bucket, 0, len(resp.BucketConfigs))
	for _, bc := range resp.BucketConfigs {
		buckets = append(buckets, quiltops.Bucket{
			Name:        bc.Name,
			Title:       bc.Title,
			Description: bc.Description,
		})
	}
	return buckets, nil
}

const packageListQuery = `
query ($bucket: String!, $filter: String, $page: Int!, $perPage: Int!) {
  packages(bucket: $bucket, filter: $filter) {
    page(number: $page, perPage: $perPage) { name }
  }
}`

// PackageList pages the catalog's package index. The continuation token
// is the page number.
func (b *Backend) PackageList(ctx context.Context, rc *session.RequestContext, registry string, opts quiltops.ListOptions) (*quiltops.PackagePage, error) {
	bucket, err := registryBucket(registry)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaults.SearchDefaultLimit
	}
	page := 1
	if opts.Continuation != "" {
		n, err := strconv.Atoi(opts.Continuation)
		if err != nil || n < 1 {
			return nil, trace.BadParameter("malformed continuation token %q", opts.Continuation)
		}
		page = n
	}

	var resp struct {
		Packages *struct {
			Page []struct {
				Name string `json:"name"`
			} `json:"page"`
		} `json:"packages"`
	}
	vars := map[string]any{"bucket": bucket, "page": page, "perPage": limit}
	if opts.Filter != "" {
		vars["filter"] = opts.Filter
	}
	if err := b.query(ctx, rc, packageListQuery, vars, &resp); err != nil {
		return nil, trace.Wrap(err)
	}

	result := &quiltops.PackagePage{Refs: []quiltops.PackageRef{}}
	if resp.Packages == nil {
		return result, nil
	}
	for _, p := range resp.Packages.Page {
		result.Refs = append(result.Refs, quiltops.PackageRef{Registry: registry, Name: p.Name})
	}
	if len(result.Refs) == limit {
		result.Next = strconv.Itoa(page + 1)
	}
	return result, nil
}

const packageBrowseQuery = `
query ($bucket: String!, $name: String!, $hashOrTag: String!) {
  package(bucket: $bucket, name: $name) {
    revision(hashOrTag: $hashOrTag) {
      hash
      message
      userMeta
      contentsFlatMap { path size hash physicalKey }
    }
  }
}`

// PackageBrowse fetches a revision's flattened contents.
func (b *Backend) PackageBrowse(ctx context.Context, rc *session.RequestContext, registry, name, hash string) (*quiltops.Manifest, error) {
	bucket, err := registryBucket(registry)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if hash == "" {
		hash = defaults.LatestTag
	}

	var resp struct {
		Package *struct {
			Revision *struct {
				Hash     string         `json:"hash"`
				Message  string         `json:"message"`
				UserMeta map[string]any `json:"userMeta"`
				Contents []struct {
					Path        string `json:"path"`
					Size        int64  `json:"size"`
					Hash        string `json:"hash"`
					PhysicalKey string `json:"physicalKey"`
				} `json:"contentsFlatMap"`
			} `json:"revision"`
		} `json:"package"`
	}
	vars := map[string]any{"bucket": bucket, "name": name, "hashOrTag": hash}
	if err := b.query(ctx, rc, packageBrowseQuery, vars, &resp); err != nil {
		return nil, trace.Wrap(err)
	}
	if resp.Package == nil || resp.Package.Revision == nil {
		return nil, trace.NotFound("package %s@%s not found in %s", name, hash, bucket)
	}

	rev := resp.Package.Revision
	m := &quiltops.Manifest{
		TopHash:  rev.Hash,
		Message:  rev.Message,
		Metadata: rev.UserMeta,
		Entries:  make([]quiltops.ManifestEntry, 0, len(rev.Contents)),
	}
	for _, e := range rev.Contents {
		m.Entries = append(m.Entries, quiltops.ManifestEntry{
			LogicalPath: e.Path,
			PhysicalURI: e.PhysicalKey,
			Size:        e.Size,
			Hash:        e.Hash,
		})
	}
	sort.Slice(m.Entries, func(i, j int) bool {
		return m.Entries[i].LogicalPath < m.Entries[j].LogicalPath
	})
	return m, nil
}

const packageVersionsQuery = `
query ($bucket: String!, $name: String!) {
  package(bucket: $bucket, name: $name) {
    revisions {
      page { hash modified message }
    }
    pointers { name hash }
  }
}`

// PackageVersionsList returns revisions newest first, optionally with the
// tags that point at each.
func (b *Backend) PackageVersionsList(ctx context.Context, rc *session.RequestContext, registry, name string, limit int, withTags bool) ([]quiltops.PackageVersion, error) {
	bucket, err := registryBucket(registry)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var resp struct {
		Package *struct {
			Revisions struct {
				Page []struct {
					Hash     string    `json:"hash"`
					Modified time.Time `json:"modified"`
					Message  string    `json:"message"`
				} `json:"page"`
			} `json:"revisions"`
			Pointers []pointer `json:"pointers"`
		} `json:"package"`
	}
	vars := map[string]any{"bucket": bucket, "name": name}
	if err := b.query(ctx, rc, packageVersionsQuery, vars, &resp); err != nil {
		return nil, trace.Wrap(err)
	}
	if resp.Package == nil {
		return nil, trace.NotFound("package %s not found in %s", name, bucket)
	}

	tagsByHash := make(map[string][]string)
	if withTags {
		for _, p := range resp.Package.Pointers {
			tagsByHash[p.Hash] = append(tagsByHash[p.Hash], p.Name)
		}
	}

	versions := make([]quiltops.PackageVersion, 0, len(resp.Package.Revisions.Page))
	for _, rev := range resp.Package.Revisions.Page {
		tags := tagsByHash[rev.Hash]
		sort.Strings(tags)
		versions = append(versions, quiltops.PackageVersion{
			TopHash:   rev.Hash,
			Timestamp: rev.Modified,
			Message:   rev.Message,
			Tags:      tags,
		})
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Timestamp.After(versions[j].Timestamp)
	})
	if limit > 0 && len(versions) > limit {
		versions = versions[:limit]
	}
	return versions, nil
}

const packageConstructMutation = `
mutation ($params: PackagePushParams!, $src: PackageConstructSource!) {
  packageConstruct(params: $params, src: $src) {
    __typename
    ... on PackagePushSuccess { revision { hash } }
    ... on InvalidInput { errors { path message } }
    ... on OperationError { message }
  }
}`

// PackageCreate pushes a new revision through packageConstruct.
func (b *Backend) PackageCreate(ctx context.Context, rc *session.RequestContext, req quiltops.WriteRequest) (string, error) {
	return b.construct(ctx, rc, req, nil)
}

// PackageUpdate overlays entries on the prior revision and pushes the
// merged contents.
func (b *Backend) PackageUpdate(ctx context.Context, rc *session.RequestContext, req quiltops.WriteRequest) (string, error) {
	prior, err := b.PackageBrowse(ctx, rc, req.Registry, req.Name, req.PriorTopHash)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return b.construct(ctx, rc, req, prior)
}

func (b *Backend) construct(ctx context.Context, rc *session.RequestContext, req quiltops.WriteRequest, prior *quiltops.Manifest) (string, error) {
	bucket, err := registryBucket(req.Registry)
	if err != nil {
		return "", trace.Wrap(err)
	}

	merged := make(map[string]quiltops.ManifestEntry)
	if prior != nil {
		for _, e := range prior.Entries {
			merged[e.LogicalPath] = e
		}
	}
	for _, we := range req.Entries {
		entry, err := b.materializeEntry(ctx, rc, bucket, req.Name, we)
		if err != nil {
			return "", trace.Wrap(err)
		}
		merged[entry.LogicalPath] = entry
	}

	paths := make([]string, 0, len(merged))
	for path := range merged {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	src := make([]map[string]any, 0, len(paths))
	for _, path := range paths {
		e := merged[path]
		src = append(src, map[string]any{
			"logicalKey":  e.LogicalPath,
			"physicalKey": e.PhysicalURI,
			"size":        e.Size,
		})
	}

	params := map[string]any{
		"bucket":  bucket,
		"name":    req.Name,
		"message": req.Message,
	}
	if req.Metadata != nil {
		params["userMeta"] = req.Metadata
	}

	var resp struct {
		PackageConstruct unionResult `json:"packageConstruct"`
	}
	vars := map[string]any{"params": params, "src": map[string]any{"entries": src}}
	if err := b.query(ctx, rc, packageConstructMutation, vars, &resp); err != nil {
		return "", trace.Wrap(err)
	}
	if err := resp.PackageConstruct.err("package push"); err != nil {
		return "", trace.Wrap(err)
	}
	if resp.PackageConstruct.Revision == nil {
		return "", trace.Errorf("package push returned no revision")
	}
	return resp.PackageConstruct.Revision.Hash, nil
}

// materializeEntry stages inline content to S3 and passes source URIs
// through. The catalog applies its own copy policy server-side.
func (b *Backend) materializeEntry(ctx context.Context, rc *session.RequestContext, bucket, name string, we quiltops.WriteEntry) (quiltops.ManifestEntry, error) {
	if we.LogicalPath == "" {
		return quiltops.ManifestEntry{}, trace.BadParameter("entry is missing a logical path")
	}
	if we.SourceURI != "" {
		srcBucket, srcKey, err := s3ops.ParseURI(we.SourceURI)
		if err != nil {
			return quiltops.ManifestEntry{}, trace.Wrap(err)
		}
		size := int64(0)
		if ops, err := b.stagingOps(ctx, rc); err == nil {
			if info, err := ops.Head(ctx, srcBucket, srcKey); err == nil {
				size = info.Size
			}
		}
		return quiltops.ManifestEntry{
			LogicalPath: we.LogicalPath,
			PhysicalURI: we.SourceURI,
			Size:        size,
		}, nil
	}

	ops, err := b.stagingOps(ctx, rc)
	if err != nil {
		return quiltops.ManifestEntry{}, trace.Wrap(err)
	}
	dataKey := name + "/" + we.LogicalPath
	results, err := ops.PutBatch(ctx, bucket, []s3ops.PutItem{{Key: dataKey, Data: we.Content}})
	if err != nil {
		return quiltops.ManifestEntry{}, trace.Wrap(err)
	}
	if len(results) > 0 && !results[0].OK {
		return quiltops.ManifestEntry{}, trace.Errorf("failed to stage %s: %s", dataKey, results[0].Error)
	}
	sum := sha256.Sum256(we.Content)
	return quiltops.ManifestEntry{
		LogicalPath: we.LogicalPath,
		PhysicalURI: s3ops.URI(bucket, dataKey),
		Size:        int64(len(we.Content)),
		Hash:        hex.EncodeToString(sum[:]),
	}, nil
}

func (b *Backend) stagingOps(ctx context.Context, rc *session.RequestContext) (*s3ops.Ops, error) {
	if b.cfg.S3 == nil || b.cfg.Credentials == nil {
		return nil, trace.NotImplemented("inline content staging requires S3 access")
	}
	bundle := rc.Credentials
	if bundle == nil {
		var err error
		bundle, err = b.cfg.Credentials.Credentials(ctx, rc)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}
	client, err := b.cfg.S3.ClientFor(ctx, bundle)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return s3ops.New(client), nil
}

const packageRevisionDeleteMutation = `
mutation ($bucket: String!, $name: String!, $hash: String!) {
  packageRevisionDelete(bucket: $bucket, name: $name, hash: $hash) {
    __typename
    ... on OperationError { message }
  }
}`

const packageDeleteMutation = `
mutation ($bucket: String!, $name: String!) {
  packageDelete(bucket: $bucket, name: $name) {
    __typename
    ... on OperationError { message }
  }
}`

// PackageDelete removes one revision, or with an empty hash the package's
// tag-map entry.
func (b *Backend) PackageDelete(ctx context.Context, rc *session.RequestContext, registry, name, hash string) error {
	bucket, err := registryBucket(registry)
	if err != nil {
		return trace.Wrap(err)
	}
	var resp struct {
		PackageRevisionDelete *unionResult `json:"packageRevisionDelete"`
		PackageDelete         *unionResult `json:"packageDelete"`
	}
	if hash == "" {
		vars := map[string]any{"bucket": bucket, "name": name}
		if err := b.query(ctx, rc, packageDeleteMutation, vars, &resp); err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(resp.PackageDelete.err("package delete"))
	}
	vars := map[string]any{"bucket": bucket, "name": name, "hash": hash}
	if err := b.query(ctx, rc, packageRevisionDeleteMutation, vars, &resp); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(resp.PackageRevisionDelete.err("revision delete"))
}

// PackageDiff compares two revisions by logical path.
func (b *Backend) PackageDiff(ctx context.Context, rc *session.RequestContext, registry, name, hash1, hash2 string) (*quiltops.PackageDiff, error) {
	m1, err := b.PackageBrowse(ctx, rc, registry, name, hash1)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	m2, err := b.PackageBrowse(ctx, rc, registry, name, hash2)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	left := make(map[string]quiltops.ManifestEntry, len(m1.Entries))
	for _, e := range m1.Entries {
		left[e.LogicalPath] = e
	}
	diff := &quiltops.PackageDiff{Added: []string{}, Removed: []string{}, Changed: []string{}}
	for _, e := range m2.Entries {
		old, ok := left[e.LogicalPath]
		if !ok {
			diff.Added = append(diff.Added, e.LogicalPath)
			continue
		}
		delete(left, e.LogicalPath)
		if old.PhysicalURI != e.PhysicalURI || old.Size != e.Size || old.Hash != e.Hash {
			diff.Changed = append(diff.Changed, e.LogicalPath)
		}
	}
	for path := range left {
		diff.Removed = append(diff.Removed, path)
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Changed)
	return diff, nil
}

type pointer struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

const pointersQuery = `
query ($bucket: String!, $name: String!) {
  package(bucket: $bucket, name: $name) { pointers { name hash } }
}`

// TagList returns the package's tag map.
func (b *Backend) TagList(ctx context.Context, rc *session.RequestContext, registry, name string) (map[string]string, error) {
	bucket, err := registryBucket(registry)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var resp struct {
		Package *struct {
			Pointers []pointer `json:"pointers"`
		} `json:"package"`
	}
	vars := map[string]any{"bucket": bucket, "name": name}
	if err := b.query(ctx, rc, pointersQuery, vars, &resp); err != nil {
		return nil, trace.Wrap(err)
	}
	if resp.Package == nil {
		return nil, trace.NotFound("package %s not found in %s", name, bucket)
	}
	tags := make(map[string]string, len(resp.Package.Pointers))
	for _, p := range resp.Package.Pointers {
		tags[p.Name] = p.Hash
	}
	return tags, nil
}

const pointerSetMutation = `
mutation ($bucket: String!, $name: String!, $pointer: String!, $hash: String!) {
  packagePointerSet(bucket: $bucket, name: $name, pointer: $pointer, hash: $hash) {
    __typename
    ... on InvalidInput { errors { path message } }
    ... on OperationError { message }
  }
}`

const pointerDeleteMutation = `
mutation ($bucket: String!, $name: String!, $pointer: String!) {
  packagePointerDelete(bucket: $bucket, name: $name, pointer: $pointer) {
    __typename
    ... on OperationError { message }
  }
}`

// TagAdd points a tag at a revision.
func (b *Backend) TagAdd(ctx context.Context, rc *session.RequestContext, registry, name, tag, hash string) error {
	if tag == "" || hash == "" {
		return trace.BadParameter("tag and top hash are required")
	}
	bucket, err := registryBucket(registry)
	if err != nil {
		return trace.Wrap(err)
	}
	var resp struct {
		PackagePointerSet unionResult `json:"packagePointerSet"`
	}
	vars := map[string]any{"bucket": bucket, "name": name, "pointer": tag, "hash": hash}
	if err := b.query(ctx, rc, pointerSetMutation, vars, &resp); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(resp.PackagePointerSet.err("tag set"))
}

// TagDelete removes a tag.
func (b *Backend) TagDelete(ctx context.Context, rc *session.RequestContext, registry, name, tag string) error {
	if tag == "" {
		return trace.BadParameter("tag is required")
	}
	bucket, err := registryBucket(registry)
	if err != nil {
		return trace.Wrap(err)
	}
	var resp struct {
		PackagePointerDelete unionResult `json:"packagePointerDelete"`
	}
	vars := map[string]any{"bucket": bucket, "name": name, "pointer": tag}
	if err := b.query(ctx, rc, pointerDeleteMutation, vars, &resp); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(resp.PackagePointerDelete.err("tag delete"))
}

// Search delegates to the unified search layer.
func (b *Backend) Search(ctx context.Context, rc *session.RequestContext, q quiltops.SearchQuery) (*quiltops.SearchResult, error) {
	if b.cfg.Searcher == nil {
		return nil, trace.NotFound("search is not configured on this backend")
	}
	return b.cfg.Searcher.Search(ctx, rc, q)
}

// Admin exposes user, role, policy and SSO management.
func (b *Backend) Admin() (quiltops.AdminOps, error) {
	return &adminOps{backend: b}, nil
}

// Tabulator exposes tabulator table management.
func (b *Backend) Tabulator() (quiltops.TabulatorOps, error) {
	return &tabulatorOps{backend: b}, nil
}

// unionResult decodes the common mutation result union.
type unionResult struct {
	Typename string `json:"__typename"`
	Message  string `json:"message"`
	Errors   []struct {
		Path    string `json:"path"`
		Message string `json:"message"`
	} `json:"errors"`
	Revision *struct {
		Hash string `json:"hash"`
	} `json:"revision"`
}

// err maps the union members onto errors; success members return nil.
func (u *unionResult) err(op string) error {
	if u == nil {
		return trace.Errorf("%s returned no result", op)
	}
	switch u.Typename {
	case "InvalidInput":
		msgs := make([]string, 0, len(u.Errors))
		for _, e := range u.Errors {
			msgs = append(msgs, e.Path+": "+e.Message)
		}
		return quilterr.New(quilterr.KindValidationFailed,
			"%s rejected: %s", op, strings.Join(msgs, "; "))
	case "OperationError":
		msg := strings.ToLower(u.Message)
		if strings.Contains(msg, "in use") || strings.Contains(msg, "attached") {
			return quilterr.New(quilterr.KindInUse, "%s failed: %s", op, u.Message)
		}
		return trace.Errorf("%s failed: %s", op, u.Message)
	}
	return nil
}

func registryBucket(registry string) (string, error) {
	if registry == "" {
		return "", trace.BadParameter("registry is required")
	}
	if strings.HasPrefix(registry, "s3://") {
		bucket, _, err := s3ops.ParseURI(registry)
		return bucket, trace.Wrap(err)
	}
	return strings.TrimSuffix(registry, "/"), nil
}

var _ quiltops.QuiltOps = (*Backend)(nil)
