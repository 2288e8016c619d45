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

// Package direct implements the catalog contract straight against the S3
// registry layout, with no Quilt catalog service in the path. Manifests
// live under .quilt/packages/<top_hash> and the tag map under
// .quilt/named_packages/<name>/<tag>.
package direct

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

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

// Config configures the direct backend.
type Config struct {
	// S3 builds request-scoped S3 clients.
	S3 *s3ops.Factory
	// Credentials resolves the AWS bundle per request.
	Credentials CredentialSource
	// Searcher runs unified searches; the engine limits itself to the
	// reach this backend has.
	Searcher Searcher
	// Clock stamps revision tags.
	Clock clockwork.Clock
	// Logger emits log messages.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.S3 == nil {
		return trace.BadParameter("missing S3 factory")
	}
	if c.Credentials == nil {
		return trace.BadParameter("missing credential source")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Backend is the direct-SDK implementation of the catalog contract.
type Backend struct {
	cfg Config

	// newOps builds the request-scoped data plane; overridden in tests.
	newOps func(ctx context.Context, rc *session.RequestContext) (*s3ops.Ops, error)
}

// New creates a direct backend.
func New(cfg Config) (*Backend, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	b := &Backend{cfg: cfg}
	b.newOps = b.buildOps
	return b, nil
}

// opsFor builds the request-scoped S3 data plane.
func (b *Backend) opsFor(ctx context.Context, rc *session.RequestContext) (*s3ops.Ops, error) {
	return b.newOps(ctx, rc)
}

func (b *Backend) buildOps(ctx context.Context, rc *session.RequestContext) (*s3ops.Ops, error) {
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

// registryBucket accepts both "s3://bucket" and a bare bucket name.
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

func tagKey(name, tag string) string {
	return defaults.NamedPackagesPrefix + name + "/" + tag
}

func manifestKey(hash string) string {
	return defaults.ManifestPrefix + hash
}

// AuthStatus reports standing from the request context alone; the direct
// backend has no catalog to ask.
func (b *Backend) AuthStatus(_ context.Context, rc *session.RequestContext) (*quiltops.AuthStatus, error) {
	return &quiltops.AuthStatus{
		LoggedIn: rc.Authenticated(),
		Subject:  rc.Subject(),
		Catalog:  rc.CatalogURL,
		Registry: rc.RegistryURL,
	}, nil
}

// BucketList enumerates buckets visible to the credentials.
func (b *Backend) BucketList(ctx context.Context, rc *session.RequestContext) ([]quiltops.Bucket, error) {
	ops, err := b.opsFor(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	names, err := ops.BucketNames(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	buckets := make([]quiltops.Bucket, 0, len(names))
	for _, name := range names {
		buckets = append(buckets, quiltops.Bucket{Name: name})
	}
	return buckets, nil
}

// PackageList derives package names from the tag map. An empty registry
// yields an empty page.
func (b *Backend) PackageList(ctx context.Context, rc *session.RequestContext, registry string, opts quiltops.ListOptions) (*quiltops.PackagePage, error) {
	bucket, err := registryBucket(registry)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ops, err := b.opsFor(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	objects, err := ops.ListAll(ctx, bucket, defaults.NamedPackagesPrefix)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	seen := make(map[string]struct{})
	var names []string
	for _, obj := range objects {
		name, _, ok := splitTagKey(obj.Key)
		if !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)

	limit := opts.Limit
	if limit <= 0 {
		limit = defaults.SearchDefaultLimit
	}
	page := &quiltops.PackagePage{Refs: []quiltops.PackageRef{}}
	for _, name := range names {
		if opts.Continuation != "" && name <= opts.Continuation {
			continue
		}
		if opts.Filter != "" && !strings.Contains(name, opts.Filter) {
			continue
		}
		if len(page.Refs) == limit {
			page.Next = page.Refs[len(page.Refs)-1].Name
			return page, nil
		}
		page.Refs = append(page.Refs, quiltops.PackageRef{Registry: registry, Name: name})
	}
	return page, nil
}

// splitTagKey parses ".quilt/named_packages/<ns>/<pkg>/<tag>".
func splitTagKey(key string) (name, tag string, ok bool) {
	rest, found := strings.CutPrefix(key, defaults.NamedPackagesPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0] + "/" + parts[1], parts[2], true
}

// resolveHash resolves an empty top hash through the latest tag.
func (b *Backend) resolveHash(ctx context.Context, ops *s3ops.Ops, bucket, name, hash string) (string, error) {
	if hash != "" {
		return hash, nil
	}
	text, err := ops.GetText(ctx, bucket, tagKey(name, defaults.LatestTag), "", "")
	if err != nil {
		if trace.IsNotFound(err) || quilterr.IsKind(err, quilterr.KindNotFound) {
			return "", trace.NotFound("package %q has no %s tag", name, defaults.LatestTag)
		}
		return "", trace.Wrap(err)
	}
	return strings.TrimSpace(text), nil
}

// PackageBrowse returns the manifest of a revision.
func (b *Backend) PackageBrowse(ctx context.Context, rc *session.RequestContext, registry, name, hash string) (*quiltops.Manifest, error) {
	bucket, err := registryBucket(registry)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ops, err := b.opsFor(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	hash, err = b.resolveHash(ctx, ops, bucket, name, hash)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := ops.GetBytes(ctx, bucket, manifestKey(hash), "", "")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	m, err := decodeManifest(data)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	m.TopHash = hash
	return m, nil
}

// PackageVersionsList reads the tag map and groups tags by revision,
// newest first by tag-object modification time.
func (b *Backend) PackageVersionsList(ctx context.Context, rc *session.RequestContext, registry, name string, limit int, withTags bool) ([]quiltops.PackageVersion, error) {
	bucket, err := registryBucket(registry)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ops, err := b.opsFor(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	objects, err := ops.ListAll(ctx, bucket, defaults.NamedPackagesPrefix+name+"/")
	if err != nil {
		return nil, trace.Wrap(err)
	}

	byHash := make(map[string]*quiltops.PackageVersion)
	for _, obj := range objects {
		_, tag, ok := splitTagKey(obj.Key)
		if !ok {
			continue
		}
		text, err := ops.GetText(ctx, bucket, obj.Key, "", "")
		if err != nil {
			return nil, trace.Wrap(err)
		}
		hash := strings.TrimSpace(text)
		v, ok := byHash[hash]
		if !ok {
			v = &quiltops.PackageVersion{TopHash: hash, Timestamp: obj.LastModified}
			byHash[hash] = v
		}
		if obj.LastModified.After(v.Timestamp) {
			v.Timestamp = obj.LastModified
		}
		if withTags {
			v.Tags = append(v.Tags, tag)
		}
	}

	versions := make([]quiltops.PackageVersion, 0, len(byHash))
	for _, v := range byHash {
		sort.Strings(v.Tags)
		versions = append(versions, *v)
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Timestamp.After(versions[j].Timestamp)
	})
	if limit > 0 && len(versions) > limit {
		versions = versions[:limit]
	}
	return versions, nil
}

// PackageCreate writes a fresh revision.
func (b *Backend) PackageCreate(ctx context.Context, rc *session.RequestContext, req quiltops.WriteRequest) (string, error) {
	return b.writeRevision(ctx, rc, req, nil)
}

// PackageUpdate overlays entries on the prior revision.
func (b *Backend) PackageUpdate(ctx context.Context, rc *session.RequestContext, req quiltops.WriteRequest) (string, error) {
	prior, err := b.PackageBrowse(ctx, rc, req.Registry, req.Name, req.PriorTopHash)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return b.writeRevision(ctx, rc, req, prior)
}

// writeRevision materializes entries, assembles the manifest and advances
// the latest tag. Writes are idempotent: the manifest key is the content
// hash, so repeating the same request rewrites identical bytes.
func (b *Backend) writeRevision(ctx context.Context, rc *session.RequestContext, req quiltops.WriteRequest, prior *quiltops.Manifest) (string, error) {
	if err := validateWrite(req); err != nil {
		return "", trace.Wrap(err)
	}
	bucket, err := registryBucket(req.Registry)
	if err != nil {
		return "", trace.Wrap(err)
	}
	ops, err := b.opsFor(ctx, rc)
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
		entry, err := b.materializeEntry(ctx, ops, bucket, req, we)
		if err != nil {
			return "", trace.Wrap(err)
		}
		merged[entry.LogicalPath] = entry
	}

	manifest := &quiltops.Manifest{
		Message:  req.Message,
		Metadata: req.Metadata,
		Entries:  make([]quiltops.ManifestEntry, 0, len(merged)),
	}
	for _, e := range merged {
		manifest.Entries = append(manifest.Entries, e)
	}

	encoded, err := encodeManifest(manifest)
	if err != nil {
		return "", trace.Wrap(err)
	}
	hash := topHash(encoded)

	results, err := ops.PutBatch(ctx, bucket, []s3ops.PutItem{
		{Key: manifestKey(hash), Data: encoded},
		{Key: tagKey(req.Name, defaults.LatestTag), Text: hash},
		{Key: tagKey(req.Name, fmt.Sprintf("%d", b.cfg.Clock.Now().Unix())), Text: hash},
	})
	if err != nil {
		return "", trace.Wrap(err)
	}
	for _, res := range results {
		if !res.OK {
			return "", trace.Errorf("failed to write %s: %s", res.Key, res.Error)
		}
	}
	b.cfg.Logger.InfoContext(ctx, "wrote package revision",
		"registry", bucket, "package", req.Name, "top_hash", hash,
		"entries", len(manifest.Entries))
	return hash, nil
}

func validateWrite(req quiltops.WriteRequest) error {
	if req.Name == "" {
		return trace.BadParameter("package name is required")
	}
	if !strings.Contains(req.Name, "/") {
		return trace.BadParameter("package name must be namespace/name; got %q", req.Name)
	}
	for _, e := range req.Entries {
		if e.LogicalPath == "" {
			return trace.BadParameter("entry is missing a logical path")
		}
		hasURI, hasContent := e.SourceURI != "", len(e.Content) > 0
		if hasURI == hasContent {
			return trace.BadParameter("entry %q must carry exactly one of source URI and inline content", e.LogicalPath)
		}
	}
	return nil
}

// materializeEntry stages inline content and applies the copy mode to
// referenced objects, returning the manifest entry to record.
func (b *Backend) materializeEntry(ctx context.Context, ops *s3ops.Ops, bucket string, req quiltops.WriteRequest, we quiltops.WriteEntry) (quiltops.ManifestEntry, error) {
	dataKey := req.Name + "/" + we.LogicalPath

	if len(we.Content) > 0 {
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

	srcBucket, srcKey, err := s3ops.ParseURI(we.SourceURI)
	if err != nil {
		return quiltops.ManifestEntry{}, trace.Wrap(err)
	}
	info, err := ops.Head(ctx, srcBucket, srcKey)
	if err != nil {
		return quiltops.ManifestEntry{}, trace.Wrap(err)
	}

	copyIn := req.CopyMode == quiltops.CopyAll ||
		(req.CopyMode == quiltops.CopyNew && srcBucket != bucket)
	physical := we.SourceURI
	if copyIn {
		if err := ops.Copy(ctx, we.SourceURI, bucket, dataKey); err != nil {
			return quiltops.ManifestEntry{}, trace.Wrap(err)
		}
		physical = s3ops.URI(bucket, dataKey)
	}
	return quiltops.ManifestEntry{
		LogicalPath: we.LogicalPath,
		PhysicalURI: physical,
		Size:        info.Size,
	}, nil
}

// PackageDelete removes a revision, or with an empty hash the whole tag
// map entry for the package. Revisions stay reachable by hash after a
// tag-map removal.
func (b *Backend) PackageDelete(ctx context.Context, rc *session.RequestContext, registry, name, hash string) error {
	bucket, err := registryBucket(registry)
	if err != nil {
		return trace.Wrap(err)
	}
	ops, err := b.opsFor(ctx, rc)
	if err != nil {
		return trace.Wrap(err)
	}

	tags, err := b.TagList(ctx, rc, registry, name)
	if err != nil {
		return trace.Wrap(err)
	}

	if hash == "" {
		if len(tags) == 0 {
			return trace.NotFound("package %q is not in the tag map", name)
		}
		for tag := range tags {
			if err := ops.Delete(ctx, bucket, tagKey(name, tag)); err != nil {
				return trace.Wrap(err)
			}
		}
		return nil
	}

	if err := ops.Delete(ctx, bucket, manifestKey(hash)); err != nil {
		return trace.Wrap(err)
	}
	for tag, target := range tags {
		if target != hash {
			continue
		}
		if err := ops.Delete(ctx, bucket, tagKey(name, tag)); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// PackageDiff compares two revisions by logical path. Entries whose
// physical URI, size or hash differ are reported as changed.
func (b *Backend) PackageDiff(ctx context.Context, rc *session.RequestContext, registry, name, hash1, hash2 string) (*quiltops.PackageDiff, error) {
	m1, err := b.PackageBrowse(ctx, rc, registry, name, hash1)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	m2, err := b.PackageBrowse(ctx, rc, registry, name, hash2)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return diffManifests(m1, m2), nil
}

func diffManifests(m1, m2 *quiltops.Manifest) *quiltops.PackageDiff {
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
	return diff
}

// TagList reads the package's tag map.
func (b *Backend) TagList(ctx context.Context, rc *session.RequestContext, registry, name string) (map[string]string, error) {
	bucket, err := registryBucket(registry)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ops, err := b.opsFor(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	objects, err := ops.ListAll(ctx, bucket, defaults.NamedPackagesPrefix+name+"/")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	tags := make(map[string]string, len(objects))
	for _, obj := range objects {
		_, tag, ok := splitTagKey(obj.Key)
		if !ok {
			continue
		}
		text, err := ops.GetText(ctx, bucket, obj.Key, "", "")
		if err != nil {
			return nil, trace.Wrap(err)
		}
		tags[tag] = strings.TrimSpace(text)
	}
	return tags, nil
}

// TagAdd points a tag at an existing revision.
func (b *Backend) TagAdd(ctx context.Context, rc *session.RequestContext, registry, name, tag, hash string) error {
	if tag == "" || hash == "" {
		return trace.BadParameter("tag and top hash are required")
	}
	bucket, err := registryBucket(registry)
	if err != nil {
		return trace.Wrap(err)
	}
	ops, err := b.opsFor(ctx, rc)
	if err != nil {
		return trace.Wrap(err)
	}
	// The revision must exist before a tag may point at it.
	if _, err := ops.Head(ctx, bucket, manifestKey(hash)); err != nil {
		return trace.Wrap(err)
	}
	results, err := ops.PutBatch(ctx, bucket, []s3ops.PutItem{{Key: tagKey(name, tag), Text: hash}})
	if err != nil {
		return trace.Wrap(err)
	}
	if len(results) > 0 && !results[0].OK {
		return trace.Errorf("failed to write tag %s: %s", tag, results[0].Error)
	}
	return nil
}

// TagDelete removes one tag.
func (b *Backend) TagDelete(ctx context.Context, rc *session.RequestContext, registry, name, tag string) error {
	if tag == "" {
		return trace.BadParameter("tag is required")
	}
	bucket, err := registryBucket(registry)
	if err != nil {
		return trace.Wrap(err)
	}
	ops, err := b.opsFor(ctx, rc)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(ops.Delete(ctx, bucket, tagKey(name, tag)))
}

// Search delegates to the unified search layer.
func (b *Backend) Search(ctx context.Context, rc *session.RequestContext, q quiltops.SearchQuery) (*quiltops.SearchResult, error) {
	if b.cfg.Searcher == nil {
		return nil, trace.NotFound("search is not configured on this backend")
	}
	return b.cfg.Searcher.Search(ctx, rc, q)
}

// Admin is unavailable: user, role and policy management lives in the
// catalog's GraphQL API.
func (b *Backend) Admin() (quiltops.AdminOps, error) {
	return nil, quilterr.New(quilterr.KindMethodNotFound,
		"administration is unavailable on the direct backend").
		WithHint("run with backend=graphql against a catalog")
}

// Tabulator is unavailable for the same reason as Admin.
func (b *Backend) Tabulator() (quiltops.TabulatorOps, error) {
	return nil, quilterr.New(quilterr.KindMethodNotFound,
		"tabulator administration is unavailable on the direct backend").
		WithHint("run with backend=graphql against a catalog")
}

var _ quiltops.QuiltOps = (*Backend)(nil)
