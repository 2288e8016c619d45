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

package direct

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/quiltdata/quilt-mcp-server/lib/defaults"
	"github.com/quiltdata/quilt-mcp-server/lib/quilterr"
	"github.com/quiltdata/quilt-mcp-server/lib/quiltops"
	"github.com/quiltdata/quilt-mcp-server/lib/s3ops"
	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

// memS3 is an in-memory bucket store implementing the narrowed S3 API.
type memS3 struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	objects map[string]map[string]memObject
}

type memObject struct {
	data []byte
	mod  time.Time
}

func newMemS3(clock clockwork.Clock) *memS3 {
	return &memS3{clock: clock, objects: make(map[string]map[string]memObject)}
}

func (m *memS3) put(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects[bucket] == nil {
		m.objects[bucket] = make(map[string]memObject)
	}
	m.objects[bucket][key] = memObject{data: data, mod: m.clock.Now()}
}

func (m *memS3) get(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[bucket][key]
	return obj.data, ok
}

func (m *memS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := aws.ToString(params.Prefix)
	var keys []string
	for key := range m.objects[aws.ToString(params.Bucket)] {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, key := range keys {
		obj := m.objects[aws.ToString(params.Bucket)][key]
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: aws.Time(obj.mod),
		})
	}
	return out, nil
}

func (m *memS3) ListBuckets(ctx context.Context, _ *s3.ListBucketsInput, _ ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for bucket := range m.objects {
		names = append(names, bucket)
	}
	sort.Strings(names)
	out := &s3.ListBucketsOutput{}
	for _, name := range names {
		out.Buckets = append(out.Buckets, s3types.Bucket{Name: aws.String(name)})
	}
	return out, nil
}

func (m *memS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[aws.ToString(params.Bucket)][aws.ToString(params.Key)]
	if !ok {
		return nil, trace.NotFound("no such key %s", aws.ToString(params.Key))
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  aws.Time(obj.mod),
	}, nil
}

func (m *memS3) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[aws.ToString(params.Bucket)][aws.ToString(params.Key)]
	if !ok {
		return nil, trace.NotFound("no such key %s", aws.ToString(params.Key))
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
	}, nil
}

func (m *memS3) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	m.put(aws.ToString(params.Bucket), aws.ToString(params.Key), data)
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) CopyObject(ctx context.Context, params *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	source, err := url.PathUnescape(aws.ToString(params.CopySource))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	srcBucket, srcKey, _ := strings.Cut(source, "/")
	data, ok := m.get(srcBucket, srcKey)
	if !ok {
		return nil, trace.NotFound("no such key %s", srcKey)
	}
	m.put(aws.ToString(params.Bucket), aws.ToString(params.Key), data)
	return &s3.CopyObjectOutput{}, nil
}

func (m *memS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects[aws.ToString(params.Bucket)], aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

var _ s3ops.API = (*memS3)(nil)

type ambientCreds struct{}

func (ambientCreds) Credentials(context.Context, *session.RequestContext) (*session.CredentialBundle, error) {
	return nil, nil
}

func newTestBackend(t *testing.T) (*Backend, *memS3, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	mem := newMemS3(clock)

	factory, err := s3ops.NewFactory(s3ops.FactoryConfig{})
	require.NoError(t, err)
	b, err := New(Config{S3: factory, Credentials: ambientCreds{}, Clock: clock})
	require.NoError(t, err)
	b.newOps = func(context.Context, *session.RequestContext) (*s3ops.Ops, error) {
		return s3ops.NewWithAPI(mem), nil
	}
	return b, mem, clock
}

func rc() *session.RequestContext {
	return &session.RequestContext{RequestID: session.NewRequestID()}
}

func inlineRequest(name string, files map[string]string) quiltops.WriteRequest {
	req := quiltops.WriteRequest{
		Registry: "s3://registry",
		Name:     name,
		Message:  "test revision",
	}
	var paths []string
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		req.Entries = append(req.Entries, quiltops.WriteEntry{
			LogicalPath: path,
			Content:     []byte(files[path]),
		})
	}
	return req
}

func TestPackageCreateAndBrowse(t *testing.T) {
	b, mem, _ := newTestBackend(t)
	ctx := context.Background()

	hash, err := b.PackageCreate(ctx, rc(), inlineRequest("ns/pkg", map[string]string{
		"data/a.csv": "a,b,c",
		"README.md":  "docs",
	}))
	require.NoError(t, err)
	require.Len(t, hash, 64)

	// Registry layout: manifest, latest tag, staged data.
	_, ok := mem.get("registry", defaults.ManifestPrefix+hash)
	require.True(t, ok)
	latest, ok := mem.get("registry", defaults.NamedPackagesPrefix+"ns/pkg/"+defaults.LatestTag)
	require.True(t, ok)
	require.Equal(t, hash, string(latest))
	staged, ok := mem.get("registry", "ns/pkg/data/a.csv")
	require.True(t, ok)
	require.Equal(t, "a,b,c", string(staged))

	// An empty hash browses through the latest tag.
	m, err := b.PackageBrowse(ctx, rc(), "s3://registry", "ns/pkg", "")
	require.NoError(t, err)
	require.Equal(t, hash, m.TopHash)
	require.Equal(t, "test revision", m.Message)
	require.Len(t, m.Entries, 2)
	require.Equal(t, "README.md", m.Entries[0].LogicalPath)
	require.NotEmpty(t, m.Entries[0].Hash)
}

func TestPackageCreateDeterministicHash(t *testing.T) {
	b, _, _ := newTestBackend(t)
	ctx := context.Background()

	files := map[string]string{"a": "1", "b": "2"}
	h1, err := b.PackageCreate(ctx, rc(), inlineRequest("ns/one", files))
	require.NoError(t, err)
	h2, err := b.PackageCreate(ctx, rc(), inlineRequest("ns/one", files))
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestPackageCreateValidation(t *testing.T) {
	b, _, _ := newTestBackend(t)
	ctx := context.Background()

	_, err := b.PackageCreate(ctx, rc(), quiltops.WriteRequest{Registry: "s3://registry"})
	require.True(t, trace.IsBadParameter(err))

	_, err = b.PackageCreate(ctx, rc(), quiltops.WriteRequest{
		Registry: "s3://registry", Name: "noslash",
	})
	require.True(t, trace.IsBadParameter(err))

	// An entry may carry content or a source URI, never both or neither.
	_, err = b.PackageCreate(ctx, rc(), quiltops.WriteRequest{
		Registry: "s3://registry", Name: "ns/pkg",
		Entries: []quiltops.WriteEntry{{
			LogicalPath: "a", Content: []byte("x"), SourceURI: "s3://src/a",
		}},
	})
	require.True(t, trace.IsBadParameter(err))

	_, err = b.PackageCreate(ctx, rc(), quiltops.WriteRequest{
		Registry: "s3://registry", Name: "ns/pkg",
		Entries: []quiltops.WriteEntry{{LogicalPath: "a"}},
	})
	require.True(t, trace.IsBadParameter(err))
}

func TestPackageUpdateOverlaysPrior(t *testing.T) {
	b, _, clock := newTestBackend(t)
	ctx := context.Background()

	h1, err := b.PackageCreate(ctx, rc(), inlineRequest("ns/pkg", map[string]string{
		"keep.txt":    "kept",
		"replace.txt": "old",
	}))
	require.NoError(t, err)

	clock.Advance(time.Minute)
	req := inlineRequest("ns/pkg", map[string]string{
		"replace.txt": "new contents",
		"added.txt":   "fresh",
	})
	h2, err := b.PackageUpdate(ctx, rc(), req)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)

	m, err := b.PackageBrowse(ctx, rc(), "s3://registry", "ns/pkg", "")
	require.NoError(t, err)
	require.Equal(t, h2, m.TopHash)
	require.Len(t, m.Entries, 3)

	byPath := make(map[string]quiltops.ManifestEntry)
	for _, e := range m.Entries {
		byPath[e.LogicalPath] = e
	}
	require.Equal(t, int64(len("kept")), byPath["keep.txt"].Size)
	require.Equal(t, int64(len("new contents")), byPath["replace.txt"].Size)
	require.Contains(t, byPath, "added.txt")
}

func TestPackageBrowseMissingLatestTag(t *testing.T) {
	b, _, _ := newTestBackend(t)
	_, err := b.PackageBrowse(context.Background(), rc(), "s3://registry", "ns/ghost", "")
	require.True(t, trace.IsNotFound(err))
}

func TestCopyModes(t *testing.T) {
	b, mem, _ := newTestBackend(t)
	ctx := context.Background()
	mem.put("sources", "raw/data.csv", []byte("x,y"))

	// CopyNone records the source as the physical location.
	req := quiltops.WriteRequest{
		Registry: "s3://registry", Name: "ns/refs", CopyMode: quiltops.CopyNone,
		Entries: []quiltops.WriteEntry{{LogicalPath: "data.csv", SourceURI: "s3://sources/raw/data.csv"}},
	}
	hash, err := b.PackageCreate(ctx, rc(), req)
	require.NoError(t, err)
	m, err := b.PackageBrowse(ctx, rc(), "s3://registry", "ns/refs", hash)
	require.NoError(t, err)
	require.Equal(t, "s3://sources/raw/data.csv", m.Entries[0].PhysicalURI)
	_, staged := mem.get("registry", "ns/refs/data.csv")
	require.False(t, staged)

	// CopyAll stages the object in the registry bucket.
	req.Name = "ns/copies"
	req.CopyMode = quiltops.CopyAll
	hash, err = b.PackageCreate(ctx, rc(), req)
	require.NoError(t, err)
	m, err = b.PackageBrowse(ctx, rc(), "s3://registry", "ns/copies", hash)
	require.NoError(t, err)
	require.Equal(t, "s3://registry/ns/copies/data.csv", m.Entries[0].PhysicalURI)
	data, staged := mem.get("registry", "ns/copies/data.csv")
	require.True(t, staged)
	require.Equal(t, "x,y", string(data))
}

func TestTagAddRequiresRevision(t *testing.T) {
	b, _, _ := newTestBackend(t)
	ctx := context.Background()

	err := b.TagAdd(ctx, rc(), "s3://registry", "ns/pkg", "prod", strings.Repeat("0", 64))
	require.Error(t, err)

	hash, err := b.PackageCreate(ctx, rc(), inlineRequest("ns/pkg", map[string]string{"a": "1"}))
	require.NoError(t, err)
	require.NoError(t, b.TagAdd(ctx, rc(), "s3://registry", "ns/pkg", "prod", hash))

	tags, err := b.TagList(ctx, rc(), "s3://registry", "ns/pkg")
	require.NoError(t, err)
	require.Equal(t, hash, tags["prod"])
	require.Equal(t, hash, tags[defaults.LatestTag])
}

func TestTagDelete(t *testing.T) {
	b, _, _ := newTestBackend(t)
	ctx := context.Background()

	hash, err := b.PackageCreate(ctx, rc(), inlineRequest("ns/pkg", map[string]string{"a": "1"}))
	require.NoError(t, err)
	require.NoError(t, b.TagAdd(ctx, rc(), "s3://registry", "ns/pkg", "prod", hash))
	require.NoError(t, b.TagDelete(ctx, rc(), "s3://registry", "ns/pkg", "prod"))

	tags, err := b.TagList(ctx, rc(), "s3://registry", "ns/pkg")
	require.NoError(t, err)
	require.NotContains(t, tags, "prod")

	require.True(t, trace.IsBadParameter(b.TagDelete(ctx, rc(), "s3://registry", "ns/pkg", "")))
}

func TestPackageDeleteTagMapEntry(t *testing.T) {
	b, mem, _ := newTestBackend(t)
	ctx := context.Background()

	err := b.PackageDelete(ctx, rc(), "s3://registry", "ns/ghost", "")
	require.True(t, trace.IsNotFound(err))

	hash, err := b.PackageCreate(ctx, rc(), inlineRequest("ns/pkg", map[string]string{"a": "1"}))
	require.NoError(t, err)
	require.NoError(t, b.PackageDelete(ctx, rc(), "s3://registry", "ns/pkg", ""))

	tags, err := b.TagList(ctx, rc(), "s3://registry", "ns/pkg")
	require.NoError(t, err)
	require.Empty(t, tags)

	// The revision itself stays reachable by hash.
	_, ok := mem.get("registry", defaults.ManifestPrefix+hash)
	require.True(t, ok)
}

func TestPackageDeleteRevision(t *testing.T) {
	b, mem, clock := newTestBackend(t)
	ctx := context.Background()

	h1, err := b.PackageCreate(ctx, rc(), inlineRequest("ns/pkg", map[string]string{"a": "1"}))
	require.NoError(t, err)
	clock.Advance(time.Minute)
	h2, err := b.PackageCreate(ctx, rc(), inlineRequest("ns/pkg", map[string]string{"a": "2"}))
	require.NoError(t, err)

	require.NoError(t, b.PackageDelete(ctx, rc(), "s3://registry", "ns/pkg", h1))

	_, ok := mem.get("registry", defaults.ManifestPrefix+h1)
	require.False(t, ok)
	_, ok = mem.get("registry", defaults.ManifestPrefix+h2)
	require.True(t, ok)

	// Tags pointing at the deleted revision are gone; latest survives.
	tags, err := b.TagList(ctx, rc(), "s3://registry", "ns/pkg")
	require.NoError(t, err)
	require.Equal(t, h2, tags[defaults.LatestTag])
	for _, target := range tags {
		require.NotEqual(t, h1, target)
	}
}

func TestPackageList(t *testing.T) {
	b, _, _ := newTestBackend(t)
	ctx := context.Background()

	for _, name := range []string{"ns/alpha", "ns/beta", "other/gamma"} {
		_, err := b.PackageCreate(ctx, rc(), inlineRequest(name, map[string]string{"a": "1"}))
		require.NoError(t, err)
	}

	page, err := b.PackageList(ctx, rc(), "s3://registry", quiltops.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Refs, 3)
	require.Equal(t, "ns/alpha", page.Refs[0].Name)
	require.Empty(t, page.Next)

	page, err = b.PackageList(ctx, rc(), "s3://registry", quiltops.ListOptions{Filter: "ns/"})
	require.NoError(t, err)
	require.Len(t, page.Refs, 2)

	// Pagination through the continuation token.
	page, err = b.PackageList(ctx, rc(), "s3://registry", quiltops.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Refs, 2)
	require.Equal(t, "ns/beta", page.Next)

	page, err = b.PackageList(ctx, rc(), "s3://registry", quiltops.ListOptions{Limit: 2, Continuation: page.Next})
	require.NoError(t, err)
	require.Len(t, page.Refs, 1)
	require.Equal(t, "other/gamma", page.Refs[0].Name)
	require.Empty(t, page.Next)
}

func TestPackageVersionsList(t *testing.T) {
	b, _, clock := newTestBackend(t)
	ctx := context.Background()

	h1, err := b.PackageCreate(ctx, rc(), inlineRequest("ns/pkg", map[string]string{"a": "1"}))
	require.NoError(t, err)
	require.NoError(t, b.TagAdd(ctx, rc(), "s3://registry", "ns/pkg", "prod", h1))
	clock.Advance(time.Hour)
	h2, err := b.PackageCreate(ctx, rc(), inlineRequest("ns/pkg", map[string]string{"a": "2"}))
	require.NoError(t, err)

	versions, err := b.PackageVersionsList(ctx, rc(), "s3://registry", "ns/pkg", 0, true)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	// Newest first.
	require.Equal(t, h2, versions[0].TopHash)
	require.Equal(t, h1, versions[1].TopHash)
	require.Contains(t, versions[1].Tags, "prod")

	versions, err = b.PackageVersionsList(ctx, rc(), "s3://registry", "ns/pkg", 1, false)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.Empty(t, versions[0].Tags)
}

func TestPackageDiff(t *testing.T) {
	b, _, clock := newTestBackend(t)
	ctx := context.Background()

	h1, err := b.PackageCreate(ctx, rc(), inlineRequest("ns/pkg", map[string]string{
		"same.txt":    "unchanged",
		"changed.txt": "before",
		"removed.txt": "going away",
	}))
	require.NoError(t, err)
	clock.Advance(time.Minute)
	h2, err := b.PackageCreate(ctx, rc(), inlineRequest("ns/pkg", map[string]string{
		"same.txt":    "unchanged",
		"changed.txt": "after, longer",
		"added.txt":   "new",
	}))
	require.NoError(t, err)

	diff, err := b.PackageDiff(ctx, rc(), "s3://registry", "ns/pkg", h1, h2)
	require.NoError(t, err)
	require.Equal(t, []string{"added.txt"}, diff.Added)
	require.Equal(t, []string{"removed.txt"}, diff.Removed)
	require.Equal(t, []string{"changed.txt"}, diff.Changed)
}

func TestBucketList(t *testing.T) {
	b, mem, _ := newTestBackend(t)
	mem.put("alpha", "x", nil)
	mem.put("beta", "y", nil)

	buckets, err := b.BucketList(context.Background(), rc())
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	require.Equal(t, "alpha", buckets[0].Name)
}

func TestAdminUnavailable(t *testing.T) {
	b, _, _ := newTestBackend(t)

	_, err := b.Admin()
	require.True(t, quilterr.IsKind(err, quilterr.KindMethodNotFound))
	_, err = b.Tabulator()
	require.True(t, quilterr.IsKind(err, quilterr.KindMethodNotFound))
}

func TestSplitTagKey(t *testing.T) {
	tests := []struct {
		key  string
		name string
		tag  string
		ok   bool
	}{
		{defaults.NamedPackagesPrefix + "ns/pkg/latest", "ns/pkg", "latest", true},
		{defaults.NamedPackagesPrefix + "ns/pkg/1700000000", "ns/pkg", "1700000000", true},
		{defaults.NamedPackagesPrefix + "ns/pkg", "", "", false},
		{defaults.NamedPackagesPrefix + "ns/pkg/deep/extra", "", "", false},
		{".quilt/packages/abc", "", "", false},
	}
	for _, tt := range tests {
		name, tag, ok := splitTagKey(tt.key)
		require.Equal(t, tt.ok, ok, "key %q", tt.key)
		require.Equal(t, tt.name, name, "key %q", tt.key)
		require.Equal(t, tt.tag, tag, "key %q", tt.key)
	}
}

func TestRegistryBucket(t *testing.T) {
	bucket, err := registryBucket("s3://my-registry")
	require.NoError(t, err)
	require.Equal(t, "my-registry", bucket)

	bucket, err = registryBucket("my-registry")
	require.NoError(t, err)
	require.Equal(t, "my-registry", bucket)

	bucket, err = registryBucket("my-registry/")
	require.NoError(t, err)
	require.Equal(t, "my-registry", bucket)

	_, err = registryBucket("")
	require.Error(t, err)
}
