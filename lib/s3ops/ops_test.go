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

package s3ops

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"
)

// fakeAPI scripts responses per call and records the inputs it saw.
type fakeAPI struct {
	listPages []*s3.ListObjectsV2Output
	listCalls []*s3.ListObjectsV2Input

	headOut *s3.HeadObjectOutput
	headIn  *s3.HeadObjectInput
	headErr error

	getOut *s3.GetObjectOutput
	getIn  *s3.GetObjectInput
	getErr error

	putErrs map[string]error
	putKeys []string

	copyIn  *s3.CopyObjectInput
	copyErr error

	deleteIn *s3.DeleteObjectInput

	buckets []string
}

func (f *fakeAPI) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listCalls = append(f.listCalls, params)
	page := len(f.listCalls) - 1
	if page >= len(f.listPages) {
		return &s3.ListObjectsV2Output{}, nil
	}
	return f.listPages[page], nil
}

func (f *fakeAPI) ListBuckets(ctx context.Context, _ *s3.ListBucketsInput, _ ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	out := &s3.ListBucketsOutput{}
	for _, name := range f.buckets {
		out.Buckets = append(out.Buckets, s3types.Bucket{Name: aws.String(name)})
	}
	return out, nil
}

func (f *fakeAPI) HeadObject(ctx context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.headIn = params
	if f.headErr != nil {
		return nil, f.headErr
	}
	if f.headOut == nil {
		return &s3.HeadObjectOutput{}, nil
	}
	return f.headOut, nil
}

func (f *fakeAPI) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.getIn = params
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.getOut == nil {
		return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(""))}, nil
	}
	return f.getOut, nil
}

func (f *fakeAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(params.Key)
	f.putKeys = append(f.putKeys, key)
	if err, ok := f.putErrs[key]; ok {
		return nil, err
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) CopyObject(ctx context.Context, params *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.copyIn = params
	if f.copyErr != nil {
		return nil, f.copyErr
	}
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeAPI) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleteIn = params
	return &s3.DeleteObjectOutput{}, nil
}

func TestList(t *testing.T) {
	fake := &fakeAPI{listPages: []*s3.ListObjectsV2Output{{
		Contents: []s3types.Object{
			{Key: aws.String("data/a.csv"), Size: aws.Int64(10)},
			{Key: aws.String("data/b.csv"), Size: aws.Int64(20)},
		},
		CommonPrefixes:        []s3types.CommonPrefix{{Prefix: aws.String("data/raw/")}},
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("next-token"),
	}}}
	ops := NewWithAPI(fake)

	listing, err := ops.List(context.Background(), "bkt", "data/", "", 0)
	require.NoError(t, err)
	require.Len(t, listing.Objects, 2)
	require.Equal(t, "data/a.csv", listing.Objects[0].Key)
	require.Equal(t, []string{"data/raw/"}, listing.Prefixes)
	require.True(t, listing.Truncated)
	require.Equal(t, "next-token", listing.Continuation)

	// One page with a delimiter and the default page size.
	require.Len(t, fake.listCalls, 1)
	require.Equal(t, "/", aws.ToString(fake.listCalls[0].Delimiter))
	require.Positive(t, aws.ToInt32(fake.listCalls[0].MaxKeys))
}

func TestListAllPaginates(t *testing.T) {
	fake := &fakeAPI{listPages: []*s3.ListObjectsV2Output{
		{
			Contents:              []s3types.Object{{Key: aws.String("a")}},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("page-2"),
		},
		{
			Contents: []s3types.Object{{Key: aws.String("b")}},
		},
	}}
	ops := NewWithAPI(fake)

	objects, err := ops.ListAll(context.Background(), "bkt", "")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	require.Len(t, fake.listCalls, 2)
	require.Equal(t, "page-2", aws.ToString(fake.listCalls[1].ContinuationToken))
	// Full walks never use a delimiter.
	require.Nil(t, fake.listCalls[0].Delimiter)
}

func TestHeadVersionedKey(t *testing.T) {
	fake := &fakeAPI{headOut: &s3.HeadObjectOutput{
		ContentLength: aws.Int64(42),
		ContentType:   aws.String("text/csv"),
		VersionId:     aws.String("v123"),
	}}
	ops := NewWithAPI(fake)

	info, err := ops.Head(context.Background(), "bkt", "data/a.csv?versionId=v123")
	require.NoError(t, err)
	require.Equal(t, "data/a.csv", info.Key)
	require.Equal(t, int64(42), info.Size)
	require.Equal(t, "v123", info.VersionID)
	require.Equal(t, "v123", aws.ToString(fake.headIn.VersionId))
	require.Equal(t, "data/a.csv", aws.ToString(fake.headIn.Key))
}

func TestGetTextRange(t *testing.T) {
	fake := &fakeAPI{getOut: &s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader("hello")),
	}}
	ops := NewWithAPI(fake)

	text, err := ops.GetText(context.Background(), "bkt", "a.txt", "", "0-4")
	require.NoError(t, err)
	require.Equal(t, "hello", text)
	require.Equal(t, "bytes=0-4", aws.ToString(fake.getIn.Range))
}

func TestPutBatchPerItemFailure(t *testing.T) {
	fake := &fakeAPI{putErrs: map[string]error{
		"bad.txt": &smithy.GenericAPIError{Code: "EntityTooLarge", Message: "too big"},
	}}
	ops := NewWithAPI(fake)

	results, err := ops.PutBatch(context.Background(), "bkt", []PutItem{
		{Key: "ok.txt", Text: "fine"},
		{Key: "bad.txt", Text: "fails"},
		{Key: "also-ok.txt", Text: "fine"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.True(t, results[0].OK)
	require.False(t, results[1].OK)
	require.Contains(t, results[1].Error, "EntityTooLarge")
	require.True(t, results[2].OK)
	// The batch kept going after the per-item failure.
	require.Equal(t, []string{"ok.txt", "bad.txt", "also-ok.txt"}, fake.putKeys)
}

func TestPutBatchGlobalFailureShortCircuits(t *testing.T) {
	fake := &fakeAPI{putErrs: map[string]error{
		"first.txt": &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "bkt is gone"},
	}}
	ops := NewWithAPI(fake)

	results, err := ops.PutBatch(context.Background(), "bkt", []PutItem{
		{Key: "first.txt", Text: "x"},
		{Key: "never.txt", Text: "y"},
	})
	require.Error(t, err)
	require.Empty(t, results)
	require.Equal(t, []string{"first.txt"}, fake.putKeys)
}

func TestPutBatchCopiesFromSourceURI(t *testing.T) {
	fake := &fakeAPI{}
	ops := NewWithAPI(fake)

	results, err := ops.PutBatch(context.Background(), "dst", []PutItem{
		{Key: "copied.csv", SourceURI: "s3://src/data/a.csv"},
	})
	require.NoError(t, err)
	require.True(t, results[0].OK)
	require.Equal(t, "src/data/a.csv", aws.ToString(fake.copyIn.CopySource))
	require.Equal(t, "dst", aws.ToString(fake.copyIn.Bucket))
}

func TestPutBatchRejectsMissingKey(t *testing.T) {
	ops := NewWithAPI(&fakeAPI{})
	results, err := ops.PutBatch(context.Background(), "bkt", []PutItem{{Text: "no key"}})
	require.NoError(t, err)
	require.False(t, results[0].OK)
}

func TestPresignUnavailableWithoutClient(t *testing.T) {
	ops := NewWithAPI(&fakeAPI{})
	_, err := ops.Presign(context.Background(), "bkt", "k", 0, "GET")
	require.Error(t, err)
}

func TestBucketNames(t *testing.T) {
	ops := NewWithAPI(&fakeAPI{buckets: []string{"alpha", "beta"}})
	names, err := ops.BucketNames(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta"}, names)
}

func TestSplitVersionedKey(t *testing.T) {
	tests := []struct {
		in           string
		key, version string
	}{
		{"a.csv", "a.csv", ""},
		{"a.csv?versionId=abc", "a.csv", "abc"},
		{"dir/a.csv?versionId=abc", "dir/a.csv", "abc"},
		{"a.csv?other=1", "a.csv?other=1", ""},
	}
	for _, tt := range tests {
		key, version := SplitVersionedKey(tt.in)
		require.Equal(t, tt.key, key, "input %q", tt.in)
		require.Equal(t, tt.version, version, "input %q", tt.in)
	}
}

func TestParseURI(t *testing.T) {
	bucket, key, err := ParseURI("s3://my-bucket/path/to/file.csv")
	require.NoError(t, err)
	require.Equal(t, "my-bucket", bucket)
	require.Equal(t, "path/to/file.csv", key)

	bucket, key, err = ParseURI("s3://just-a-bucket")
	require.NoError(t, err)
	require.Equal(t, "just-a-bucket", bucket)
	require.Empty(t, key)

	_, _, err = ParseURI("https://example.com/x")
	require.Error(t, err)
	_, _, err = ParseURI("s3://")
	require.Error(t, err)
}
