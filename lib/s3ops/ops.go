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
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gravitational/trace"

	"github.com/quiltdata/quilt-mcp-server/lib/defaults"
)

// maxInlineObjectBytes bounds objects read fully into memory.
const maxInlineObjectBytes = 64 << 20

// API is the S3 surface used by the data plane, narrowed for tests.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Ops exposes bucket operations over one request-scoped client.
type Ops struct {
	api API

	// uploader is set when api is a real client; it handles multipart
	// for large bodies and aborts parts on any failure path.
	uploader *manager.Uploader
	// presigner is set when api is a real client.
	presigner *s3.PresignClient
}

// New wraps a request-scoped client.
func New(client *s3.Client) *Ops {
	return &Ops{
		api:       client,
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
	}
}

// NewWithAPI wraps a narrowed API, used in tests. Presign and multipart
// upload are unavailable.
func NewWithAPI(api API) *Ops {
	return &Ops{api: api}
}

// ObjectInfo describes one object.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	VersionID    string    `json:"version_id,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified,omitzero"`
}

// Listing is one page of objects; Continuation restarts the sequence.
type Listing struct {
	Objects      []ObjectInfo `json:"objects"`
	Prefixes     []string     `json:"prefixes,omitempty"`
	Continuation string       `json:"continuation,omitempty"`
	Truncated    bool         `json:"truncated"`
}

// List returns one page of objects under a prefix.
func (o *Ops) List(ctx context.Context, bucket, prefix, continuation string, maxKeys int32) (*Listing, error) {
	if maxKeys <= 0 {
		maxKeys = defaults.ListObjectsMaxKeys
	}
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		MaxKeys:   aws.Int32(maxKeys),
		Delimiter: aws.String("/"),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if continuation != "" {
		input.ContinuationToken = aws.String(continuation)
	}

	out, err := o.api.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	listing := &Listing{Truncated: aws.ToBool(out.IsTruncated)}
	for _, obj := range out.Contents {
		listing.Objects = append(listing.Objects, ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         aws.ToString(obj.ETag),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	for _, p := range out.CommonPrefixes {
		listing.Prefixes = append(listing.Prefixes, aws.ToString(p.Prefix))
	}
	if listing.Truncated {
		listing.Continuation = aws.ToString(out.NextContinuationToken)
	}
	return listing, nil
}

// ListAll walks every page under a prefix without a delimiter. The
// sequence is finite and restartable through the continuation token.
func (o *Ops) ListAll(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	var continuation *string
	for {
		out, err := o.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		for _, obj := range out.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         aws.ToString(obj.ETag),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			return objects, nil
		}
		continuation = out.NextContinuationToken
	}
}

// Head returns object metadata.
func (o *Ops) Head(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	key, versionID := SplitVersionedKey(key)
	input := &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if versionID != "" {
		input.VersionId = aws.String(versionID)
	}
	out, err := o.api.HeadObject(ctx, input)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ETag:         aws.ToString(out.ETag),
		VersionID:    aws.ToString(out.VersionId),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// GetBytes reads an object, optionally a specific version and byte range.
// The versionId may also arrive in query-param form, key?versionId=xyz.
func (o *Ops) GetBytes(ctx context.Context, bucket, key, versionID, byteRange string) ([]byte, error) {
	key, inlineVersion := SplitVersionedKey(key)
	if versionID == "" {
		versionID = inlineVersion
	}
	input := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if versionID != "" {
		input.VersionId = aws.String(versionID)
	}
	if byteRange != "" {
		input.Range = aws.String(normalizeRange(byteRange))
	}
	out, err := o.api.GetObject(ctx, input)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(io.LimitReader(out.Body, maxInlineObjectBytes))
	return data, trace.Wrap(err)
}

// GetText reads an object as text.
func (o *Ops) GetText(ctx context.Context, bucket, key, versionID, byteRange string) (string, error) {
	data, err := o.GetBytes(ctx, bucket, key, versionID, byteRange)
	return string(data), trace.Wrap(err)
}

// PutItem is one item of a batch put. Exactly one of Text, Data and
// SourceURI is set; a source URI copies server-side.
type PutItem struct {
	Key       string `json:"key"`
	Text      string `json:"text,omitempty"`
	Data      []byte `json:"-"`
	SourceURI string `json:"source_uri,omitempty"`
}

// PutResult reports one item's outcome.
type PutResult struct {
	Key   string `json:"key"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// PutBatch writes items one at a time. The batch is not atomic: per-item
// failures are reported in place and the batch continues; only a global
// failure (bucket missing, auth) short-circuits.
func (o *Ops) PutBatch(ctx context.Context, bucket string, items []PutItem) ([]PutResult, error) {
	results := make([]PutResult, 0, len(items))
	for _, item := range items {
		err := o.putOne(ctx, bucket, item)
		if err != nil && isGlobalFailure(err) {
			return results, trace.Wrap(err)
		}
		res := PutResult{Key: item.Key, OK: err == nil}
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results, nil
}

func (o *Ops) putOne(ctx context.Context, bucket string, item PutItem) error {
	if item.Key == "" {
		return trace.BadParameter("batch item is missing a key")
	}
	if item.SourceURI != "" {
		srcBucket, srcKey, err := ParseURI(item.SourceURI)
		if err != nil {
			return trace.Wrap(err)
		}
		_, err = o.api.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(bucket),
			Key:        aws.String(item.Key),
			CopySource: aws.String(srcBucket + "/" + srcKey),
		})
		return trace.Wrap(err)
	}

	body := item.Data
	if body == nil {
		body = []byte(item.Text)
	}
	if o.uploader != nil {
		_, err := o.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(item.Key),
			Body:   bytes.NewReader(body),
		})
		return trace.Wrap(err)
	}
	_, err := o.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(item.Key),
		Body:   bytes.NewReader(body),
	})
	return trace.Wrap(err)
}

// Copy copies an object from an s3:// URI into a destination key.
func (o *Ops) Copy(ctx context.Context, sourceURI, dstBucket, dstKey string) error {
	srcBucket, srcKey, err := ParseURI(sourceURI)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = o.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(url.PathEscape(srcBucket + "/" + srcKey)),
	})
	return trace.Wrap(err)
}

// Delete removes one object.
func (o *Ops) Delete(ctx context.Context, bucket, key string) error {
	_, err := o.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return trace.Wrap(err)
}

// Presign returns a time-limited URL for GET or PUT on a key.
func (o *Ops) Presign(ctx context.Context, bucket, key string, ttl time.Duration, method string) (string, error) {
	if o.presigner == nil {
		return "", trace.NotImplemented("presigning is unavailable on this client")
	}
	if ttl <= 0 {
		ttl = defaults.PresignTTL
	}
	switch strings.ToUpper(method) {
	case "", "GET":
		req, err := o.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(ttl))
		if err != nil {
			return "", trace.Wrap(err)
		}
		return req.URL, nil
	case "PUT":
		req, err := o.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(ttl))
		if err != nil {
			return "", trace.Wrap(err)
		}
		return req.URL, nil
	default:
		return "", trace.BadParameter("presign method must be GET or PUT; got %q", method)
	}
}

// SplitVersionedKey supports the key?versionId=xyz form.
func SplitVersionedKey(key string) (string, string) {
	base, query, found := strings.Cut(key, "?")
	if !found {
		return key, ""
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return key, ""
	}
	if v := values.Get("versionId"); v != "" {
		return base, v
	}
	return key, ""
}

// normalizeRange accepts "0-99" shorthand as well as full "bytes=0-99".
func normalizeRange(r string) string {
	if strings.HasPrefix(r, "bytes=") {
		return r
	}
	return "bytes=" + r
}

// isGlobalFailure reports whether a put error dooms the whole batch
// rather than one item.
func isGlobalFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "NoSuchBucket") ||
		strings.Contains(msg, "InvalidAccessKeyId") ||
		strings.Contains(msg, "ExpiredToken") ||
		strings.Contains(msg, "SignatureDoesNotMatch")
}

// BucketNames enumerates buckets visible to the credentials, used by the
// direct backend's bucket discovery.
func (o *Ops) BucketNames(ctx context.Context) ([]string, error) {
	out, err := o.api.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	names := make([]string, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		names = append(names, aws.ToString(b.Name))
	}
	return names, nil
}

var _ API = (*s3.Client)(nil)
