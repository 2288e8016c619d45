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

package srv

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/gravitational/trace"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/quiltdata/quilt-mcp-server/lib/defaults"
	"github.com/quiltdata/quilt-mcp-server/lib/quilterr"
	"github.com/quiltdata/quilt-mcp-server/lib/s3ops"
	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

func (s *Server) registerBucketTools() {
	s.register(mcp.NewTool("bucket_list",
		mcp.WithDescription("List buckets visible to the caller."),
	), s.handleBucketList)

	s.register(mcp.NewTool("bucket_objects_list",
		mcp.WithDescription("List objects under a prefix, one page at a time."),
		mcp.WithString("bucket", mcp.Required(), mcp.Description("Bucket name")),
		mcp.WithString("prefix", mcp.Description("Key prefix to list under")),
		mcp.WithString("continuation", mcp.Description("Continuation token from a previous page")),
		mcp.WithNumber("max_keys", mcp.Description("Page size, up to 1000")),
	), s.handleBucketObjectsList)

	s.register(mcp.NewTool("bucket_object_info",
		mcp.WithDescription("Return metadata for one object without fetching its body."),
		mcp.WithString("bucket", mcp.Required(), mcp.Description("Bucket name")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Object key; key?versionId=... selects a version")),
	), s.handleBucketObjectInfo)

	s.register(mcp.NewTool("bucket_object_text",
		mcp.WithDescription("Fetch an object's body as text, optionally a byte range of a specific version."),
		mcp.WithString("bucket", mcp.Required(), mcp.Description("Bucket name")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Object key")),
		mcp.WithString("version_id", mcp.Description("Object version")),
		mcp.WithString("range", mcp.Description("Byte range, e.g. 0-1023")),
	), s.handleBucketObjectText)

	s.register(mcp.NewTool("bucket_object_fetch",
		mcp.WithDescription("Fetch an object's body as base64 bytes, optionally a byte range of a specific version."),
		mcp.WithString("bucket", mcp.Required(), mcp.Description("Bucket name")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Object key")),
		mcp.WithString("version_id", mcp.Description("Object version")),
		mcp.WithString("range", mcp.Description("Byte range, e.g. 0-1023")),
	), s.handleBucketObjectFetch)

	s.register(mcp.NewTool("bucket_objects_put",
		mcp.WithDescription("Write a batch of objects. Each item carries inline text or a source s3:// URI to copy. The batch is not atomic; per-item outcomes are reported."),
		mcp.WithString("bucket", mcp.Required(), mcp.Description("Destination bucket")),
		mcp.WithArray("items", mcp.Required(),
			mcp.Description("Items to write: {key, text?, source_uri?}"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key":        map[string]any{"type": "string"},
					"text":       map[string]any{"type": "string"},
					"source_uri": map[string]any{"type": "string"},
				},
				"required": []string{"key"},
			}),
		),
	), s.handleBucketObjectsPut)

	s.register(mcp.NewTool("bucket_object_link",
		mcp.WithDescription("Return a presigned URL for direct GET or PUT on an object."),
		mcp.WithString("bucket", mcp.Required(), mcp.Description("Bucket name")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Object key")),
		mcp.WithString("method", mcp.Description("GET (default) or PUT")),
		mcp.WithNumber("expires_seconds", mcp.Description("Link lifetime; defaults to 900")),
	), s.handleBucketObjectLink)
}

func (s *Server) handleBucketList(ctx context.Context, rc *session.RequestContext, _ mcp.CallToolRequest) (any, error) {
	buckets, err := s.cfg.Ops.BucketList(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"buckets": buckets}, nil
}

func (s *Server) handleBucketObjectsList(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	bucket, err := requireString(req, "bucket")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ops, err := s.s3For(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	listing, err := ops.List(ctx, bucket,
		req.GetString("prefix", ""),
		req.GetString("continuation", ""),
		int32(req.GetInt("max_keys", 0)))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return listing, nil
}

func (s *Server) handleBucketObjectInfo(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	bucket, err := requireString(req, "bucket")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	key, err := requireString(req, "key")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ops, err := s.s3For(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	info, err := ops.Head(ctx, bucket, key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return info, nil
}

func (s *Server) handleBucketObjectText(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	bucket, err := requireString(req, "bucket")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	key, err := requireString(req, "key")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ops, err := s.s3For(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	text, err := ops.GetText(ctx, bucket, key,
		req.GetString("version_id", ""),
		req.GetString("range", ""))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"bucket": bucket, "key": key, "text": text}, nil
}

func (s *Server) handleBucketObjectFetch(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	bucket, err := requireString(req, "bucket")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	key, err := requireString(req, "key")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ops, err := s.s3For(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := ops.GetBytes(ctx, bucket, key,
		req.GetString("version_id", ""),
		req.GetString("range", ""))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{
		"bucket": bucket,
		"key":    key,
		"size":   len(data),
		"body":   base64.StdEncoding.EncodeToString(data),
	}, nil
}

func (s *Server) handleBucketObjectsPut(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	var args struct {
		Bucket string        `json:"bucket"`
		Items  []s3ops.PutItem `json:"items"`
	}
	if err := bindArguments(req, &args); err != nil {
		return nil, trace.Wrap(err)
	}
	if args.Bucket == "" {
		return nil, quilterr.New(quilterr.KindValidationFailed, "bucket is required")
	}
	if len(args.Items) == 0 {
		return nil, quilterr.New(quilterr.KindValidationFailed, "items must not be empty")
	}
	ops, err := s.s3For(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	results, err := ops.PutBatch(ctx, args.Bucket, args.Items)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"results": results}, nil
}

func (s *Server) handleBucketObjectLink(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	bucket, err := requireString(req, "bucket")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	key, err := requireString(req, "key")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ops, err := s.s3For(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ttl := time.Duration(req.GetInt("expires_seconds", 0)) * time.Second
	if ttl <= 0 {
		ttl = defaults.PresignTTL
	}
	url, err := ops.Presign(ctx, bucket, key, ttl, req.GetString("method", "GET"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"url": url, "expires_seconds": int(ttl.Seconds())}, nil
}
