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

// Package s3ops is the S3 data plane: request-scoped client construction
// following the credential chain (JWT bundle, then ambient outside strict
// mode, with an optional proxy endpoint override), plus paginated listing,
// range and versioned reads, batched writes and presigned links.
package s3ops

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gravitational/trace"

	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

// FactoryConfig configures request-scoped S3 client construction.
type FactoryConfig struct {
	// Region is the default AWS region; empty defers to the SDK chain.
	Region string
	// ProxyURL replaces the S3 service endpoint when set. Requests are
	// still signed with signature v4.
	ProxyURL string
	// Logger emits log messages.
	Logger *slog.Logger
}

// CheckAndSetDefaults fills defaults.
func (c *FactoryConfig) CheckAndSetDefaults() error {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Factory builds per-request S3 clients. The factory itself is shared and
// immutable; clients are cheap to construct and scoped to one request.
type Factory struct {
	cfg FactoryConfig
}

// NewFactory creates a Factory.
func NewFactory(cfg FactoryConfig) (*Factory, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Factory{cfg: cfg}, nil
}

// ClientFor builds an S3 client for the request's credential bundle. A nil
// bundle means ambient credentials (environment, container role, instance
// profile); the caller is responsible for only passing nil outside strict
// mode.
func (f *Factory) ClientFor(ctx context.Context, bundle *session.CredentialBundle) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if f.cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(f.cfg.Region))
	}
	if bundle != nil {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				bundle.AccessKeyID, bundle.SecretAccessKey, bundle.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if f.cfg.ProxyURL != "" {
			o.BaseEndpoint = aws.String(f.cfg.ProxyURL)
			o.UsePathStyle = true
		}
	})
	return client, nil
}

// ParseURI splits an s3://bucket/key URI.
func ParseURI(uri string) (bucket, key string, err error) {
	const scheme = "s3://"
	if !strings.HasPrefix(uri, scheme) {
		return "", "", trace.BadParameter("not an S3 URI: %q", uri)
	}
	rest := strings.TrimPrefix(uri, scheme)
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", trace.BadParameter("S3 URI has no bucket: %q", uri)
	}
	return bucket, key, nil
}

// URI joins a bucket and key into an s3:// URI.
func URI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}
