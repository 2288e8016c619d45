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

// Package athenaops is the analytics plane: Athena query lifecycle with
// workgroup discovery and exponential poll backoff, plus Glue catalog
// browsing. Hyphenated schema names are always routed through the query
// execution context, never interpolated into SQL.
package athenaops

import (
	"context"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

// FactoryConfig configures request-scoped Athena and Glue clients.
type FactoryConfig struct {
	// Region is the default AWS region; empty defers to the SDK chain.
	Region string
	// Clock drives the query poller.
	Clock clockwork.Clock
	// Logger emits log messages.
	Logger *slog.Logger
}

// CheckAndSetDefaults fills defaults.
func (c *FactoryConfig) CheckAndSetDefaults() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Factory builds per-request analytics clients.
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

// OpsFor builds an Ops bound to the request's credential bundle. A nil
// bundle means ambient credentials.
func (f *Factory) OpsFor(ctx context.Context, bundle *session.CredentialBundle) (*Ops, error) {
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
	return &Ops{
		athena: athena.NewFromConfig(awsCfg),
		glue:   glue.NewFromConfig(awsCfg),
		clock:  f.cfg.Clock,
		logger: f.cfg.Logger,
	}, nil
}
