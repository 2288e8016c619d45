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

// Command quilt-mcp serves the Quilt catalog over the Model Context
// Protocol, on stdio or streamable HTTP depending on the deployment.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	quiltmcp "github.com/quiltdata/quilt-mcp-server"
	"github.com/quiltdata/quilt-mcp-server/lib/athenaops"
	"github.com/quiltdata/quilt-mcp-server/lib/auth"
	"github.com/quiltdata/quilt-mcp-server/lib/backend"
	"github.com/quiltdata/quilt-mcp-server/lib/catalog"
	"github.com/quiltdata/quilt-mcp-server/lib/config"
	"github.com/quiltdata/quilt-mcp-server/lib/quilterr"
	"github.com/quiltdata/quilt-mcp-server/lib/s3ops"
	"github.com/quiltdata/quilt-mcp-server/lib/search"
	"github.com/quiltdata/quilt-mcp-server/lib/srv"
	"github.com/quiltdata/quilt-mcp-server/lib/workflow"
)

const (
	exitOK            = 0
	exitError         = 1
	exitConfigInvalid = 2
	exitInterrupted   = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:])
	switch {
	case err == nil && ctx.Err() != nil:
		os.Exit(exitInterrupted)
	case err == nil:
		os.Exit(exitOK)
	case quilterr.IsKind(err, quilterr.KindConfigInvalid):
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(exitConfigInvalid)
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitError)
	}
}

func run(ctx context.Context, args []string) error {
	app := kingpin.New("quilt-mcp", "MCP server for Quilt data catalogs.")
	app.Version(quiltmcp.Version)

	var cfg config.Config
	app.Flag("deployment", "Deployment preset: remote, local or legacy.").
		StringVar((*string)(&cfg.Deployment))
	app.Flag("backend", "Backend override: direct or graphql.").
		StringVar((*string)(&cfg.Backend))
	app.Flag("transport", "Transport override: stdio or http.").
		StringVar((*string)(&cfg.Transport))
	app.Flag("catalog-url", "Quilt catalog URL.").StringVar(&cfg.CatalogURL)
	app.Flag("registry-url", "Registry API URL; defaults to the catalog URL.").StringVar(&cfg.RegistryURL)
	app.Flag("listen-addr", "HTTP transport bind address.").StringVar(&cfg.ListenAddr)
	app.Flag("s3-proxy-url", "Replacement S3 endpoint.").StringVar(&cfg.S3ProxyURL)
	app.Flag("require-jwt", "Demand a validated JWT on every tool call.").BoolVar(&cfg.RequireJWT)
	app.Flag("service-timeout", "Deadline for each tool call and outbound request.").
		DurationVar(&cfg.ServiceTimeout)
	app.Flag("skip-banner", "Suppress the startup banner.").BoolVar(&cfg.SkipBanner)
	debug := app.Flag("debug", "Verbose logging.").Bool()

	if _, err := app.Parse(args); err != nil {
		return quilterr.WrapWithKind(err, quilterr.KindConfigInvalid, "%v", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return trace.Wrap(err)
	}
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}

	// Logs go to stderr: stdout belongs to the protocol on the stdio
	// transport.
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	server, err := newServer(ctx, &cfg, logger)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(server.Run(ctx))
}

// newServer assembles the shared components and the backend selected by
// the resolved configuration.
func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*srv.Server, error) {
	clock := clockwork.NewRealClock()

	var cat *catalog.Client
	if cfg.CatalogURL != "" {
		var err error
		cat, err = catalog.NewClient(catalog.Config{
			CatalogURL:  cfg.CatalogURL,
			RegistryURL: cfg.RegistryURL,
			Timeout:     cfg.ServiceTimeout,
			Logger:      logger.With(quiltmcp.ComponentKey, quiltmcp.ComponentCatalog),
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}

	// The catalog's public config carries the stack region; keep going
	// with the SDK's own chain when it is unreachable at startup.
	var region string
	if cat != nil {
		if pc, err := cat.GetPublicConfig(ctx); err == nil {
			region = pc.Region
		} else {
			logger.WarnContext(ctx, "could not fetch catalog public config", "error", err)
		}
	}

	validator, err := newValidator(ctx, cfg, clock)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	metrics, err := srv.NewMetrics(nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	exchangerCfg := auth.ExchangerConfig{
		RequireJWT:      cfg.RequireJWT,
		ExchangeTimeout: cfg.ServiceTimeout,
		Clock:           clock,
		Logger:          logger.With(quiltmcp.ComponentKey, quiltmcp.ComponentAuth),
		CacheEvents:     metrics.CredentialCacheEvents,
	}
	if cat != nil {
		exchangerCfg.Catalog = cat
	}
	exchanger, err := auth.NewExchanger(exchangerCfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	s3Factory, err := s3ops.NewFactory(s3ops.FactoryConfig{
		Region:   region,
		ProxyURL: cfg.S3ProxyURL,
		Logger:   logger.With(quiltmcp.ComponentKey, quiltmcp.ComponentS3),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	athenaFactory, err := athenaops.NewFactory(athenaops.FactoryConfig{
		Region: region,
		Clock:  clock,
		Logger: logger.With(quiltmcp.ComponentKey, quiltmcp.ComponentAthena),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	engine, err := search.New(search.Config{
		Catalog:     cat,
		S3:          s3Factory,
		Credentials: exchanger,
		Logger:      logger.With(quiltmcp.ComponentKey, quiltmcp.ComponentSearch),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	ops, err := backend.New(cfg.ResolvedBackend(), backend.Deps{
		Catalog:   cat,
		S3:        s3Factory,
		Exchanger: exchanger,
		Engine:    engine,
		Clock:     clock,
		Logger:    logger.With(quiltmcp.ComponentKey, quiltmcp.ComponentBackend),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	serverCfg := srv.Config{
		Config:    cfg,
		Ops:       ops,
		Validator: validator,
		Exchanger: exchanger,
		Catalog:   cat,
		S3:        s3Factory,
		Athena:    athenaFactory,
		Engine:    engine,
		Metrics:   metrics,
		Clock:     clock,
		Logger:    logger,
	}
	if cfg.Deployment == config.ModeLegacy {
		serverCfg.Workflows = workflow.NewStore(clock)
	}
	return srv.New(serverCfg)
}

// newValidator builds the JWT validator when a secret is configured. The
// parameter store wins over the inline secret.
func newValidator(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (*auth.Validator, error) {
	var secret auth.SecretSource
	switch {
	case cfg.JWTSecretParameter != "":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		secret, err = auth.NewParameterStoreSecret(ssm.NewFromConfig(awsCfg), cfg.JWTSecretParameter)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	case cfg.JWTSecret != "":
		secret = auth.StaticSecret(cfg.JWTSecret)
	default:
		if cfg.RequireJWT {
			return nil, quilterr.New(quilterr.KindConfigInvalid,
				"require-jwt needs a JWT secret").
				WithHint("set MCP_JWT_SECRET or MCP_JWT_SECRET_PARAMETER")
		}
		return nil, nil
	}
	return auth.NewValidator(auth.ValidatorConfig{
		Secret: secret,
		KeyID:  cfg.JWTKeyID,
		Clock:  clock,
	})
}
