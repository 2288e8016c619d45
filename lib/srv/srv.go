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

// Package srv is the MCP dispatch plane: tool registration, the stdio and
// streamable HTTP transports, per-call request context construction and
// the health endpoints. Every tool call passes through one wrapper that
// owns deadlines, panic containment, error conversion and metrics.
package srv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	quiltmcp "github.com/quiltdata/quilt-mcp-server"
	"github.com/quiltdata/quilt-mcp-server/lib/athenaops"
	"github.com/quiltdata/quilt-mcp-server/lib/auth"
	"github.com/quiltdata/quilt-mcp-server/lib/catalog"
	"github.com/quiltdata/quilt-mcp-server/lib/config"
	"github.com/quiltdata/quilt-mcp-server/lib/defaults"
	"github.com/quiltdata/quilt-mcp-server/lib/quiltops"
	"github.com/quiltdata/quilt-mcp-server/lib/s3ops"
	"github.com/quiltdata/quilt-mcp-server/lib/search"
	"github.com/quiltdata/quilt-mcp-server/lib/session"
	"github.com/quiltdata/quilt-mcp-server/lib/workflow"
)

// Config assembles the server from its shared components.
type Config struct {
	// Config is the resolved runtime configuration.
	Config *config.Config
	// Ops is the backend selected for this process.
	Ops quiltops.QuiltOps
	// Validator verifies bearer tokens; nil when no JWT secret is
	// configured, in which case tokens pass through unvalidated for the
	// catalog to judge.
	Validator *auth.Validator
	// Exchanger resolves AWS credentials per request.
	Exchanger *auth.Exchanger
	// Catalog is the catalog client; nil on the direct backend without a
	// catalog URL.
	Catalog *catalog.Client
	// S3 builds request-scoped S3 clients.
	S3 *s3ops.Factory
	// Athena builds request-scoped Athena/Glue clients.
	Athena *athenaops.Factory
	// Engine is the unified search engine, used directly by search_explain;
	// search itself routes through the backend. Nil disables the explain
	// tool's planning output.
	Engine *search.Engine
	// Workflows is the in-memory workflow store; nil outside the legacy
	// deployment, which also removes the workflow tools.
	Workflows *workflow.Store
	// DisabledTools are tool names excluded from registration.
	DisabledTools []string
	// Metrics are pre-built collectors shared with other components, e.g.
	// the exchanger's cache counter; nil builds and registers a fresh set.
	Metrics *Metrics
	// Registry receives the server's metrics when Metrics is nil; nil uses
	// the default registry.
	Registry prometheus.Registerer
	// Clock drives deadlines and metrics.
	Clock clockwork.Clock
	// Logger emits log messages.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Config == nil {
		return trace.BadParameter("missing Config")
	}
	if c.Ops == nil {
		return trace.BadParameter("missing Ops")
	}
	if c.Exchanger == nil {
		return trace.BadParameter("missing Exchanger")
	}
	if c.S3 == nil {
		return trace.BadParameter("missing S3 factory")
	}
	if c.Athena == nil {
		return trace.BadParameter("missing Athena factory")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Logger = c.Logger.With(quiltmcp.ComponentKey, quiltmcp.ComponentServer)
	return nil
}

// Server is the MCP server over one of the two transports.
type Server struct {
	cfg      Config
	mcp      *mcpserver.MCPServer
	metrics  *Metrics
	disabled map[string]bool
}

// New builds the server and registers every tool the deployment exposes.
func New(cfg Config) (*Server, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	metrics := cfg.Metrics
	if metrics == nil {
		var err error
		metrics, err = NewMetrics(cfg.Registry)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}

	s := &Server{
		cfg: cfg,
		mcp: mcpserver.NewMCPServer(
			quiltmcp.ServerName,
			quiltmcp.Version,
			mcpserver.WithToolCapabilities(false),
		),
		metrics:  metrics,
		disabled: make(map[string]bool, len(cfg.DisabledTools)),
	}
	for _, name := range cfg.DisabledTools {
		s.disabled[name] = true
	}

	s.registerAuthTools()
	s.registerBucketTools()
	s.registerPackageTools()
	s.registerAthenaTools()
	s.registerTabulatorTools()
	s.registerSearchTools()
	s.registerAdminTools()
	if cfg.Workflows != nil {
		s.registerWorkflowTools()
	}
	return s, nil
}

// Run serves the configured transport until the context is canceled or
// the transport closes.
func (s *Server) Run(ctx context.Context) error {
	if !s.cfg.Config.SkipBanner {
		fmt.Fprintf(os.Stderr, "%s %s (%s backend, %s transport)\n",
			quiltmcp.ServerName, quiltmcp.Version,
			s.cfg.Config.ResolvedBackend(), s.cfg.Config.ResolvedTransport())
	}
	switch s.cfg.Config.ResolvedTransport() {
	case config.TransportStdio:
		return s.runStdio(ctx)
	case config.TransportHTTP:
		return s.runHTTP(ctx)
	default:
		return trace.BadParameter("unknown transport %q", s.cfg.Config.ResolvedTransport())
	}
}

// runStdio serves one client over standard input/output. Requests are
// handled serially by the MCP layer.
func (s *Server) runStdio(ctx context.Context) error {
	s.cfg.Logger.InfoContext(ctx, "serving MCP over stdio",
		"backend", s.cfg.Config.ResolvedBackend())
	err := mcpserver.ServeStdio(s.mcp, mcpserver.WithStdioContextFunc(s.stdioContext))
	if err != nil && !errors.Is(err, context.Canceled) {
		return trace.Wrap(err)
	}
	return nil
}

// runHTTP serves the streamable HTTP endpoint at /mcp alongside health
// probes and metrics, and shuts down gracefully on cancellation.
func (s *Server) runHTTP(ctx context.Context) error {
	streamable := mcpserver.NewStreamableHTTPServer(s.mcp,
		mcpserver.WithHTTPContextFunc(s.httpContext),
	)

	mux := http.NewServeMux()
	mux.Handle("/mcp", streamable)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/", s.handleHealth)

	server := &http.Server{
		Addr:              s.cfg.Config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: defaults.ReadHeaderTimeout,
		IdleTimeout:       defaults.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	s.cfg.Logger.InfoContext(ctx, "serving MCP over HTTP",
		"listen_addr", s.cfg.Config.ListenAddr,
		"backend", s.cfg.Config.ResolvedBackend())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return trace.Wrap(err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return trace.Wrap(err)
	}
}

// handleHealth answers liveness probes without touching any backend, so
// the probe stays green while AWS or the catalog is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/health" && r.URL.Path != "/healthz" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"route":     r.URL.Path,
		"transport": string(s.cfg.Config.ResolvedTransport()),
		"version":   quiltmcp.Version,
	})
}

// s3For builds the request-scoped S3 data plane after resolving the
// caller's credentials.
func (s *Server) s3For(ctx context.Context, rc *session.RequestContext) (*s3ops.Ops, error) {
	bundle, err := s.cfg.Exchanger.Credentials(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	client, err := s.cfg.S3.ClientFor(ctx, bundle)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return s3ops.New(client), nil
}

// athenaFor builds the request-scoped Athena/Glue plane.
func (s *Server) athenaFor(ctx context.Context, rc *session.RequestContext) (*athenaops.Ops, error) {
	bundle, err := s.cfg.Exchanger.Credentials(ctx, rc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ops, err := s.cfg.Athena.OpsFor(ctx, bundle)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return ops, nil
}
