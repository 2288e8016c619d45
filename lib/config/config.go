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

// Package config resolves the server configuration from CLI flags,
// environment variables, the deployment preset and built-in defaults, in
// that precedence order. Explicit overrides always win over the preset.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/gravitational/trace"

	"github.com/quiltdata/quilt-mcp-server/lib/defaults"
	"github.com/quiltdata/quilt-mcp-server/lib/quilterr"
)

// DeploymentMode is a preset that expands into a (backend, transport) pair.
type DeploymentMode string

const (
	// ModeRemote runs the stateless HTTP deployment against the catalog.
	ModeRemote DeploymentMode = "remote"
	// ModeLocal runs stdio against the catalog; the default.
	ModeLocal DeploymentMode = "local"
	// ModeLegacy runs stdio against the direct SDK backend and enables the
	// in-memory workflow tools.
	ModeLegacy DeploymentMode = "legacy"
)

// BackendKind selects the QuiltOps implementation.
type BackendKind string

const (
	// BackendDirect calls S3/Athena directly using the registry layout.
	BackendDirect BackendKind = "direct"
	// BackendGraphQL calls the catalog's GraphQL endpoint.
	BackendGraphQL BackendKind = "graphql"
)

// TransportKind selects how MCP requests arrive.
type TransportKind string

const (
	// TransportStdio frames JSON-RPC over standard input/output.
	TransportStdio TransportKind = "stdio"
	// TransportHTTP serves the streamable HTTP endpoint at /mcp.
	TransportHTTP TransportKind = "http"
)

// Environment variable names consumed by the server.
const (
	EnvCatalogURL     = "QUILT_CATALOG_URL"
	EnvRegistryURL    = "QUILT_REGISTRY_URL"
	EnvDeployment     = "QUILT_DEPLOYMENT"
	EnvBackend        = "QUILT_BACKEND"
	EnvTransport      = "QUILT_TRANSPORT"
	EnvS3ProxyURL     = "QUILT_S3_PROXY_URL"
	EnvRequireJWT     = "MCP_REQUIRE_JWT"
	EnvJWTSecret      = "MCP_JWT_SECRET"
	EnvJWTSecretParam = "MCP_JWT_SECRET_PARAMETER"
	EnvServiceTimeout = "SERVICE_TIMEOUT"
)

// presets maps each deployment mode to its (backend, transport) expansion.
var presets = map[DeploymentMode]struct {
	backend   BackendKind
	transport TransportKind
}{
	ModeRemote: {BackendGraphQL, TransportHTTP},
	ModeLocal:  {BackendGraphQL, TransportStdio},
	ModeLegacy: {BackendDirect, TransportStdio},
}

// Config is the resolved server configuration.
type Config struct {
	// Deployment selects the preset. Defaults to local.
	Deployment DeploymentMode
	// Backend overrides the backend kind; empty means preset.
	Backend BackendKind
	// Transport overrides the transport; empty means preset.
	Transport TransportKind
	// CatalogURL is the catalog host; required for the graphql backend.
	CatalogURL string
	// RegistryURL is the registry host serving GraphQL and credential
	// exchange; defaults to CatalogURL.
	RegistryURL string
	// RequireJWT makes every tool call demand a validated JWT; ambient
	// credential fallback is disallowed.
	RequireJWT bool
	// JWTSecret is the shared HS256 secret.
	JWTSecret string
	// JWTSecretParameter names a parameter-store entry holding the secret;
	// wins over JWTSecret when both are set.
	JWTSecretParameter string
	// JWTKeyID pins the token "kid" header; tokens with a different kid
	// are rejected. Empty disables the check.
	JWTKeyID string
	// S3ProxyURL replaces the S3 service endpoint when set.
	S3ProxyURL string
	// ListenAddr is the HTTP transport bind address.
	ListenAddr string
	// ServiceTimeout bounds every outbound call.
	ServiceTimeout time.Duration
	// SkipBanner suppresses the startup banner on stderr.
	SkipBanner bool

	// set during resolution, exposed through accessors
	resolvedBackend   BackendKind
	resolvedTransport TransportKind
}

// ApplyEnv fills unset fields from the environment. Flags parsed before
// this call keep their values, giving flags precedence over environment.
func (c *Config) ApplyEnv() error {
	if c.Deployment == "" {
		c.Deployment = DeploymentMode(os.Getenv(EnvDeployment))
	}
	if c.Backend == "" {
		c.Backend = BackendKind(os.Getenv(EnvBackend))
	}
	if c.Transport == "" {
		c.Transport = TransportKind(os.Getenv(EnvTransport))
	}
	if c.CatalogURL == "" {
		c.CatalogURL = os.Getenv(EnvCatalogURL)
	}
	if c.RegistryURL == "" {
		c.RegistryURL = os.Getenv(EnvRegistryURL)
	}
	if c.S3ProxyURL == "" {
		c.S3ProxyURL = os.Getenv(EnvS3ProxyURL)
	}
	if c.JWTSecret == "" {
		c.JWTSecret = os.Getenv(EnvJWTSecret)
	}
	if c.JWTSecretParameter == "" {
		c.JWTSecretParameter = os.Getenv(EnvJWTSecretParam)
	}
	if !c.RequireJWT {
		if v := os.Getenv(EnvRequireJWT); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return trace.Wrap(invalid("%s must be a boolean, got %q", EnvRequireJWT, v))
			}
			c.RequireJWT = b
		}
	}
	if c.ServiceTimeout == 0 {
		if v := os.Getenv(EnvServiceTimeout); v != "" {
			secs, err := strconv.Atoi(v)
			if err != nil || secs <= 0 {
				return trace.Wrap(invalid("%s must be a positive integer of seconds, got %q", EnvServiceTimeout, v))
			}
			c.ServiceTimeout = time.Duration(secs) * time.Second
		}
	}
	return nil
}

// CheckAndSetDefaults expands the deployment preset, merges explicit
// overrides and validates the result.
func (c *Config) CheckAndSetDefaults() error {
	if c.Deployment == "" {
		c.Deployment = ModeLocal
	}
	preset, ok := presets[c.Deployment]
	if !ok {
		return trace.Wrap(invalid("deployment must be one of remote, local, legacy; got %q", c.Deployment))
	}

	c.resolvedBackend = preset.backend
	if c.Backend != "" {
		switch c.Backend {
		case BackendDirect, BackendGraphQL:
			c.resolvedBackend = c.Backend
		default:
			return trace.Wrap(invalid("backend must be direct or graphql; got %q", c.Backend))
		}
	}

	c.resolvedTransport = preset.transport
	if c.Transport != "" {
		switch c.Transport {
		case TransportStdio, TransportHTTP:
			c.resolvedTransport = c.Transport
		default:
			return trace.Wrap(invalid("transport must be stdio or http; got %q", c.Transport))
		}
	}

	if c.Deployment == ModeRemote && c.resolvedTransport == TransportStdio {
		return trace.Wrap(invalid("transport: remote deployment cannot use stdio"))
	}

	if c.resolvedBackend == BackendGraphQL && c.CatalogURL == "" {
		return trace.Wrap(quilterr.New(quilterr.KindConfigInvalid,
			"catalog-url: required for the graphql backend").
			WithHint("set QUILT_CATALOG_URL or pass --catalog-url"))
	}
	if c.RegistryURL == "" {
		c.RegistryURL = c.CatalogURL
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaults.HTTPListenAddr
	}
	if c.ServiceTimeout == 0 {
		c.ServiceTimeout = defaults.ServiceTimeout
	}
	return nil
}

// ResolvedBackend returns the backend kind after preset expansion.
func (c *Config) ResolvedBackend() BackendKind {
	return c.resolvedBackend
}

// ResolvedTransport returns the transport kind after preset expansion.
func (c *Config) ResolvedTransport() TransportKind {
	return c.resolvedTransport
}

func invalid(format string, args ...any) *quilterr.Error {
	return quilterr.New(quilterr.KindConfigInvalid, format, args...)
}
