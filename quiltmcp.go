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

// Package quiltmcp holds constants shared across the whole server: the
// version reported on initialize and health probes, component names used
// for logging, and metric names.
package quiltmcp

const (
	// Version is reported in the MCP initialize result and on health
	// endpoints.
	Version = "1.0.0"

	// ServerName identifies this server to MCP clients.
	ServerName = "quilt-mcp-server"
)

const (
	// ComponentKey is the slog attribute key used to tag log lines with the
	// emitting component.
	ComponentKey = "component"

	// ComponentServer is the transport and dispatch loop.
	ComponentServer = "mcp:server"

	// ComponentAuth is the JWT validation and credential exchange plane.
	ComponentAuth = "mcp:auth"

	// ComponentBackend covers both QuiltOps backends.
	ComponentBackend = "mcp:backend"

	// ComponentS3 is the S3 data plane.
	ComponentS3 = "mcp:s3"

	// ComponentAthena is the Athena query lifecycle.
	ComponentAthena = "mcp:athena"

	// ComponentSearch is the unified search layer.
	ComponentSearch = "mcp:search"

	// ComponentCatalog is the catalog HTTP/GraphQL client.
	ComponentCatalog = "mcp:catalog"
)

const (
	// MetricNamespace is the prometheus namespace for all server metrics.
	MetricNamespace = "quilt_mcp"

	// MetricToolCalls counts tool invocations by tool name and outcome.
	MetricToolCalls = "tool_calls_total"

	// MetricToolCallDuration observes tool call latency by tool name.
	MetricToolCallDuration = "tool_call_duration_seconds"

	// MetricCredentialCacheHits counts credential cache hits and misses.
	MetricCredentialCacheHits = "credential_cache_events_total"
)
