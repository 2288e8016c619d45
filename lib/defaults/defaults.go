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

// Package defaults contains default constants used across the server.
package defaults

import "time"

const (
	// ServiceTimeout is the default deadline for every outbound call
	// (catalog, GraphQL, Elasticsearch, S3, Athena) when the operator does
	// not override it.
	ServiceTimeout = 60 * time.Second

	// HTTPListenAddr is where the streamable HTTP transport listens.
	HTTPListenAddr = "0.0.0.0:8000"

	// HTTPIdleTimeout limits how long idle client connections are kept.
	HTTPIdleTimeout = 5 * time.Minute

	// ReadHeaderTimeout bounds header parsing so stuck clients cannot pin
	// a handler goroutine.
	ReadHeaderTimeout = 10 * time.Second

	// CredentialExpiryBuffer is subtracted from the upstream credential
	// expiry so cached bundles are refreshed before they actually lapse.
	CredentialExpiryBuffer = 5 * time.Minute

	// CredentialCacheSize bounds the credential cache; one entry per
	// (catalog, subject, token-hash) triple.
	CredentialCacheSize = 512

	// AthenaPollInterval is the initial delay between Athena query state
	// checks. The poller backs off exponentially from here.
	AthenaPollInterval = 200 * time.Millisecond

	// AthenaPollMaxInterval caps the Athena polling backoff.
	AthenaPollMaxInterval = 5 * time.Second

	// AthenaMaxResultsPerPage is the page size used when fetching Athena
	// query results.
	AthenaMaxResultsPerPage = 1000

	// SearchBackendTimeout bounds each individual backend during the
	// search fan-out; the whole request keeps its own deadline on top.
	SearchBackendTimeout = 10 * time.Second

	// SearchDefaultLimit is used when a search request does not specify
	// a limit.
	SearchDefaultLimit = 50

	// SearchMaxPackageEntries caps the matched-entry list attached to a
	// package hit.
	SearchMaxPackageEntries = 100

	// ListObjectsMaxKeys is the default page size for S3 listings.
	ListObjectsMaxKeys = 1000

	// PresignTTL is the default lifetime of presigned object links.
	PresignTTL = 15 * time.Minute
)

const (
	// LatestTag is the tag that package references resolve through when no
	// top hash is given.
	LatestTag = "latest"

	// ManifestPrefix is where manifests live inside a registry bucket.
	ManifestPrefix = ".quilt/packages/"

	// NamedPackagesPrefix is where the tag map lives inside a registry
	// bucket.
	NamedPackagesPrefix = ".quilt/named_packages/"
)
