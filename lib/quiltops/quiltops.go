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

// Package quiltops defines the polymorphic catalog backend contract. Every
// tool module routes through QuiltOps; implementations are flat records of
// per-operation behavior selected per request by the backend factory, not
// type hierarchies.
package quiltops

import (
	"context"

	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

// QuiltOps is the capability set implemented by both the direct-SDK and
// the GraphQL-catalog backends. No operation may panic out of the
// interface; errors are returned wrapped and converted to the structured
// envelope at the dispatch boundary.
type QuiltOps interface {
	// AuthStatus reports the caller's standing with the catalog.
	AuthStatus(ctx context.Context, rc *session.RequestContext) (*AuthStatus, error)

	// BucketList returns buckets the caller may see.
	BucketList(ctx context.Context, rc *session.RequestContext) ([]Bucket, error)

	// PackageList pages through package references in a registry. An
	// empty registry yields an empty page, not an error.
	PackageList(ctx context.Context, rc *session.RequestContext, registry string, opts ListOptions) (*PackagePage, error)

	// PackageBrowse returns the manifest of a revision; an empty topHash
	// resolves through the latest tag.
	PackageBrowse(ctx context.Context, rc *session.RequestContext, registry, name, topHash string) (*Manifest, error)

	// PackageVersionsList returns revisions, newest first.
	PackageVersionsList(ctx context.Context, rc *session.RequestContext, registry, name string, limit int, withTags bool) ([]PackageVersion, error)

	// PackageCreate writes a new revision and returns its top hash.
	PackageCreate(ctx context.Context, rc *session.RequestContext, req WriteRequest) (string, error)

	// PackageUpdate writes a revision on top of the prior one; entries
	// supplied for an existing logical path replace the reference while
	// the prior revision keeps the old one.
	PackageUpdate(ctx context.Context, rc *session.RequestContext, req WriteRequest) (string, error)

	// PackageDelete removes a specific revision, or with an empty topHash
	// removes the package's tag-map entry. Revisions other than the
	// latest tag remain reachable by hash; this choice is stated in the
	// tool help and is the same on both backends.
	PackageDelete(ctx context.Context, rc *session.RequestContext, registry, name, topHash string) error

	// PackageDiff compares two revisions by logical path.
	PackageDiff(ctx context.Context, rc *session.RequestContext, registry, name, hash1, hash2 string) (*PackageDiff, error)

	// TagList returns the tag map for a package.
	TagList(ctx context.Context, rc *session.RequestContext, registry, name string) (map[string]string, error)

	// TagAdd points a tag at a revision.
	TagAdd(ctx context.Context, rc *session.RequestContext, registry, name, tag, topHash string) error

	// TagDelete removes a tag.
	TagDelete(ctx context.Context, rc *session.RequestContext, registry, name, tag string) error

	// Search runs the unified search layer with this backend's reach.
	Search(ctx context.Context, rc *session.RequestContext, query SearchQuery) (*SearchResult, error)

	// Admin returns the admin surface, or an error on backends that do
	// not support administration.
	Admin() (AdminOps, error)

	// Tabulator returns the tabulator admin surface, or an error on
	// backends that do not support it.
	Tabulator() (TabulatorOps, error)
}

// AdminOps manipulates users, roles, policies and SSO configuration.
// Implemented by the GraphQL backend only.
type AdminOps interface {
	UsersList(ctx context.Context, rc *session.RequestContext) ([]User, error)
	UserCreate(ctx context.Context, rc *session.RequestContext, name, email, role string) (*User, error)
	UserDelete(ctx context.Context, rc *session.RequestContext, name string) error

	RolesList(ctx context.Context, rc *session.RequestContext) ([]Role, error)
	RoleCreate(ctx context.Context, rc *session.RequestContext, name string, policyIDs []string, arn string) (*Role, error)
	RoleDelete(ctx context.Context, rc *session.RequestContext, id string) error

	PoliciesList(ctx context.Context, rc *session.RequestContext) ([]Policy, error)
	PolicyCreate(ctx context.Context, rc *session.RequestContext, title string, permissions []BucketPermission, arn string) (*Policy, error)
	// PolicyDelete refuses with IN_USE while the policy is attached to
	// any role.
	PolicyDelete(ctx context.Context, rc *session.RequestContext, id string) error

	SSOConfigGet(ctx context.Context, rc *session.RequestContext) (*SSOConfig, error)
	SSOConfigSet(ctx context.Context, rc *session.RequestContext, text string) (*SSOConfig, error)
}

// TabulatorOps manages tabulator tables and the open-query flag.
type TabulatorOps interface {
	TablesList(ctx context.Context, rc *session.RequestContext, bucket string) ([]TabulatorTable, error)
	TableSet(ctx context.Context, rc *session.RequestContext, bucket, table, config string) error
	TableRename(ctx context.Context, rc *session.RequestContext, bucket, table, newName string) error
	OpenQueryStatus(ctx context.Context, rc *session.RequestContext) (bool, error)
	OpenQuerySet(ctx context.Context, rc *session.RequestContext, enabled bool) (bool, error)
}
