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

package quiltops

import (
	"time"

	"github.com/gravitational/trace"
)

// AuthStatus describes the caller's standing with the catalog.
type AuthStatus struct {
	LoggedIn    bool   `json:"logged_in"`
	Subject     string `json:"subject,omitempty"`
	Catalog     string `json:"catalog"`
	Registry    string `json:"registry"`
	CatalogName string `json:"catalog_name,omitempty"`
}

// Bucket is a bucket the caller may see. Permission is the single source
// of truth reported at the backend edge.
type Bucket struct {
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Permission  string `json:"permission,omitempty"`
}

// PackageRef names a package within a registry.
type PackageRef struct {
	Registry string `json:"registry"`
	Name     string `json:"name"`
}

// PackagePage is one page of a package listing; Next restarts the
// sequence where this page ended.
type PackagePage struct {
	Refs []PackageRef `json:"refs"`
	Next string       `json:"next,omitempty"`
}

// ListOptions controls package listing.
type ListOptions struct {
	Filter       string
	Limit        int
	Continuation string
}

// PackageVersion is one revision of a package.
type PackageVersion struct {
	TopHash   string    `json:"top_hash"`
	Timestamp time.Time `json:"ts"`
	Message   string    `json:"message,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
}

// ManifestEntry maps a logical path to a physical object.
type ManifestEntry struct {
	LogicalPath string `json:"logical_path"`
	PhysicalURI string `json:"physical_uri"`
	Size        int64  `json:"size"`
	Hash        string `json:"hash,omitempty"`
}

// Manifest is a package revision's canonical content listing.
type Manifest struct {
	TopHash  string          `json:"top_hash"`
	Message  string          `json:"message,omitempty"`
	Entries  []ManifestEntry `json:"entries"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// PackageDiff lists logical paths that differ between two revisions.
type PackageDiff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// CopyMode governs whether referenced physical objects are copied into
// the registry bucket during a revision write.
type CopyMode string

const (
	// CopyNone references originals; no objects are copied.
	CopyNone CopyMode = "none"
	// CopyNew copies only entries not already under the registry bucket.
	CopyNew CopyMode = "new"
	// CopyAll copies every entry into the registry bucket.
	CopyAll CopyMode = "all"
)

// ParseCopyMode validates a copy mode string.
func ParseCopyMode(s string) (CopyMode, error) {
	switch CopyMode(s) {
	case CopyNone, CopyNew, CopyAll:
		return CopyMode(s), nil
	case "":
		return CopyNone, nil
	default:
		return "", trace.BadParameter("copy mode must be none, new or all; got %q", s)
	}
}

// WriteEntry is one requested entry of a revision write. Exactly one of
// SourceURI and Content is set: an S3 URI records the physical location,
// inline content is staged to the registry bucket.
type WriteEntry struct {
	LogicalPath string
	SourceURI   string
	Content     []byte
}

// WriteRequest describes a package create or update.
type WriteRequest struct {
	Registry string
	Name     string
	Entries  []WriteEntry
	Metadata map[string]any
	Message  string
	CopyMode CopyMode
	// PriorTopHash carries the revision being updated; empty for create.
	PriorTopHash string
}

// HitKind tags a search hit.
type HitKind string

const (
	// HitPackage is a package-level match.
	HitPackage HitKind = "package"
	// HitObject is an object-level match.
	HitObject HitKind = "object"
)

// SearchScope bounds where a search looks.
type SearchScope string

const (
	ScopeBucket  SearchScope = "bucket"
	ScopePackage SearchScope = "package"
	ScopeGlobal  SearchScope = "global"
)

// SearchType selects the result kinds wanted.
type SearchType string

const (
	TypePackages SearchType = "packages"
	TypeObjects  SearchType = "objects"
	TypeBoth     SearchType = "both"
)

// SearchQuery is a unified search request. Bucket and Buckets are
// normalized into one list before any backend sees them.
type SearchQuery struct {
	Text    string
	Scope   SearchScope
	Bucket  string
	Buckets []string
	Type    SearchType
	Limit   int
}

// NormalizedBuckets merges the singular and plural bucket filters into a
// single de-duplicated list.
func (q SearchQuery) NormalizedBuckets() []string {
	seen := make(map[string]struct{}, len(q.Buckets)+1)
	var out []string
	add := func(b string) {
		if b == "" {
			return
		}
		if _, ok := seen[b]; ok {
			return
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	add(q.Bucket)
	for _, b := range q.Buckets {
		add(b)
	}
	return out
}

// MatchedEntry is one package entry that matched a search.
type MatchedEntry struct {
	LogicalPath string  `json:"logical_path"`
	Size        int64   `json:"size,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

// SearchHit is a tagged union of a package or object match.
type SearchHit struct {
	Kind   HitKind `json:"kind"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
	Bucket string  `json:"bucket,omitempty"`

	// Package fields.
	Registry string         `json:"registry,omitempty"`
	Name     string         `json:"name,omitempty"`
	TopHash  string         `json:"top_hash,omitempty"`
	Entries  []MatchedEntry `json:"entries,omitempty"`

	// Object fields.
	Key         string    `json:"key,omitempty"`
	PhysicalURI string    `json:"physical_uri,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Modified    time.Time `json:"modified,omitzero"`
}

// Identity is the de-duplication key: object hits collapse on their
// physical URI, package hits on (registry, name, top hash).
func (h SearchHit) Identity() string {
	if h.Kind == HitObject {
		return string(h.Kind) + "|" + h.PhysicalURI
	}
	return string(h.Kind) + "|" + h.Registry + "|" + h.Name + "|" + h.TopHash
}

// SearchResult is the merged outcome of a unified search.
type SearchResult struct {
	Hits         []SearchHit `json:"hits"`
	Class        string      `json:"class"`
	FallbackUsed bool        `json:"fallback_used,omitempty"`
}

// BucketPermissionLevel is a managed-policy grant level.
type BucketPermissionLevel string

const (
	LevelRead      BucketPermissionLevel = "READ"
	LevelReadWrite BucketPermissionLevel = "READ_WRITE"
)

// BucketPermission grants a level on one bucket inside a managed policy.
type BucketPermission struct {
	Bucket string                `json:"bucket"`
	Level  BucketPermissionLevel `json:"level"`
}

// User is a catalog user.
type User struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Role    string `json:"role,omitempty"`
	IsAdmin bool   `json:"is_admin,omitempty"`
	Active  bool   `json:"active"`
}

// Role is managed (composed of policies) or unmanaged (an IAM role ARN).
type Role struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Managed  bool     `json:"managed"`
	ARN      string   `json:"arn,omitempty"`
	Policies []string `json:"policies,omitempty"`
}

// Policy is managed (bucket permissions) or unmanaged (an IAM policy ARN).
type Policy struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Managed     bool               `json:"managed"`
	ARN         string             `json:"arn,omitempty"`
	Permissions []BucketPermission `json:"permissions,omitempty"`
	RoleCount   int                `json:"role_count,omitempty"`
}

// SSOConfig is the catalog's SSO configuration document.
type SSOConfig struct {
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp,omitzero"`
	UploadedBy string    `json:"uploaded_by,omitempty"`
}

// TabulatorTable is one tabulator table attached to a bucket.
type TabulatorTable struct {
	Name   string `json:"name"`
	Config string `json:"config"`
}
