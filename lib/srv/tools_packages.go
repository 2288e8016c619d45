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
	"strings"

	"github.com/gravitational/trace"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/quiltdata/quilt-mcp-server/lib/quilterr"
	"github.com/quiltdata/quilt-mcp-server/lib/quiltops"
	"github.com/quiltdata/quilt-mcp-server/lib/session"
)

// entrySchema is the JSON schema for one requested package entry.
var entrySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"logical_key": map[string]any{"type": "string"},
		"source_uri":  map[string]any{"type": "string"},
		"text":        map[string]any{"type": "string"},
	},
	"required": []string{"logical_key"},
}

func (s *Server) registerPackageTools() {
	s.register(mcp.NewTool("package_list",
		mcp.WithDescription("List packages in a registry, paged and optionally filtered by a name substring."),
		mcp.WithString("registry", mcp.Required(), mcp.Description("Registry bucket, bare name or s3:// URI")),
		mcp.WithString("filter", mcp.Description("Substring filter on package names")),
		mcp.WithNumber("limit", mcp.Description("Page size")),
		mcp.WithString("continuation", mcp.Description("Continuation token from a previous page")),
	), s.handlePackageList)

	s.register(mcp.NewTool("package_browse",
		mcp.WithDescription("Return a package revision's manifest: logical paths, physical URIs, sizes and hashes."),
		mcp.WithString("registry", mcp.Required(), mcp.Description("Registry bucket")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Package name, namespace/name")),
		mcp.WithString("top_hash", mcp.Description("Revision hash; empty resolves the latest tag")),
	), s.handlePackageBrowse)

	s.register(mcp.NewTool("package_manifest",
		mcp.WithDescription("Return a revision's manifest as a logical-path map plus the revision metadata."),
		mcp.WithString("registry", mcp.Required(), mcp.Description("Registry bucket")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Package name, namespace/name")),
		mcp.WithString("top_hash", mcp.Description("Revision hash; empty resolves the latest tag")),
	), s.handlePackageManifest)

	s.register(mcp.NewTool("package_versions_list",
		mcp.WithDescription("List a package's revisions, newest first."),
		mcp.WithString("registry", mcp.Required(), mcp.Description("Registry bucket")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Package name")),
		mcp.WithNumber("limit", mcp.Description("Maximum revisions to return")),
		mcp.WithBoolean("with_tags", mcp.Description("Include the tags pointing at each revision")),
	), s.handlePackageVersionsList)

	s.register(mcp.NewTool("package_create",
		mcp.WithDescription("Create a new package revision from inline text entries and s3:// references. Returns the new top hash."),
		mcp.WithString("registry", mcp.Required(), mcp.Description("Registry bucket")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Package name, namespace/name")),
		mcp.WithArray("entries", mcp.Required(),
			mcp.Description("Entries: {logical_key, source_uri?, text?}; exactly one of source_uri and text per entry"),
			mcp.Items(entrySchema)),
		mcp.WithString("message", mcp.Description("Commit message")),
		mcp.WithObject("metadata", mcp.Description("User metadata attached to the revision")),
		mcp.WithString("copy_mode", mcp.Description("none (default), new, or all: which referenced objects to copy into the registry")),
	), s.handlePackageCreate)

	s.register(mcp.NewTool("package_update",
		mcp.WithDescription("Write a new revision on top of an existing package; supplied entries replace same-path entries, others carry over."),
		mcp.WithString("registry", mcp.Required(), mcp.Description("Registry bucket")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Package name")),
		mcp.WithArray("entries", mcp.Required(), mcp.Description("Entries to add or replace"), mcp.Items(entrySchema)),
		mcp.WithString("message", mcp.Description("Commit message")),
		mcp.WithObject("metadata", mcp.Description("User metadata; replaces the prior revision's metadata when set")),
		mcp.WithString("copy_mode", mcp.Description("none, new, or all")),
		mcp.WithString("top_hash", mcp.Description("Revision to update; empty resolves the latest tag")),
	), s.handlePackageUpdate)

	s.register(mcp.NewTool("package_delete",
		mcp.WithDescription("Delete a package revision, or with no top_hash remove the package's tag map. Untagged revisions stay reachable by hash."),
		mcp.WithString("registry", mcp.Required(), mcp.Description("Registry bucket")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Package name")),
		mcp.WithString("top_hash", mcp.Description("Revision to delete; empty removes all tags")),
	), s.handlePackageDelete)

	s.register(mcp.NewTool("package_diff",
		mcp.WithDescription("Compare two revisions of a package by logical path."),
		mcp.WithString("registry", mcp.Required(), mcp.Description("Registry bucket")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Package name")),
		mcp.WithString("hash1", mcp.Required(), mcp.Description("Base revision hash")),
		mcp.WithString("hash2", mcp.Required(), mcp.Description("Other revision hash")),
	), s.handlePackageDiff)

	s.register(mcp.NewTool("package_tag_list",
		mcp.WithDescription("List a package's tags and the revisions they point at."),
		mcp.WithString("registry", mcp.Required(), mcp.Description("Registry bucket")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Package name")),
	), s.handleTagList)

	s.register(mcp.NewTool("package_tag_add",
		mcp.WithDescription("Point a tag at a revision. The revision must exist."),
		mcp.WithString("registry", mcp.Required(), mcp.Description("Registry bucket")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Package name")),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag name")),
		mcp.WithString("top_hash", mcp.Required(), mcp.Description("Revision hash")),
	), s.handleTagAdd)

	s.register(mcp.NewTool("package_tag_delete",
		mcp.WithDescription("Remove a tag from a package."),
		mcp.WithString("registry", mcp.Required(), mcp.Description("Registry bucket")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Package name")),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag name")),
	), s.handleTagDelete)
}

func (s *Server) handlePackageList(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	registry, err := requireString(req, "registry")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	page, err := s.cfg.Ops.PackageList(ctx, rc, registry, quiltops.ListOptions{
		Filter:       req.GetString("filter", ""),
		Limit:        req.GetInt("limit", 0),
		Continuation: req.GetString("continuation", ""),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return page, nil
}

func (s *Server) handlePackageBrowse(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	registry, name, err := packageArgs(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	manifest, err := s.cfg.Ops.PackageBrowse(ctx, rc, registry, name, req.GetString("top_hash", ""))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return manifest, nil
}

func (s *Server) handlePackageManifest(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	registry, name, err := packageArgs(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	manifest, err := s.cfg.Ops.PackageBrowse(ctx, rc, registry, name, req.GetString("top_hash", ""))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	entries := make(map[string]map[string]any, len(manifest.Entries))
	for _, e := range manifest.Entries {
		entries[e.LogicalPath] = map[string]any{
			"physical_uri": e.PhysicalURI,
			"size":         e.Size,
			"hash":         e.Hash,
		}
	}
	return map[string]any{
		"top_hash": manifest.TopHash,
		"message":  manifest.Message,
		"entries":  entries,
		"metadata": manifest.Metadata,
	}, nil
}

func (s *Server) handlePackageVersionsList(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	registry, name, err := packageArgs(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	versions, err := s.cfg.Ops.PackageVersionsList(ctx, rc, registry, name,
		req.GetInt("limit", 0), req.GetBool("with_tags", false))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"versions": versions}, nil
}

// writeArguments is the shared argument shape of create and update.
type writeArguments struct {
	Registry string         `json:"registry"`
	Name     string         `json:"name"`
	Entries  []writeEntry   `json:"entries"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata"`
	CopyMode string         `json:"copy_mode"`
	TopHash  string         `json:"top_hash"`
}

type writeEntry struct {
	LogicalKey string `json:"logical_key"`
	SourceURI  string `json:"source_uri"`
	Text       string `json:"text"`
}

// toWriteRequest validates and converts the raw arguments. Every entry
// must carry exactly one content source; the check runs before the
// backend is touched.
func (a *writeArguments) toWriteRequest() (quiltops.WriteRequest, error) {
	var wr quiltops.WriteRequest
	if a.Registry == "" {
		return wr, quilterr.New(quilterr.KindValidationFailed, "registry is required")
	}
	if a.Name == "" || !strings.Contains(a.Name, "/") {
		return wr, quilterr.New(quilterr.KindValidationFailed,
			"name must be of the form namespace/name; got %q", a.Name)
	}
	if len(a.Entries) == 0 {
		return wr, quilterr.New(quilterr.KindValidationFailed, "entries must not be empty")
	}
	mode, err := quiltops.ParseCopyMode(a.CopyMode)
	if err != nil {
		return wr, quilterr.WrapWithKind(err, quilterr.KindValidationFailed, "invalid copy_mode")
	}
	entries := make([]quiltops.WriteEntry, 0, len(a.Entries))
	for _, e := range a.Entries {
		if e.LogicalKey == "" {
			return wr, quilterr.New(quilterr.KindValidationFailed, "every entry needs a logical_key")
		}
		if (e.SourceURI == "") == (e.Text == "") {
			return wr, quilterr.New(quilterr.KindValidationFailed,
				"entry %q must carry exactly one of source_uri and text", e.LogicalKey)
		}
		entry := quiltops.WriteEntry{LogicalPath: e.LogicalKey, SourceURI: e.SourceURI}
		if e.Text != "" {
			entry.Content = []byte(e.Text)
		}
		entries = append(entries, entry)
	}
	return quiltops.WriteRequest{
		Registry:     a.Registry,
		Name:         a.Name,
		Entries:      entries,
		Metadata:     a.Metadata,
		Message:      a.Message,
		CopyMode:     mode,
		PriorTopHash: a.TopHash,
	}, nil
}

func (s *Server) handlePackageCreate(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	var args writeArguments
	if err := bindArguments(req, &args); err != nil {
		return nil, trace.Wrap(err)
	}
	wr, err := args.toWriteRequest()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	topHash, err := s.cfg.Ops.PackageCreate(ctx, rc, wr)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]string{"top_hash": topHash, "name": wr.Name, "registry": wr.Registry}, nil
}

func (s *Server) handlePackageUpdate(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	var args writeArguments
	if err := bindArguments(req, &args); err != nil {
		return nil, trace.Wrap(err)
	}
	wr, err := args.toWriteRequest()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	topHash, err := s.cfg.Ops.PackageUpdate(ctx, rc, wr)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]string{"top_hash": topHash, "name": wr.Name, "registry": wr.Registry}, nil
}

func (s *Server) handlePackageDelete(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	registry, name, err := packageArgs(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	topHash := req.GetString("top_hash", "")
	if err := s.cfg.Ops.PackageDelete(ctx, rc, registry, name, topHash); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"deleted": true, "name": name, "top_hash": topHash}, nil
}

func (s *Server) handlePackageDiff(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	registry, name, err := packageArgs(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	hash1, err := requireString(req, "hash1")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	hash2, err := requireString(req, "hash2")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	diff, err := s.cfg.Ops.PackageDiff(ctx, rc, registry, name, hash1, hash2)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return diff, nil
}

func (s *Server) handleTagList(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	registry, name, err := packageArgs(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	tags, err := s.cfg.Ops.TagList(ctx, rc, registry, name)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"tags": tags}, nil
}

func (s *Server) handleTagAdd(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	registry, name, err := packageArgs(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	tag, err := requireString(req, "tag")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	topHash, err := requireString(req, "top_hash")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.cfg.Ops.TagAdd(ctx, rc, registry, name, tag, topHash); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]string{"tag": tag, "top_hash": topHash}, nil
}

func (s *Server) handleTagDelete(ctx context.Context, rc *session.RequestContext, req mcp.CallToolRequest) (any, error) {
	registry, name, err := packageArgs(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	tag, err := requireString(req, "tag")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.cfg.Ops.TagDelete(ctx, rc, registry, name, tag); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"deleted": true, "tag": tag}, nil
}

func packageArgs(req mcp.CallToolRequest) (registry, name string, err error) {
	registry, err = requireString(req, "registry")
	if err != nil {
		return "", "", trace.Wrap(err)
	}
	name, err = requireString(req, "name")
	if err != nil {
		return "", "", trace.Wrap(err)
	}
	return registry, name, nil
}
