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

package direct

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/gravitational/trace"

	"github.com/quiltdata/quilt-mcp-server/lib/quiltops"
)

// manifestVersion tags the on-disk manifest layout.
const manifestVersion = "v0"

// manifestHeader is the first JSON line of a stored manifest.
type manifestHeader struct {
	Version  string         `json:"version"`
	Message  string         `json:"message,omitempty"`
	UserMeta map[string]any `json:"user_meta,omitempty"`
}

// manifestEntry is one JSON line per package entry.
type manifestEntry struct {
	LogicalKey   string        `json:"logical_key"`
	PhysicalKeys []string      `json:"physical_keys"`
	Size         int64         `json:"size"`
	Hash         *manifestHash `json:"hash,omitempty"`
}

type manifestHash struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// encodeManifest serializes a manifest as JSON lines: one header line then
// one line per entry sorted by logical path. The byte stream is
// deterministic, so the same logical content always hashes to the same top
// hash regardless of input order.
func encodeManifest(m *quiltops.Manifest) ([]byte, error) {
	entries := make([]quiltops.ManifestEntry, len(m.Entries))
	copy(entries, m.Entries)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LogicalPath < entries[j].LogicalPath
	})

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(manifestHeader{
		Version:  manifestVersion,
		Message:  m.Message,
		UserMeta: m.Metadata,
	}); err != nil {
		return nil, trace.Wrap(err)
	}
	for _, e := range entries {
		line := manifestEntry{
			LogicalKey:   e.LogicalPath,
			PhysicalKeys: []string{e.PhysicalURI},
			Size:         e.Size,
		}
		if e.Hash != "" {
			line.Hash = &manifestHash{Type: "SHA256", Value: e.Hash}
		}
		if err := enc.Encode(line); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return buf.Bytes(), nil
}

// decodeManifest parses a stored manifest.
func decodeManifest(data []byte) (*quiltops.Manifest, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	if !scanner.Scan() {
		return nil, trace.BadParameter("manifest is empty")
	}
	var header manifestHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return nil, trace.BadParameter("manifest header is malformed: %v", err)
	}

	m := &quiltops.Manifest{
		Message:  header.Message,
		Metadata: header.UserMeta,
		Entries:  []quiltops.ManifestEntry{},
	}
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var line manifestEntry
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return nil, trace.BadParameter("manifest entry is malformed: %v", err)
		}
		entry := quiltops.ManifestEntry{
			LogicalPath: line.LogicalKey,
			Size:        line.Size,
		}
		if len(line.PhysicalKeys) > 0 {
			entry.PhysicalURI = line.PhysicalKeys[0]
		}
		if line.Hash != nil {
			entry.Hash = line.Hash.Value
		}
		m.Entries = append(m.Entries, entry)
	}
	return m, trace.Wrap(scanner.Err())
}

// topHash is the hex SHA-256 of the canonical manifest bytes.
func topHash(encoded []byte) string {
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
