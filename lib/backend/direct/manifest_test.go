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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quiltdata/quilt-mcp-server/lib/quiltops"
)

func TestManifestRoundtrip(t *testing.T) {
	m := &quiltops.Manifest{
		Message:  "initial import",
		Metadata: map[string]any{"project": "demo"},
		Entries: []quiltops.ManifestEntry{
			{LogicalPath: "data/b.csv", PhysicalURI: "s3://bkt/ns/pkg/data/b.csv", Size: 20},
			{LogicalPath: "data/a.csv", PhysicalURI: "s3://bkt/ns/pkg/data/a.csv", Size: 10, Hash: "abc123"},
		},
	}

	encoded, err := encodeManifest(m)
	require.NoError(t, err)

	decoded, err := decodeManifest(encoded)
	require.NoError(t, err)
	require.Equal(t, "initial import", decoded.Message)
	require.Equal(t, map[string]any{"project": "demo"}, decoded.Metadata)
	require.Len(t, decoded.Entries, 2)

	// Entries come back sorted by logical path.
	require.Equal(t, "data/a.csv", decoded.Entries[0].LogicalPath)
	require.Equal(t, "abc123", decoded.Entries[0].Hash)
	require.Equal(t, "data/b.csv", decoded.Entries[1].LogicalPath)
	require.Empty(t, decoded.Entries[1].Hash)
}

func TestTopHashInsensitiveToEntryOrder(t *testing.T) {
	a := quiltops.ManifestEntry{LogicalPath: "a", PhysicalURI: "s3://b/a", Size: 1}
	b := quiltops.ManifestEntry{LogicalPath: "b", PhysicalURI: "s3://b/b", Size: 2}

	enc1, err := encodeManifest(&quiltops.Manifest{Entries: []quiltops.ManifestEntry{a, b}})
	require.NoError(t, err)
	enc2, err := encodeManifest(&quiltops.Manifest{Entries: []quiltops.ManifestEntry{b, a}})
	require.NoError(t, err)

	require.Equal(t, enc1, enc2)
	require.Equal(t, topHash(enc1), topHash(enc2))
	require.Len(t, topHash(enc1), 64)
}

func TestTopHashChangesWithContent(t *testing.T) {
	enc1, err := encodeManifest(&quiltops.Manifest{Entries: []quiltops.ManifestEntry{
		{LogicalPath: "a", PhysicalURI: "s3://b/a", Size: 1},
	}})
	require.NoError(t, err)
	enc2, err := encodeManifest(&quiltops.Manifest{Entries: []quiltops.ManifestEntry{
		{LogicalPath: "a", PhysicalURI: "s3://b/a", Size: 2},
	}})
	require.NoError(t, err)
	require.NotEqual(t, topHash(enc1), topHash(enc2))
}

func TestDecodeManifestRejectsMalformed(t *testing.T) {
	_, err := decodeManifest(nil)
	require.Error(t, err)

	_, err = decodeManifest([]byte("not json\n"))
	require.Error(t, err)

	_, err = decodeManifest([]byte(`{"version":"v0"}` + "\n" + "broken entry\n"))
	require.Error(t, err)
}

func TestDecodeManifestSkipsBlankLines(t *testing.T) {
	m, err := decodeManifest([]byte(`{"version":"v0","message":"m"}` + "\n\n" +
		`{"logical_key":"a","physical_keys":["s3://b/a"],"size":1}` + "\n"))
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	require.Equal(t, "s3://b/a", m.Entries[0].PhysicalURI)
}
