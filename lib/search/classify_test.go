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

package search

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want QueryClass
	}{
		{"", ClassTextSearch},
		{"sales report 2024", ClassTextSearch},
		{"genome sequencing data", ClassTextSearch},

		// Aggregation words count only as whole tokens.
		{"accountant resumes", ClassTextSearch},
		{"discounted prices", ClassTextSearch},
		{"county census data", ClassTextSearch},
		{"summary of findings", ClassTextSearch},

		{"*.csv", ClassFileTypeFilter},
		{"find *.parquet in the raw bucket", ClassFileTypeFilter},
		{"ext:json", ClassFileTypeFilter},
		{".csv files about revenue", ClassFileTypeFilter},

		{"author:alice", ClassMetadataPredicate},
		{"size > 1000", ClassMetadataPredicate},
		{"meta.project = genomics", ClassMetadataPredicate},
		{"created >= 2024-01-01", ClassMetadataPredicate},

		{"count of packages per bucket", ClassAnalytical},
		{"how many files are in raw", ClassAnalytical},
		{"average object size by extension", ClassAnalytical},
		{"sum of sizes group by bucket", ClassAnalytical},
		{"distinct authors", ClassAnalytical},

		// Aggregation wording wins over predicate shape.
		{"count where author:alice", ClassAnalytical},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Classify(tt.text), "text %q", tt.text)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	const text = "find *.csv with author:alice"
	first := Classify(text)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, Classify(text))
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"*.csv", "csv"},
		{"find *.Parquet files", "parquet"},
		{"ext:json", "json"},
		{".tsv files about taxes", "tsv"},
		{"plain text query", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Extension(tt.text), "text %q", tt.text)
	}
}
