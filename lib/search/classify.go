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
	"regexp"
	"strings"
)

// QueryClass is the classifier's verdict on a query string. The rules are
// deterministic: the same text always classifies the same way.
type QueryClass string

const (
	// ClassTextSearch is free-text lookup.
	ClassTextSearch QueryClass = "text-search"
	// ClassFileTypeFilter asks for files by extension.
	ClassFileTypeFilter QueryClass = "file-type-filter"
	// ClassMetadataPredicate filters on package metadata fields.
	ClassMetadataPredicate QueryClass = "metadata-predicate"
	// ClassAnalytical wants aggregation and belongs in SQL, not search.
	ClassAnalytical QueryClass = "analytical"
)

var (
	// extensionPattern matches "*.csv", ".csv files", "ext:csv" forms.
	extensionPattern = regexp.MustCompile(`(?i)(\*\.\w+|\bext:\w+|\.\w{1,6}\s+files?\b)`)
	// predicatePattern matches "field:value", "field=value" and
	// comparison forms used against metadata.
	predicatePattern = regexp.MustCompile(`(?i)\b[\w.]+\s*(:|=|>=|<=|>|<)\s*[\w"'][\w."'-]*`)
	// analyticalPattern matches aggregation wording as whole words, so
	// "accountant" or "discounted" do not read as count.
	analyticalPattern = regexp.MustCompile(`(?i)\b(count|sum|average|avg|min|max|aggregate|distinct|group by|how many|total number)\b`)
)

// Classify buckets a query string by shape. Order matters: aggregation
// wording wins over predicates, predicates over extension filters.
func Classify(text string) QueryClass {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return ClassTextSearch
	}
	if analyticalPattern.MatchString(t) {
		return ClassAnalytical
	}
	if extensionPattern.MatchString(t) {
		return ClassFileTypeFilter
	}
	if predicatePattern.MatchString(t) {
		return ClassMetadataPredicate
	}
	return ClassTextSearch
}

// Extension extracts the file extension a file-type query asks for, with
// no leading dot; empty when none is recognizable.
func Extension(text string) string {
	t := strings.ToLower(text)
	if m := regexp.MustCompile(`\*\.(\w+)`).FindStringSubmatch(t); m != nil {
		return m[1]
	}
	if m := regexp.MustCompile(`\bext:(\w+)`).FindStringSubmatch(t); m != nil {
		return m[1]
	}
	if m := regexp.MustCompile(`\.(\w{1,6})\s+files?\b`).FindStringSubmatch(t); m != nil {
		return m[1]
	}
	return ""
}
