// Package cmdpattern canonicalizes command names so that commands differing
// only in the order of their query components compare equal.
//
// A command is read as path[?query]. The query is split on "&", the
// components are sorted, and the result is rejoined:
//
//	get/user?by=id&admin  ->  get/user?admin&by=id
package cmdpattern

import (
	"sort"
	"strings"
)

// Normalize returns the canonical key for cmd. It is idempotent, and stable
// under any permutation of the query components. An empty query normalizes
// to the bare path.
func Normalize(cmd string) string {
	path, query, found := strings.Cut(cmd, "?")
	if !found || query == "" {
		return path
	}
	parts := strings.Split(query, "&")
	sort.Strings(parts)
	return path + "?" + strings.Join(parts, "&")
}

// Equivalent reports whether a and b normalize to the same key.
func Equivalent(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
