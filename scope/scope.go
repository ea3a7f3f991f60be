// Package scope parses and compares OAuth scope strings.
//
// A scope string is a space-delimited set of opaque atoms whose order is
// irrelevant. Comparisons are exact-atom membership tests: "read" is never
// satisfied by "readonly". Substring matching is a known source of privilege
// escalation and is deliberately not offered.
package scope

import "strings"

// Parse splits a scope string into its atoms. Duplicate atoms are collapsed
// and order of first appearance is preserved. An empty or all-whitespace
// string yields a nil slice.
func Parse(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(fields))
	atoms := fields[:0]
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		atoms = append(atoms, f)
	}
	return atoms
}

// Join assembles atoms back into a wire-format scope string.
func Join(atoms []string) string {
	return strings.Join(atoms, " ")
}

// Contains reports whether every atom of required appears in granted.
// Both arguments are wire-format scope strings. An empty required scope is
// contained in any granted scope, including an empty one.
func Contains(granted, required string) bool {
	return Subset(Parse(required), Parse(granted))
}

// Subset reports whether every atom of required appears in granted.
func Subset(required, granted []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		set[g] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
