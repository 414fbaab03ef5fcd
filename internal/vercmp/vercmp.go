// Package vercmp orders loosely formatted version strings such as
// "1.20.1", "0.5.3-beta.2" or "1.0.0+build".
package vercmp

import (
	"strconv"
	"strings"
)

// Compare returns -1, 0 or +1 depending on whether a sorts before, equal to
// or after b.
//
// Both strings are split on '.' and '-'. Empty tokens between separators
// are kept and trailing empty tokens dropped, so "1..2" is {"1", "", "2"}.
// Tokens are compared left to right, the shorter sequence padded with "0".
// A token pair is compared numerically when both parse as 32-bit integers
// and lexicographically otherwise. The first unequal pair decides.
func Compare(a, b string) int {
	ta, tb := tokens(a), tokens(b)

	n := max(len(ta), len(tb))
	for i := 0; i < n; i++ {
		if c := compareToken(at(ta, i), at(tb, i)); c != 0 {
			return c
		}
	}
	return 0
}

// MaxIndex returns the index of the highest version, or -1 for an empty
// slice. Among equal maxima the first one wins.
func MaxIndex(versions []string) int {
	best := -1
	for i, v := range versions {
		if best < 0 || Compare(v, versions[best]) > 0 {
			best = i
		}
	}
	return best
}

func tokens(v string) []string {
	if v == "" {
		return []string{""}
	}
	t := strings.Split(strings.ReplaceAll(v, "-", "."), ".")
	for len(t) > 0 && t[len(t)-1] == "" {
		t = t[:len(t)-1]
	}
	return t
}

func at(t []string, i int) string {
	if i < len(t) {
		return t[i]
	}
	return "0"
}

func compareToken(a, b string) int {
	na, errA := strconv.ParseInt(a, 10, 32)
	nb, errB := strconv.ParseInt(b, 10, 32)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}
