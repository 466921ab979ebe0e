package detect

import "strings"

// MatchPattern reports whether value matches a case-insensitive wildcard
// pattern over the whole string. '*' matches any run of characters, '?'
// matches exactly one. An empty pattern matches only an empty value.
func MatchPattern(pattern, value string) bool {
	p := strings.ToLower(pattern)
	v := strings.ToLower(value)

	pi, vi := 0, 0
	star, mark := -1, 0
	for vi < len(v) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == v[vi]):
			pi++
			vi++
		case pi < len(p) && p[pi] == '*':
			star, mark = pi, vi
			pi++
		case star >= 0:
			// Backtrack: extend the last '*' by one character.
			pi = star + 1
			mark++
			vi = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
