package sessions

import "strings"

// truncateTitle shortens s to at most max characters, cutting on a word
// boundary and appending an ellipsis. Newlines collapse to spaces first.
func truncateTitle(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}

	cut := s[:max]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " .,;:") + "…"
}
