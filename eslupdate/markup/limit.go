// Package markup handles the restricted bold markup used in label text.
//
// Label lines may wrap runs of text in paired "**" markers to request bold
// rendering. Markers never count towards a line's visible length, so the
// limiter and the presentation mapper both scan for them explicitly.
package markup

import "strings"

// Marker opens and closes a bold span.
const Marker = "**"

// Limit truncates raw so that at most limit visible runes remain once markers
// are stripped. Markers are copied intact and never split. The scan stops at
// the first visible rune past the limit, so markers found before that point
// survive even when the limit has already been reached. An opened marker whose
// closing pair falls after the cutoff is left unclosed.
//
// A negative limit disables truncation.
func Limit(raw string, limit int) string {
	if limit < 0 || VisibleLen(raw) <= limit {
		return raw
	}

	rs := []rune(raw)
	var b strings.Builder
	b.Grow(len(raw))
	visible := 0
	for i := 0; i < len(rs); i++ {
		if isMarker(rs, i) {
			b.WriteString(Marker)
			i++
			continue
		}
		if visible >= limit {
			break
		}
		b.WriteRune(rs[i])
		visible++
	}
	return b.String()
}

// VisibleLen reports the number of runes left in s after removing every
// marker, pairing asterisks left to right.
func VisibleLen(s string) int {
	rs := []rune(s)
	n := 0
	for i := 0; i < len(rs); i++ {
		if isMarker(rs, i) {
			i++
			continue
		}
		n++
	}
	return n
}

// Strip removes every marker from s.
func Strip(s string) string {
	return strings.ReplaceAll(s, Marker, "")
}

func isMarker(rs []rune, i int) bool {
	return rs[i] == '*' && i+1 < len(rs) && rs[i+1] == '*'
}
