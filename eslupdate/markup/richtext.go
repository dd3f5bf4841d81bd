package markup

import (
	"html"
	"regexp"
	"strings"
)

// boldPair matches the shortest "**text**" run on a single line.
var boldPair = regexp.MustCompile(`\*\*(.*?)\*\*`)

// Span is a run of text sharing one style.
type Span struct {
	Text string
	Bold bool
}

// Parse splits s into plain and bold spans. Only well-formed, non-nested
// pairs are recognized; anything else stays literal, asterisks included.
// Empty bold pairs ("****") produce no span.
func Parse(s string) []Span {
	var spans []Span
	last := 0
	for _, m := range boldPair.FindAllStringSubmatchIndex(s, -1) {
		if m[0] > last {
			spans = append(spans, Span{Text: s[last:m[0]]})
		}
		if m[3] > m[2] {
			spans = append(spans, Span{Text: s[m[2]:m[3]], Bold: true})
		}
		last = m[1]
	}
	if last < len(s) {
		spans = append(spans, Span{Text: s[last:]})
	}
	return spans
}

// HTML renders s for on-screen preview, wrapping bold spans in <strong>.
func HTML(s string) string {
	var b strings.Builder
	for _, sp := range Parse(s) {
		if sp.Bold {
			b.WriteString("<strong>")
			b.WriteString(html.EscapeString(sp.Text))
			b.WriteString("</strong>")
			continue
		}
		b.WriteString(html.EscapeString(sp.Text))
	}
	return b.String()
}
