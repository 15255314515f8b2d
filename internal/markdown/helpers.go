package markdown

import (
	"html"
	"regexp"
	"strings"

	"mvdan.cc/xurls/v2"
)

var (
	boldRe = regexp.MustCompile(`\*\*(.*?)\*\*`)
	linkRe = xurls.Strict()
)

// ToHTML renders the small Markdown subset models tend to emit: **bold**,
// line breaks and bare links. Everything else is HTML-escaped.
func ToHTML(input string) string {
	var out strings.Builder

	// Links are found in the raw text so escaping cannot leak into them.
	last := 0
	for _, loc := range linkRe.FindAllStringIndex(input, -1) {
		out.WriteString(format(input[last:loc[0]]))

		link := html.EscapeString(input[loc[0]:loc[1]])
		out.WriteString(`<a href="` + link + `" rel="noopener noreferrer" target="_blank">` + link + `</a>`)

		last = loc[1]
	}
	out.WriteString(format(input[last:]))

	return out.String()
}

func format(text string) string {
	out := html.EscapeString(text)
	out = boldRe.ReplaceAllString(out, "<strong>$1</strong>")
	out = strings.ReplaceAll(out, "\r\n", "\n")

	return strings.ReplaceAll(out, "\n", "<br>")
}
