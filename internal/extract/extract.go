package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const textSelector = "p, li"

// Text returns the trimmed text of every paragraph and list item inside
// block, in document order, one per line. An empty result means there is
// nothing to summarize.
func Text(block *goquery.Selection) string {
	if block == nil {
		return ""
	}

	var lines []string

	block.Find(textSelector).Each(func(_ int, s *goquery.Selection) {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			return
		}

		lines = append(lines, line)
	})

	return strings.Join(lines, "\n")
}
