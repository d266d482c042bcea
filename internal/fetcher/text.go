package fetcher

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var hiddenElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
	"iframe":   true,
}

// VisibleText returns the trimmed, non-blank text nodes of doc joined by newlines.
func VisibleText(doc string) (string, error) {
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var lines []string
	collectText(parsed.Selection, &lines)
	return strings.Join(lines, "\n"), nil
}

func collectText(sel *goquery.Selection, lines *[]string) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		switch node.Type {
		case html.TextNode:
			if t := strings.TrimSpace(node.Data); t != "" {
				*lines = append(*lines, t)
			}
		case html.ElementNode:
			if hiddenElements[node.Data] {
				return
			}
			collectText(s, lines)
		case html.DocumentNode:
			collectText(s, lines)
		}
	})
}
