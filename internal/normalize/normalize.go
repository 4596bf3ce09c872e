// Package normalize turns raw article bodies into plain text and counts it.
package normalize

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Text is the normalized form of an article body
type Text struct {
	Clean          string
	WordCount      int
	CharacterCount int
}

// blockElements get whitespace around their content so adjacent blocks do not fuse words.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "figure": true, "figcaption": true, "section": true,
	"article": true, "header": true, "footer": true, "tr": true, "td": true, "th": true,
}

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
}

// Normalize cleans raw and computes its counts
func Normalize(raw string) Text {
	clean := Clean(raw)
	return Text{
		Clean:          clean,
		WordCount:      WordCount(clean),
		CharacterCount: CharacterCount(clean),
	}
}

// Clean strips markup, decodes entities and collapses whitespace runs to single spaces
func Clean(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return collapse(raw)
	}

	var b strings.Builder
	for _, n := range doc.Selection.Nodes {
		writeText(&b, n)
	}
	return collapse(b.String())
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skippedElements[n.Data] {
			return
		}
	}

	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if block {
		b.WriteByte(' ')
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// WordCount counts whitespace-separated tokens
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// CharacterCount is the length of text in characters
func CharacterCount(text string) int {
	return utf8.RuneCountInString(text)
}

// Truncate cuts text to at most limit characters without splitting a rune
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}
