package extract

import (
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// blockTags start a new line in rendered text, mirroring how the browser
// lays out innerText for the card markup of the flow view.
var blockTags = map[string]struct{}{
	"address": {}, "article": {}, "aside": {}, "blockquote": {}, "dd": {}, "div": {},
	"dl": {}, "dt": {}, "fieldset": {}, "figcaption": {}, "figure": {}, "footer": {},
	"form": {}, "h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {}, "header": {},
	"hr": {}, "li": {}, "main": {}, "nav": {}, "ol": {}, "p": {}, "pre": {}, "section": {},
	"table": {}, "tbody": {}, "td": {}, "th": {}, "thead": {}, "tr": {}, "ul": {},
}

var skipTags = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "template": {}, "svg": {}, "head": {},
}

// SkipSelector returns a selector group matching every element whose
// content is never rendered as text. The live-page reader applies it too,
// so both paths see the same elements.
func SkipSelector() string {
	tags := make([]string, 0, len(skipTags))
	for t := range skipTags {
		tags = append(tags, t)
	}
	slices.Sort(tags)
	return strings.Join(tags, ", ")
}

// skipped reports whether n or one of its ancestors is a skipped tag.
func skipped(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if _, skip := skipTags[n.Data]; skip {
			return true
		}
	}
	return false
}

var reSpaces = regexp.MustCompile(`[ \t\r\f\v\x{00a0}]+`)

// ElementTexts parses rendered HTML and returns an innerText approximation
// for every element inside <body>, in document order. It is the fallback
// used when the element texts cannot be read from the live page.
func ElementTexts(rawHTML string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	var texts []string
	doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		if skipped(n) {
			return
		}
		texts = append(texts, innerText(n))
	})
	return texts, nil
}

func innerText(root *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(strings.ReplaceAll(n.Data, "\n", " "))
		case html.ElementNode:
			if _, skip := skipTags[n.Data]; skip {
				return
			}
			if n.Data == "br" {
				b.WriteByte('\n')
				return
			}
			_, block := blockTags[n.Data]
			if block && n != root {
				b.WriteByte('\n')
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
			if block && n != root {
				b.WriteByte('\n')
			}
		}
	}
	walk(root)

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(reSpaces.ReplaceAllString(l, " "))
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
