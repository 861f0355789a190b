package pipeline

import (
	"bytes"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// Document is what extraction pulls out of a fetched page.
type Document struct {
	Title    string
	Excerpt  string
	ImageURL string
}

const maxExcerptRunes = 4000

// Extract walks the HTML once, collecting the title, the og:image
// URL, and a text excerpt with script/style content stripped. A parse
// failure yields an empty Document rather than an error; html.Parse
// is lenient and real pages are rarely well-formed anyway.
func Extract(body []byte) Document {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return Document{}
	}

	var doc Document
	var text strings.Builder
	var walk func(n *html.Node, skipText bool)
	walk = func(n *html.Node, skipText bool) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template":
				skipText = true
			case "title":
				if doc.Title == "" && n.FirstChild != nil {
					doc.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				if metaProperty(n) == "og:image" && doc.ImageURL == "" {
					doc.ImageURL = metaContent(n)
				}
				if metaProperty(n) == "og:title" && doc.Title == "" {
					doc.Title = metaContent(n)
				}
			}
		case html.TextNode:
			if !skipText {
				text.WriteString(n.Data)
				text.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, skipText)
		}
	}
	walk(root, false)

	doc.Excerpt = collapseWhitespace(text.String(), maxExcerptRunes)
	return doc
}

func metaProperty(n *html.Node) string {
	for _, a := range n.Attr {
		if a.Key == "property" || a.Key == "name" {
			return a.Val
		}
	}
	return ""
}

func metaContent(n *html.Node) string {
	for _, a := range n.Attr {
		if a.Key == "content" {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func collapseWhitespace(s string, maxRunes int) string {
	var b strings.Builder
	inSpace := true
	count := 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
				inSpace = true
				count++
			}
			continue
		}
		b.WriteRune(r)
		inSpace = false
		count++
		if count >= maxRunes {
			break
		}
	}
	return strings.TrimSpace(b.String())
}
