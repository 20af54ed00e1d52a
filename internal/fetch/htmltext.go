package fetch

import (
	"strings"

	"golang.org/x/net/html"
)

// Tags whose content never contributes visible prose.
var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"svg": true, "template": true, "nav": true, "aside": true,
	"footer": true, "form": true, "button": true,
}

// Tags that end a block; boundaries become newlines so sentence
// splitting sees them.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "section": true, "article": true, "td": true,
}

// ExtractText parses HTML and returns the document title and the
// visible text with block boundaries preserved as newlines.
func ExtractText(src string) (string, string) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", ""
	}

	title := ""
	var b strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "title" {
				if title == "" {
					title = strings.TrimSpace(textContent(n))
				}
				return
			}
			if skipTags[n.Data] {
				return
			}
			if blockTags[n.Data] {
				b.WriteByte('\n')
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			b.WriteByte('\n')
		}
	}
	walk(doc)

	return title, normalizeSpace(b.String())
}

// textContent concatenates the text nodes under n
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// normalizeSpace collapses whitespace within lines and drops empty ones
func normalizeSpace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
