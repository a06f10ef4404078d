package loader

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	droppedElements = "script, style, noscript, template, svg, iframe"
	blockElements   = "p, div, li, h1, h2, h3, h4, h5, h6, tr, section, article, header, footer, " +
		"blockquote, pre, table, ul, ol, dd, dt"
)

type page struct {
	title       string
	description string
	language    string
	text        string
	html        string
}

func parsePage(body []byte) (page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return page{}, err
	}

	var p page

	p.title = strings.TrimSpace(doc.Find("title").First().Text())
	if p.title == "" {
		p.title = strings.TrimSpace(doc.Find("meta[property='og:title']").AttrOr("content", ""))
	}

	p.description = strings.TrimSpace(doc.Find("meta[name='description']").AttrOr("content", ""))
	if p.description == "" {
		p.description = strings.TrimSpace(doc.Find("meta[property='og:description']").AttrOr("content", ""))
	}

	p.language = strings.TrimSpace(doc.Find("html").AttrOr("lang", ""))

	doc.Find(droppedElements).Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	if p.html, err = root.Html(); err != nil {
		return page{}, err
	}

	root.Find("br").Each(func(_ int, br *goquery.Selection) {
		br.ReplaceWithHtml("\n")
	})
	root.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	p.text = normalizeText(root.Text())

	return p, nil
}

// htmlFragmentText strips markup from an HTML snippet such as a feed item body.
func htmlFragmentText(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return normalizeText(fragment)
	}

	doc.Find(droppedElements).Remove()
	doc.Find("br").Each(func(_ int, br *goquery.Selection) {
		br.ReplaceWithHtml("\n")
	})
	doc.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	return normalizeText(doc.Text())
}

// normalizeText collapses whitespace inside lines and drops blank lines.
func normalizeText(text string) string {
	lines := strings.Split(text, "\n")
	result := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			result = append(result, line)
		}
	}

	return strings.Join(result, "\n")
}
