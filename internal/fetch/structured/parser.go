package structured

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/newsloom/extractor/internal/extract"
)

// jsonLDDoc is a loose decoding target for schema.org article markup.
type jsonLDDoc struct {
	Type          any         `json:"@type"`
	Graph         []jsonLDDoc `json:"@graph"`
	Headline      string      `json:"headline"`
	ArticleBody   string      `json:"articleBody"`
	DatePublished string      `json:"datePublished"`
	Author        any         `json:"author"`
}

var articleTypes = map[string]bool{
	"Article":              true,
	"NewsArticle":          true,
	"ReportageNewsArticle": true,
	"BlogPosting":          true,
}

// parseStructured extracts an article from structured metadata: JSON-LD
// first, OpenGraph/meta plus the <article> element as fallback. Returns nil
// when the page carries nothing usable; heuristics belong to the next
// cascade method.
func parseStructured(body []byte) *extract.Article {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	article := parseJSONLD(doc)
	if article == nil {
		article = &extract.Article{}
	}

	if article.Title == "" {
		article.Title = strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	}
	if article.Author == "" {
		article.Author = strings.TrimSpace(doc.Find(`meta[name="author"]`).AttrOr("content", ""))
	}
	if article.PublishedAt == nil {
		if t := ParseTime(doc.Find(`meta[property="article:published_time"]`).AttrOr("content", "")); t != nil {
			article.PublishedAt = t
		}
	}
	if article.BodyText == "" {
		article.BodyText = paragraphText(doc.Find("article").First())
	}

	if article.BodyText == "" || article.Title == "" {
		return nil
	}
	return article
}

func parseJSONLD(doc *goquery.Document) *extract.Article {
	var found *extract.Article
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var ld jsonLDDoc
		if err := json.Unmarshal([]byte(sel.Text()), &ld); err != nil {
			return true
		}
		for _, node := range append([]jsonLDDoc{ld}, ld.Graph...) {
			if !isArticleType(node.Type) {
				continue
			}
			found = &extract.Article{
				Title:       strings.TrimSpace(node.Headline),
				BodyText:    strings.TrimSpace(node.ArticleBody),
				Author:      authorName(node.Author),
				PublishedAt: ParseTime(node.DatePublished),
			}
			return false
		}
		return true
	})
	return found
}

func isArticleType(t any) bool {
	switch v := t.(type) {
	case string:
		return articleTypes[v]
	case []any:
		for _, entry := range v {
			if s, ok := entry.(string); ok && articleTypes[s] {
				return true
			}
		}
	}
	return false
}

// authorName handles the schema.org author shapes seen in the wild: a bare
// string, a Person object, or a list of either.
func authorName(author any) string {
	switch v := author.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if name, ok := v["name"].(string); ok {
			return strings.TrimSpace(name)
		}
	case []any:
		for _, entry := range v {
			if name := authorName(entry); name != "" {
				return name
			}
		}
	}
	return ""
}

// ParseTime parses the publication timestamp formats seen in article
// metadata, returning nil when the value does not parse.
func ParseTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func paragraphText(sel *goquery.Selection) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	var parts []string
	sel.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(p.Text())
		if text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}
