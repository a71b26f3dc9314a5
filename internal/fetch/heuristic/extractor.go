package heuristic

import (
	"bytes"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/newsloom/extractor/internal/extract"
	"github.com/newsloom/extractor/internal/fetch/structured"
)

// boilerplateSelectors name the chrome stripped before scoring. Matching the
// usual suspects here is what keeps navs and footers out of the body text.
var boilerplateSelectors = []string{
	"script", "style", "noscript", "iframe", "svg",
	"nav", "header", "footer", "aside", "form",
	".nav", ".navbar", ".menu", ".sidebar", ".footer",
	".comments", ".comment", ".related", ".share", ".social",
	"[role=navigation]", "[role=banner]", "[role=contentinfo]",
}

// containerSelectors are tried in priority order; the first selector whose
// best match clears the density bar wins.
var containerSelectors = []string{
	"article",
	"[itemprop=articleBody]",
	".article-body", ".article-content", ".post-content",
	".entry-content", ".story-body", "main", "#content", "body",
}

// ExtractArticle scores candidate containers by paragraph mass and returns
// the densest one as an article, or nil when nothing clears the bar.
func ExtractArticle(body []byte, minBodyRunes int) *extract.Article {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	title := pageTitle(doc)
	if title == "" {
		return nil
	}

	for _, selector := range boilerplateSelectors {
		doc.Find(selector).Remove()
	}

	bodyText := bestContainerText(doc, minBodyRunes)
	if bodyText == "" {
		return nil
	}

	return &extract.Article{
		Title:       title,
		Author:      byline(doc),
		PublishedAt: publishedAt(doc),
		BodyText:    bodyText,
	}
}

func bestContainerText(doc *goquery.Document, minBodyRunes int) string {
	for _, selector := range containerSelectors {
		var bestText string
		var bestScore int
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			text, score := paragraphMass(sel)
			if score > bestScore {
				bestText, bestScore = text, score
			}
		})
		if bestScore >= minBodyRunes {
			return bestText
		}
	}
	return ""
}

// paragraphMass joins a container's paragraph text and scores it by rune
// count, skipping fragments too short to be prose.
func paragraphMass(sel *goquery.Selection) (string, int) {
	var parts []string
	score := 0
	sel.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(p.Text())
		runes := utf8.RuneCountInString(text)
		if runes < 25 {
			return
		}
		parts = append(parts, text)
		score += runes
	})
	return strings.Join(parts, "\n\n"), score
}

func pageTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", "")); t != "" {
		return t
	}
	if t := strings.TrimSpace(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	// Site names ride along after a separator; keep the headline part.
	for _, sep := range []string{" | ", " - ", " — "} {
		if idx := strings.Index(title, sep); idx > 0 {
			title = title[:idx]
			break
		}
	}
	return strings.TrimSpace(title)
}

func byline(doc *goquery.Document) string {
	if a := strings.TrimSpace(doc.Find(`meta[name="author"]`).AttrOr("content", "")); a != "" {
		return a
	}
	for _, selector := range []string{"[rel=author]", ".byline", ".author", "[itemprop=author]"} {
		if a := strings.TrimSpace(doc.Find(selector).First().Text()); a != "" {
			return strings.TrimSpace(strings.TrimPrefix(a, "By "))
		}
	}
	return ""
}

func publishedAt(doc *goquery.Document) *time.Time {
	candidates := []string{
		doc.Find(`meta[property="article:published_time"]`).AttrOr("content", ""),
		doc.Find("time[datetime]").First().AttrOr("datetime", ""),
	}
	for _, value := range candidates {
		if t := structured.ParseTime(value); t != nil {
			return t
		}
	}
	return nil
}
