package scraper

import (
	"bytes"
	"net/url"
	"strings"
	"unicode/utf8"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"

	"github.com/deusflow/newsdigest/internal/news"
)

// MinBodyChars is the length under which a body is flagged Short.
const MinBodyChars = 100

// Body is the text extracted from a detail page.
type Body struct {
	Title string
	Text  string
	// Short is set when Text is under the minimum length; callers should
	// summarize the listing blurb instead.
	Short bool
	// Method names the strategy that produced Text: rules, readability or paragraphs.
	Method string
}

// ExtractBody pulls readable text out of an article page. The source's Body
// selector wins when it matches; otherwise readability runs on a cleaned copy
// of the page, and plain paragraph scraping is the last resort.
func ExtractBody(raw []byte, pageURL *url.URL, rules news.ExtractionRules, minChars int) (Body, error) {
	if minChars <= 0 {
		minChars = MinBodyChars
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return Body{}, &news.ParseError{Source: hostOf(pageURL), Reason: "unreadable html", Err: err}
	}

	body := Body{Title: extractTitle(doc)}

	if rules.Body != "" {
		if text := selectorText(doc, rules.Body); text != "" {
			body.Text, body.Method = text, "rules"
		}
	}

	if body.Text == "" {
		stripNonContent(doc)
		if cleaned, err := doc.Html(); err == nil {
			if text := readabilityText(cleaned, pageURL); utf8.RuneCountInString(text) >= minChars {
				body.Text, body.Method = text, "readability"
			}
		}
	}

	if body.Text == "" {
		body.Text, body.Method = paragraphText(doc), "paragraphs"
	}

	body.Short = utf8.RuneCountInString(body.Text) < minChars
	return body, nil
}

func extractTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if title := normalizeWhitespace(og); title != "" {
			return title
		}
	}
	for _, selector := range []string{"h1", "title", ".article-title", ".headline"} {
		if title := normalizeWhitespace(doc.Find(selector).First().Text()); title != "" {
			return title
		}
	}
	return ""
}

func selectorText(doc *goquery.Document, selector string) string {
	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return ""
	}
	var paragraphs []string
	sel.Find("p").Each(func(_ int, s *goquery.Selection) {
		if text := normalizeWhitespace(s.Text()); text != "" && !isJunk(text) {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		return normalizeWhitespace(sel.Text())
	}
	return strings.Join(paragraphs, "\n\n")
}

func stripNonContent(doc *goquery.Document) {
	doc.Find("script, style, noscript, nav, header, footer, aside, iframe, form, svg").Remove()
	doc.Find("[class*='share'], [class*='social'], [class*='newsletter'], [class*='comment']").Remove()
}

func readabilityText(cleaned string, pageURL *url.URL) string {
	article, err := readability.FromReader(strings.NewReader(cleaned), pageURL)
	if err != nil {
		return ""
	}
	var buf strings.Builder
	if err := article.RenderText(&buf); err != nil {
		return ""
	}
	return joinParagraphs(strings.Split(buf.String(), "\n"))
}

// paragraphText scrapes <p> elements from the most specific container that
// yields at least three of them.
func paragraphText(doc *goquery.Document) string {
	selectors := []string{
		"article p",
		"[itemprop='articleBody'] p",
		".article-body p",
		".story-body p",
		".content p",
		"main p",
		"p",
	}

	var paragraphs []string
	for _, selector := range selectors {
		paragraphs = paragraphs[:0]
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			text := normalizeWhitespace(s.Text())
			if len(text) > 20 && !isJunk(text) {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) >= 3 {
			break
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

func joinParagraphs(lines []string) string {
	var out []string
	for _, line := range lines {
		if line = normalizeWhitespace(line); line != "" && !isJunk(line) {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n\n")
}

var junkIndicators = []string{
	"advertisement",
	"cookie",
	"sign up for",
	"subscribe to",
	"read more:",
	"share this",
	"follow us on",
	"all rights reserved",
}

// isJunk flags short boilerplate lines.
func isJunk(line string) bool {
	if len(line) > 160 {
		return false
	}
	lower := strings.ToLower(line)
	for _, indicator := range junkIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
