package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"github.com/deusflow/newsdigest/internal/news"
)

// MaxBlurbChars caps listing blurbs.
const MaxBlurbChars = 200

// ExtractListing reads article stubs from an HTML listing page using the
// source's selectors. Stubs come back in document order with links resolved
// against base. Zero matching items is a valid, empty result; items that all
// lack a headline or link mean the markup changed and yield a ParseError.
func ExtractListing(raw []byte, rules news.ExtractionRules, base *url.URL) ([]news.Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &news.ParseError{Source: hostOf(base), Reason: "unreadable html", Err: err}
	}

	items := doc.Find(rules.Item)
	if items.Length() == 0 {
		return nil, nil
	}

	var out []news.Article
	seen := make(map[string]struct{})
	items.Each(func(_ int, item *goquery.Selection) {
		link := resolveLink(base, linkHref(item, rules.Link))
		if link == "" {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}

		title := selectText(item, rules.Headline)
		if title == "" && rules.Link != "" {
			title = normalizeWhitespace(item.Find(rules.Link).First().Text())
		}
		if title == "" {
			return
		}
		seen[link] = struct{}{}

		a := news.Article{
			URL:      link,
			Title:    title,
			Position: len(out),
			Byline:   selectText(item, rules.Byline),
			Blurb:    CleanBlurb(selectText(item, rules.Blurb), MaxBlurbChars),
		}
		if ts := publishedAt(item, rules.Published); ts != nil {
			a.PublishedAt = ts
		}
		out = append(out, a)
	})

	if len(out) == 0 {
		return nil, &news.ParseError{
			Source: hostOf(base),
			Reason: fmt.Sprintf("%d items matched %q but none had a headline and link", items.Length(), rules.Item),
		}
	}
	return out, nil
}

func linkHref(item *goquery.Selection, selector string) string {
	sel := item
	if selector != "" {
		sel = item.Find(selector).First()
	}
	href, _ := sel.Attr("href")
	return strings.TrimSpace(href)
}

func resolveLink(base *url.URL, href string) string {
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func selectText(item *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return normalizeWhitespace(item.Find(selector).First().Text())
}

// publishedAt prefers a datetime attribute over the element text.
func publishedAt(item *goquery.Selection, selector string) *time.Time {
	if selector == "" {
		return nil
	}
	sel := item.Find(selector).First()
	if sel.Length() == 0 {
		return nil
	}
	candidates := []string{sel.AttrOr("datetime", ""), sel.AttrOr("content", ""), sel.Text()}
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if t, err := dateparse.ParseAny(c); err == nil {
			return &t
		}
	}
	return nil
}

func hostOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Host
}
