package rss

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/scraper"
)

const untitled = "No title"

// ParseListing turns an RSS or Atom document into article stubs in feed order.
// An empty feed is valid; a feed whose items all lack links is not.
func ParseListing(raw []byte, source string) ([]news.Article, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, &news.ParseError{Source: source, Reason: "feed not parseable", Err: err}
	}

	out := make([]news.Article, 0, len(feed.Items))
	seen := make(map[string]struct{}, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		link := itemLink(item)
		if link == "" {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}

		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = untitled
		}

		blurb := item.Description
		if blurb == "" {
			blurb = item.Content
		}

		a := news.Article{
			URL:      link,
			Title:    scraper.StripTags(title),
			Source:   source,
			Position: len(out),
			Byline:   itemByline(item),
			Blurb:    scraper.CleanBlurb(blurb, scraper.MaxBlurbChars),
		}
		switch {
		case item.PublishedParsed != nil:
			a.PublishedAt = item.PublishedParsed
		case item.UpdatedParsed != nil:
			a.PublishedAt = item.UpdatedParsed
		}
		out = append(out, a)
	}

	if len(out) == 0 && len(feed.Items) > 0 {
		return nil, &news.ParseError{
			Source: source,
			Reason: fmt.Sprintf("%d feed items but none had a link", len(feed.Items)),
		}
	}
	return out, nil
}

func itemLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	for _, l := range item.Links {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	return ""
}

func itemByline(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return strings.TrimSpace(item.Author.Name)
	}
	for _, p := range item.Authors {
		if p != nil && p.Name != "" {
			return strings.TrimSpace(p.Name)
		}
	}
	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
		return strings.TrimSpace(item.DublinCoreExt.Creator[0])
	}
	return ""
}
