package rss

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsdigest/internal/news"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>CBC | Canada News</title>
  <item>
    <title>Wildfire season starts early</title>
    <link>https://www.cbc.ca/news/canada/wildfire-1.7000001</link>
    <description><![CDATA[<img src="x.jpg"/><p>Crews are <b>already</b> deployed.</p>]]></description>
    <pubDate>Tue, 05 Mar 2024 10:15:00 GMT</pubDate>
    <dc:creator>Jane Reporter</dc:creator>
  </item>
  <item>
    <title></title>
    <link>https://www.cbc.ca/news/canada/untitled-1.7000002</link>
  </item>
  <item>
    <title>No link</title>
  </item>
  <item>
    <title>Wildfire season starts early (dup)</title>
    <link>https://www.cbc.ca/news/canada/wildfire-1.7000001</link>
  </item>
</channel>
</rss>`

func TestParseListingRSS(t *testing.T) {
	articles, err := ParseListing([]byte(feedXML), "CBC News Canada")
	require.NoError(t, err)
	require.Len(t, articles, 2)

	a := articles[0]
	assert.Equal(t, "Wildfire season starts early", a.Title)
	assert.Equal(t, "CBC News Canada", a.Source)
	assert.Equal(t, "Crews are already deployed.", a.Blurb)
	assert.Equal(t, "Jane Reporter", a.Byline)
	require.NotNil(t, a.PublishedAt)
	assert.Equal(t, 2024, a.PublishedAt.Year())

	assert.Equal(t, untitled, articles[1].Title)
	assert.Equal(t, 1, articles[1].Position)
	assert.Nil(t, articles[1].PublishedAt)
}

func TestParseListingAtom(t *testing.T) {
	atom := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>World</title>
  <entry>
    <title>Summit ends</title>
    <link href="https://example.com/summit"/>
    <summary>Leaders agreed on a statement.</summary>
    <updated>2024-03-05T10:15:00Z</updated>
  </entry>
</feed>`

	articles, err := ParseListing([]byte(atom), "Example")
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "https://example.com/summit", articles[0].URL)
	assert.Equal(t, "Leaders agreed on a statement.", articles[0].Blurb)
	assert.NotNil(t, articles[0].PublishedAt)
}

func TestParseListingLongBlurbIsCapped(t *testing.T) {
	feed := `<rss version="2.0"><channel><item><title>T</title><link>https://e.com/a</link><description>` +
		strings.Repeat("lorem ipsum ", 60) + `</description></item></channel></rss>`

	articles, err := ParseListing([]byte(feed), "E")
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.True(t, strings.HasSuffix(articles[0].Blurb, "..."))
	assert.LessOrEqual(t, len(articles[0].Blurb), 203)
}

func TestParseListingEmptyFeed(t *testing.T) {
	articles, err := ParseListing([]byte(`<rss version="2.0"><channel><title>x</title></channel></rss>`), "E")
	assert.NoError(t, err)
	assert.Empty(t, articles)
}

func TestParseListingGarbage(t *testing.T) {
	_, err := ParseListing([]byte("<html><body>Service Unavailable</body></html>"), "E")

	var pe *news.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "E", pe.Source)
}
