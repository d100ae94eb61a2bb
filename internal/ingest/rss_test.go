package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatmap/internal/config"
	"threatmap/internal/metrics"
	"threatmap/internal/model"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Sec News</title>
<item>
  <title>New ransomware strain hits hospitals</title>
  <link>https://news.example/ransomware</link>
  <description>Attackers used phishing to gain a foothold.</description>
  <pubDate>Mon, 03 Jun 2024 10:00:00 +0000</pubDate>
</item>
<item>
  <title>Join our security webinar</title>
  <link>https://news.example/webinar</link>
  <description>Register now for a malware deep dive.</description>
</item>
<item>
  <title>Quarterly earnings call</title>
  <link>https://news.example/earnings</link>
  <description>Revenue grew.</description>
</item>
<item>
  <title>Untitled link</title>
  <description>exploit released</description>
</item>
</channel></rss>`

type memSeen struct {
	mu    sync.Mutex
	data  map[string][]string
	saves int
}

func (m *memSeen) LoadSeen(_ context.Context, source string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.data[source]...), nil
}

func (m *memSeen) SaveSeen(_ context.Context, source string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]string{}
	}
	m.data[source] = append([]string(nil), ids...)
	m.saves++
	return nil
}

func rssConfig() config.RSSConfig {
	return config.RSSConfig{Tracker: config.TrackerSet, Keywords: config.DefaultKeywords()}
}

func TestKeywordMatcher(t *testing.T) {
	m := NewKeywordMatcher(config.DefaultKeywords())

	ok, kws := m.Match("Zero-Day exploit used in phishing campaign")
	assert.True(t, ok)
	assert.Equal(t, []string{"exploit", "zero-day", "phishing"}, kws)

	ok, _ = m.Match("Hackers earn millions from malware")
	assert.False(t, ok, "exclusion terms win over primary matches")

	ok, _ = m.Match("A phishing threat")
	assert.False(t, ok, "secondary terms alone are not enough")

	ok, _ = m.Match("Cybersecurity budgets")
	assert.False(t, ok, "matching is on word boundaries")
}

func TestFeedEmitsArticleOnceAcrossCycles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	store := &memSeen{}
	feed, err := NewFeed(config.FeedConfig{Name: "secnews", URL: srv.URL}, rssConfig(), NewClient(2*time.Second, "test"), store)
	require.NoError(t, err)

	out := make(chan model.Batch, 4)
	d := NewDriver(feed, Schedule{Interval: time.Minute}, out, metrics.NewStore(nil), nil)
	_, ok := d.Cycle(context.Background())
	require.True(t, ok)
	_, ok = d.Cycle(context.Background())
	require.True(t, ok)

	first, second := <-out, <-out
	require.Len(t, first.Articles, 1)
	a := first.Articles[0]
	assert.Equal(t, "https://news.example/ransomware", a.Link)
	assert.Equal(t, "secnews", a.Feed)
	require.NotNil(t, a.Timestamp)
	assert.Equal(t, "Mon, 03 Jun 2024 10:00:00 +0000", *a.Timestamp)
	assert.Contains(t, a.Keywords, "ransomware")
	assert.Contains(t, a.Keywords, "phishing")

	assert.Equal(t, model.StatusUnchanged, second.Status)
	assert.Empty(t, second.Articles)

	assert.Equal(t, 1, store.saves, "only cycles that add links are persisted")
	assert.Equal(t, []string{"https://news.example/ransomware"}, store.data["secnews"])
}

func TestFeedHydratesSeenSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	store := &memSeen{data: map[string][]string{"secnews": {"https://news.example/ransomware"}}}
	feed, err := NewFeed(config.FeedConfig{Name: "secnews", URL: srv.URL}, rssConfig(), NewClient(2*time.Second, "test"), store)
	require.NoError(t, err)
	require.NoError(t, feed.Load(context.Background()))
	assert.Equal(t, 1, feed.SeenCount())

	body, err := feed.Fetch(context.Background())
	require.NoError(t, err)
	b, err := feed.Parse(body)
	require.NoError(t, err)
	assert.Empty(t, b.Articles)
	require.NoError(t, feed.Flush(context.Background()))
	assert.Equal(t, 0, store.saves)
}

func TestFeedPerFeedKeywordOverride(t *testing.T) {
	override := config.KeywordConfig{Primary: []string{"earnings"}}
	feed, err := NewFeed(config.FeedConfig{Name: "biz", URL: "http://unused", Keywords: &override}, rssConfig(), NewClient(time.Second, "test"), nil)
	require.NoError(t, err)
	b, err := feed.Parse([]byte(feedXML))
	require.NoError(t, err)
	require.Len(t, b.Articles, 1)
	assert.Equal(t, "https://news.example/earnings", b.Articles[0].Link)
}

func TestFeedParseError(t *testing.T) {
	feed, err := NewFeed(config.FeedConfig{Name: "bad", URL: "http://unused"}, rssConfig(), NewClient(time.Second, "test"), nil)
	require.NoError(t, err)
	_, err = feed.Parse([]byte("this is not a feed"))
	assert.Equal(t, ClassParse, Classify(err))
}
