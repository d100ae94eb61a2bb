package ingest

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"

	"threatmap/internal/config"
	"threatmap/internal/model"
	"threatmap/internal/tracker"
)

// SeenStore persists the link-based seen-set of a source between runs.
type SeenStore interface {
	LoadSeen(ctx context.Context, source string) ([]string, error)
	SaveSeen(ctx context.Context, source string, ids []string) error
}

// KeywordMatcher decides whether an article is security news. An exclusion term rejects
// outright; otherwise at least one primary term must match.
type KeywordMatcher struct {
	primary   []term
	secondary []term
	exclude   []term
}

type term struct {
	word string
	re   *regexp.Regexp
}

func compileTerms(words []string) []term {
	out := make([]term, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		out = append(out, term{word: w, re: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)})
	}
	return out
}

func NewKeywordMatcher(kw config.KeywordConfig) *KeywordMatcher {
	return &KeywordMatcher{
		primary:   compileTerms(kw.Primary),
		secondary: compileTerms(kw.Secondary),
		exclude:   compileTerms(kw.Exclude),
	}
}

// Match returns the matched primary then secondary terms.
func (m *KeywordMatcher) Match(text string) (bool, []string) {
	for _, t := range m.exclude {
		if t.re.MatchString(text) {
			return false, nil
		}
	}
	var matches []string
	for _, t := range m.primary {
		if t.re.MatchString(text) {
			matches = append(matches, t.word)
		}
	}
	if len(matches) == 0 {
		return false, nil
	}
	for _, t := range m.secondary {
		if t.re.MatchString(text) {
			matches = append(matches, t.word)
		}
	}
	return true, matches
}

var feedHeaders = map[string]string{
	"Accept": "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5",
}

// FeedPoller follows one RSS/Atom feed and emits relevant articles it has not emitted before.
type FeedPoller struct {
	name    string
	url     string
	client  *Client
	parser  *gofeed.Parser
	matcher *KeywordMatcher
	tracker tracker.Tracker[model.Article]
	store   SeenStore
}

func NewFeed(feed config.FeedConfig, rss config.RSSConfig, client *Client, store SeenStore) (*FeedPoller, error) {
	kw := rss.Keywords
	if feed.Keywords != nil {
		kw = *feed.Keywords
	}
	tr, err := tracker.New[model.Article](rss.Tracker, tracker.ArticleLink, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", feed.Name, err)
	}
	return &FeedPoller{
		name:    feed.Name,
		url:     feed.URL,
		client:  client,
		parser:  gofeed.NewParser(),
		matcher: NewKeywordMatcher(kw),
		tracker: tr,
		store:   store,
	}, nil
}

func (f *FeedPoller) Name() string          { return f.name }
func (f *FeedPoller) Kind() model.BatchKind { return model.KindArticles }
func (f *FeedPoller) SeenCount() int        { return f.tracker.Len() }

func (f *FeedPoller) Fetch(ctx context.Context) ([]byte, error) {
	return f.client.Get(ctx, f.url, feedHeaders)
}

func (f *FeedPoller) Parse(body []byte) (model.Batch, error) {
	feed, err := f.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return model.Batch{}, &ParseError{Source: f.name, Err: err}
	}
	articles := make([]model.Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		if a, ok := f.article(item); ok {
			articles = append(articles, a)
		}
	}
	out, status := f.tracker.Filter(articles)
	b := NewBatch(f.name, model.KindArticles, status)
	b.Articles = out
	return b, nil
}

func (f *FeedPoller) article(item *gofeed.Item) (model.Article, bool) {
	if item == nil {
		return model.Article{}, false
	}
	title := strings.TrimSpace(item.Title)
	link := strings.TrimSpace(item.Link)
	if title == "" || link == "" {
		return model.Article{}, false
	}
	summary := strings.TrimSpace(item.Description)
	if summary == "" {
		summary = strings.TrimSpace(item.Content)
	}
	ok, matches := f.matcher.Match(title + " " + summary)
	if !ok {
		return model.Article{}, false
	}
	a := model.Article{Title: title, Link: link, Feed: f.name, Keywords: matches}
	if published := strings.TrimSpace(item.Published); published != "" {
		a.Timestamp = &published
	}
	return a, true
}

func (f *FeedPoller) Load(ctx context.Context) error {
	p, ok := f.tracker.(tracker.Persistent)
	if !ok || f.store == nil {
		return nil
	}
	ids, err := f.store.LoadSeen(ctx, f.name)
	if err != nil {
		return err
	}
	p.Restore(ids)
	return nil
}

// Flush writes the seen-set when the last cycle added identities.
func (f *FeedPoller) Flush(ctx context.Context) error {
	p, ok := f.tracker.(tracker.Persistent)
	if !ok || f.store == nil || !p.Dirty() {
		return nil
	}
	if err := f.store.SaveSeen(ctx, f.name, p.Snapshot()); err != nil {
		return err
	}
	p.MarkClean()
	return nil
}
