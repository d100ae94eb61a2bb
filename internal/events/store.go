package events

import (
	"sync"
	"time"

	"threatmap/internal/model"
)

// Entry is one attack event together with where and when it was received.
type Entry struct {
	Source     string            `json:"source"`
	ReceivedAt time.Time         `json:"received_at"`
	Event      model.AttackEvent `json:"event"`
}

// Store keeps the most recent attack events, the latest articles and the latest
// malicious-address list.
type Store struct {
	mu        sync.RWMutex
	buf       []Entry
	limit     int
	articles  []model.Article
	artLimit  int
	addresses []string
	addrAt    time.Time
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit, artLimit: 500}
}

func (s *Store) Add(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(entry)
}

func (s *Store) add(entry Entry) {
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, entry)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = entry
}

// Ingest records the contents of an ok batch. Failed and unchanged batches carry nothing new.
func (s *Store) Ingest(b model.Batch) {
	if b.Status != model.StatusOK {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch b.Kind {
	case model.KindAttacks:
		for _, ev := range b.Events {
			s.add(Entry{Source: b.Source, ReceivedAt: b.FetchedAt, Event: ev.Clone()})
		}
	case model.KindArticles:
		for _, a := range b.Articles {
			s.articles = append(s.articles, a.Clone())
		}
		if over := len(s.articles) - s.artLimit; over > 0 {
			s.articles = append([]model.Article(nil), s.articles[over:]...)
		}
	case model.KindAddresses:
		s.addresses = append([]string(nil), b.Addresses...)
		s.addrAt = b.FetchedAt
	}
}

// List returns up to limit of the newest entries, oldest first. limit <= 0 returns everything.
func (s *Store) List(limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]Entry, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range s.buf {
		if !e.ReceivedAt.Before(ts) {
			out = append(out, e)
		}
	}
	return out
}

// Events returns the bare events of List(limit).
func (s *Store) Events(limit int) []model.AttackEvent {
	entries := s.List(limit)
	out := make([]model.AttackEvent, len(entries))
	for i, e := range entries {
		out[i] = e.Event
	}
	return out
}

// Articles returns the retained articles, newest first.
func (s *Store) Articles() []model.Article {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Article, 0, len(s.articles))
	for i := len(s.articles) - 1; i >= 0; i-- {
		out = append(out, s.articles[i])
	}
	return out
}

func (s *Store) Addresses() ([]string, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.addresses...), s.addrAt
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	s.articles = nil
	s.addresses = nil
	s.addrAt = time.Time{}
}
