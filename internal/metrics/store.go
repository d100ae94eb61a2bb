package metrics

import (
	"sort"
	"sync"
	"time"

	"threatmap/internal/model"
)

const (
	StateIdle     = "idle"
	StateFetching = "fetching"
	StateParsing  = "parsing"
	StateFailed   = "failed"
	StateStopped  = "stopped"
)

// Store keeps the observable state of every connector and mirrors counters into Prometheus.
type Store struct {
	mu       sync.RWMutex
	bySource map[string]*model.SourceStats
	prom     *Prom
}

func NewStore(prom *Prom) *Store {
	return &Store{
		bySource: make(map[string]*model.SourceStats),
		prom:     prom,
	}
}

func (s *Store) Prom() *Prom {
	if s == nil {
		return nil
	}
	return s.prom
}

func (s *Store) entry(source string) *model.SourceStats {
	st, ok := s.bySource[source]
	if !ok {
		st = &model.SourceStats{Source: source, State: StateIdle}
		s.bySource[source] = st
	}
	return st
}

func (s *Store) Register(source string, kind model.BatchKind) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(source).Kind = kind
}

func (s *Store) SetState(source, state string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(source).State = state
}

// RecordFetch notes one completed fetch attempt. result is one of ok, rate_limited,
// transport, protocol or parse.
func (s *Store) RecordFetch(source, result string, err error, backoff time.Duration) {
	if s == nil {
		return
	}
	now := time.Now().UTC()
	s.mu.Lock()
	st := s.entry(source)
	st.Fetches++
	st.LastFetch = now
	st.Backoff = backoff
	if err == nil {
		st.LastSuccess = now
		st.ConsecutiveFailures = 0
		st.LastError = ""
	} else {
		st.Failures++
		st.ConsecutiveFailures++
		st.LastError = err.Error()
	}
	s.mu.Unlock()
	s.prom.fetch(source, result)
	s.prom.backoff(source, backoff)
}

func (s *Store) RecordBatch(b model.Batch) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.entry(b.Source).RecordsEmitted += b.Len()
	s.mu.Unlock()
	s.prom.batch(b)
}

func (s *Store) SetSeen(source string, n int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.entry(source).SeenIdentities = n
	s.mu.Unlock()
	s.prom.seen(source, n)
}

func (s *Store) Get(source string) (model.SourceStats, bool) {
	if s == nil {
		return model.SourceStats{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.bySource[source]
	if !ok {
		return model.SourceStats{}, false
	}
	return *st, true
}

func (s *Store) GetAll() []model.SourceStats {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SourceStats, 0, len(s.bySource))
	for _, st := range s.bySource {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

func (s *Store) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySource = make(map[string]*model.SourceStats)
}
