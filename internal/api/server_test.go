package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatmap/internal/config"
	"threatmap/internal/events"
	"threatmap/internal/metrics"
	"threatmap/internal/model"
	"threatmap/internal/pipeline"
)

type fixture struct {
	srv    *httptest.Server
	stats  *metrics.Store
	recent *events.Store
	hub    *pipeline.Broadcaster
	in     chan model.Batch
	cancel context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.API.FrameInterval = 20 * time.Millisecond
	stats := metrics.NewStore(metrics.NewProm())
	recent := events.NewStore(100)
	hub := pipeline.NewBroadcaster(nil)
	in := make(chan model.Batch)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx, in)

	s := New(config.NewStaticManager(cfg), stats, recent, hub, nil, "test")
	f := &fixture{srv: httptest.NewServer(s.Handler()), stats: stats, recent: recent, hub: hub, in: in, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		f.srv.Close()
	})
	return f
}

func getJSON(t *testing.T, url string, dst any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dst != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp.StatusCode
}

func sp(s string) *string { return &s }

func attack(name, src, dst string) model.AttackEvent {
	return model.AttackEvent{AttackName: sp(name), AttackType: sp("Exploit"), SourceCountryCode: sp(src), DestinationCountryCode: sp(dst)}
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t)
	var health map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/health", &health))
	assert.Equal(t, "ok", health["status"])

	var status statusResponse
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/status", &status))
	assert.Equal(t, "test", status.Version)
	assert.True(t, status.Sources["checkpoint"])
	assert.Contains(t, status.Feeds, "hackernews")
}

func TestSourcesEndpoints(t *testing.T) {
	f := newFixture(t)
	f.stats.Register("talos", model.KindAttacks)
	f.stats.RecordFetch("talos", "transport", errors.New("dial tcp: timeout"), 0)

	var all struct {
		Sources []model.SourceStats `json:"sources"`
		Count   int                 `json:"count"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/sources", &all))
	require.Equal(t, 1, all.Count)
	assert.Equal(t, 1, all.Sources[0].ConsecutiveFailures)

	var one model.SourceStats
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/sources/talos", &one))
	assert.Equal(t, "dial tcp: timeout", one.LastError)
	assert.Equal(t, http.StatusNotFound, getJSON(t, f.srv.URL+"/sources/nope", nil))
}

func TestRecentSummaryNewsAndAddresses(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.recent.Ingest(model.Batch{Source: "radware", Kind: model.KindAttacks, Status: model.StatusOK, FetchedAt: now,
		Events: []model.AttackEvent{attack("a", "CN", "US"), attack("b", "CN", "US"), attack("c", "RU", "")}})
	f.recent.Ingest(model.Batch{Source: "hackernews", Kind: model.KindArticles, Status: model.StatusOK,
		Articles: []model.Article{{Title: "t1", Link: "l1", Feed: "hackernews"}, {Title: "t2", Link: "l2", Feed: "other"}}})
	f.recent.Ingest(model.Batch{Source: "reputation", Kind: model.KindAddresses, Status: model.StatusOK, FetchedAt: now,
		Addresses: []string{"1.1.1.1", "2.2.2.2"}})

	var recent struct {
		Events []events.Entry `json:"events"`
		Count  int            `json:"count"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/threats/recent?limit=2", &recent))
	assert.Equal(t, 2, recent.Count)
	assert.Equal(t, http.StatusBadRequest, getJSON(t, f.srv.URL+"/threats/recent?since=yesterday", nil))

	var summary struct {
		Threats []model.ThreatSummary `json:"threats"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/threats/summary", &summary))
	require.Len(t, summary.Threats, 1)
	assert.Equal(t, 2, summary.Threats[0].AttackCount)

	var news struct {
		Articles []model.Article `json:"articles"`
		Count    int             `json:"count"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/news?feed=hackernews", &news))
	require.Equal(t, 1, news.Count)
	assert.Equal(t, "t1", news.Articles[0].Title)

	var ips struct {
		Addresses []string `json:"addresses"`
		Count     int      `json:"count"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/malicious-ips", &ips))
	assert.Equal(t, []string{"1.1.1.1", "2.2.2.2"}, ips.Addresses)
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	f.recent.Ingest(model.Batch{Kind: model.KindAttacks, Status: model.StatusOK, Events: []model.AttackEvent{attack("a", "CN", "US")}})
	resp, err := http.Post(f.srv.URL+"/admin/clear", "application/json", strings.NewReader(`{"target":"events"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, f.recent.List(0))

	resp, err = http.Post(f.srv.URL+"/admin/clear", "application/json", strings.NewReader(`{"target":"bogus"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.stats.RecordFetch("fortiguard", "ok", nil, 0)
	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `threatmap_fetch_total{result="ok",source="fortiguard"} 1`)
}

func TestThreatStreamFrames(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/threats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if line := sc.Text(); strings.HasPrefix(line, "data: ") {
				frames <- strings.TrimPrefix(line, "data: ")
			}
		}
		close(frames)
	}()

	// An idle stream still sends empty frames.
	select {
	case frame := <-frames:
		assert.Equal(t, "[]", frame)
	case <-time.After(2 * time.Second):
		t.Fatal("no idle frame")
	}

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	batch := model.Batch{Source: "checkpoint", Kind: model.KindAttacks, Status: model.StatusOK}
	for i := 0; i < 25; i++ {
		batch.Events = append(batch.Events, attack("x", "CN", "US"))
	}
	f.in <- batch

	// 25 queued events drain as 3, 3, 2, 2, ... per frame.
	var sizes []int
	deadline := time.After(3 * time.Second)
	total := 0
	for total < 25 {
		select {
		case frame, ok := <-frames:
			require.True(t, ok)
			var evs []model.AttackEvent
			require.NoError(t, json.Unmarshal([]byte(frame), &evs))
			if len(evs) == 0 && total == 0 {
				continue
			}
			sizes = append(sizes, len(evs))
			total += len(evs)
		case <-deadline:
			t.Fatalf("stream stalled after %d events", total)
		}
	}
	require.NotEmpty(t, sizes)
	assert.Equal(t, 3, sizes[0])
	assert.Equal(t, 25, total)
}
