package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"threatmap/internal/config"
	"threatmap/internal/events"
	"threatmap/internal/metrics"
	"threatmap/internal/model"
	"threatmap/internal/pipeline"
)

type Server struct {
	cfg     *config.Manager
	stats   *metrics.Store
	recent  *events.Store
	hub     *pipeline.Broadcaster
	logger  *slog.Logger
	version string
	router  *mux.Router
}

type statusResponse struct {
	Status      string          `json:"status"`
	Time        string          `json:"time"`
	Version     string          `json:"version"`
	ConfigPath  string          `json:"config_path"`
	Sources     map[string]bool `json:"sources"`
	Feeds       []string        `json:"feeds"`
	API         apiStatus       `json:"api"`
	Kafka       bool            `json:"kafka"`
	SeenDriver  string          `json:"seen_driver"`
	Subscribers int             `json:"subscribers"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

func New(cfg *config.Manager, stats *metrics.Store, recent *events.Store, hub *pipeline.Broadcaster, logger *slog.Logger, version string) *Server {
	s := &Server{
		cfg:     cfg,
		stats:   stats,
		recent:  recent,
		hub:     hub,
		logger:  logger,
		version: version,
		router:  mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/sources", s.handleSources).Methods(http.MethodGet)
	r.HandleFunc("/sources/{name}", s.handleSource).Methods(http.MethodGet)
	r.HandleFunc("/threats", s.handleThreats).Methods(http.MethodGet)
	r.HandleFunc("/threats/recent", s.handleRecent).Methods(http.MethodGet)
	r.HandleFunc("/threats/summary", s.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/news", s.handleNews).Methods(http.MethodGet)
	r.HandleFunc("/malicious-ips", s.handleMaliciousIPs).Methods(http.MethodGet)
	r.HandleFunc("/admin/clear", s.handleClear).Methods(http.MethodPost)
	if prom := s.stats.Prom(); prom != nil {
		r.Handle("/metrics", prom.Handler()).Methods(http.MethodGet)
	}
}

func (s *Server) Handler() http.Handler { return s.router }

// Start serves the API until ctx ends. It returns nil when the API is disabled.
func Start(ctx context.Context, cfg *config.Manager, stats *metrics.Store, recent *events.Store, hub *pipeline.Broadcaster, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := New(cfg, stats, recent, hub, logger, version)
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	src := cfg.Sources
	feeds := make([]string, 0, len(src.RSS.Feeds))
	for _, f := range src.RSS.Feeds {
		feeds = append(feeds, f.Name)
	}
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Sources: map[string]bool{
			"checkpoint": src.CheckPoint.Enabled,
			"fortiguard": src.FortiGuard.Enabled,
			"fraudguard": src.FraudGuard.Enabled,
			"radware":    src.Radware.Enabled,
			"talos":      src.Talos.Enabled,
			"rss":        src.RSS.Enabled,
			"reputation": src.Reputation.Enabled,
		},
		Feeds:      feeds,
		API:        apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Kafka:      cfg.Kafka.Enabled,
		SeenDriver: cfg.Seen.Driver,
	}
	if s.hub != nil {
		resp.Subscribers = s.hub.Subscribers()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	all := s.stats.GetAll()
	if all == nil {
		all = []model.SourceStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sources": all,
		"count":   len(all),
	})
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	st, ok := s.stats.Get(mux.Vars(r)["name"])
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleThreats streams attack events as server-sent events. Every frame interval it sends
// a tenth of the queued events (rounded up), or an empty array when nothing is queued.
func (s *Server) handleThreats(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok || s.hub == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	cfg := s.cfg.Get()
	interval := cfg.API.FrameInterval
	if interval <= 0 {
		interval = time.Second
	}
	maxQueue := cfg.Pipeline.RecentLimit

	id, batches := s.hub.Subscribe(cfg.Pipeline.SubscriberBuf)
	defer s.hub.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	if s.logger != nil {
		s.logger.Info("threat stream opened", "remote", r.RemoteAddr)
		defer s.logger.Info("threat stream closed", "remote", r.RemoteAddr)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var queue []model.AttackEvent
	for {
		select {
		case <-r.Context().Done():
			return
		case b, ok := <-batches:
			if !ok {
				return
			}
			if b.Kind == model.KindAttacks && b.Status == model.StatusOK {
				queue = append(queue, b.Events...)
				if maxQueue > 0 && len(queue) > maxQueue {
					queue = append([]model.AttackEvent(nil), queue[len(queue)-maxQueue:]...)
				}
			}
		case <-ticker.C:
			n := (len(queue) + 9) / 10
			frame := make([]model.AttackEvent, n)
			copy(frame, queue[:n])
			queue = queue[n:]
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit")
	var list []events.Entry
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.recent.Since(ts)
	} else {
		list = s.recent.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"count":  len(list),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary := pipeline.Aggregate(s.recent.Events(queryInt(r, "limit")))
	writeJSON(w, http.StatusOK, map[string]any{
		"threats": summary,
		"count":   len(summary),
	})
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	articles := s.recent.Articles()
	if feed := strings.TrimSpace(r.URL.Query().Get("feed")); feed != "" {
		filtered := make([]model.Article, 0, len(articles))
		for _, a := range articles {
			if a.Feed == feed {
				filtered = append(filtered, a)
			}
		}
		articles = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"articles": articles,
		"count":    len(articles),
	})
}

func (s *Server) handleMaliciousIPs(w http.ResponseWriter, _ *http.Request) {
	addrs, at := s.recent.Addresses()
	resp := map[string]any{
		"addresses": addrs,
		"count":     len(addrs),
	}
	if !at.IsZero() {
		resp["updated_at"] = at.Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.stats.Clear()
		s.recent.Clear()
	case "events", "threats":
		s.recent.Clear()
	case "sources", "metrics":
		s.stats.Clear()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func queryInt(r *http.Request, key string) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
