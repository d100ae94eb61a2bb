package ingest

import (
	"context"
	"log/slog"
	"net/netip"
	"regexp"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"threatmap/internal/config"
	"threatmap/internal/metrics"
	"threatmap/internal/model"
)

const SourceReputation = "reputation"

var addrCandidateRe = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

// ExtractAddresses returns the structurally valid IPv4 addresses found in data.
func ExtractAddresses(data []byte) []string {
	var out []string
	for _, tok := range addrCandidateRe.FindAll(data, -1) {
		if err := validateAddress(string(tok)); err != nil {
			continue
		}
		out = append(out, string(tok))
	}
	return out
}

func validateAddress(s string) error {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return &ValidationError{Field: "address", Value: s}
	}
	return nil
}

// Reputation unions several plain-text blocklists into one sorted, duplicate-free list.
type Reputation struct {
	lists   []string
	refresh time.Duration
	client  *Client
	out     chan<- model.Batch
	stats   *metrics.Store
	logger  *slog.Logger
}

func NewReputation(cfg config.ReputationConfig, client *Client, out chan<- model.Batch, stats *metrics.Store, logger *slog.Logger) *Reputation {
	if logger != nil {
		logger = logger.With("source", SourceReputation)
	}
	return &Reputation{
		lists:   append([]string(nil), cfg.Lists...),
		refresh: cfg.Refresh,
		client:  client,
		out:     out,
		stats:   stats,
		logger:  logger,
	}
}

func (r *Reputation) Name() string { return SourceReputation }

// Aggregate fetches every list concurrently. A list that fails to download is logged and
// contributes nothing.
func (r *Reputation) Aggregate(ctx context.Context) []string {
	var mu sync.Mutex
	union := make(map[string]struct{})
	g, gctx := errgroup.WithContext(ctx)
	for _, url := range r.lists {
		url := url
		g.Go(func() error {
			body, err := r.client.Get(gctx, url, nil)
			if err != nil {
				if r.logger != nil {
					r.logger.Warn("reputation list fetch failed", "url", url, "err", err)
				}
				return nil
			}
			found := ExtractAddresses(body)
			mu.Lock()
			for _, a := range found {
				union[a] = struct{}{}
			}
			mu.Unlock()
			if r.logger != nil {
				r.logger.Debug("reputation list fetched", "url", url, "count", len(found))
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]string, 0, len(union))
	for a := range union {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Run emits exactly one batch, then repeats on the refresh interval if one is configured.
func (r *Reputation) Run(ctx context.Context) error {
	r.stats.Register(SourceReputation, model.KindAddresses)
	defer r.stats.SetState(SourceReputation, metrics.StateStopped)
	for {
		r.stats.SetState(SourceReputation, metrics.StateFetching)
		addrs := r.Aggregate(ctx)
		if ctx.Err() != nil {
			return nil
		}
		r.stats.RecordFetch(SourceReputation, string(ClassOK), nil, 0)
		b := NewBatch(SourceReputation, model.KindAddresses, model.StatusOK)
		b.Addresses = addrs
		if !Send(ctx, r.out, b) {
			return nil
		}
		r.stats.RecordBatch(b)
		r.stats.SetSeen(SourceReputation, len(addrs))
		if r.refresh <= 0 {
			return nil
		}
		r.stats.SetState(SourceReputation, metrics.StateIdle)
		if !BackoffSleep(ctx, r.refresh) {
			return nil
		}
	}
}
