package pipeline

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"threatmap/internal/config"
	"threatmap/internal/ingest"
	"threatmap/internal/metrics"
	"threatmap/internal/model"
)

// Connector is one independently running source.
type Connector interface {
	Name() string
	Run(ctx context.Context) error
}

// Build creates a connector for every enabled source. seen may be nil, in which case
// feed seen-sets live only in memory.
func Build(cfg *config.Config, client *ingest.Client, seen ingest.SeenStore, out chan<- model.Batch, stats *metrics.Store, logger *slog.Logger) ([]Connector, error) {
	src := cfg.Sources
	var conns []Connector

	if src.CheckPoint.Enabled {
		s, err := ingest.NewCheckPoint(src.CheckPoint, client, out, stats, logger)
		if err != nil {
			return nil, err
		}
		conns = append(conns, s)
	}

	polls := []struct {
		cfg config.PollSourceConfig
		new func(config.PollSourceConfig, *ingest.Client) (*ingest.AttackPoller, error)
	}{
		{src.FortiGuard, ingest.NewFortiGuard},
		{src.FraudGuard, ingest.NewFraudGuard},
		{src.Radware, ingest.NewRadware},
		{src.Talos, ingest.NewTalos},
	}
	for _, p := range polls {
		if !p.cfg.Enabled {
			continue
		}
		poller, err := p.new(p.cfg, client)
		if err != nil {
			return nil, err
		}
		conns = append(conns, ingest.NewDriver(poller, ingest.ScheduleFrom(p.cfg), out, stats, logger))
	}

	if src.RSS.Enabled {
		sched := ingest.Schedule{Interval: src.RSS.Interval, ErrorInterval: src.RSS.ErrorInterval}
		for _, feed := range src.RSS.Feeds {
			poller, err := ingest.NewFeed(feed, src.RSS, client, seen)
			if err != nil {
				return nil, err
			}
			conns = append(conns, ingest.NewDriver(poller, sched, out, stats, logger))
		}
	}

	if src.Reputation.Enabled && len(src.Reputation.Lists) > 0 {
		conns = append(conns, ingest.NewReputation(src.Reputation, client, out, stats, logger))
	}
	return conns, nil
}

// Pipeline owns the shared batch channel and the connectors writing to it.
type Pipeline struct {
	connectors []Connector
	out        chan model.Batch
	logger     *slog.Logger
}

func New(cfg *config.Config, seen ingest.SeenStore, stats *metrics.Store, logger *slog.Logger) (*Pipeline, error) {
	out := make(chan model.Batch, cfg.Pipeline.ChannelBuffer)
	client := ingest.NewClient(cfg.HTTP.Timeout, cfg.HTTP.UserAgent)
	conns, err := Build(cfg, client, seen, out, stats, logger)
	if err != nil {
		return nil, err
	}
	return &Pipeline{connectors: conns, out: out, logger: logger}, nil
}

// NewWith wraps prebuilt connectors that write to out.
func NewWith(out chan model.Batch, logger *slog.Logger, conns ...Connector) *Pipeline {
	return &Pipeline{connectors: conns, out: out, logger: logger}
}

func (p *Pipeline) Batches() <-chan model.Batch { return p.out }

func (p *Pipeline) Connectors() []Connector { return p.connectors }

// Run blocks until every connector has returned, then closes the batch channel.
// A connector error is logged and does not stop the others.
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.out)
	if p.logger != nil {
		names := make([]string, 0, len(p.connectors))
		for _, c := range p.connectors {
			names = append(names, c.Name())
		}
		p.logger.Info("pipeline starting", "connectors", names)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range p.connectors {
		c := c
		g.Go(func() error {
			if err := c.Run(gctx); err != nil && p.logger != nil {
				p.logger.Error("connector stopped with error", "source", c.Name(), "err", err)
			}
			return nil
		})
	}
	err := g.Wait()
	if p.logger != nil {
		p.logger.Info("pipeline stopped")
	}
	return err
}
