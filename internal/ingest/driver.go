package ingest

import (
	"context"
	"log/slog"
	"time"

	"threatmap/internal/config"
	"threatmap/internal/metrics"
	"threatmap/internal/model"
)

// Poller is a request/response source driven on a fixed schedule.
type Poller interface {
	Name() string
	Kind() model.BatchKind
	// Fetch retrieves one raw payload.
	Fetch(ctx context.Context) ([]byte, error)
	// Parse normalizes and filters a payload into the batch to emit.
	Parse(body []byte) (model.Batch, error)
}

// Stateful pollers keep a seen-set that outlives the process.
type Stateful interface {
	Load(ctx context.Context) error
	Flush(ctx context.Context) error
}

type seenCounter interface {
	SeenCount() int
}

type Schedule struct {
	Interval      time.Duration
	ErrorInterval time.Duration
	Backoff       time.Duration
	MaxBackoff    time.Duration
}

func ScheduleFrom(cfg config.PollSourceConfig) Schedule {
	return Schedule{
		Interval:      cfg.Interval,
		ErrorInterval: cfg.ErrorInterval,
		Backoff:       cfg.Backoff,
		MaxBackoff:    cfg.MaxBackoff,
	}
}

// Driver runs a Poller through Idle -> Fetching -> Parsing|Failed -> Idle until ctx ends.
type Driver struct {
	poller   Poller
	schedule Schedule
	out      chan<- model.Batch
	stats    *metrics.Store
	logger   *slog.Logger
	backoff  *Backoff
	sleep    func(context.Context, time.Duration) bool
}

func NewDriver(p Poller, schedule Schedule, out chan<- model.Batch, stats *metrics.Store, logger *slog.Logger) *Driver {
	if schedule.Interval <= 0 {
		schedule.Interval = 10 * time.Second
	}
	if schedule.ErrorInterval <= 0 {
		schedule.ErrorInterval = schedule.Interval
	}
	if schedule.Backoff <= 0 {
		schedule.Backoff = schedule.Interval
	}
	if logger != nil {
		logger = logger.With("source", p.Name())
	}
	return &Driver{
		poller:   p,
		schedule: schedule,
		out:      out,
		stats:    stats,
		logger:   logger,
		backoff:  NewBackoff(schedule.Backoff, schedule.MaxBackoff),
		sleep:    BackoffSleep,
	}
}

func (d *Driver) Name() string { return d.poller.Name() }

// WithSleep replaces the inter-cycle wait; tests use it to observe intervals.
func (d *Driver) WithSleep(fn func(context.Context, time.Duration) bool) *Driver {
	if fn != nil {
		d.sleep = fn
	}
	return d
}

func (d *Driver) Run(ctx context.Context) error {
	name := d.poller.Name()
	d.stats.Register(name, d.poller.Kind())
	defer d.stats.SetState(name, metrics.StateStopped)

	if st, ok := d.poller.(Stateful); ok {
		if err := st.Load(ctx); err != nil && d.logger != nil {
			d.logger.Warn("seen-set load failed, starting empty", "err", err)
		}
		d.updateSeen()
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := st.Flush(flushCtx); err != nil && d.logger != nil {
				d.logger.Warn("seen-set flush on exit failed", "err", err)
			}
		}()
	}

	for ctx.Err() == nil {
		wait, ok := d.Cycle(ctx)
		if !ok {
			return nil
		}
		d.stats.SetState(name, metrics.StateIdle)
		if !d.sleep(ctx, wait) {
			return nil
		}
	}
	return nil
}

// Cycle performs one fetch/parse/emit round and returns the wait before the next round.
// ok is false once ctx is done.
func (d *Driver) Cycle(ctx context.Context) (time.Duration, bool) {
	name, kind := d.poller.Name(), d.poller.Kind()

	d.stats.SetState(name, metrics.StateFetching)
	body, err := d.poller.Fetch(ctx)
	if ctx.Err() != nil || Classify(err) == ClassCanceled {
		return 0, false
	}

	var batch model.Batch
	if err == nil {
		d.stats.SetState(name, metrics.StateParsing)
		batch, err = d.poller.Parse(body)
	}

	class := Classify(err)
	var wait time.Duration
	switch class {
	case ClassOK:
		d.backoff.Reset()
		wait = d.schedule.Interval
		d.stats.RecordFetch(name, string(class), nil, d.backoff.Current())
	case ClassRateLimited:
		wait = d.backoff.Next()
		d.stats.SetState(name, metrics.StateFailed)
		d.stats.RecordFetch(name, string(class), err, wait)
		if d.logger != nil {
			d.logger.Warn("rate limited, backing off", "backoff", wait.String(), "err", err)
		}
		batch = failedBatch(name, kind, err)
	case ClassParse:
		wait = d.schedule.Interval
		d.stats.SetState(name, metrics.StateFailed)
		d.stats.RecordFetch(name, string(class), err, d.backoff.Current())
		if d.logger != nil {
			d.logger.Warn("payload parse failed", "err", err)
		}
		batch = NewBatch(name, kind, model.StatusUnchanged)
		batch.Error = err.Error()
	default:
		wait = d.schedule.ErrorInterval
		d.stats.SetState(name, metrics.StateFailed)
		d.stats.RecordFetch(name, string(class), err, d.backoff.Current())
		if d.logger != nil {
			d.logger.Warn("fetch failed", "err", err)
		}
		batch = failedBatch(name, kind, err)
	}

	if !Send(ctx, d.out, batch) {
		return 0, false
	}
	d.stats.RecordBatch(batch)
	if d.logger != nil {
		d.logger.Debug("batch emitted", "status", string(batch.Status), "count", batch.Len())
	}

	if class == ClassOK {
		if st, ok := d.poller.(Stateful); ok {
			if err := st.Flush(ctx); err != nil && d.logger != nil {
				d.logger.Warn("seen-set flush failed", "err", err)
			}
		}
		d.updateSeen()
	}
	return wait, true
}

func (d *Driver) updateSeen() {
	if sc, ok := d.poller.(seenCounter); ok {
		d.stats.SetSeen(d.poller.Name(), sc.SeenCount())
	}
}
