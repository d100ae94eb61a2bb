package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"threatmap/internal/ingest"
	"threatmap/internal/model"
)

// Consumer receives every batch in order. Push may block; a slow consumer slows the pipeline.
type Consumer interface {
	Name() string
	Push(ctx context.Context, b model.Batch) error
}

// Broadcaster fans batches out to blocking consumers and to live subscribers. Subscribers
// that fall behind lose batches instead of stalling everyone else.
type Broadcaster struct {
	mu        sync.Mutex
	consumers []Consumer
	subs      map[int]chan model.Batch
	nextID    int
	closed    bool
	logger    *slog.Logger
}

func NewBroadcaster(logger *slog.Logger, consumers ...Consumer) *Broadcaster {
	return &Broadcaster{
		consumers: consumers,
		subs:      make(map[int]chan model.Batch),
		logger:    logger,
	}
}

// Subscribe registers a live subscriber. The returned channel is closed by Unsubscribe or
// when the broadcaster stops.
func (b *Broadcaster) Subscribe(buf int) (int, <-chan model.Batch) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan model.Batch, buf)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return -1, ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Run forwards batches from in until it is closed or ctx ends.
func (b *Broadcaster) Run(ctx context.Context, in <-chan model.Batch) {
	defer b.stop()
	for {
		select {
		case batch, ok := <-in:
			if !ok {
				return
			}
			b.dispatch(ctx, batch)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Broadcaster) dispatch(ctx context.Context, batch model.Batch) {
	for _, c := range b.consumers {
		if err := c.Push(ctx, batch.Clone()); err != nil && b.logger != nil {
			b.logger.Warn("consumer push failed", "consumer", c.Name(), "source", batch.Source, "err", err)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		ingest.SendNonBlocking(ctx, ch, batch.Clone(), b.logger)
	}
}

func (b *Broadcaster) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
