package ingest

import "time"

// Backoff doubles a wait interval on every rate-limited attempt, up to max.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max, current: base}
}

// Next returns the interval to wait now and doubles the one after it.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max || b.current <= 0 {
		b.current = b.max
	}
	return d
}

func (b *Backoff) Current() time.Duration { return b.current }

func (b *Backoff) Reset() { b.current = b.base }
