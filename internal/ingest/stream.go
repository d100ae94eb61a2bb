package ingest

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"threatmap/internal/metrics"
	"threatmap/internal/model"
	"threatmap/internal/tracker"
)

var errIdle = errors.New("stream idle timeout")

// maxLineBytes bounds one SSE line; longer lines are skipped.
const maxLineBytes = 1 << 20

// StreamOptions configures a long-lived server-sent-event source.
type StreamOptions struct {
	URL            string
	Headers        map[string]string
	Event          string
	ReconnectDelay time.Duration
	MaxBackoff     time.Duration
	FlushInterval  time.Duration
	IdleTimeout    time.Duration
}

// Stream reads an SSE feed line by line, decodes accepted data lines into events and
// emits them in batches. The connection is reopened after closure or error.
type Stream struct {
	name    string
	opts    StreamOptions
	client  *Client
	decode  func(data []byte) (model.AttackEvent, error)
	tracker tracker.Tracker[model.AttackEvent]
	out     chan<- model.Batch
	stats   *metrics.Store
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) bool
}

func NewStream(name string, opts StreamOptions, client *Client, decode func([]byte) (model.AttackEvent, error), tr tracker.Tracker[model.AttackEvent], out chan<- model.Batch, stats *metrics.Store, logger *slog.Logger) *Stream {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.MaxBackoff < opts.ReconnectDelay {
		opts.MaxBackoff = 600 * time.Second
	}
	if logger != nil {
		logger = logger.With("source", name)
	}
	return &Stream{
		name:    name,
		opts:    opts,
		client:  client,
		decode:  decode,
		tracker: tr,
		out:     out,
		stats:   stats,
		logger:  logger,
		sleep:   BackoffSleep,
	}
}

func (s *Stream) Name() string { return s.name }

func (s *Stream) WithSleep(fn func(context.Context, time.Duration) bool) *Stream {
	if fn != nil {
		s.sleep = fn
	}
	return s
}

func (s *Stream) Run(ctx context.Context) error {
	s.stats.Register(s.name, model.KindAttacks)
	defer s.stats.SetState(s.name, metrics.StateStopped)
	backoff := NewBackoff(s.opts.ReconnectDelay, s.opts.MaxBackoff)

	for ctx.Err() == nil {
		s.stats.SetState(s.name, metrics.StateFetching)
		body, err := s.client.Stream(ctx, s.opts.URL, s.opts.Headers)
		if ctx.Err() != nil {
			return nil
		}
		wait := s.opts.ReconnectDelay
		if err != nil {
			class := Classify(err)
			if class == ClassRateLimited {
				wait = backoff.Next()
			}
			s.stats.SetState(s.name, metrics.StateFailed)
			s.stats.RecordFetch(s.name, string(class), err, wait)
			if s.logger != nil {
				s.logger.Warn("stream connect failed", "err", err, "backoff", wait.String())
			}
			fb := failedBatch(s.name, model.KindAttacks, err)
			if !Send(ctx, s.out, fb) {
				return nil
			}
			s.stats.RecordBatch(fb)
		} else {
			backoff.Reset()
			s.stats.RecordFetch(s.name, string(ClassOK), nil, backoff.Current())
			s.stats.SetState(s.name, metrics.StateParsing)
			err = s.consume(ctx, body)
			if ctx.Err() != nil {
				return nil
			}
			if s.logger != nil {
				s.logger.Info("stream closed, reconnecting", "err", err, "backoff", wait.String())
			}
		}
		s.stats.SetState(s.name, metrics.StateIdle)
		if !s.sleep(ctx, wait) {
			return nil
		}
	}
	return nil
}

type lineResult struct {
	line string
	err  error
	eof  bool
}

// consume reads body until it closes, goes idle, or ctx ends. Pending events are
// flushed before returning.
func (s *Stream) consume(ctx context.Context, body io.ReadCloser) error {
	defer body.Close()

	done := make(chan struct{})
	defer close(done)
	lines := make(chan lineResult, 64)
	go func() {
		br := bufio.NewReaderSize(body, 64*1024)
		for {
			line, oversize, err := readLine(br, maxLineBytes)
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				select {
				case lines <- lineResult{err: err, eof: true}:
				case <-done:
				}
				return
			}
			if oversize {
				if s.logger != nil {
					s.logger.Debug("skipping oversize stream line", "limit", maxLineBytes)
				}
				continue
			}
			select {
			case lines <- lineResult{line: line}:
			case <-done:
				return
			}
		}
	}()

	var idle *time.Timer
	var idleC <-chan time.Time
	if s.opts.IdleTimeout > 0 {
		idle = time.NewTimer(s.opts.IdleTimeout)
		defer idle.Stop()
		idleC = idle.C
	}
	var flushC <-chan time.Time
	if s.opts.FlushInterval > 0 {
		ticker := time.NewTicker(s.opts.FlushInterval)
		defer ticker.Stop()
		flushC = ticker.C
	}

	var pending []model.AttackEvent
	flush := func() bool {
		if len(pending) == 0 {
			return true
		}
		b := NewBatch(s.name, model.KindAttacks, model.StatusOK)
		b.Events = pending
		pending = nil
		if !Send(ctx, s.out, b) {
			return false
		}
		s.stats.RecordBatch(b)
		s.stats.SetSeen(s.name, s.tracker.Len())
		return true
	}
	defer flush()

	parser := &sseParser{filter: s.opts.Event}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idleC:
			return errIdle
		case <-flushC:
			if !flush() {
				return ctx.Err()
			}
		case res := <-lines:
			if res.eof {
				if res.err != nil {
					return &TransportError{URL: s.opts.URL, Err: res.err}
				}
				return io.EOF
			}
			if idle != nil {
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(s.opts.IdleTimeout)
			}
			data, ok := parser.feed(res.line)
			if !ok {
				continue
			}
			ev, err := s.decode(data)
			if err != nil {
				if s.logger != nil {
					s.logger.Debug("skipping undecodable stream payload", "err", err)
				}
				continue
			}
			accepted, _ := s.tracker.Filter([]model.AttackEvent{ev})
			pending = append(pending, accepted...)
			if s.opts.FlushInterval <= 0 && !flush() {
				return ctx.Err()
			}
		}
	}
}

// readLine returns the next line without its terminator. A line longer than limit is read
// through to its newline and reported as oversize with no content, so the connection
// survives it. A final unterminated line is returned before io.EOF.
func readLine(r *bufio.Reader, limit int) (string, bool, error) {
	var buf []byte
	oversize := false
	read := false
	for {
		chunk, err := r.ReadSlice('\n')
		read = read || len(chunk) > 0
		if !oversize {
			if len(buf)+len(chunk) > limit+1 {
				oversize = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && read {
				break
			}
			return "", false, err
		}
		break
	}
	if oversize {
		return "", true, nil
	}
	return strings.TrimRight(string(buf), "\r\n"), false, nil
}

// sseParser tracks the current event name across lines. Only data lines are returned.
type sseParser struct {
	filter  string
	current string
}

func (p *sseParser) feed(raw string) ([]byte, bool) {
	line := strings.TrimSpace(raw)
	switch {
	case line == "":
		// Blank line ends an event block.
		p.current = ""
		return nil, false
	case strings.HasPrefix(line, "event:"):
		p.current = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		return nil, false
	case strings.HasPrefix(line, "data:"):
		if p.filter != "" && p.current != "" && p.current != p.filter {
			return nil, false
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			return nil, false
		}
		return []byte(data), true
	}
	return nil, false
}
