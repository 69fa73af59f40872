package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xtchd/xtchd/internal/chain"
	"github.com/xtchd/xtchd/internal/content"
	"github.com/xtchd/xtchd/internal/hash"
)

var ErrStopped = errors.New("sequencer is not running")

// Store persists chained rows. Append must read and lock the chain head of
// table, call fn, then insert the returned envelope and advance the head,
// all in one transaction.
type Store interface {
	Head(ctx context.Context, table string) (chain.Head, error)
	Append(ctx context.Context, table string, fn chain.AppendFunc) (chain.Envelope[content.Record], error)
}

type Alerter interface {
	SendIntegrityAlert(ctx context.Context, ie *chain.IntegrityError) error
}

type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxBackoff caps the exponential retry delay.
	MaxBackoff time.Duration
	Clock      func() time.Time
	Logger     *slog.Logger
}

func (c *Config) withDefaults() Config {
	var out Config
	if c != nil {
		out = *c
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = 50 * time.Millisecond
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = 5 * time.Second
	}
	if out.Clock == nil {
		out.Clock = hash.Now
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// BuildFunc creates the content of the row with the given id.
type BuildFunc func(id int32) content.Record

type request struct {
	ctx   context.Context
	build BuildFunc
	reply chan result
}

type result struct {
	env chain.Envelope[content.Record]
	err error
}

// Sequencer is the single owner of appends to one table. Requests are
// served one at a time by its goroutine, so no two appends from this
// process race for the same chain head.
type Sequencer struct {
	table   string
	store   Store
	config  Config
	alerter Alerter

	mu      sync.RWMutex
	reqs    chan request
	stopCh  chan struct{}
	done    chan struct{} // closed when loop exits
	wg      sync.WaitGroup
	running bool
}

func NewSequencer(table string, store Store, config *Config) *Sequencer {
	return &Sequencer{
		table:  table,
		store:  store,
		config: config.withDefaults(),
		reqs:   make(chan request),
	}
}

func (s *Sequencer) SetAlerter(a Alerter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerter = a
}

func (s *Sequencer) Table() string {
	return s.table
}

func (s *Sequencer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sequencer for %s already running", s.table)
	}

	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	s.wg.Add(1)
	go s.loop(ctx, s.stopCh, s.done)
	return nil
}

func (s *Sequencer) Stop() {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Submit chains the content produced by build and waits for the result.
func (s *Sequencer) Submit(ctx context.Context, build BuildFunc) (chain.Envelope[content.Record], error) {
	s.mu.RLock()
	stopCh, done, running := s.stopCh, s.done, s.running
	s.mu.RUnlock()
	if !running {
		return chain.Envelope[content.Record]{}, ErrStopped
	}

	req := request{ctx: ctx, build: build, reply: make(chan result, 1)}
	select {
	case s.reqs <- req:
	case <-stopCh:
		return chain.Envelope[content.Record]{}, ErrStopped
	case <-done:
		return chain.Envelope[content.Record]{}, ErrStopped
	case <-ctx.Done():
		return chain.Envelope[content.Record]{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.env, res.err
	case <-done:
		// The loop may have replied just before exiting.
		select {
		case res := <-req.reply:
			return res.env, res.err
		default:
			return chain.Envelope[content.Record]{}, ErrStopped
		}
	case <-ctx.Done():
		return chain.Envelope[content.Record]{}, ctx.Err()
	}
}

// loop serves requests until Stop or until ctx, the context given to
// Start, is cancelled. Either way the sequencer is no longer running.
func (s *Sequencer) loop(ctx context.Context, stopCh <-chan struct{}, done chan struct{}) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case req := <-s.reqs:
			env, err := s.appendWithRetry(req.ctx, req.build)
			req.reply <- result{env: env, err: err}
		}
	}
}

func (s *Sequencer) appendWithRetry(ctx context.Context, build BuildFunc) (chain.Envelope[content.Record], error) {
	logger := s.config.Logger.With("table", s.table)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return chain.Envelope[content.Record]{}, err
		}

		env, err := s.store.Append(ctx, s.table, s.appendFunc(build))
		if err == nil {
			logger.Debug("Row chained", "id", env.ID(), "new_sha256", env.NewHash)
			return env, nil
		}

		if ie := chain.AsIntegrity(err); ie != nil {
			logger.Error("Append rejected, not retrying", "id", ie.RowID, "reason", ie.Reason, "error", err)
			s.alert(ctx, ie)
			return chain.Envelope[content.Record]{}, err
		}
		if !chain.IsTransient(err) || attempt >= s.config.MaxRetries {
			return chain.Envelope[content.Record]{}, fmt.Errorf("append to %s failed after %d attempt(s): %w", s.table, attempt+1, err)
		}

		backoff := s.config.RetryBackoff << attempt
		if backoff > s.config.MaxBackoff || backoff <= 0 {
			backoff = s.config.MaxBackoff
		}
		logger.Warn("Transient append failure, retrying", "attempt", attempt+1, "backoff", backoff, "error", err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return chain.Envelope[content.Record]{}, ctx.Err()
		}
	}
}

func (s *Sequencer) appendFunc(build BuildFunc) chain.AppendFunc {
	return func(head chain.Head) (chain.Envelope[content.Record], error) {
		rec := build(head.NextID())
		if rec == nil {
			return chain.Envelope[content.Record]{}, fmt.Errorf("no content built for %s", s.table)
		}
		if rec.Table() != s.table {
			return chain.Envelope[content.Record]{}, fmt.Errorf("%s content submitted to %s sequencer", rec.Table(), s.table)
		}
		if rec.RowID() != head.NextID() {
			return chain.Envelope[content.Record]{}, fmt.Errorf("content id %d does not follow head of %s", rec.RowID(), s.table)
		}
		return chain.Append(head, rec, s.config.Clock()), nil
	}
}

func (s *Sequencer) alert(ctx context.Context, ie *chain.IntegrityError) {
	s.mu.RLock()
	a := s.alerter
	s.mu.RUnlock()
	if a == nil {
		return
	}
	if err := a.SendIntegrityAlert(ctx, ie); err != nil {
		s.config.Logger.Warn("Failed to send integrity alert", "table", s.table, "error", err)
	}
}
