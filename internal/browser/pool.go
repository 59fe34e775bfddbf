package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	ErrPoolClosed = errors.New("browser pool is closed")

	// ErrLaunchDisconnected is returned when a browser launches but does not
	// report connected. The pool does not retry it.
	ErrLaunchDisconnected = errors.New("browser disconnected right after launch")
)

// State is the lifecycle phase of the pool's browser.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateRecycling
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateRecycling:
		return "recycling"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	MaxPagesPerBrowser int
	Page               PageOptions
}

// DefaultPoolOptions returns the options used when NewPool gets nil.
func DefaultPoolOptions() *PoolOptions {
	return &PoolOptions{
		MaxPagesPerBrowser: DefaultMaxPagesPerBrowser,
		Page:               DefaultPageOptions(),
	}
}

// handle is the pool's record of one browser process. All fields except
// id, instance and launched are guarded by Pool.mu.
type handle struct {
	id       uint64
	instance Instance
	launched time.Time
	served   int
	active   int
	retired  bool
	closed   bool
}

// PoolStats is a point-in-time snapshot of the pool.
type PoolStats struct {
	Provider       string `json:"provider"`
	State          string `json:"state"`
	HandleID       uint64 `json:"handle_id"`
	PagesServed    int    `json:"pages_served"`
	MaxPages       int    `json:"max_pages"`
	ActiveSessions int    `json:"active_sessions"`
	Launches       int64  `json:"launches"`
	Recycles       int64  `json:"recycles"`
}

// Pool owns a single lazily launched browser and hands out one page per
// request. The browser is replaced after MaxPagesPerBrowser sessions or
// once it reports disconnected. Only one launch runs at a time; concurrent
// acquirers wait for it.
type Pool struct {
	launcher Launcher
	pageOpts PageOptions
	maxPages int
	logger   *slog.Logger

	launch singleflight.Group

	mu      sync.Mutex
	state   State
	current *handle
	nextID  uint64
	closed  bool

	launches atomic.Int64
	recycles atomic.Int64
}

// NewPool creates a pool around launcher. No browser is started until the
// first Acquire.
func NewPool(launcher Launcher, opts *PoolOptions, logger *slog.Logger) *Pool {
	if opts == nil {
		opts = DefaultPoolOptions()
	}
	if opts.MaxPagesPerBrowser <= 0 {
		opts.MaxPagesPerBrowser = DefaultMaxPagesPerBrowser
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		launcher: launcher,
		pageOpts: opts.Page,
		maxPages: opts.MaxPagesPerBrowser,
		logger:   logger.With("component", "browser_pool", "provider", launcher.Name()),
		state:    StateUninitialized,
	}
}

// Acquire returns a fresh page from a ready browser, launching or recycling
// the browser first when needed. Launch errors are returned as is; the pool
// does not retry them.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	h, seq, err := p.reserve(ctx)
	if err != nil {
		return nil, err
	}

	page, err := h.instance.NewPage(p.pageOpts)
	if err != nil {
		p.finish(h)
		return nil, fmt.Errorf("failed to open page on browser %d: %w", h.id, err)
	}

	p.logger.Debug("page acquired", "handle_id", h.id, "sequence", seq)

	return &Session{
		Page:     page,
		pool:     p,
		handle:   h,
		sequence: seq,
		acquired: time.Now(),
	}, nil
}

// Release closes the session's page. Close errors are logged only.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}
	s.release.Do(func() {
		if err := s.Page.Close(); err != nil {
			p.logger.Warn("failed to close page",
				"handle_id", s.handle.id,
				"error", err,
			)
		}
		p.finish(s.handle)
		p.logger.Debug("page released", "handle_id", s.handle.id, "held", time.Since(s.acquired))
	})
}

// Recycle forces the current browser to be replaced on the next Acquire.
func (p *Pool) Recycle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.served = p.maxPages
	}
}

// State returns the current lifecycle phase.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{
		Provider: p.launcher.Name(),
		State:    p.state.String(),
		MaxPages: p.maxPages,
		Launches: p.launches.Load(),
		Recycles: p.recycles.Load(),
	}
	if p.current != nil {
		stats.HandleID = p.current.id
		stats.PagesServed = p.current.served
		stats.ActiveSessions = p.current.active
	}
	return stats
}

// Close shuts the browser down. Sessions still open keep their page until
// released; the browser is closed once the last of them is released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.state = StateClosed
	h := p.current
	p.current = nil
	closeNow := h != nil && p.retireLocked(h)
	p.mu.Unlock()

	if closeNow {
		p.closeHandle(h)
	}
	p.logger.Info("browser pool closed")
	return nil
}

// reserve claims a slot on a usable browser, replacing the current one
// when it is exhausted or disconnected.
func (p *Pool) reserve(ctx context.Context) (*handle, int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, 0, ErrPoolClosed
		}
		h := p.current
		if h != nil && h.served < p.maxPages && h.instance.IsConnected() {
			h.served++
			h.active++
			seq := h.served
			p.mu.Unlock()
			return h, seq, nil
		}
		p.mu.Unlock()

		if err := p.replace(ctx, h); err != nil {
			return nil, 0, err
		}
	}
}

// replace swaps out stale for a newly launched browser. Callers racing on
// the same stale handle share one launch. The launch itself is detached from
// ctx so that one caller giving up does not fail the others; it stays bounded
// by the launcher's own timeout.
func (p *Pool) replace(ctx context.Context, stale *handle) error {
	launchCtx := context.WithoutCancel(ctx)
	ch := p.launch.DoChan("launch", func() (interface{}, error) {
		return nil, p.relaunch(launchCtx, stale)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) relaunch(ctx context.Context, stale *handle) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.current != stale {
		p.mu.Unlock()
		return nil
	}

	closeNow := false
	if stale != nil {
		p.state = StateRecycling
		p.current = nil
		closeNow = p.retireLocked(stale)
	}
	p.mu.Unlock()

	if stale != nil {
		reason := "page limit reached"
		if !stale.instance.IsConnected() {
			reason = "browser disconnected"
		}
		p.logger.Info("recycling browser",
			"handle_id", stale.id,
			"reason", reason,
			"pages_served", stale.served,
			"age", time.Since(stale.launched),
		)
		p.recycles.Add(1)
		if closeNow {
			p.closeHandle(stale)
		}
	}

	p.setState(StateInitializing)
	start := time.Now()

	instance, err := p.launcher.Launch(ctx)
	if err != nil {
		p.setState(StateUninitialized)
		p.logger.Error("browser launch failed", "error", err, "duration", time.Since(start))
		return err
	}

	if !instance.IsConnected() {
		p.setState(StateUninitialized)
		p.logger.Error("browser launch failed",
			"error", ErrLaunchDisconnected,
			"duration", time.Since(start),
		)
		if err := instance.Close(); err != nil {
			p.logger.Warn("failed to close disconnected browser", "error", err)
		}
		return ErrLaunchDisconnected
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if err := instance.Close(); err != nil {
			p.logger.Warn("failed to close browser launched during shutdown", "error", err)
		}
		return ErrPoolClosed
	}
	p.nextID++
	p.current = &handle{
		id:       p.nextID,
		instance: instance,
		launched: time.Now(),
	}
	p.state = StateReady
	id := p.nextID
	p.mu.Unlock()

	p.launches.Add(1)
	p.logger.Info("browser ready", "handle_id", id, "duration", time.Since(start))
	return nil
}

// finish drops one active session from h and closes h if it was retired
// and this was its last session.
func (p *Pool) finish(h *handle) {
	p.mu.Lock()
	h.active--
	closeNow := h.retired && h.active == 0 && !h.closed
	if closeNow {
		h.closed = true
	}
	p.mu.Unlock()

	if closeNow {
		p.closeHandle(h)
	}
}

// retireLocked marks h retired and reports whether it can be closed right
// away. A disconnected browser is closed even with sessions still open.
// Caller must hold p.mu.
func (p *Pool) retireLocked(h *handle) bool {
	h.retired = true
	if h.closed {
		return false
	}
	if h.active == 0 || !h.instance.IsConnected() {
		h.closed = true
		return true
	}
	return false
}

func (p *Pool) closeHandle(h *handle) {
	if err := h.instance.Close(); err != nil {
		p.logger.Warn("failed to close browser", "handle_id", h.id, "error", err)
		return
	}
	p.logger.Debug("browser closed", "handle_id", h.id)
}

func (p *Pool) setState(s State) {
	p.mu.Lock()
	if !p.closed {
		p.state = s
	}
	p.mu.Unlock()
}

// Session is a page checked out of the pool for one request.
type Session struct {
	Page

	pool     *Pool
	handle   *handle
	sequence int
	acquired time.Time
	release  sync.Once
}

// HandleID identifies the browser process serving this session.
func (s *Session) HandleID() uint64 { return s.handle.id }

// Sequence is the value of the browser's served-page counter when this
// session was handed out, starting at 1 for a fresh browser.
func (s *Session) Sequence() int { return s.sequence }

// Release returns the session to its pool, closing the page.
func (s *Session) Release() { s.pool.Release(s) }
