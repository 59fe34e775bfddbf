package browser_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/affiliate-scraper/internal/browser"
	"github.com/maltedev/affiliate-scraper/internal/browser/browsertest"
)

func newPool(l *browsertest.FakeLauncher, maxPages int) *browser.Pool {
	opts := browser.DefaultPoolOptions()
	if maxPages > 0 {
		opts.MaxPagesPerBrowser = maxPages
	}
	return browser.NewPool(l, opts, nil)
}

func TestPool_LazyLaunch(t *testing.T) {
	l := &browsertest.FakeLauncher{}
	p := newPool(l, 0)
	defer p.Close()

	assert.Equal(t, browser.StateUninitialized, p.State())
	assert.Equal(t, 0, l.Launches())

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer s.Release()

	assert.Equal(t, browser.StateReady, p.State())
	assert.Equal(t, 1, l.Launches())
	assert.Equal(t, uint64(1), s.HandleID())
	assert.Equal(t, 1, s.Sequence())
}

func TestPool_SessionOptions(t *testing.T) {
	l := &browsertest.FakeLauncher{}
	p := newPool(l, 0)
	defer p.Close()

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	s.Release()

	opts := l.Latest().PageOptions()
	require.Len(t, opts, 1)
	assert.Equal(t, 30*time.Second, opts[0].DefaultTimeout)
	assert.Equal(t, 30*time.Second, opts[0].NavigationTimeout)
	assert.Equal(t, 1920, opts[0].ViewportWidth)
	assert.Equal(t, 1080, opts[0].ViewportHeight)
	assert.Equal(t, browser.DefaultUserAgent, opts[0].UserAgent)
}

func TestPool_RecyclesAfterMaxPages(t *testing.T) {
	l := &browsertest.FakeLauncher{}
	p := newPool(l, 0)
	defer p.Close()
	ctx := context.Background()

	for i := 1; i <= browser.DefaultMaxPagesPerBrowser; i++ {
		s, err := p.Acquire(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), s.HandleID())
		assert.Equal(t, i, s.Sequence())
		s.Release()
	}

	s, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer s.Release()

	assert.Equal(t, uint64(2), s.HandleID())
	assert.Equal(t, 1, s.Sequence())
	assert.Equal(t, 2, l.Launches())

	instances := l.Instances()
	require.Len(t, instances, 2)
	assert.True(t, instances[0].Closed())
	assert.False(t, instances[1].Closed())

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Launches)
	assert.Equal(t, int64(1), stats.Recycles)
	assert.Equal(t, 1, stats.PagesServed)
	assert.Equal(t, 1, stats.ActiveSessions)
}

func TestPool_RecyclesDisconnectedBrowser(t *testing.T) {
	l := &browsertest.FakeLauncher{}
	p := newPool(l, 0)
	defer p.Close()
	ctx := context.Background()

	s, err := p.Acquire(ctx)
	require.NoError(t, err)
	s.Release()

	l.Latest().Disconnect()

	s, err = p.Acquire(ctx)
	require.NoError(t, err)
	defer s.Release()

	assert.Equal(t, uint64(2), s.HandleID())
	assert.Equal(t, 1, s.Sequence())
	assert.True(t, l.Instances()[0].Closed())
}

func TestPool_ConcurrentAcquireLaunchesOnce(t *testing.T) {
	l := &browsertest.FakeLauncher{LaunchDelay: 50 * time.Millisecond}
	p := newPool(l, 100)
	defer p.Close()

	const workers = 20
	var wg sync.WaitGroup
	sessions := make(chan *browser.Session, workers)
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := p.Acquire(context.Background())
			if err != nil {
				errs <- err
				return
			}
			sessions <- s
		}()
	}
	wg.Wait()
	close(sessions)
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected acquire error: %v", err)
	}

	seen := make(map[int]bool)
	for s := range sessions {
		assert.Equal(t, uint64(1), s.HandleID())
		assert.False(t, seen[s.Sequence()], "sequence %d handed out twice", s.Sequence())
		seen[s.Sequence()] = true
		s.Release()
	}

	assert.Len(t, seen, workers)
	assert.Equal(t, 1, l.Launches())
}

func TestPool_LaunchFailurePropagates(t *testing.T) {
	launchErr := errors.New("chromium not found")
	l := &browsertest.FakeLauncher{LaunchErr: launchErr}
	p := newPool(l, 0)
	defer p.Close()

	s, err := p.Acquire(context.Background())
	assert.Nil(t, s)
	assert.ErrorIs(t, err, launchErr)
	assert.Equal(t, 1, l.Launches())
	assert.Equal(t, browser.StateUninitialized, p.State())
}

func TestPool_DisconnectedLaunchIsNotRetried(t *testing.T) {
	l := &browsertest.FakeLauncher{Disconnected: true}
	p := newPool(l, 0)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s, err := p.Acquire(ctx)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, browser.ErrLaunchDisconnected)
	assert.Equal(t, 1, l.Launches())
	assert.Equal(t, browser.StateUninitialized, p.State())
	assert.Equal(t, int64(0), p.Stats().Launches)

	instances := l.Instances()
	require.Len(t, instances, 1)
	assert.True(t, instances[0].Closed())
}

func TestPool_WaiterSurvivesLaunchingCallerTimeout(t *testing.T) {
	l := &browsertest.FakeLauncher{LaunchDelay: 100 * time.Millisecond}
	p := newPool(l, 0)
	defer p.Close()

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	shortErr := make(chan error, 1)
	go func() {
		s, err := p.Acquire(short)
		if s != nil {
			s.Release()
		}
		shortErr <- err
	}()

	require.Eventually(t, func() bool { return l.Launches() == 1 },
		time.Second, time.Millisecond)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer s.Release()

	assert.ErrorIs(t, <-shortErr, context.DeadlineExceeded)
	assert.Equal(t, 1, l.Launches())
	assert.Equal(t, uint64(1), s.HandleID())
	assert.Equal(t, browser.StateReady, p.State())
}

func TestPool_CloseErrorsAreSwallowed(t *testing.T) {
	l := &browsertest.FakeLauncher{
		CloseErr: errors.New("target closed"),
		NewPage: func() *browsertest.FakePage {
			p := browsertest.NewPage("<html></html>")
			p.CloseErr = errors.New("page crashed")
			return p
		},
	}
	p := newPool(l, 1)
	ctx := context.Background()

	s, err := p.Acquire(ctx)
	require.NoError(t, err)
	s.Release()

	s, err = p.Acquire(ctx)
	require.NoError(t, err)
	s.Release()

	assert.Equal(t, 2, l.Launches())
	assert.NoError(t, p.Close())
}

func TestPool_RetiredBrowserClosesAfterLastSession(t *testing.T) {
	l := &browsertest.FakeLauncher{}
	p := newPool(l, 2)
	defer p.Close()
	ctx := context.Background()

	first, err := p.Acquire(ctx)
	require.NoError(t, err)
	second, err := p.Acquire(ctx)
	require.NoError(t, err)

	third, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer third.Release()
	assert.Equal(t, uint64(2), third.HandleID())

	old := l.Instances()[0]
	assert.False(t, old.Closed(), "browser closed while sessions were open")

	first.Release()
	assert.False(t, old.Closed())

	second.Release()
	assert.True(t, old.Closed())
}

func TestPool_ForcedRecycle(t *testing.T) {
	l := &browsertest.FakeLauncher{}
	p := newPool(l, 0)
	defer p.Close()
	ctx := context.Background()

	s, err := p.Acquire(ctx)
	require.NoError(t, err)
	s.Release()

	p.Recycle()

	s, err = p.Acquire(ctx)
	require.NoError(t, err)
	defer s.Release()
	assert.Equal(t, uint64(2), s.HandleID())
	assert.Equal(t, 1, s.Sequence())
}

func TestPool_ReleaseClosesPageOnce(t *testing.T) {
	l := &browsertest.FakeLauncher{}
	p := newPool(l, 0)
	defer p.Close()

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)

	s.Release()
	s.Release()

	pages := l.Latest().Pages()
	require.Len(t, pages, 1)
	assert.True(t, pages[0].Closed())
	assert.Equal(t, 0, p.Stats().ActiveSessions)
}

func TestPool_Close(t *testing.T) {
	l := &browsertest.FakeLauncher{}
	p := newPool(l, 0)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	s.Release()

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.Equal(t, browser.StateClosed, p.State())
	assert.True(t, l.Latest().Closed())

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, browser.ErrPoolClosed)
}

func TestPool_AcquireHonoursContext(t *testing.T) {
	l := &browsertest.FakeLauncher{}
	p := newPool(l, 0)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, l.Launches())
}
