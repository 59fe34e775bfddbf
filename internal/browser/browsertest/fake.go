// Package browsertest provides an in-memory browser for tests. Pages are a
// sequence of HTML documents queried with goquery; clicking a matching
// selector moves the page to its next document.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/affiliate-scraper/internal/browser"
)

// ErrTimeout is returned by waits that would never be satisfied.
var ErrTimeout = errors.New("timeout exceeded")

// FakeLauncher launches FakeInstances and counts how often it was asked to.
type FakeLauncher struct {
	// LaunchErr fails every launch when set.
	LaunchErr error
	// LaunchDelay holds each launch open for the given duration.
	LaunchDelay time.Duration
	// NewPage builds the page handed out for each session. Defaults to an
	// empty document.
	NewPage func() *FakePage
	// CloseErr is returned by Close on every instance.
	CloseErr error
	// Disconnected makes every instance report disconnected from the start.
	Disconnected bool

	mu        sync.Mutex
	launches  int
	instances []*FakeInstance
}

var _ browser.Launcher = (*FakeLauncher)(nil)

func (l *FakeLauncher) Name() string { return "fake" }

func (l *FakeLauncher) Launch(ctx context.Context) (browser.Instance, error) {
	l.mu.Lock()
	l.launches++
	l.mu.Unlock()

	if l.LaunchDelay > 0 {
		select {
		case <-time.After(l.LaunchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}

	inst := &FakeInstance{launcher: l, connected: !l.Disconnected}
	l.mu.Lock()
	l.instances = append(l.instances, inst)
	l.mu.Unlock()
	return inst, nil
}

// Launches reports how many times Launch was called.
func (l *FakeLauncher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Instances returns every instance launched so far, oldest first.
func (l *FakeLauncher) Instances() []*FakeInstance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*FakeInstance(nil), l.instances...)
}

// Latest returns the most recently launched instance, or nil.
func (l *FakeLauncher) Latest() *FakeInstance {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.instances) == 0 {
		return nil
	}
	return l.instances[len(l.instances)-1]
}

// FakeInstance is a browser handed out by FakeLauncher.
type FakeInstance struct {
	launcher *FakeLauncher

	mu        sync.Mutex
	connected bool
	closed    bool
	pages     []*FakePage
	pageOpts  []browser.PageOptions
}

var _ browser.Instance = (*FakeInstance)(nil)

func (i *FakeInstance) NewPage(opts browser.PageOptions) (browser.Page, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, errors.New("browser has been closed")
	}

	var p *FakePage
	if i.launcher.NewPage != nil {
		p = i.launcher.NewPage()
	} else {
		p = NewPage("<html><head></head><body></body></html>")
	}
	i.pages = append(i.pages, p)
	i.pageOpts = append(i.pageOpts, opts)
	return p, nil
}

func (i *FakeInstance) IsConnected() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.connected && !i.closed
}

// Disconnect simulates the browser process going away.
func (i *FakeInstance) Disconnect() {
	i.mu.Lock()
	i.connected = false
	i.mu.Unlock()
}

func (i *FakeInstance) Close() error {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()
	return i.launcher.CloseErr
}

func (i *FakeInstance) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

// Pages returns the pages opened on this instance.
func (i *FakeInstance) Pages() []*FakePage {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*FakePage(nil), i.pages...)
}

// PageOptions returns the options each page was opened with.
func (i *FakeInstance) PageOptions() []browser.PageOptions {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]browser.PageOptions(nil), i.pageOpts...)
}

// FakePage is a tab whose content is a list of HTML states. The page starts
// on the first state; Click on a selector present in the current state moves
// it to the next one.
type FakePage struct {
	// GotoErr, LoadErr, ClickErr and CloseErr force the matching call to fail.
	GotoErr  error
	LoadErr  error
	ClickErr error
	CloseErr error
	// AdvanceOnWait lets WaitForSelector step through later states looking
	// for the selector, as if the page changed on its own.
	AdvanceOnWait bool

	mu      sync.Mutex
	routes  map[string][]string
	states  []string
	current int
	url     string
	visited []string
	clicks  []string
	closed  bool
}

var _ browser.Page = (*FakePage)(nil)

// NewPage returns a page that serves states regardless of the URL visited.
func NewPage(states ...string) *FakePage {
	return &FakePage{states: states, url: "about:blank"}
}

// Route makes Goto(url) load states. Once any route is set, navigating to
// an unrouted URL fails.
func (p *FakePage) Route(url string, states ...string) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.routes == nil {
		p.routes = make(map[string][]string)
	}
	p.routes[url] = states
	return p
}

func (p *FakePage) Goto(url string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.visited = append(p.visited, url)
	if p.GotoErr != nil {
		return p.GotoErr
	}
	if p.routes != nil {
		states, ok := p.routes[url]
		if !ok {
			return fmt.Errorf("net::ERR_NAME_NOT_RESOLVED at %s", url)
		}
		p.states = states
	}
	p.current = 0
	p.url = url
	return nil
}

func (p *FakePage) WaitForLoad(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.LoadErr != nil {
		return p.LoadErr
	}
	return nil
}

func (p *FakePage) WaitForSelector(selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		doc, err := p.documentLocked()
		if err != nil {
			return err
		}
		if doc.Find(selector).Length() > 0 {
			return nil
		}
		if !p.AdvanceOnWait || p.current >= len(p.states)-1 {
			return fmt.Errorf("waiting for %q: %s: %w", selector, timeout, ErrTimeout)
		}
		p.current++
	}
}

func (p *FakePage) Click(selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clicks = append(p.clicks, selector)
	if p.ClickErr != nil {
		return p.ClickErr
	}
	doc, err := p.documentLocked()
	if err != nil {
		return err
	}
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("click %q: %s: %w", selector, timeout, ErrTimeout)
	}
	if p.current < len(p.states)-1 {
		p.current++
	}
	return nil
}

func (p *FakePage) InnerText(selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, err := p.documentLocked()
	if err != nil {
		return "", err
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("no element matches %q", selector)
	}
	return strings.TrimSpace(sel.Text()), nil
}

func (p *FakePage) Content() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.states) == 0 {
		return "", errors.New("page has no content")
	}
	return p.states[p.current], nil
}

func (p *FakePage) Title() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, err := p.documentLocked()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(doc.Find("title").First().Text()), nil
}

func (p *FakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *FakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.CloseErr
}

func (p *FakePage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Visited lists every URL passed to Goto.
func (p *FakePage) Visited() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visited...)
}

// Clicks lists every selector passed to Click.
func (p *FakePage) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

func (p *FakePage) documentLocked() (*goquery.Document, error) {
	if len(p.states) == 0 {
		return nil, errors.New("page has no content")
	}
	return goquery.NewDocumentFromReader(strings.NewReader(p.states[p.current]))
}
