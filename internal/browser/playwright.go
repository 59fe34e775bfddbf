package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/stealth"
	"github.com/playwright-community/playwright-go"
)

// LocalLauncher starts the locally installed Chromium through playwright and
// injects the stealth evasions into every page.
type LocalLauncher struct {
	opts   *Options
	logger *slog.Logger
}

// NewLocalLauncher creates a launcher for a locally installed Chromium.
func NewLocalLauncher(opts *Options, logger *slog.Logger) *LocalLauncher {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalLauncher{
		opts:   opts,
		logger: logger.With("component", "browser", "provider", "local"),
	}
}

func (l *LocalLauncher) Name() string { return "local" }

func (l *LocalLauncher) Launch(ctx context.Context) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	args := []string{
		"--disable-blink-features=AutomationControlled",
		"--disable-dev-shm-usage",
		"--no-sandbox",
		"--disable-setuid-sandbox",
		"--disable-infobars",
		"--window-size=1920,1080",
	}
	args = append(args, l.opts.ExtraArgs...)

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.opts.Headless),
		Args:     args,
		Timeout:  playwright.Float(milliseconds(launchTimeout(ctx, l.opts.LaunchTimeout))),
	}
	if l.opts.ExecutablePath != "" {
		launchOpts.ExecutablePath = playwright.String(l.opts.ExecutablePath)
	}
	if l.opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: l.opts.ProxyServer}
	}

	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	l.logger.Info("browser launched", "version", b.Version(), "headless", l.opts.Headless)

	return &playwrightInstance{pw: pw, browser: b, stealth: true}, nil
}

// ServerlessLauncher targets constrained environments: either a remote
// browser reached over CDP or a slim Chromium binary started with
// single-process flags. No stealth script is injected.
type ServerlessLauncher struct {
	opts   *Options
	logger *slog.Logger
}

// NewServerlessLauncher creates a launcher for serverless environments.
func NewServerlessLauncher(opts *Options, logger *slog.Logger) *ServerlessLauncher {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerlessLauncher{
		opts:   opts,
		logger: logger.With("component", "browser", "provider", "serverless"),
	}
}

func (l *ServerlessLauncher) Name() string { return "serverless" }

func (l *ServerlessLauncher) Launch(ctx context.Context) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	timeout := playwright.Float(milliseconds(launchTimeout(ctx, l.opts.LaunchTimeout)))

	var b playwright.Browser
	if l.opts.CDPEndpoint != "" {
		b, err = pw.Chromium.ConnectOverCDP(l.opts.CDPEndpoint, playwright.BrowserTypeConnectOverCDPOptions{
			Timeout: timeout,
		})
	} else {
		args := []string{
			"--single-process",
			"--no-zygote",
			"--no-sandbox",
			"--disable-gpu",
			"--disable-dev-shm-usage",
			"--disable-setuid-sandbox",
			"--disable-extensions",
			"--mute-audio",
		}
		args = append(args, l.opts.ExtraArgs...)

		launchOpts := playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(true),
			Args:     args,
			Timeout:  timeout,
		}
		if l.opts.ExecutablePath != "" {
			launchOpts.ExecutablePath = playwright.String(l.opts.ExecutablePath)
		}
		b, err = pw.Chromium.Launch(launchOpts)
	}
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	l.logger.Info("browser launched", "version", b.Version(), "cdp", l.opts.CDPEndpoint != "")

	return &playwrightInstance{pw: pw, browser: b}, nil
}

func launchTimeout(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < fallback || fallback <= 0 {
			return remaining
		}
	}
	return fallback
}

type playwrightInstance struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	stealth bool
}

func (i *playwrightInstance) NewPage(opts PageOptions) (Page, error) {
	pageOpts := playwright.BrowserNewPageOptions{
		UserAgent: playwright.String(opts.UserAgent),
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.ExtraHeaders,
	}
	if opts.Locale != "" {
		pageOpts.Locale = playwright.String(opts.Locale)
	}

	page, err := i.browser.NewPage(pageOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(milliseconds(opts.DefaultTimeout))
	page.SetDefaultNavigationTimeout(milliseconds(opts.NavigationTimeout))

	if i.stealth {
		if err := page.AddInitScript(playwright.Script{Content: playwright.String(stealth.JS)}); err != nil {
			page.Close()
			return nil, fmt.Errorf("failed to inject stealth script: %w", err)
		}
	}

	return &playwrightPage{page: page}, nil
}

func (i *playwrightInstance) IsConnected() bool {
	return i.browser.IsConnected()
}

func (i *playwrightInstance) Close() error {
	var errs []error

	if i.browser != nil {
		if err := i.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if i.pw != nil {
		if err := i.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Goto(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(milliseconds(timeout)),
	})
	return err
}

func (p *playwrightPage) WaitForLoad(timeout time.Duration) error {
	return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: playwright.Float(milliseconds(timeout)),
	})
}

func (p *playwrightPage) WaitForSelector(selector string, timeout time.Duration) error {
	return p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(milliseconds(timeout)),
	})
}

func (p *playwrightPage) Click(selector string, timeout time.Duration) error {
	return p.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(milliseconds(timeout)),
	})
}

func (p *playwrightPage) InnerText(selector string) (string, error) {
	return p.page.InnerText(selector)
}

func (p *playwrightPage) Content() (string, error) {
	return p.page.Content()
}

func (p *playwrightPage) Title() (string, error) {
	return p.page.Title()
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}
