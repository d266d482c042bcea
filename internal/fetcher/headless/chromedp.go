// Package headless launches Chrome sessions through chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/company-enricher/internal/fetcher"
)

// Config controls the browser processes.
type Config struct {
	UserAgent string
	ExecPath  string
	NoSandbox bool
	// Headful shows the browser window; useful when debugging a single site.
	Headful     bool
	SettleDelay time.Duration
}

// Launcher starts one Chrome process per session.
type Launcher struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New prepares the shared allocator. No browser starts until Launch.
func New(cfg Config) *Launcher {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	return &Launcher{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headful {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	return opts
}

// Close stops the allocator and any browser still attached to it.
func (l *Launcher) Close() {
	l.allocCancel()
}

// Launch starts a fresh browser. The browser outlives ctx; it ends on Session.Close.
func (l *Launcher) Launch(ctx context.Context) (fetcher.Session, error) {
	browserCtx, cancel := chromedp.NewContext(l.allocator)

	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(browserCtx, l.setupAction())
	}()
	select {
	case err := <-started:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("start browser: %w", err)
		}
	case <-ctx.Done():
		cancel()
		return nil, fmt.Errorf("start browser: %w", ctx.Err())
	}
	return &session{ctx: browserCtx, cancel: cancel, settle: l.cfg.SettleDelay}, nil
}

func (l *Launcher) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if l.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(l.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	settle time.Duration
	once   sync.Once
}

// Navigate loads url and waits for the body plus the settle delay.
func (s *session) Navigate(ctx context.Context, url string) error {
	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if s.settle > 0 {
		actions = append(actions, chromedp.Sleep(s.settle))
	}
	return s.run(ctx, actions...)
}

// HTML returns the rendered document.
func (s *session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (s *session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.ctx.Err() != nil {
		return errors.New("browser session closed")
	}
	runCtx, cancel := mergeDeadline(s.ctx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// mergeDeadline derives a child of browser that also ends when stage ends.
func mergeDeadline(browser, stage context.Context) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if d, ok := stage.Deadline(); ok {
		ctx, cancel = context.WithDeadline(browser, d)
	} else {
		ctx, cancel = context.WithCancel(browser)
	}
	stop := context.AfterFunc(stage, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
