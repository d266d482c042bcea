// Package fetcher renders a company website and reduces it to visible text.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-enricher/internal/company"
)

// Session is one isolated browsing context.
type Session interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Launcher opens a new Session. Sessions share no cookies or storage.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Limiter throttles loads of the same site.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Config holds the per-stage deadlines.
type Config struct {
	NavigationTimeout time.Duration
	ReadTimeout       time.Duration
	// SettleDelay is passed to launchers that wait for late scripts after load.
	SettleDelay time.Duration
}

// DefaultConfig returns the stock deadlines.
func DefaultConfig() Config {
	return Config{
		NavigationTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		SettleDelay:       2 * time.Second,
	}
}

// Fetcher turns a website URL into its visible text.
type Fetcher struct {
	launcher Launcher
	limiter  Limiter
	cfg      Config
	logger   *zap.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLimiter makes every Fetch wait on limiter before launching a session.
func WithLimiter(limiter Limiter) Option {
	return func(f *Fetcher) { f.limiter = limiter }
}

// New creates a Fetcher. Zero durations fall back to DefaultConfig.
func New(launcher Launcher, cfg Config, logger *zap.Logger, opts ...Option) (*Fetcher, error) {
	if launcher == nil {
		return nil, errors.New("fetcher: launcher is required")
	}
	def := DefaultConfig()
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = def.NavigationTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{launcher: launcher, cfg: cfg, logger: logger.Named("fetcher")}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// ValidateURL reports whether raw is an absolute http(s) URL with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %q: %w", company.ErrInvalidURL, raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: %q: unsupported scheme", company.ErrInvalidURL, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %q: missing host", company.ErrInvalidURL, raw)
	}
	return nil
}

// Fetch loads rawURL in a fresh session and returns its visible text.
// Errors wrap company.ErrInvalidURL, company.ErrNavigation or company.ErrRead;
// any other error means the session could not be started.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := ValidateURL(rawURL); err != nil {
		return "", err
	}
	target := strings.TrimSpace(rawURL)

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, target); err != nil {
			return "", err
		}
	}

	session, err := f.launcher.Launch(ctx)
	if err != nil {
		return "", fmt.Errorf("launch session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			f.logger.Warn("session close failed", zap.String("website", target), zap.Error(cerr))
		}
	}()

	navCtx, navCancel := context.WithTimeout(ctx, f.cfg.NavigationTimeout)
	err = session.Navigate(navCtx, target)
	navCancel()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", company.ErrNavigation, target, err)
	}

	readCtx, readCancel := context.WithTimeout(ctx, f.cfg.ReadTimeout)
	defer readCancel()
	html, err := session.HTML(readCtx)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", company.ErrRead, target, err)
	}
	text, err := VisibleText(html)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", company.ErrRead, target, err)
	}
	return text, nil
}
