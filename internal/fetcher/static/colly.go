// Package static launches plain HTTP sessions through gocolly. Pages are not rendered.
package static

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/company-enricher/internal/fetcher"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout caps each request. A shorter navigation deadline still wins.
	Timeout time.Duration
}

// Launcher hands out sessions that share one connection pool.
type Launcher struct {
	cfg       Config
	transport http.RoundTripper
}

// New builds a Launcher.
func New(cfg Config) *Launcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Launcher{cfg: cfg, transport: newHTTPTransport()}
}

// Launch returns a session. Every navigation gets its own collector and http.Client;
// only the transport is shared. Cookies are never stored.
func (l *Launcher) Launch(context.Context) (fetcher.Session, error) {
	return &session{launcher: l}, nil
}

// newCollector binds requests to ctx so a canceled navigation aborts its request.
func (l *Launcher) newCollector(ctx context.Context) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.StdlibContext(ctx),
		colly.IgnoreRobotsTxt(),
		colly.AllowURLRevisit(),
		colly.DetectCharset(),
	}
	if l.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(l.cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	c.WithTransport(l.transport)
	c.DisableCookies()
	c.SetRequestTimeout(l.cfg.Timeout)
	return c
}

type session struct {
	launcher *Launcher
	body     []byte
	captured bool
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// visitResult is owned by the visiting goroutine until it is sent on the done channel.
type visitResult struct {
	body     []byte
	captured bool
	fetchErr error
	err      error
}

// Navigate performs the GET and keeps the body of a 2xx response.
func (s *session) Navigate(ctx context.Context, url string) error {
	if d, ok := ctx.Deadline(); ok && time.Until(d) <= 0 {
		return fmt.Errorf("colly fetch canceled: %w", context.DeadlineExceeded)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("colly fetch canceled: %w", err)
	}

	c := s.launcher.newCollector(ctx)
	done := make(chan *visitResult, 1)
	go func() {
		res := &visitResult{}
		configureHooks(c, res)
		res.err = c.Visit(url)
		done <- res
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case res := <-done:
		if res.fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", res.fetchErr)
		}
		if res.err != nil {
			return fmt.Errorf("colly visit failed: %w", res.err)
		}
		if !res.captured {
			return errors.New("colly visit produced no response")
		}
		s.body, s.captured = res.body, true
		return nil
	}
}

func configureHooks(hooks collectorHooks, res *visitResult) {
	hooks.OnResponse(func(r *colly.Response) {
		res.body = append([]byte(nil), r.Body...)
		res.captured = true
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		res.fetchErr = err
	})
}

// HTML returns the body captured by Navigate.
func (s *session) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !s.captured {
		return "", errors.New("no document loaded")
	}
	if !utf8.Valid(s.body) {
		return "", errors.New("document is not valid utf-8 text")
	}
	return string(s.body), nil
}

func (s *session) Close() error {
	s.body = nil
	s.captured = false
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
