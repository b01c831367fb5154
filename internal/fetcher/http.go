package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type Options struct {
	Timeout        time.Duration
	UserAgent      string
	AcceptLanguage string
	MaxBodyBytes   int64
}

func DefaultOptions() Options {
	return Options{
		Timeout:        15 * time.Second,
		UserAgent:      DefaultUserAgent,
		AcceptLanguage: "en-US,en;q=0.9",
		MaxBodyBytes:   5 << 20,
	}
}

// HTTPLoader fetches pages with a plain GET impersonating a desktop browser.
type HTTPLoader struct {
	client *http.Client
	opts   Options
}

func NewHTTPLoader(opts Options) *HTTPLoader {
	defaults := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaults.UserAgent
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = defaults.AcceptLanguage
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaults.MaxBodyBytes
	}

	return &HTTPLoader{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
}

func (l *HTTPLoader) Load(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("User-Agent", l.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", l.opts.AcceptLanguage)

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	// one byte past the limit tells a full page from a truncated one
	body, err := io.ReadAll(io.LimitReader(resp.Body, l.opts.MaxBodyBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(body)) > l.opts.MaxBodyBytes {
		return "", fmt.Errorf("%w: more than %d bytes from %s", ErrBodyTooLarge, l.opts.MaxBodyBytes, url)
	}

	return string(body), nil
}
