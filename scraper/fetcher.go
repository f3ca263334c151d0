// scraper/fetcher.go
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/time/rate"

	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/utils"
)

// ErrFetch is matched by every fetch failure that survived all retries.
var ErrFetch = errors.New("fetch failed")

// FetchError reports which URL could not be fetched.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Getter fetches the decoded text of a URL.
type Getter interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FetchOptions configures a Fetcher.
type FetchOptions struct {
	Retries           int
	Timeout           time.Duration
	BaseDelay         time.Duration
	RequestsPerSecond float64
	Client            *http.Client
}

// Fetcher downloads upstream documents. Every request carries a cache-busting
// query parameter; failed requests and undecodable bodies are retried.
type Fetcher struct {
	client  *http.Client
	retry   utils.RetryConfig
	limiter *rate.Limiter
	logger  *utils.Logger
	now     func() time.Time
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts FetchOptions, logger *utils.Logger) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Fetcher{
		client:  client,
		retry:   utils.RetryConfig{MaxAttempts: opts.Retries, BaseDelay: opts.BaseDelay, Logger: logger},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		now:     time.Now,
	}
}

// Fetch returns the body of url as UTF-8 text. Bodies that are not valid
// UTF-8 are decoded as Windows-1252.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	var body string
	err := f.retry.Do(ctx, "fetch "+url, func() error {
		text, err := f.get(ctx, url)
		if err != nil {
			return err
		}
		body = text
		return nil
	})
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, url string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", &utils.Permanent{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, bustCache(url, f.now()), nil)
	if err != nil {
		return "", &utils.Permanent{Err: err}
	}
	req.Header.Set("User-Agent", "covid19mtl-refreshdata")
	f.logger.Debug("[fetch] GET %s", req.URL)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return decode(raw)
}

// decode tries UTF-8 first and falls back to Windows-1252.
func decode(raw []byte) (string, error) {
	if utf8.Valid(raw) {
		return strings.TrimPrefix(string(raw), "\ufeff"), nil
	}
	text, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode body as utf-8 or windows-1252: %w", err)
	}
	return string(text), nil
}

func bustCache(url string, now time.Time) string {
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "_=" + strconv.FormatInt(now.UnixNano(), 10)
}

// FetchAll downloads every resource of a source, in order. Nothing is
// returned unless every resource was fetched.
func (f *Fetcher) FetchAll(ctx context.Context, src models.Source) ([]models.File, error) {
	files := make([]models.File, 0, len(src.Resources))
	for _, r := range src.Resources {
		body, err := f.Fetch(ctx, r.URL)
		if err != nil {
			return nil, fmt.Errorf("%s resource %s: %w", src.Family, r.Name, err)
		}
		f.logger.Info("[fetch] %s: downloaded %s (%d bytes)", src.Family, r.Name, len(body))
		files = append(files, models.File{Name: r.Name, Content: []byte(body)})
	}
	return files, nil
}
