package page

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/maypok86/otter/v2"

	"punchbot/pkg/logx"
)

const (
	fetchAttempts  = 5
	fetchBaseDelay = time.Second
	fetchMaxDelay  = 30 * time.Second
	cacheCapacity  = 128
)

type cacheEntry struct {
	body      []byte
	fetchedAt time.Time
}

// Fetcher retrieves page HTML with jittered-backoff retries and a small
// TTL cache so repeated session creation against the same URL does not
// hammer the site.
type Fetcher struct {
	client *http.Client
	cache  *otter.Cache[string, cacheEntry]
	log    logx.Logger
}

func NewFetcher(log logx.Logger, cacheTTL time.Duration) *Fetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	cache := otter.Must(&otter.Options[string, cacheEntry]{
		MaximumSize:      cacheCapacity,
		ExpiryCalculator: otter.ExpiryWriting[string, cacheEntry](cacheTTL),
	})
	return &Fetcher{
		client: &http.Client{Timeout: 15 * time.Second},
		cache:  cache,
		log:    log,
	}
}

// Get fetches a URL, serving from cache when a fresh copy exists.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if entry, ok := f.cache.GetIfPresent(rawURL); ok {
		f.log.Debug("page served from cache", logx.String("url", rawURL), logx.Time("fetched_at", entry.fetchedAt))
		return entry.body, nil
	}

	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := f.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, rawURL)
			}
			if resp.StatusCode >= 400 {
				return retry.Unrecoverable(fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, rawURL))
			}
			body, err = io.ReadAll(resp.Body)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(fetchAttempts),
		retry.Delay(fetchBaseDelay),
		retry.MaxDelay(fetchMaxDelay),
		retry.DelayType(retry.FullJitterBackoffDelay),
		retry.OnRetry(func(n uint, err error) {
			f.log.Debug("retrying page fetch", logx.Int("attempt", int(n)+1), logx.String("url", rawURL), logx.Err(err))
		}),
	)
	if err != nil {
		return nil, err
	}

	f.cache.Set(rawURL, cacheEntry{body: body, fetchedAt: time.Now()})
	return body, nil
}

// Submit posts form values. Submissions are never cached and never
// retried: they are not idempotent.
func (f *Fetcher) Submit(ctx context.Context, method, action string, values url.Values) ([]byte, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	var req *http.Request
	var err error
	if method == http.MethodGet {
		u, perr := url.Parse(action)
		if perr != nil {
			return nil, perr
		}
		u.RawQuery = values.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, action, strings.NewReader(values.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d submitting %s", resp.StatusCode, action)
	}
	return io.ReadAll(resp.Body)
}
