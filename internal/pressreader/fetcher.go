package pressreader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"edicola/internal/config"
	"edicola/internal/logging"
)

// ErrPageUnavailable reports that a page could not be fetched after the full
// retry and scale-degradation policy was exhausted.
var ErrPageUnavailable = errors.New("page unavailable")

// Fetcher downloads page images from the CDN. Server errors are retried at a
// fixed delay; access-denied responses step the requested resolution down
// until the configured minimum.
type Fetcher struct {
	cdnURL     string
	httpClient *http.Client
	logger     *slog.Logger

	minScale   int
	scaleStep  int
	maxRetries int
	retryDelay time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher builds a page fetcher from configuration.
func NewFetcher(cfg *config.Config, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Fetcher{
		cdnURL:     cfg.Upstream.CDNURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logging.WithComponent(logger, "fetcher"),
		minScale:   cfg.Upstream.MinScale,
		scaleStep:  cfg.Upstream.ScaleStep,
		maxRetries: cfg.Upstream.MaxRetries,
		retryDelay: time.Duration(cfg.Upstream.RetryDelay) * time.Second,
		sleep:      sleepContext,
	}
}

// FetchPage downloads one page image, starting at the given scale.
//
// Policy: a 500 is retried at the same scale after a fixed delay, up to the
// retry limit. A 403 steps the scale down and resets the retry counter. Any
// other non-2xx status abandons the page. Dropping below the minimum scale
// abandons the page.
func (f *Fetcher) FetchPage(ctx context.Context, issueNumber string, scale, pageNumber int, pageKey string) ([]byte, error) {
	currentScale := scale
	retries := 0

	for currentScale >= f.minScale {
		scaleLowered := false

		for retries < f.maxRetries && !scaleLowered {
			status, body, err := f.request(ctx, issueNumber, currentScale, pageNumber, pageKey)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				f.logger.Warn("page request failed",
					logging.Int("page", pageNumber),
					logging.Error(err))
				retries++
				continue
			}

			switch status {
			case http.StatusOK:
				return body, nil

			case http.StatusInternalServerError:
				retries++
				f.logger.Warn("server error, retrying",
					logging.Int("page", pageNumber),
					logging.Int("attempt", retries),
					logging.Int("max_attempts", f.maxRetries))
				if retries < f.maxRetries {
					if err := f.sleep(ctx, f.retryDelay); err != nil {
						return nil, err
					}
				}

			case http.StatusForbidden:
				currentScale -= f.scaleStep
				retries = 0
				scaleLowered = true
				f.logger.Warn("access denied, lowering scale",
					logging.Int("page", pageNumber),
					logging.Int("scale", currentScale))

			default:
				return nil, fmt.Errorf("%w: page %d returned status %d", ErrPageUnavailable, pageNumber, status)
			}
		}

		if !scaleLowered {
			return nil, fmt.Errorf("%w: page %d failed after %d attempts", ErrPageUnavailable, pageNumber, f.maxRetries)
		}
	}

	return nil, fmt.Errorf("%w: page %d denied down to minimum scale %d", ErrPageUnavailable, pageNumber, f.minScale)
}

func (f *Fetcher) request(ctx context.Context, issueNumber string, scale, pageNumber int, pageKey string) (int, []byte, error) {
	params := url.Values{
		"file":   {issueNumber},
		"page":   {strconv.Itoa(pageNumber)},
		"scale":  {strconv.Itoa(scale)},
		"ticket": {pageKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cdnURL+"?"+params.Encode(), nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:145.0) Gecko/20100101 Firefox/145.0")
	req.Header.Set("Accept", "image/avif,image/webp,*/*")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
