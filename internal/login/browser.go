// Package login obtains bearer tokens for the content source: a headless
// browser flow that signs into the library portal and captures the token from
// the reader's own API traffic, and a lighter anonymous session fallback.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"edicola/internal/config"
	"edicola/internal/logging"
)

// ErrNoCredentials is returned when the portal username or password is unset.
var ErrNoCredentials = errors.New("portal credentials not configured")

// ErrTokenNotCaptured is returned when the reader never issued an authorized
// page-keys request within the capture window.
var ErrTokenNotCaptured = errors.New("bearer token not captured from reader traffic")

const (
	defaultLoginTimeout = 120 * time.Second
	captureWindow       = 30 * time.Second
	readerIssueURL      = "https://www.pressreader.com/italy/corriere-della-sera/%s/page/1"
)

// BrowserSource signs into the library portal with a disposable headless
// browser session, follows the portal into the reader, and captures the
// bearer token the reader attaches to its page-keys requests. The browser is
// torn down as soon as the token is extracted.
type BrowserSource struct {
	portalURL string
	username  string
	password  string
	timeout   time.Duration
	headless  bool
	logger    *slog.Logger

	now func() time.Time
}

// NewBrowserSource builds the portal login source from configuration.
func NewBrowserSource(cfg *config.Config, logger *slog.Logger) *BrowserSource {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := time.Duration(cfg.Login.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultLoginTimeout
	}
	return &BrowserSource{
		portalURL: cfg.Login.PortalURL,
		username:  cfg.Login.Username,
		password:  cfg.Login.Password,
		timeout:   timeout,
		headless:  cfg.Login.Headless,
		logger:    logging.WithComponent(logger, "login"),
		now:       time.Now,
	}
}

// Fetch performs the full portal→reader flow and returns the captured token.
func (s *BrowserSource) Fetch(ctx context.Context) (string, error) {
	if s.username == "" || s.password == "" {
		return "", ErrNoCredentials
	}
	if s.portalURL == "" {
		return "", errors.New("portal url not configured")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	browserCtx, cancel := context.WithTimeout(browserCtx, s.timeout)
	defer cancel()

	tokens := make(chan string, 1)
	chromedp.ListenTarget(browserCtx, func(ev any) {
		req, ok := ev.(*network.EventRequestWillBeSent)
		if !ok || !strings.Contains(req.Request.URL, "GetPageKeys") {
			return
		}
		if tok := bearerFromHeaders(req.Request.Headers); tok != "" {
			select {
			case tokens <- tok:
			default:
			}
		}
	})

	s.logger.Info("signing into portal", logging.String("url", s.portalURL))
	if err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.Navigate(s.portalURL),
		chromedp.WaitVisible(`input[name="lusername"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="lusername"]`, s.username, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="lpassword"]`, s.password, chromedp.ByQuery),
		chromedp.Click(`input[type="submit"]`, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("portal login: %w", err)
	}

	// The portal session carries over to the reader; opening any issue page
	// makes the reader fire an authorized page-keys request.
	issueURL := fmt.Sprintf(readerIssueURL, s.now().Format("20060102"))
	s.logger.Info("opening reader to capture token")
	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(issueURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("open reader: %w", err)
	}

	select {
	case tok := <-tokens:
		s.logger.Info("bearer token captured")
		return tok, nil
	case <-time.After(captureWindow):
		return "", ErrTokenNotCaptured
	case <-browserCtx.Done():
		return "", browserCtx.Err()
	}
}

func bearerFromHeaders(headers network.Headers) string {
	for key, value := range headers {
		if !strings.EqualFold(key, "authorization") {
			continue
		}
		str, ok := value.(string)
		if !ok {
			return ""
		}
		if rest, found := strings.CutPrefix(str, "Bearer "); found {
			return rest
		}
		return ""
	}
	return ""
}
