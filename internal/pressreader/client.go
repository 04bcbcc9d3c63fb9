// Package pressreader implements the typed client for the content source:
// issue metadata, page manifests, and the page-image fetcher with its
// retry and scale-degradation policy.
package pressreader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"edicola/internal/config"
	"edicola/internal/logging"
	"edicola/internal/token"
)

const (
	pageKeysEndpoint  = "IssueInfo/GetPageKeys"
	issueInfoEndpoint = "catalog/v2/publications/"
)

// ErrIssueNotFound reports that the upstream does not know the requested
// issue. Callers treat it as authoritative, not transient.
var ErrIssueNotFound = errors.New("issue not found")

// Authorizer sends requests carrying a bearer token and transparently
// refreshes it on rejection. Satisfied by *token.Manager.
type Authorizer interface {
	AuthorizedDo(ctx context.Context, client *http.Client, build token.RequestBuilder) (*http.Response, error)
}

// Page is one entry of an issue's page manifest.
type Page struct {
	Number int
	Key    string
}

// Client issues typed requests against the content source's service API.
type Client struct {
	servicesURL string
	authorizer  Authorizer
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient builds a service client from configuration.
func NewClient(cfg *config.Config, authorizer Authorizer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		servicesURL: strings.TrimSuffix(cfg.Upstream.ServicesURL, "/") + "/",
		authorizer:  authorizer,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		logger:      logging.WithComponent(logger, "pressreader"),
	}
}

type issueInfoResponse struct {
	LatestIssue struct {
		IssueDate string `json:"issueDate"`
	} `json:"latestIssue"`
}

// LatestIssueDate queries the publication catalog and returns the date of the
// most recent issue in YYYYMMDD form.
func (c *Client) LatestIssueDate(ctx context.Context, issueID string) (string, error) {
	endpoint := c.servicesURL + issueInfoEndpoint + url.PathEscape(issueID)

	var info issueInfoResponse
	if err := c.getJSON(ctx, endpoint, nil, &info); err != nil {
		return "", err
	}

	raw := info.LatestIssue.IssueDate
	if raw == "" {
		return "", fmt.Errorf("publication %s reports no latest issue date", issueID)
	}
	// Timestamps arrive as 2025-12-13T00:00:00Z; only the date part matters.
	datePart, _, _ := strings.Cut(raw, "T")
	issueDate := strings.ReplaceAll(datePart, "-", "")
	if _, err := time.Parse("20060102", issueDate); err != nil {
		return "", fmt.Errorf("unparseable issue date %q for publication %s", raw, issueID)
	}
	return issueDate, nil
}

type pageKeysResponse struct {
	PageKeys []struct {
		PageNumber int    `json:"PageNumber"`
		Key        string `json:"Key"`
	} `json:"PageKeys"`
}

// PageManifest fetches the ordered page list for one issue. Entries without a
// key are dropped with a warning rather than failing the whole issue. Returns
// ErrIssueNotFound when the upstream answers 404.
func (c *Client) PageManifest(ctx context.Context, issueID, issueDate string) ([]Page, error) {
	endpoint := c.servicesURL + pageKeysEndpoint
	params := url.Values{
		"issue":      {IssueNumber(issueID, issueDate)},
		"pageNumber": {"0"},
		"preview":    {"false"},
	}

	var manifest pageKeysResponse
	if err := c.getJSON(ctx, endpoint, params, &manifest); err != nil {
		return nil, err
	}

	pages := make([]Page, 0, len(manifest.PageKeys))
	for i, entry := range manifest.PageKeys {
		if entry.Key == "" {
			c.logger.Warn("skipping manifest entry without page key",
				logging.String("issue_id", issueID),
				logging.Int("page", entry.PageNumber))
			continue
		}
		number := entry.PageNumber
		if number == 0 {
			number = i
		}
		pages = append(pages, Page{Number: number, Key: entry.Key})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	build := func(ctx context.Context, tok string) (*http.Request, error) {
		target := endpoint
		if len(params) > 0 {
			target += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := c.authorizer.AuthorizedDo(ctx, c.httpClient, build)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrIssueNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("upstream returned status %d for %s", resp.StatusCode, endpoint)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read upstream response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode upstream response: %w", err)
	}
	return nil
}
