package login

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	liteBaseURL      = "https://www.pressreader.com"
	liteInitEndpoint = "/authentication/v1/initialize"
	liteLanguage     = "it"
)

// LiteSource obtains an anonymous session token from the reader's initialize
// endpoint. Anonymous tokens see lower-resolution tiers than a portal login
// but need no credentials, making them a usable fallback.
type LiteSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewLiteSource builds the anonymous token source.
func NewLiteSource() *LiteSource {
	return &LiteSource{
		baseURL:    liteBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL points the source at a different host (for testing).
func (s *LiteSource) WithBaseURL(baseURL string) *LiteSource {
	s.baseURL = baseURL
	return s
}

type initializeRequest struct {
	Tickets     []string `json:"tickets"`
	Language    string   `json:"language"`
	URLReferrer string   `json:"urlReferrer"`
	URL         string   `json:"url"`
}

type initializeResponse struct {
	BearerToken string `json:"bearerToken"`
}

// Fetch requests an anonymous session and returns its bearer token.
func (s *LiteSource) Fetch(ctx context.Context) (string, error) {
	payload, err := json.Marshal(initializeRequest{
		Tickets:     []string{},
		Language:    liteLanguage,
		URL:         s.baseURL + "/" + liteLanguage + "/catalog",
	})
	if err != nil {
		return "", fmt.Errorf("encode initialize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+liteInitEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("initialize session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("initialize returned status %d", resp.StatusCode)
	}

	var result initializeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode initialize response: %w", err)
	}
	if result.BearerToken == "" {
		return "", errors.New("no bearer token in initialize response")
	}
	return result.BearerToken, nil
}
