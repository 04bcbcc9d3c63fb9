package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"edicola/internal/api"
	"edicola/internal/config"
)

type commandContext struct {
	apiURLFlag   *string
	apiTokenFlag *string
	configFlag   *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	httpClient *http.Client
}

func newCommandContext(apiURLFlag, apiTokenFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiURLFlag:   apiURLFlag,
		apiTokenFlag: apiTokenFlag,
		configFlag:   configFlag,
		httpClient:   &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// baseURL resolves the admin API address: the explicit flag wins, otherwise
// the configured bind address is assumed reachable on localhost.
func (c *commandContext) baseURL() (string, error) {
	if c.apiURLFlag != nil && strings.TrimSpace(*c.apiURLFlag) != "" {
		return strings.TrimRight(strings.TrimSpace(*c.apiURLFlag), "/"), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return "", fmt.Errorf("no api address configured (set paths.api_bind or pass --api-url)")
	}
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	return "http://" + bind, nil
}

func (c *commandContext) apiToken() string {
	if c.apiTokenFlag != nil && strings.TrimSpace(*c.apiTokenFlag) != "" {
		return strings.TrimSpace(*c.apiTokenFlag)
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return cfg.Paths.APIToken
	}
	return ""
}

// getJSON issues a GET and decodes the response into out.
func (c *commandContext) getJSON(path string, out any) error {
	return c.doJSON(http.MethodGet, path, nil, out)
}

// doJSON issues a request with an optional JSON body and decodes the
// response into out when out is non-nil.
func (c *commandContext) doJSON(method, path string, payload, out any) error {
	base, err := c.baseURL()
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, base+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.apiToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("is edicolad running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// download issues a GET and returns the raw response body.
func (c *commandContext) download(path string) ([]byte, error) {
	base, err := c.baseURL()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodGet, base+path, nil)
	if err != nil {
		return nil, err
	}
	if token := c.apiToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is edicolad running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	return io.ReadAll(resp.Body)
}

func apiError(resp *http.Response) error {
	var envelope api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != "" {
		return fmt.Errorf("%s", envelope.Error)
	}
	return fmt.Errorf("api request failed with status %d", resp.StatusCode)
}
