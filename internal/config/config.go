package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory, token file, and bind address configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	DownloadDir string `toml:"download_dir"`
	FinishedDir string `toml:"finished_dir"`
	DoneDir     string `toml:"done_dir"`
	LogDir      string `toml:"log_dir"`
	TokenFile   string `toml:"token_file"`
	APIBind     string `toml:"api_bind"`
	APIToken    string `toml:"api_token"`
}

// Upstream contains the content source endpoints and download policy.
type Upstream struct {
	ServicesURL   string `toml:"services_url"`
	CDNURL        string `toml:"cdn_url"`
	MinScale      int    `toml:"min_scale"`
	ScaleStep     int    `toml:"scale_step"`
	MaxRetries    int    `toml:"max_retries"`
	RetryDelay    int    `toml:"retry_delay"`
	ManifestDelay int    `toml:"manifest_delay"`
}

// Login contains credentials for the library portal used to obtain a bearer token.
type Login struct {
	PortalURL string `toml:"portal_url"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Timeout   int    `toml:"timeout"`
	Headless  bool   `toml:"headless"`
}

// Telegram contains the delivery channel configuration.
type Telegram struct {
	BotToken       string `toml:"bot_token"`
	ChatID         string `toml:"chat_id"`
	RequestTimeout int    `toml:"request_timeout"`
}

// OCR contains settings for the external text-recognition tool.
type OCR struct {
	Binary  string `toml:"binary"`
	Timeout int    `toml:"timeout"`
}

// Workflow contains worker timing and pipeline policy.
type Workflow struct {
	SchedulerTime      string `toml:"scheduler_time"`
	ThresholdDate      string `toml:"threshold_date"`
	DownloaderInterval int    `toml:"downloader_interval"`
	FinisherInterval   int    `toml:"finisher_interval"`
	UploaderInterval   int    `toml:"uploader_interval"`
	DeleteAfterDone    bool   `toml:"delete_after_done"`
	PublicationsFile   string `toml:"publications_file"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for edicola.
type Config struct {
	Paths    Paths    `toml:"paths"`
	Upstream Upstream `toml:"upstream"`
	Login    Login    `toml:"login"`
	Telegram Telegram `toml:"telegram"`
	OCR      OCR      `toml:"ocr"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/edicola/config.toml")
}

// SampleConfig returns the embedded sample configuration file contents.
func SampleConfig() string {
	return sampleConfig
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized. The boolean reports whether a
// file was found at the resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("edicola.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// Normalize expands home-relative paths and fills derived directory defaults.
// Load calls it automatically; callers constructing a Config by hand (tests,
// embedders) must call it before use.
func (c *Config) Normalize() error {
	expanded, err := expandPath(c.Paths.DataDir)
	if err != nil {
		return err
	}
	c.Paths.DataDir = expanded

	derive := func(field *string, fallback string) error {
		value := strings.TrimSpace(*field)
		if value == "" {
			*field = filepath.Join(c.Paths.DataDir, fallback)
			return nil
		}
		expanded, err := expandPath(value)
		if err != nil {
			return err
		}
		*field = expanded
		return nil
	}

	if err := derive(&c.Paths.DownloadDir, "downloads"); err != nil {
		return err
	}
	if err := derive(&c.Paths.FinishedDir, "finished"); err != nil {
		return err
	}
	if err := derive(&c.Paths.DoneDir, "done"); err != nil {
		return err
	}
	if err := derive(&c.Paths.LogDir, "logs"); err != nil {
		return err
	}
	if err := derive(&c.Paths.TokenFile, "bearer.token"); err != nil {
		return err
	}

	if c.Workflow.PublicationsFile != "" {
		expanded, err := expandPath(c.Workflow.PublicationsFile)
		if err != nil {
			return err
		}
		c.Workflow.PublicationsFile = expanded
	}

	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.DownloadDir,
		c.Paths.FinishedDir,
		c.Paths.DoneDir,
		c.Paths.LogDir,
		filepath.Dir(c.Paths.TokenFile),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the workflow store database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "edicola.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
