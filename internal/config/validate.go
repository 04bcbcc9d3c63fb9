package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateUpstream(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateTelegram(); err != nil {
		return err
	}
	if err := c.validateOCR(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateUpstream() error {
	if strings.TrimSpace(c.Upstream.ServicesURL) == "" {
		return errors.New("upstream.services_url must be set")
	}
	if strings.TrimSpace(c.Upstream.CDNURL) == "" {
		return errors.New("upstream.cdn_url must be set")
	}
	if err := ensurePositiveMap(map[string]int{
		"upstream.min_scale":   c.Upstream.MinScale,
		"upstream.scale_step":  c.Upstream.ScaleStep,
		"upstream.max_retries": c.Upstream.MaxRetries,
		"upstream.retry_delay": c.Upstream.RetryDelay,
	}); err != nil {
		return err
	}
	if c.Upstream.ManifestDelay < 0 {
		return errors.New("upstream.manifest_delay must not be negative")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.downloader_interval": c.Workflow.DownloaderInterval,
		"workflow.finisher_interval":   c.Workflow.FinisherInterval,
		"workflow.uploader_interval":   c.Workflow.UploaderInterval,
	}); err != nil {
		return err
	}
	if _, err := time.Parse("15:04", c.Workflow.SchedulerTime); err != nil {
		return fmt.Errorf("workflow.scheduler_time must be HH:MM, got %q", c.Workflow.SchedulerTime)
	}
	if _, err := time.Parse("20060102", c.Workflow.ThresholdDate); err != nil {
		return fmt.Errorf("workflow.threshold_date must be YYYYMMDD, got %q", c.Workflow.ThresholdDate)
	}
	return nil
}

func (c *Config) validateTelegram() error {
	// The daemon can run download and OCR stages without a delivery channel,
	// but a token without a chat (or vice versa) is a misconfiguration.
	hasToken := strings.TrimSpace(c.Telegram.BotToken) != ""
	hasChat := strings.TrimSpace(c.Telegram.ChatID) != ""
	if hasToken != hasChat {
		return errors.New("telegram.bot_token and telegram.chat_id must be set together")
	}
	if c.Telegram.RequestTimeout <= 0 {
		return errors.New("telegram.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateOCR() error {
	if strings.TrimSpace(c.OCR.Binary) == "" {
		return errors.New("ocr.binary must be set")
	}
	if c.OCR.Timeout <= 0 {
		return errors.New("ocr.timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
