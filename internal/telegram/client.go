// Package telegram implements the delivery-channel collaborator over the Bot
// API: sending finished documents and re-fetching them by stored identifiers.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"edicola/internal/config"
	"edicola/internal/logging"
)

// ErrNotConfigured is returned when no bot credentials are set.
var ErrNotConfigured = errors.New("telegram delivery not configured")

// Delivery identifies a message delivered to the channel.
type Delivery struct {
	ChatID    int64
	MessageID int64
	FileID    string
}

// Sender delivers a document to the configured channel. thumbnailPath may be
// empty when no preview image is available.
type Sender interface {
	SendDocument(ctx context.Context, path, thumbnailPath, caption string) (Delivery, error)
}

// Fetcher retrieves a previously delivered document.
type Fetcher interface {
	FetchDocument(ctx context.Context, fileID string) ([]byte, error)
}

// Client talks to the Bot API.
type Client struct {
	apiURL     string
	botToken   string
	chatID     string
	httpClient *http.Client
	logger     *slog.Logger
}

const defaultAPIURL = "https://api.telegram.org"

// NewClient builds a delivery client from configuration. Returns
// ErrNotConfigured when the bot token or chat id is missing.
func NewClient(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if cfg.Telegram.BotToken == "" || cfg.Telegram.ChatID == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := time.Duration(cfg.Telegram.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		apiURL:     defaultAPIURL,
		botToken:   cfg.Telegram.BotToken,
		chatID:     cfg.Telegram.ChatID,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.WithComponent(logger, "telegram"),
	}, nil
}

// WithBaseURL points the client at a different API host (for testing).
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.apiURL = baseURL
	return c
}

type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type sendDocumentResult struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Document struct {
		FileID string `json:"file_id"`
	} `json:"document"`
}

// SendDocument uploads the file with the given caption and returns the
// identifiers of the resulting channel message.
func (c *Client) SendDocument(ctx context.Context, path, thumbnailPath, caption string) (Delivery, error) {
	file, err := os.Open(path)
	if err != nil {
		return Delivery{}, fmt.Errorf("open document: %w", err)
	}
	defer file.Close()

	var thumbnail *os.File
	if thumbnailPath != "" {
		thumbnail, err = os.Open(thumbnailPath)
		if err != nil {
			// The document still goes out without its preview.
			c.logger.Warn("open thumbnail", logging.Error(err))
		} else {
			defer thumbnail.Close()
		}
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		err := writeSendDocumentForm(writer, file, thumbnail, filepath.Base(path), c.chatID, caption)
		if closeErr := writer.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()

	endpoint := fmt.Sprintf("%s/bot%s/sendDocument", c.apiURL, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return Delivery{}, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result sendDocumentResult
	if err := c.do(req, &result); err != nil {
		return Delivery{}, err
	}
	return Delivery{
		ChatID:    result.Chat.ID,
		MessageID: result.MessageID,
		FileID:    result.Document.FileID,
	}, nil
}

type getFileResult struct {
	FilePath string `json:"file_path"`
}

// FetchDocument downloads a previously delivered document by its file id.
func (c *Client) FetchDocument(ctx context.Context, fileID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/bot%s/getFile?file_id=%s", c.apiURL, c.botToken, url.QueryEscape(fileID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build getFile request: %w", err)
	}

	var meta getFileResult
	if err := c.do(req, &meta); err != nil {
		return nil, err
	}
	if meta.FilePath == "" {
		return nil, errors.New("file has no download path")
	}

	downloadURL := fmt.Sprintf("%s/file/bot%s/%s", c.apiURL, c.botToken, meta.FilePath)
	dlReq, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.httpClient.Do(dlReq)
	if err != nil {
		return nil, fmt.Errorf("download document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// FetchByMessage resolves a channel message to its document bytes. The Bot
// API has no message→file lookup, so the caller must have stored the file id
// at delivery time; this is a convenience wrapper validating the identifiers.
func (c *Client) FetchByMessage(ctx context.Context, chatID, messageID int64, fileID string) ([]byte, error) {
	if chatID == 0 || messageID == 0 {
		return nil, errors.New("missing delivery identifiers")
	}
	if fileID == "" {
		return nil, errors.New("no stored file id for message " + strconv.FormatInt(messageID, 10))
	}
	return c.FetchDocument(ctx, fileID)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call delivery api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read delivery response: %w", err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode delivery response: %w", err)
	}
	if !envelope.OK {
		return fmt.Errorf("delivery api error: %s", envelope.Description)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode delivery result: %w", err)
		}
	}
	return nil
}

func writeSendDocumentForm(writer *multipart.Writer, file io.Reader, thumbnail *os.File, filename, chatID, caption string) error {
	if err := writer.WriteField("chat_id", chatID); err != nil {
		return err
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return err
		}
	}
	if thumbnail != nil {
		part, err := writer.CreateFormFile("thumbnail", filepath.Base(thumbnail.Name()))
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, thumbnail); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file)
	return err
}
