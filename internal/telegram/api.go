package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultAPIURL = "https://api.telegram.org"

	// DefaultMaxDownload matches the Bot API getFile limit.
	DefaultMaxDownload = 20 * 1024 * 1024

	parseModeMarkdownV2 = "MarkdownV2"
)

// AllowedUpdates lists the update types the bot subscribes to.
var AllowedUpdates = []string{
	"message",
	"edited_message",
	"business_connection",
	"business_message",
	"edited_business_message",
	"deleted_business_messages",
}

// ErrFileTooLarge is returned when a download exceeds its limit.
var ErrFileTooLarge = errors.New("telegram: file too large")

// RequestError is a failed Bot API call.
type RequestError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
}

func (e *RequestError) Error() string {
	desc := strings.TrimSpace(e.Description)
	if desc == "" {
		desc = "ok=false"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("telegram %s: http %d: %s", e.Method, e.StatusCode, desc)
	}
	return fmt.Sprintf("telegram %s: %s", e.Method, desc)
}

// IsParseError reports whether err is a MarkdownV2 entity parse failure.
func IsParseError(err error) bool {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return false
	}
	desc := strings.ToLower(reqErr.Description)
	return strings.Contains(desc, "can't parse entities") || strings.Contains(desc, "can't parse entity")
}

// APIClient calls the Telegram Bot API.
type APIClient struct {
	http    *http.Client
	baseURL string
	token   string
	logger  *slog.Logger
}

// NewAPIClient creates a Bot API client. httpClient may be nil.
func NewAPIClient(httpClient *http.Client, baseURL, token string, logger *slog.Logger) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &APIClient{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		logger:  logger,
	}
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (c *APIClient) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// call posts payload as JSON and decodes the result into out when non-nil.
func (c *APIClient) call(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, method, out)
}

// upload posts a multipart form with a single file part.
func (c *APIClient) upload(ctx context.Context, method string, fields map[string]string, fileField, fileName string, data []byte, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile(fileField, fileName)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(req, method, out)
}

func (c *APIClient) do(req *http.Request, method string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return fmt.Errorf("telegram %s: failed to read response: %w", method, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.OK {
		desc := env.Description
		if decodeErr != nil {
			desc = strings.TrimSpace(string(raw))
		}
		return &RequestError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			ErrorCode:   env.ErrorCode,
			Description: desc,
		}
	}
	if decodeErr != nil {
		return fmt.Errorf("telegram %s: %w", method, decodeErr)
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram %s: failed to decode result: %w", method, err)
		}
	}
	return nil
}

// GetMe returns the bot account.
func (c *APIClient) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := c.call(ctx, "getMe", struct{}{}, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// GetUpdates long-polls for updates starting at offset.
func (c *APIClient) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	payload := map[string]any{
		"timeout":         secs,
		"allowed_updates": AllowedUpdates,
	}
	if offset > 0 {
		payload["offset"] = offset
	}

	var updates []Update
	if err := c.call(reqCtx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// OutgoingText is a text message to send.
type OutgoingText struct {
	ChatID               int64
	Text                 string
	BusinessConnectionID string
}

type sendMessageRequest struct {
	ChatID               int64  `json:"chat_id"`
	Text                 string `json:"text"`
	ParseMode            string `json:"parse_mode,omitempty"`
	BusinessConnectionID string `json:"business_connection_id,omitempty"`
}

// SendMessage sends text in chunks, escaped for MarkdownV2. A chunk Telegram
// cannot parse is resent as plain text.
func (c *APIClient) SendMessage(ctx context.Context, msg OutgoingText) error {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}

	for _, chunk := range ChunkText(text, MaxMessageRunes) {
		req := sendMessageRequest{
			ChatID:               msg.ChatID,
			Text:                 EscapeMarkdownV2(chunk),
			ParseMode:            parseModeMarkdownV2,
			BusinessConnectionID: msg.BusinessConnectionID,
		}
		err := c.call(ctx, "sendMessage", req, nil)
		if err != nil && IsParseError(err) {
			c.logger.Warn("failed to send with MarkdownV2; falling back to plain text", "error", err)
			req.Text = chunk
			req.ParseMode = ""
			err = c.call(ctx, "sendMessage", req, nil)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// SendChatAction shows a status such as "typing" in the chat.
func (c *APIClient) SendChatAction(ctx context.Context, chatID int64, action, businessConnectionID string) error {
	return c.call(ctx, "sendChatAction", struct {
		ChatID               int64  `json:"chat_id"`
		Action               string `json:"action"`
		BusinessConnectionID string `json:"business_connection_id,omitempty"`
	}{chatID, action, businessConnectionID}, nil)
}

// GetFile resolves a file id to a download path.
func (c *APIClient) GetFile(ctx context.Context, fileID string) (*File, error) {
	if strings.TrimSpace(fileID) == "" {
		return nil, fmt.Errorf("missing file_id")
	}
	var f File
	if err := c.call(ctx, "getFile", map[string]string{"file_id": fileID}, &f); err != nil {
		return nil, err
	}
	if f.FilePath == "" {
		return nil, fmt.Errorf("telegram getFile: missing file_path")
	}
	return &f, nil
}

// DownloadFile fetches a file returned by GetFile, refusing more than maxBytes.
func (c *APIClient) DownloadFile(ctx context.Context, filePath string, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDownload
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, strings.TrimLeft(filePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &RequestError{Method: "download", StatusCode: resp.StatusCode, Description: strings.TrimSpace(string(raw))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("telegram download: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (>%d bytes)", ErrFileTooLarge, maxBytes)
	}
	return data, nil
}

// SendVoice uploads OGG/Opus audio as a voice note.
func (c *APIClient) SendVoice(ctx context.Context, chatID int64, audio []byte, businessConnectionID string) error {
	fields := map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}
	if businessConnectionID != "" {
		fields["business_connection_id"] = businessConnectionID
	}
	return c.upload(ctx, "sendVoice", fields, "voice", "voice.ogg", audio, nil)
}

// GetBusinessConnection looks up a business connection by id.
func (c *APIClient) GetBusinessConnection(ctx context.Context, id string) (*BusinessConnection, error) {
	var conn BusinessConnection
	if err := c.call(ctx, "getBusinessConnection", map[string]string{"business_connection_id": id}, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

// SetWebhook registers url for update delivery.
func (c *APIClient) SetWebhook(ctx context.Context, url, secretToken string) error {
	return c.call(ctx, "setWebhook", struct {
		URL            string   `json:"url"`
		SecretToken    string   `json:"secret_token,omitempty"`
		AllowedUpdates []string `json:"allowed_updates"`
	}{url, secretToken, AllowedUpdates}, nil)
}

// DeleteWebhook removes any registered webhook.
func (c *APIClient) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.call(ctx, "deleteWebhook", map[string]bool{"drop_pending_updates": dropPending}, nil)
}
