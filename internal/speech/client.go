// Package speech provides a Yandex SpeechKit client for recognition and synthesis.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ireland-samantha/relaybot/internal/config"
	"github.com/ireland-samantha/relaybot/internal/metrics"
)

const (
	DefaultSTTEndpoint = "https://stt.api.cloud.yandex.net/speech/v1/stt:recognize"
	DefaultTTSEndpoint = "https://tts.api.cloud.yandex.net/speech/v1/tts:synthesize"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

var (
	// ErrEmptyAudio is returned when there is nothing to recognise.
	ErrEmptyAudio = errors.New("speech: empty audio")
	// ErrEmptyText is returned when there is nothing to synthesise.
	ErrEmptyText = errors.New("speech: empty text")
)

// APIError is a non-200 answer from SpeechKit.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("speech %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// russianVoices are synthesised in ru-RU unless a language is configured.
var russianVoices = map[string]bool{
	"alena": true,
	"jane":  true,
	"omazh": true,
	"zahar": true,
	"ermil": true,
}

// VoiceLanguage returns the language SpeechKit expects for voice.
func VoiceLanguage(voice string) string {
	if russianVoices[voice] {
		return "ru-RU"
	}
	return "en-US"
}

// Options configures a Client.
type Options struct {
	FolderID    string
	STTEndpoint string
	TTSEndpoint string
	STTLanguage string
	Voice       string
	Format      string
	// TTSLanguage overrides the language derived from Voice.
	TTSLanguage string
	HTTPClient  *http.Client
}

// Client talks to SpeechKit.
type Client struct {
	auth   Authorizer
	opts   Options
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a SpeechKit client.
func NewClient(auth Authorizer, opts Options, logger *slog.Logger) *Client {
	if opts.STTEndpoint == "" {
		opts.STTEndpoint = DefaultSTTEndpoint
	}
	if opts.TTSEndpoint == "" {
		opts.TTSEndpoint = DefaultTTSEndpoint
	}
	if opts.STTLanguage == "" {
		opts.STTLanguage = "ru-RU"
	}
	if opts.Voice == "" {
		opts.Voice = "alena"
	}
	if opts.Format == "" {
		opts.Format = "oggopus"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{auth: auth, opts: opts, http: httpClient, logger: logger}
}

// NewFromConfig wires a client from the voice and yandex configuration.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	auth, err := NewAuthorizer(cfg.Yandex, nil)
	if err != nil {
		return nil, err
	}
	return NewClient(auth, Options{
		FolderID:    cfg.Yandex.FolderID,
		STTEndpoint: cfg.Yandex.STTEndpoint,
		TTSEndpoint: cfg.Yandex.TTSEndpoint,
		STTLanguage: cfg.Voice.STTLanguage,
		Voice:       cfg.Voice.TTSVoice,
		Format:      cfg.Voice.TTSFormat,
		TTSLanguage: cfg.Voice.TTSLanguage,
	}, logger), nil
}

// Recognize transcribes OGG/Opus audio.
func (c *Client) Recognize(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	query := url.Values{}
	query.Set("folderId", c.opts.FolderID)
	query.Set("lang", c.opts.STTLanguage)
	query.Set("topic", "general")
	query.Set("profanityFilter", "false")

	endpoint := c.opts.STTEndpoint + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Info("sending recognition request", "audio_bytes", len(audio))

	body, err := c.do(ctx, "recognize", req)
	if err != nil {
		metrics.RecordSpeech("recognize", "error")
		return "", err
	}

	var result struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		metrics.RecordSpeech("recognize", "error")
		return "", fmt.Errorf("failed to decode recognition response: %w", err)
	}

	metrics.RecordSpeech("recognize", "success")
	return strings.TrimSpace(result.Result), nil
}

// Synthesize renders text as audio in the configured format.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	lang := c.opts.TTSLanguage
	if lang == "" {
		lang = VoiceLanguage(c.opts.Voice)
	}

	form := url.Values{}
	form.Set("text", text)
	form.Set("lang", lang)
	form.Set("voice", c.opts.Voice)
	form.Set("format", c.opts.Format)
	form.Set("speed", "1.0")
	form.Set("folderId", c.opts.FolderID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.TTSEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logger.Info("sending synthesis request", "text_length", len([]rune(text)), "voice", c.opts.Voice)

	audio, err := c.do(ctx, "synthesize", req)
	if err != nil {
		metrics.RecordSpeech("synthesize", "error")
		return nil, err
	}

	metrics.RecordSpeech("synthesize", "success")
	return audio, nil
}

func (c *Client) do(ctx context.Context, op string, req *http.Request) ([]byte, error) {
	authorization, err := c.auth.Authorization(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize %s: %w", op, err)
	}
	req.Header.Set("Authorization", authorization)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
