// Package config provides configuration loading for relaybot.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "RELAYBOT"

// Provider names a completion backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Backend names a snapshot sink.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

// Config holds all configuration for the bot.
type Config struct {
	Telegram   TelegramConfig
	Completion CompletionConfig
	Context    ContextConfig
	Storage    StorageConfig
	Persona    PersonaConfig
	Voice      VoiceConfig
	Yandex     YandexConfig
	Webhook    WebhookConfig

	// MaxConcurrentUpdates bounds how many updates are handled at once.
	MaxConcurrentUpdates int

	LogLevel  string
	LogFormat string
}

// TelegramConfig holds Bot API settings.
type TelegramConfig struct {
	Token       string
	APIURL      string
	PollTimeout time.Duration
}

// CompletionConfig holds completion API settings.
type CompletionConfig struct {
	Provider    Provider
	APIKey      string
	Endpoint    string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// ContextConfig controls conversation history.
type ContextConfig struct {
	Enabled bool
	// MaxTurns is the storage cap per conversation, in turns.
	MaxTurns int
	// WindowPairs is how many recent pairs are sent with each request.
	WindowPairs int
	// MaxInputChars truncates longer user messages.
	MaxInputChars int
}

// StorageConfig selects where conversation snapshots are kept.
type StorageConfig struct {
	Backend Backend
	Path    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
	RedisTTL      time.Duration
}

// PersonaConfig customises system instructions.
type PersonaConfig struct {
	// OwnerName is the business account owner in the nominative case.
	OwnerName string
	// OwnerNameGenitive is the owner as it appears in "ИИ-ассистент <OwnerNameGenitive>".
	OwnerNameGenitive string
}

// VoiceConfig controls voice message handling.
type VoiceConfig struct {
	Enabled        bool
	TTSReply       bool
	MaxDuration    time.Duration
	STTLanguage    string
	TTSVoice       string
	TTSFormat      string
	TTSLanguage    string
	MaxDownloadMiB int
}

// YandexConfig holds SpeechKit endpoints and credentials.
type YandexConfig struct {
	FolderID    string
	APIKey      string
	IAMToken    string
	SAKeyFile   string
	SAKeyJSON   string
	STTEndpoint string
	TTSEndpoint string
	IAMEndpoint string
}

// HasCredentials reports whether any SpeechKit credential is configured.
func (y YandexConfig) HasCredentials() bool {
	return y.APIKey != "" || y.IAMToken != "" || y.SAKeyFile != "" || y.SAKeyJSON != ""
}

// WebhookConfig holds webhook server settings.
type WebhookConfig struct {
	URL         string
	Path        string
	Host        string
	Port        int
	SecretToken string
	TLSCertPath string
	TLSKeyPath  string
}

// Addr returns the listen address.
func (w WebhookConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// PublicURL returns the URL Telegram should deliver updates to.
func (w WebhookConfig) PublicURL() string {
	return strings.TrimRight(w.URL, "/") + w.Path
}

// Load loads configuration from an optional config file, a .env file and
// environment variables, in increasing order of precedence.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// .env never overrides variables already set in the environment
	_ = godotenv.Load()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Telegram: TelegramConfig{
			Token:       v.GetString("telegram.token"),
			APIURL:      v.GetString("telegram.api_url"),
			PollTimeout: v.GetDuration("telegram.poll_timeout"),
		},
		Completion: CompletionConfig{
			Provider:    Provider(strings.ToLower(v.GetString("completion.provider"))),
			APIKey:      v.GetString("completion.api_key"),
			Endpoint:    v.GetString("completion.endpoint"),
			Model:       v.GetString("completion.model"),
			Temperature: v.GetFloat64("completion.temperature"),
			MaxTokens:   v.GetInt("completion.max_tokens"),
			Timeout:     v.GetDuration("completion.timeout"),
			MaxRetries:  v.GetInt("completion.max_retries"),
		},
		Context: ContextConfig{
			Enabled:       v.GetBool("context.enabled"),
			MaxTurns:      v.GetInt("context.max_turns"),
			WindowPairs:   v.GetInt("context.window_pairs"),
			MaxInputChars: v.GetInt("context.max_input_chars"),
		},
		Storage: StorageConfig{
			Backend:       Backend(strings.ToLower(v.GetString("storage.backend"))),
			Path:          v.GetString("storage.path"),
			RedisAddr:     v.GetString("redis.addr"),
			RedisPassword: v.GetString("redis.password"),
			RedisDB:       v.GetInt("redis.db"),
			RedisKey:      v.GetString("redis.key"),
			RedisTTL:      v.GetDuration("redis.ttl"),
		},
		Persona: PersonaConfig{
			OwnerName:         v.GetString("persona.owner_name"),
			OwnerNameGenitive: v.GetString("persona.owner_name_genitive"),
		},
		Voice: VoiceConfig{
			Enabled:        v.GetBool("voice.enabled"),
			TTSReply:       v.GetBool("voice.tts_reply"),
			MaxDuration:    time.Duration(v.GetInt("voice.max_duration_sec")) * time.Second,
			STTLanguage:    v.GetString("voice.stt_language"),
			TTSVoice:       v.GetString("voice.tts_voice"),
			TTSFormat:      v.GetString("voice.tts_format"),
			TTSLanguage:    v.GetString("voice.tts_language"),
			MaxDownloadMiB: v.GetInt("voice.max_download_mib"),
		},
		Yandex: YandexConfig{
			FolderID:    v.GetString("yandex.folder_id"),
			APIKey:      v.GetString("yandex.api_key"),
			IAMToken:    v.GetString("yandex.iam_token"),
			SAKeyFile:   v.GetString("yandex.sa_key_file"),
			SAKeyJSON:   v.GetString("yandex.sa_key_json"),
			STTEndpoint: v.GetString("yandex.stt_endpoint"),
			TTSEndpoint: v.GetString("yandex.tts_endpoint"),
			IAMEndpoint: v.GetString("yandex.iam_endpoint"),
		},
		Webhook: WebhookConfig{
			URL:         v.GetString("webhook.url"),
			Path:        v.GetString("webhook.path"),
			Host:        v.GetString("webhook.host"),
			Port:        v.GetInt("webhook.port"),
			SecretToken: v.GetString("webhook.secret_token"),
			TLSCertPath: v.GetString("webhook.tls_cert"),
			TLSKeyPath:  v.GetString("webhook.tls_key"),
		},
		MaxConcurrentUpdates: v.GetInt("max_concurrent_updates"),
		LogLevel:             v.GetString("log.level"),
		LogFormat:            v.GetString("log.format"),
	}

	if cfg.Webhook.Path != "" && !strings.HasPrefix(cfg.Webhook.Path, "/") {
		cfg.Webhook.Path = "/" + cfg.Webhook.Path
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.poll_timeout", "30s")

	v.SetDefault("completion.provider", string(ProviderOpenAI))
	v.SetDefault("completion.endpoint", "https://neuroapi.host/v1/chat/completions")
	v.SetDefault("completion.model", "gpt-5")
	v.SetDefault("completion.temperature", 0.7)
	v.SetDefault("completion.max_tokens", 5000)
	v.SetDefault("completion.timeout", "30s")
	v.SetDefault("completion.max_retries", 3)

	v.SetDefault("context.enabled", true)
	v.SetDefault("context.max_turns", 20)
	v.SetDefault("context.window_pairs", 6)
	v.SetDefault("context.max_input_chars", 4000)

	v.SetDefault("storage.backend", string(BackendFile))
	v.SetDefault("storage.path", "logs/chat_contexts.json")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "relaybot:contexts")
	v.SetDefault("redis.ttl", "0s")

	v.SetDefault("persona.owner_name", "владелец аккаунта")
	v.SetDefault("persona.owner_name_genitive", "владельца аккаунта")

	v.SetDefault("voice.enabled", false)
	v.SetDefault("voice.tts_reply", false)
	v.SetDefault("voice.max_duration_sec", 60)
	v.SetDefault("voice.stt_language", "ru-RU")
	v.SetDefault("voice.tts_voice", "alena")
	v.SetDefault("voice.tts_format", "oggopus")
	v.SetDefault("voice.tts_language", "")
	v.SetDefault("voice.max_download_mib", 20)

	v.SetDefault("yandex.stt_endpoint", "https://stt.api.cloud.yandex.net/speech/v1/stt:recognize")
	v.SetDefault("yandex.tts_endpoint", "https://tts.api.cloud.yandex.net/speech/v1/tts:synthesize")
	v.SetDefault("yandex.iam_endpoint", "https://iam.api.cloud.yandex.net/iam/v1/tokens")

	v.SetDefault("webhook.path", "/bot")
	v.SetDefault("webhook.host", "0.0.0.0")
	v.SetDefault("webhook.port", 11844)

	v.SetDefault("max_concurrent_updates", 16)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	var errs []string

	if c.Telegram.Token == "" {
		errs = append(errs, "RELAYBOT_TELEGRAM_TOKEN is required")
	}

	switch c.Completion.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		errs = append(errs, fmt.Sprintf("invalid completion provider %q, must be 'openai' or 'anthropic'", c.Completion.Provider))
	}
	if c.Completion.APIKey == "" {
		errs = append(errs, "RELAYBOT_COMPLETION_API_KEY is required")
	}
	if c.Completion.MaxTokens <= 0 {
		errs = append(errs, "RELAYBOT_COMPLETION_MAX_TOKENS must be positive")
	}
	if c.Completion.MaxRetries < 0 {
		errs = append(errs, "RELAYBOT_COMPLETION_MAX_RETRIES must not be negative")
	}

	if c.Context.MaxTurns < 2 {
		errs = append(errs, "RELAYBOT_CONTEXT_MAX_TURNS must be at least 2")
	}
	if c.Context.WindowPairs < 0 {
		errs = append(errs, "RELAYBOT_CONTEXT_WINDOW_PAIRS must not be negative")
	}
	if c.Context.MaxInputChars <= 0 {
		errs = append(errs, "RELAYBOT_CONTEXT_MAX_INPUT_CHARS must be positive")
	}

	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.Path == "" {
			errs = append(errs, "RELAYBOT_STORAGE_PATH is required for the file backend")
		} else if isDirectory(c.Storage.Path) {
			errs = append(errs, fmt.Sprintf("RELAYBOT_STORAGE_PATH %q is a directory", c.Storage.Path))
		}
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			errs = append(errs, "RELAYBOT_REDIS_ADDR is required for the redis backend")
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Sprintf("invalid storage backend %q, must be 'file', 'redis' or 'memory'", c.Storage.Backend))
	}

	if c.Voice.Enabled {
		if c.Yandex.FolderID == "" {
			errs = append(errs, "RELAYBOT_YANDEX_FOLDER_ID is required when voice is enabled")
		}
		if !c.Yandex.HasCredentials() {
			errs = append(errs, "one of RELAYBOT_YANDEX_API_KEY, RELAYBOT_YANDEX_IAM_TOKEN, RELAYBOT_YANDEX_SA_KEY_FILE or RELAYBOT_YANDEX_SA_KEY_JSON is required when voice is enabled")
		}
		if c.Voice.MaxDuration <= 0 {
			errs = append(errs, "RELAYBOT_VOICE_MAX_DURATION_SEC must be positive")
		}
	}

	if c.MaxConcurrentUpdates <= 0 {
		errs = append(errs, "RELAYBOT_MAX_CONCURRENT_UPDATES must be positive")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}

// ValidateWebhook checks the settings needed to register and serve a webhook.
func (c *Config) ValidateWebhook() error {
	var errs []string

	if c.Webhook.URL == "" {
		errs = append(errs, "RELAYBOT_WEBHOOK_URL is required in webhook mode")
	} else if !strings.HasPrefix(c.Webhook.URL, "https://") {
		errs = append(errs, fmt.Sprintf("RELAYBOT_WEBHOOK_URL %q must use https", c.Webhook.URL))
	}
	if c.Webhook.Port <= 0 || c.Webhook.Port > 65535 {
		errs = append(errs, fmt.Sprintf("RELAYBOT_WEBHOOK_PORT %d is out of range", c.Webhook.Port))
	}
	if (c.Webhook.TLSCertPath == "") != (c.Webhook.TLSKeyPath == "") {
		errs = append(errs, "RELAYBOT_WEBHOOK_TLS_CERT and RELAYBOT_WEBHOOK_TLS_KEY must be set together")
	}

	if len(errs) > 0 {
		return errors.New("webhook configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}

// isDirectory checks if a path exists and is a directory.
func isDirectory(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
