package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ireland-samantha/relaybot/internal/config"
	"github.com/ireland-samantha/relaybot/internal/metrics"
	"github.com/ireland-samantha/relaybot/internal/relay"
)

// Version is reported by /ping.
const Version = "1.0.0"

const (
	unknownCommandReply = "❓ Неизвестная команда. Используйте /help для справки."
	resetReply          = "🧹 Контекст диалога очищен."
	resetDisabledReply  = "Контекст диалога отключен, очищать нечего."
	resetFailedReply    = "Не удалось очистить контекст. Попробуйте позже."

	voiceDisabledReply    = "Голосовые сообщения отключены. Пожалуйста, отправьте текстовое сообщение."
	audioDisabledReply    = "Аудиосообщения отключены. Пожалуйста, отправьте текстовое сообщение."
	voiceTooLongTemplate  = "Голосовое сообщение слишком длинное (макс. %d сек). Пожалуйста, отправьте более короткое сообщение."
	voiceProcessingReply  = "🎤 Обрабатываю голосовое сообщение..."
	voiceNotRecognized    = "Не удалось распознать речь. Попробуйте еще раз или отправьте текстовое сообщение."
	voiceRecognizedPrefix = "🗣️ Распознано: "
	voiceReplyPrefix      = "🤖 "
	voiceFailedReply      = "Произошла ошибка при обработке голосового сообщения. Попробуйте еще раз или отправьте текст."
)

// Bot is the subset of the Bot API the handler uses.
type Bot interface {
	SendMessage(ctx context.Context, msg OutgoingText) error
	SendChatAction(ctx context.Context, chatID int64, action, businessConnectionID string) error
	GetFile(ctx context.Context, fileID string) (*File, error)
	DownloadFile(ctx context.Context, filePath string, maxBytes int64) ([]byte, error)
	SendVoice(ctx context.Context, chatID int64, audio []byte, businessConnectionID string) error
	GetBusinessConnection(ctx context.Context, id string) (*BusinessConnection, error)
}

// Relay answers user messages.
type Relay interface {
	Reply(ctx context.Context, msg relay.Inbound) (string, error)
	Reset(ctx context.Context, msg relay.Inbound) error
	ContextEnabled() bool
	ProviderName() string
}

// Speech converts between voice and text.
type Speech interface {
	Recognize(ctx context.Context, audio []byte) (string, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Handler routes updates to commands, the relay and the voice pipeline.
type Handler struct {
	bot    Bot
	relay  Relay
	speech Speech
	voice  config.VoiceConfig
	// apiConfigured is reported by /ping.
	apiConfigured bool
	logger        *slog.Logger

	mu     sync.RWMutex
	owners map[string]int64
}

// NewHandler creates an update handler. speech may be nil when voice is disabled.
func NewHandler(bot Bot, r Relay, speech Speech, voice config.VoiceConfig, apiConfigured bool, logger *slog.Logger) *Handler {
	if speech == nil {
		voice.Enabled = false
	}
	return &Handler{
		bot:           bot,
		relay:         r,
		speech:        speech,
		voice:         voice,
		apiConfigured: apiConfigured,
		logger:        logger,
		owners:        make(map[string]int64),
	}
}

// HandleUpdate processes a single update.
func (h *Handler) HandleUpdate(ctx context.Context, u Update) {
	logger := loggerFrom(ctx, h.logger)
	kind := u.Kind()
	metrics.RecordUpdate(kind)

	switch {
	case u.Message != nil:
		h.handleMessage(ctx, logger, u.Message, false)
	case u.BusinessMessage != nil:
		h.handleMessage(ctx, logger, u.BusinessMessage, true)
	case u.BusinessConnection != nil:
		h.rememberConnection(logger, u.BusinessConnection)
	default:
		logger.Debug("ignoring update", "update_id", u.UpdateID, "kind", kind)
	}
}

func (h *Handler) handleMessage(ctx context.Context, logger *slog.Logger, msg *Message, business bool) {
	if msg.Chat == nil {
		return
	}
	logger = logger.With("chat_id", msg.Chat.ID, "message_id", msg.MessageID, "business", business)

	if business {
		if msg.BusinessConnectionID == "" {
			logger.Warn("business message without connection id")
			return
		}
		if msg.From != nil && h.isOwner(ctx, logger, msg.BusinessConnectionID, msg.From.ID) {
			logger.Debug("ignoring message from business account owner")
			return
		}
	}

	switch {
	case msg.Voice != nil:
		h.handleVoice(ctx, logger, msg, business, msg.Voice.FileID, msg.Voice.Duration, voiceDisabledReply)
	case msg.Audio != nil:
		h.handleVoice(ctx, logger, msg, business, msg.Audio.FileID, msg.Audio.Duration, audioDisabledReply)
	case strings.TrimSpace(msg.Text) == "":
		logger.Debug("ignoring message without text")
	case !business && strings.HasPrefix(msg.Text, "/"):
		h.handleCommand(ctx, logger, msg)
	default:
		h.handleText(ctx, logger, msg, business)
	}
}

func inbound(msg *Message, business bool, text string) relay.Inbound {
	return relay.Inbound{
		ChatID:               msg.Chat.ID,
		IsBusiness:           business,
		BusinessConnectionID: msg.BusinessConnectionID,
		Text:                 text,
	}
}

func (h *Handler) handleText(ctx context.Context, logger *slog.Logger, msg *Message, business bool) {
	logger.Info("handling text message", "length", len([]rune(msg.Text)))

	h.typing(ctx, logger, msg, ActionTyping)

	reply, err := h.relay.Reply(ctx, inbound(msg, business, msg.Text))
	if err != nil {
		logger.Error("failed to compose reply", "error", err)
		return
	}
	h.send(ctx, logger, msg, reply)
}

func (h *Handler) handleVoice(ctx context.Context, logger *slog.Logger, msg *Message, business bool, fileID string, duration int, disabledReply string) {
	if !h.voice.Enabled {
		h.send(ctx, logger, msg, disabledReply)
		return
	}

	limit := int(h.voice.MaxDuration.Seconds())
	if limit > 0 && duration > limit {
		h.send(ctx, logger, msg, fmt.Sprintf(voiceTooLongTemplate, limit))
		return
	}

	logger.Info("handling voice message", "duration", duration, "file_id", fileID)

	audio, err := h.download(ctx, fileID)
	if err != nil {
		logger.Error("failed to download voice message", "error", err)
		h.send(ctx, logger, msg, voiceFailedReply)
		return
	}

	h.send(ctx, logger, msg, voiceProcessingReply)

	text, err := h.speech.Recognize(ctx, audio)
	if err != nil || text == "" {
		logger.Warn("speech recognition failed", "error", err)
		h.send(ctx, logger, msg, voiceNotRecognized)
		return
	}
	h.send(ctx, logger, msg, voiceRecognizedPrefix+text)

	h.typing(ctx, logger, msg, ActionTyping)
	reply, err := h.relay.Reply(ctx, inbound(msg, business, text))
	if err != nil {
		logger.Error("failed to compose reply", "error", err)
		h.send(ctx, logger, msg, voiceFailedReply)
		return
	}
	h.send(ctx, logger, msg, voiceReplyPrefix+reply)

	if !h.voice.TTSReply {
		return
	}

	h.typing(ctx, logger, msg, ActionRecordVoice)
	voiceReply, err := h.speech.Synthesize(ctx, reply)
	if err != nil {
		logger.Warn("speech synthesis failed; sent text only", "error", err)
		return
	}
	if err := h.bot.SendVoice(ctx, msg.Chat.ID, voiceReply, msg.BusinessConnectionID); err != nil {
		logger.Error("failed to send voice reply", "error", err)
	}
}

func (h *Handler) download(ctx context.Context, fileID string) ([]byte, error) {
	f, err := h.bot.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	maxBytes := int64(h.voice.MaxDownloadMiB) * 1024 * 1024
	return h.bot.DownloadFile(ctx, f.FilePath, maxBytes)
}

func (h *Handler) handleCommand(ctx context.Context, logger *slog.Logger, msg *Message) {
	fields := strings.Fields(msg.Text)
	command := strings.ToLower(fields[0])
	if at := strings.IndexByte(command, '@'); at >= 0 {
		command = command[:at]
	}

	logger.Info("handling command", "command", command)

	switch command {
	case "/start":
		h.send(ctx, logger, msg, h.startText())
	case "/help":
		h.send(ctx, logger, msg, h.helpText())
	case "/ping":
		h.send(ctx, logger, msg, h.pingText())
	case "/reset":
		h.send(ctx, logger, msg, h.reset(ctx, logger, msg))
	default:
		h.send(ctx, logger, msg, unknownCommandReply)
	}
}

func (h *Handler) reset(ctx context.Context, logger *slog.Logger, msg *Message) string {
	if !h.relay.ContextEnabled() {
		return resetDisabledReply
	}
	if err := h.relay.Reset(ctx, inbound(msg, false, "")); err != nil {
		logger.Error("failed to reset context", "error", err)
		return resetFailedReply
	}
	return resetReply
}

func onOff(enabled bool, on, off string) string {
	if enabled {
		return on
	}
	return off
}

func (h *Handler) startText() string {
	var sb strings.Builder
	sb.WriteString("Привет! Я бот с интеграцией нейросети. Напишите мне сообщение, и я отвечу.\n\n")
	sb.WriteString("Контекст диалога: " + onOff(h.relay.ContextEnabled(), "включен", "выключен") + "\n")
	sb.WriteString("Голосовые сообщения: " + onOff(h.voice.Enabled, "поддерживаются", "отключены") + "\n\n")
	sb.WriteString("Используйте /help для списка команд.")
	return sb.String()
}

func (h *Handler) helpText() string {
	var sb strings.Builder
	sb.WriteString("Доступные команды:\n")
	sb.WriteString("/start - Начать общение\n")
	sb.WriteString("/help - Получить помощь\n")
	sb.WriteString("/ping - Проверить работу бота\n")
	sb.WriteString("/reset - Очистить контекст диалога\n\n")
	if h.voice.Enabled {
		sb.WriteString("Голосовые сообщения: отправьте голосовое, и я распознаю его и отвечу")
		if h.voice.TTSReply {
			sb.WriteString(" голосом")
		}
		sb.WriteString(".\n")
	}
	sb.WriteString("Контекст: " + onOff(h.relay.ContextEnabled(), "я помню последние сообщения диалога.", "каждое сообщение обрабатывается отдельно."))
	return sb.String()
}

func (h *Handler) pingText() string {
	var sb strings.Builder
	sb.WriteString("🏓 Pong! Бот работает нормально.\n")
	sb.WriteString("Версия: " + Version + "\n")
	sb.WriteString(fmt.Sprintf("Нейросеть (%s): %s\n", h.relay.ProviderName(), FormatCheck(h.apiConfigured, "настроена", "не настроена")))
	sb.WriteString("Голосовые функции: " + FormatCheck(h.voice.Enabled, "включены", "отключены"))
	return sb.String()
}

func (h *Handler) send(ctx context.Context, logger *slog.Logger, msg *Message, text string) {
	err := h.bot.SendMessage(ctx, OutgoingText{
		ChatID:               msg.Chat.ID,
		Text:                 text,
		BusinessConnectionID: msg.BusinessConnectionID,
	})
	if err != nil {
		logger.Error("failed to send message", "error", err)
	}
}

func (h *Handler) typing(ctx context.Context, logger *slog.Logger, msg *Message, action string) {
	if err := h.bot.SendChatAction(ctx, msg.Chat.ID, action, msg.BusinessConnectionID); err != nil {
		logger.Debug("failed to send chat action", "error", err)
	}
}

// rememberConnection caches the owner of an enabled business connection.
func (h *Handler) rememberConnection(logger *slog.Logger, conn *BusinessConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn.IsEnabled {
		h.owners[conn.ID] = conn.User.ID
	} else {
		delete(h.owners, conn.ID)
	}
	logger.Info("business connection updated", "connection_id", conn.ID, "owner_id", conn.User.ID, "enabled", conn.IsEnabled)
}

// isOwner reports whether userID owns the business connection, asking the
// Bot API on a cache miss. Lookup failures are treated as "not the owner".
func (h *Handler) isOwner(ctx context.Context, logger *slog.Logger, connectionID string, userID int64) bool {
	h.mu.RLock()
	owner, ok := h.owners[connectionID]
	h.mu.RUnlock()
	if ok {
		return owner == userID
	}

	conn, err := h.bot.GetBusinessConnection(ctx, connectionID)
	if err != nil {
		logger.Warn("failed to look up business connection", "connection_id", connectionID, "error", err)
		return false
	}

	h.mu.Lock()
	h.owners[conn.ID] = conn.User.ID
	h.mu.Unlock()

	return conn.User.ID == userID
}
