// Package telegram provides the Telegram Bot API client and update handling.
package telegram

// Update is one incoming Bot API update.
type Update struct {
	UpdateID              int64               `json:"update_id"`
	Message               *Message            `json:"message,omitempty"`
	EditedMessage         *Message            `json:"edited_message,omitempty"`
	BusinessConnection    *BusinessConnection `json:"business_connection,omitempty"`
	BusinessMessage       *Message            `json:"business_message,omitempty"`
	EditedBusinessMessage *Message            `json:"edited_business_message,omitempty"`
}

// Kind names the update for logs and metrics.
func (u Update) Kind() string {
	switch {
	case u.Message != nil:
		return "message"
	case u.BusinessMessage != nil:
		return "business_message"
	case u.BusinessConnection != nil:
		return "business_connection"
	case u.EditedMessage != nil, u.EditedBusinessMessage != nil:
		return "edited"
	default:
		return "other"
	}
}

// Message is a chat message.
type Message struct {
	MessageID            int64  `json:"message_id"`
	Date                 int64  `json:"date,omitempty"`
	Chat                 *Chat  `json:"chat,omitempty"`
	From                 *User  `json:"from,omitempty"`
	Text                 string `json:"text,omitempty"`
	Voice                *Voice `json:"voice,omitempty"`
	Audio                *Audio `json:"audio,omitempty"`
	BusinessConnectionID string `json:"business_connection_id,omitempty"`
}

// Chat identifies a conversation.
type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type,omitempty"`
	Username string `json:"username,omitempty"`
}

// User is a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Voice is a voice note.
type Voice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// Audio is an audio file sent as music.
type Audio struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// BusinessConnection links the bot to a business account.
type BusinessConnection struct {
	ID         string `json:"id"`
	User       User   `json:"user"`
	UserChatID int64  `json:"user_chat_id"`
	Date       int64  `json:"date,omitempty"`
	IsEnabled  bool   `json:"is_enabled"`
}

// File is a downloadable file reference.
type File struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// Chat actions accepted by SendChatAction.
const (
	ActionTyping      = "typing"
	ActionRecordVoice = "record_voice"
)
