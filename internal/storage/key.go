package storage

import (
	"fmt"
	"strconv"
	"strings"
)

const businessPrefix = "business_"

// KeyKind distinguishes regular chats from business-connection chats.
type KeyKind uint8

const (
	KindRegular KeyKind = iota
	KindBusiness
)

// ConversationKey identifies one stored conversation. It is comparable and can be
// used as a map key. Regular and business keys never compare equal, and business
// keys with different connection ids never compare equal.
type ConversationKey struct {
	kind         KeyKind
	connectionID string
	chatID       int64
}

// RegularKey returns the key of a direct chat with the bot.
func RegularKey(chatID int64) ConversationKey {
	return ConversationKey{kind: KindRegular, chatID: chatID}
}

// BusinessKey returns the key of a chat reached through a business connection.
func BusinessKey(connectionID string, chatID int64) ConversationKey {
	return ConversationKey{kind: KindBusiness, connectionID: connectionID, chatID: chatID}
}

// DeriveKey builds the key for an inbound message. connectionID is ignored for
// regular messages and required for business ones.
func DeriveKey(chatID int64, isBusiness bool, connectionID string) (ConversationKey, error) {
	if !isBusiness {
		return RegularKey(chatID), nil
	}
	if connectionID == "" {
		return ConversationKey{}, fmt.Errorf("chat %d: %w", chatID, ErrMissingConnectionID)
	}
	return BusinessKey(connectionID, chatID), nil
}

// Kind returns the key variant.
func (k ConversationKey) Kind() KeyKind { return k.kind }

// IsBusiness reports whether the key belongs to a business conversation.
func (k ConversationKey) IsBusiness() bool { return k.kind == KindBusiness }

// ChatID returns the Telegram chat id.
func (k ConversationKey) ChatID() int64 { return k.chatID }

// ConnectionID returns the business connection id, empty for regular keys.
func (k ConversationKey) ConnectionID() string { return k.connectionID }

// String encodes the key for snapshots: "<chat>" or "business_<connection>_<chat>".
func (k ConversationKey) String() string {
	chat := strconv.FormatInt(k.chatID, 10)
	if k.kind == KindBusiness {
		return businessPrefix + k.connectionID + "_" + chat
	}
	return chat
}

// ParseKey is the inverse of ConversationKey.String.
func ParseKey(s string) (ConversationKey, error) {
	if rest, ok := strings.CutPrefix(s, businessPrefix); ok {
		// The chat id never contains '_', so the last one separates it.
		i := strings.LastIndexByte(rest, '_')
		if i <= 0 {
			return ConversationKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
		}
		chatID, err := strconv.ParseInt(rest[i+1:], 10, 64)
		if err != nil {
			return ConversationKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
		}
		return BusinessKey(rest[:i], chatID), nil
	}
	chatID, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ConversationKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return RegularKey(chatID), nil
}
