// Package storage provides the conversation context store and its snapshot sinks.
package storage

import (
	"context"
	"errors"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Turn is a single role-tagged utterance in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Snapshot is the serialized form of the whole store, keyed by ConversationKey.String().
type Snapshot map[string][]Turn

var (
	// ErrSnapshotNotFound is returned by a Sink when nothing has been written yet.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrMalformedSnapshot is returned when a snapshot cannot be decoded.
	ErrMalformedSnapshot = errors.New("malformed snapshot")
	// ErrMissingConnectionID is returned when a business key is requested without a connection id.
	ErrMissingConnectionID = errors.New("business conversation requires a connection id")
	// ErrInvalidKey is returned when a string cannot be parsed as a conversation key.
	ErrInvalidKey = errors.New("invalid conversation key")
)

// Sink persists encoded snapshots.
type Sink interface {
	// Read returns the last written snapshot, or ErrSnapshotNotFound.
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the stored snapshot.
	Write(ctx context.Context, data []byte) error
}
