package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/finchat-ai/finchat/pkg/models"
)

var (
	// ErrNotFound is returned when a session does not exist for the owner.
	ErrNotFound = errors.New("chat not found")
)

// DefaultMaxChatsPerUser bounds how many sessions one owner may keep.
// Creating past the bound evicts the owner's oldest session by updated_at.
const DefaultMaxChatsPerUser = 10

// titleLimit is the maximum derived-title length in runes.
const titleLimit = 50

// DefaultTitle is used for sessions created without any user content.
const DefaultTitle = "New Chat"

// Store persists chat sessions and their messages. Every operation is
// scoped to an owner (user email); no operation can observe another
// owner's sessions. Both implementations honor the same capacity bound,
// eviction order, and auto-titling behavior.
type Store interface {
	// ListAll returns the owner's sessions sorted by updated_at descending,
	// each with its full ordered message list.
	ListAll(ctx context.Context, owner string) ([]*models.ChatSession, error)

	// Get returns one owned session or ErrNotFound.
	Get(ctx context.Context, owner, chatID string) (*models.ChatSession, error)

	// Create inserts a new session, evicting the owner's oldest session
	// first if the capacity bound is already reached.
	Create(ctx context.Context, owner, title, agentID string) (*models.ChatSession, error)

	// AppendMessage adds a message to an owned session and bumps its
	// updated_at. The first user message on a fresh session derives the
	// title. Returns false (and no error) when the session is absent or
	// owned by someone else.
	AppendMessage(ctx context.Context, owner, chatID string, msg *models.Message) (bool, error)

	// RenameTitle sets a session title. False when absent/not owned.
	RenameTitle(ctx context.Context, owner, chatID, title string) (bool, error)

	// Delete removes a session and its messages. False when absent/not owned.
	Delete(ctx context.Context, owner, chatID string) (bool, error)

	// ClearAll deletes every session for the owner, returning the count.
	ClearAll(ctx context.Context, owner string) (int, error)
}

// NewChatID mints a session identifier in the chat_<12 hex> format.
func NewChatID() string {
	return "chat_" + shortHex()
}

// NewMessageID mints a message identifier in the msg_<12 hex> format.
func NewMessageID() string {
	return "msg_" + shortHex()
}

func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// DeriveTitle builds a session title from the first user message:
// the content truncated to 50 runes, with an ellipsis when truncated.
func DeriveTitle(content string) string {
	if content == "" {
		return DefaultTitle
	}
	runes := []rune(content)
	if len(runes) <= titleLimit {
		return content
	}
	return string(runes[:titleLimit]) + "..."
}
