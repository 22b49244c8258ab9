package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/finchat-ai/finchat/pkg/models"
)

// MemoryStore is an in-process Store for local runs and tests. Sessions
// are gone on restart. Request handlers run on parallel goroutines, so
// all state is guarded by a single mutex; operations only hold it for
// map access, never across I/O (there is none here).
type MemoryStore struct {
	mu       sync.RWMutex
	byOwner  map[string]map[string]*models.ChatSession
	maxChats int
}

// NewMemoryStore creates an in-memory session store with the given
// per-owner capacity bound. A bound <= 0 falls back to the default.
func NewMemoryStore(maxChatsPerUser int) *MemoryStore {
	if maxChatsPerUser <= 0 {
		maxChatsPerUser = DefaultMaxChatsPerUser
	}
	return &MemoryStore{
		byOwner:  map[string]map[string]*models.ChatSession{},
		maxChats: maxChatsPerUser,
	}
}

func (m *MemoryStore) ListAll(ctx context.Context, owner string) ([]*models.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chats := make([]*models.ChatSession, 0, len(m.byOwner[owner]))
	for _, chat := range m.byOwner[owner] {
		chats = append(chats, cloneSession(chat))
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

func (m *MemoryStore) Get(ctx context.Context, owner, chatID string) (*models.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chat, ok := m.byOwner[owner][chatID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(chat), nil
}

func (m *MemoryStore) Create(ctx context.Context, owner, title, agentID string) (*models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chats := m.byOwner[owner]
	if chats == nil {
		chats = map[string]*models.ChatSession{}
		m.byOwner[owner] = chats
	}

	// Eviction happens before insert so the bound never overshoots.
	if len(chats) >= m.maxChats {
		var oldest *models.ChatSession
		for _, c := range chats {
			if oldest == nil || c.UpdatedAt.Before(oldest.UpdatedAt) {
				oldest = c
			}
		}
		if oldest != nil {
			delete(chats, oldest.ID)
		}
	}

	if title == "" {
		title = DefaultTitle
	}
	now := time.Now()
	chat := &models.ChatSession{
		ID:        NewChatID(),
		UserEmail: owner,
		Title:     title,
		AgentID:   agentID,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []*models.Message{},
	}
	chats[chat.ID] = chat
	return cloneSession(chat), nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, owner, chatID string, msg *models.Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.byOwner[owner][chatID]
	if !ok {
		return false, nil
	}

	clone := cloneMessage(msg)
	clone.ChatID = chatID
	chat.Messages = append(chat.Messages, clone)
	chat.UpdatedAt = time.Now()

	// Auto-title only on the session's very first message.
	if len(chat.Messages) == 1 && clone.Role == models.RoleUser {
		chat.Title = DeriveTitle(clone.Content)
	}
	return true, nil
}

func (m *MemoryStore) RenameTitle(ctx context.Context, owner, chatID, title string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.byOwner[owner][chatID]
	if !ok {
		return false, nil
	}
	chat.Title = title
	chat.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) Delete(ctx context.Context, owner, chatID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chats := m.byOwner[owner]
	if _, ok := chats[chatID]; !ok {
		return false, nil
	}
	delete(chats, chatID)
	return true, nil
}

func (m *MemoryStore) ClearAll(ctx context.Context, owner string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := len(m.byOwner[owner])
	delete(m.byOwner, owner)
	return count, nil
}

func cloneSession(chat *models.ChatSession) *models.ChatSession {
	clone := *chat
	clone.Messages = make([]*models.Message, len(chat.Messages))
	for i, msg := range chat.Messages {
		clone.Messages[i] = cloneMessage(msg)
	}
	return &clone
}

func cloneMessage(msg *models.Message) *models.Message {
	clone := *msg
	return &clone
}
