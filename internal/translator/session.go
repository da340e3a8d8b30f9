package translator

import (
	"container/list"
	"sync"

	"github.com/google/uuid"

	"github.com/vendorgate/gateway/internal/config"
)

// SessionConversationMap is an LRU mapping caller-supplied session
// identifiers (OpenAI `user`, Anthropic `metadata.user_id`) to stable
// conversation ids, cap 500 (spec.md §4.2 "Conversation id").
type SessionConversationMap struct {
	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
	cap   int
}

type sessionEntry struct {
	sessionID      string
	conversationID string
}

// NewSessionConversationMap creates the map with the spec-mandated cap.
func NewSessionConversationMap() *SessionConversationMap {
	return &SessionConversationMap{
		ll:    list.New(),
		items: make(map[string]*list.Element),
		cap:   config.SessionConversationCacheSize,
	}
}

// ConversationID returns the stable conversation id for sessionID, minting a
// random UUID on first sight (or when sessionID is empty).
func (m *SessionConversationMap) ConversationID(sessionID string) string {
	if sessionID == "" {
		return uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[sessionID]; ok {
		m.ll.MoveToFront(el)
		return el.Value.(*sessionEntry).conversationID
	}

	convID := uuid.NewString()
	el := m.ll.PushFront(&sessionEntry{sessionID: sessionID, conversationID: convID})
	m.items[sessionID] = el

	for m.ll.Len() > m.cap {
		oldest := m.ll.Back()
		if oldest == nil {
			break
		}
		m.ll.Remove(oldest)
		delete(m.items, oldest.Value.(*sessionEntry).sessionID)
	}

	return convID
}
