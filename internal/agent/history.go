package agent

import (
	"strings"
	"sync"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// DefaultMaxSessionMessages is the default cap on the total number of
// messages (system messages included) a ConversationSession retains before
// evicting the oldest non-system ones.
const DefaultMaxSessionMessages = 100

// DefaultMaxSessions is the default cap on concurrently tracked sessions
// in a ConversationHistory before the oldest is evicted.
const DefaultMaxSessions = 50

// ConversationSession is the ordered, append-only message log for one
// conversation. It enforces the tool-call integrity rules: an assistant's
// nil content is preserved verbatim when tool calls are present, and a
// tool-result message may not reuse a toolCallId already recorded in this
// session.
type ConversationSession struct {
	mu              sync.Mutex
	messages        []models.Message
	maxMessages     int
	persistentSys   *string
	seenToolCallIDs map[string]struct{}
}

// NewConversationSession creates an empty session with the given total
// message cap (system messages count toward it). A maxMessages <= 0 uses
// DefaultMaxSessionMessages.
func NewConversationSession(maxMessages int) *ConversationSession {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxSessionMessages
	}
	return &ConversationSession{
		maxMessages:     maxMessages,
		seenToolCallIDs: make(map[string]struct{}),
	}
}

// NewPersistentSystemSession creates a session whose system prompt is
// re-seeded whenever Clear is called.
func NewPersistentSystemSession(maxMessages int, systemPrompt string) *ConversationSession {
	s := NewConversationSession(maxMessages)
	s.persistentSys = &systemPrompt
	s.messages = append(s.messages, models.NewSystemMessage(systemPrompt, nil))
	return s
}

func (s *ConversationSession) AddUserMessage(content, name string, metadata map[string]any) models.Message {
	return s.append(models.NewUserMessage(content, name, metadata))
}

func (s *ConversationSession) AddSystemMessage(content string, metadata map[string]any) models.Message {
	return s.append(models.NewSystemMessage(content, metadata))
}

func (s *ConversationSession) AddAssistantMessage(content *string, toolCalls []models.ToolCall, metadata map[string]any) models.Message {
	return s.append(models.NewAssistantMessage(content, toolCalls, metadata))
}

// AddToolMessageWithID appends a tool-result message. It returns
// ErrDuplicateToolResult, without mutating the session, if toolCallID has
// already been answered in this session.
func (s *ConversationSession) AddToolMessageWithID(content, toolCallID, toolName string, metadata map[string]any) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.seenToolCallIDs[toolCallID]; seen {
		return models.Message{}, ErrDuplicateToolResult
	}

	msg := models.NewToolMessage(content, toolCallID, toolName, metadata)
	s.messages = append(s.messages, msg)
	s.seenToolCallIDs[toolCallID] = struct{}{}
	s.enforceLimitLocked()
	return msg, nil
}

func (s *ConversationSession) append(msg models.Message) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.enforceLimitLocked()
	return msg
}

// enforceLimitLocked evicts the oldest non-system messages until at most
// maxMessages minus the system-message count of them remain, so the total
// stays within maxMessages. Every system message is preserved
// regardless of age, per spec: a session with more system messages than
// the configured limit simply exceeds it rather than losing a system
// message.
func (s *ConversationSession) enforceLimitLocked() {
	systemCount := 0
	for _, m := range s.messages {
		if m.Role == models.RoleSystem {
			systemCount++
		}
	}
	available := s.maxMessages - systemCount
	if available < 0 {
		available = 0
	}

	nonSystemCount := len(s.messages) - systemCount
	if nonSystemCount <= available {
		return
	}

	toDrop := nonSystemCount - available
	kept := make([]models.Message, 0, len(s.messages))
	dropped := 0
	for _, m := range s.messages {
		if m.Role != models.RoleSystem && dropped < toDrop {
			dropped++
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept
}

// GetMessages returns a defensive copy of the session's message sequence.
func (s *ConversationSession) GetMessages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// GetMessagesByRole filters GetMessages by role.
func (s *ConversationSession) GetMessagesByRole(role models.Role) []models.Message {
	all := s.GetMessages()
	out := make([]models.Message, 0, len(all))
	for _, m := range all {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

// GetRecentMessages returns the last n messages (or all, if fewer exist).
func (s *ConversationSession) GetRecentMessages(n int) []models.Message {
	all := s.GetMessages()
	if n >= len(all) || n < 0 {
		return all
	}
	return all[len(all)-n:]
}

// GetMessagesForAPI flattens the session into its wire-ready form.
func (s *ConversationSession) GetMessagesForAPI() []models.APIMessage {
	all := s.GetMessages()
	out := make([]models.APIMessage, len(all))
	for i, m := range all {
		out[i] = m.ToAPIMessage()
	}
	return out
}

// Clear empties the session. If it was created with a persistent system
// prompt, that prompt is re-seeded.
func (s *ConversationSession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.seenToolCallIDs = make(map[string]struct{})
	if s.persistentSys != nil {
		s.messages = append(s.messages, models.NewSystemMessage(*s.persistentSys, nil))
	}
}

// UpdateSystemPrompt swaps the session's system prompt, retaining every
// non-system message.
func (s *ConversationSession) UpdateSystemPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistentSys = &prompt
	kept := make([]models.Message, 0, len(s.messages)+1)
	kept = append(kept, models.NewSystemMessage(prompt, nil))
	for _, m := range s.messages {
		if m.Role != models.RoleSystem {
			kept = append(kept, m)
		}
	}
	s.messages = kept
}

// ConversationHistory tracks one ConversationSession per conversationId,
// evicting the oldest session on overflow.
type ConversationHistory struct {
	mu          sync.Mutex
	sessions    map[string]*ConversationSession
	order       []string
	maxSessions int
	maxMessages int

	sessionLocksMu sync.Mutex
	sessionLocks   map[string]*sessionLock
}

// sessionLock is a refcounted per-conversation advisory lock: multiple
// callers can request the same conversationId's lock concurrently, and the
// entry is only removed once the last holder releases it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewConversationHistory creates a history with the given session and
// per-session message caps. Values <= 0 use the package defaults.
func NewConversationHistory(maxSessions, maxMessagesPerSession int) *ConversationHistory {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &ConversationHistory{
		sessions:     make(map[string]*ConversationSession),
		maxSessions:  maxSessions,
		maxMessages:  maxMessagesPerSession,
		sessionLocks: make(map[string]*sessionLock),
	}
}

// LockSession acquires the advisory lock for conversationId and returns a
// function that releases it. Concurrent orchestrator runs against the same
// conversationId serialize on this lock instead of racing on the
// underlying ConversationSession; runs against different conversationIds
// never block each other. An empty conversationId returns a no-op unlock.
func (h *ConversationHistory) LockSession(conversationID string) func() {
	if strings.TrimSpace(conversationID) == "" {
		return func() {}
	}

	h.sessionLocksMu.Lock()
	lock := h.sessionLocks[conversationID]
	if lock == nil {
		lock = &sessionLock{}
		h.sessionLocks[conversationID] = lock
	}
	lock.refs++
	h.sessionLocksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		h.sessionLocksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(h.sessionLocks, conversationID)
		}
		h.sessionLocksMu.Unlock()
	}
}

// GetSession returns the session for conversationId, creating it (and
// possibly evicting the oldest tracked session) if it does not yet exist.
func (h *ConversationHistory) GetSession(conversationID string) *ConversationSession {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.sessions[conversationID]; ok {
		return s
	}

	if len(h.order) >= h.maxSessions && len(h.order) > 0 {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.sessions, oldest)
	}

	s := NewConversationSession(h.maxMessages)
	h.sessions[conversationID] = s
	h.order = append(h.order, conversationID)
	return s
}

// RemoveSession discards the session for conversationId, if any.
func (h *ConversationHistory) RemoveSession(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, conversationID)
	for i, id := range h.order {
		if id == conversationID {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// SessionCount returns the number of tracked sessions.
func (h *ConversationHistory) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
