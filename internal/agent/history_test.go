package agent

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/agentcore/pkg/models"
)

func TestConversationSession_AddAndGetMessages(t *testing.T) {
	s := NewConversationSession(0)
	s.AddUserMessage("hello", "", nil)
	s.AddAssistantMessage(models.StringPtr("hi"), nil, nil)

	msgs := s.GetMessages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Errorf("unexpected roles: %v, %v", msgs[0].Role, msgs[1].Role)
	}
}

func TestConversationSession_GetMessagesIsDefensiveCopy(t *testing.T) {
	s := NewConversationSession(0)
	s.AddUserMessage("hello", "", nil)

	msgs := s.GetMessages()
	msgs[0] = models.NewUserMessage("mutated", "", nil)

	again := s.GetMessages()
	if again[0].ContentOrEmpty() != "hello" {
		t.Errorf("expected session to be unaffected by caller mutation, got %q", again[0].ContentOrEmpty())
	}
}

func TestConversationSession_DuplicateToolResultRejected(t *testing.T) {
	s := NewConversationSession(0)

	if _, err := s.AddToolMessageWithID("result", "call-1", "search", nil); err != nil {
		t.Fatalf("unexpected error on first tool result: %v", err)
	}
	_, err := s.AddToolMessageWithID("another result", "call-1", "search", nil)
	if !errors.Is(err, ErrDuplicateToolResult) {
		t.Fatalf("expected ErrDuplicateToolResult, got %v", err)
	}

	if len(s.GetMessages()) != 1 {
		t.Errorf("rejected duplicate should not mutate the session")
	}
}

func TestConversationSession_EnforceLimitPreservesSystemMessages(t *testing.T) {
	s := NewConversationSession(2)
	s.AddSystemMessage("be nice", nil)
	s.AddUserMessage("one", "", nil)
	s.AddUserMessage("two", "", nil)
	s.AddUserMessage("three", "", nil)

	msgs := s.GetMessages()
	systemCount := 0
	var contents []string
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			systemCount++
		} else {
			contents = append(contents, m.ContentOrEmpty())
		}
	}
	if systemCount != 1 {
		t.Errorf("expected system message preserved, got %d system messages", systemCount)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 non-system message retained (cap 2 minus 1 system), got %d: %v", len(contents), contents)
	}
	if contents[0] != "three" {
		t.Errorf("expected oldest non-system messages evicted first, got %v", contents)
	}
}

func TestConversationSession_PersistentSystemPromptSurvivesClear(t *testing.T) {
	s := NewPersistentSystemSession(10, "be concise")
	s.AddUserMessage("hello", "", nil)
	s.Clear()

	msgs := s.GetMessages()
	if len(msgs) != 1 {
		t.Fatalf("expected only the re-seeded system message after Clear, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleSystem || msgs[0].ContentOrEmpty() != "be concise" {
		t.Errorf("expected persistent system message re-seeded, got %+v", msgs[0])
	}
}

func TestConversationSession_ClearWithoutPersistentPromptIsEmpty(t *testing.T) {
	s := NewConversationSession(10)
	s.AddUserMessage("hello", "", nil)
	s.Clear()

	if len(s.GetMessages()) != 0 {
		t.Errorf("expected no messages after Clear, got %d", len(s.GetMessages()))
	}
}

func TestConversationSession_UpdateSystemPromptReplacesExisting(t *testing.T) {
	s := NewConversationSession(10)
	s.AddSystemMessage("old prompt", nil)
	s.AddUserMessage("hello", "", nil)

	s.UpdateSystemPrompt("new prompt")

	msgs := s.GetMessages()
	systemMsgs := 0
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			systemMsgs++
			if m.ContentOrEmpty() != "new prompt" {
				t.Errorf("expected updated prompt, got %q", m.ContentOrEmpty())
			}
		}
	}
	if systemMsgs != 1 {
		t.Errorf("expected exactly 1 system message after update, got %d", systemMsgs)
	}
}

func TestConversationSession_GetMessagesByRole(t *testing.T) {
	s := NewConversationSession(0)
	s.AddSystemMessage("sys", nil)
	s.AddUserMessage("u1", "", nil)
	s.AddUserMessage("u2", "", nil)

	users := s.GetMessagesByRole(models.RoleUser)
	if len(users) != 2 {
		t.Fatalf("expected 2 user messages, got %d", len(users))
	}
}

func TestConversationSession_GetRecentMessages(t *testing.T) {
	s := NewConversationSession(0)
	for i := 0; i < 5; i++ {
		s.AddUserMessage("msg", "", nil)
	}

	if got := len(s.GetRecentMessages(2)); got != 2 {
		t.Errorf("GetRecentMessages(2) returned %d messages, want 2", got)
	}
	if got := len(s.GetRecentMessages(100)); got != 5 {
		t.Errorf("GetRecentMessages(100) returned %d messages, want 5 (all)", got)
	}
	if got := len(s.GetRecentMessages(-1)); got != 5 {
		t.Errorf("GetRecentMessages(-1) returned %d messages, want 5 (all)", got)
	}
}

func TestConversationHistory_GetSessionCreatesAndReuses(t *testing.T) {
	h := NewConversationHistory(0, 0)

	s1 := h.GetSession("conv-1")
	s1.AddUserMessage("hi", "", nil)

	s2 := h.GetSession("conv-1")
	if len(s2.GetMessages()) != 1 {
		t.Fatal("expected GetSession to return the same session for the same ID")
	}
	if h.SessionCount() != 1 {
		t.Errorf("expected 1 tracked session, got %d", h.SessionCount())
	}
}

func TestConversationHistory_EvictsOldestOnOverflow(t *testing.T) {
	h := NewConversationHistory(2, 0)

	h.GetSession("conv-1")
	h.GetSession("conv-2")
	h.GetSession("conv-3")

	if h.SessionCount() != 2 {
		t.Fatalf("expected 2 tracked sessions after overflow, got %d", h.SessionCount())
	}

	// conv-1 was the oldest and should have been evicted, i.e. GetSession
	// now creates a fresh session for it rather than returning a pre-existing one.
	s1 := h.GetSession("conv-1")
	s1.AddUserMessage("new", "", nil)
	if len(s1.GetMessages()) != 1 {
		t.Errorf("expected a fresh session for evicted conversation ID")
	}
}

func TestConversationHistory_RemoveSession(t *testing.T) {
	h := NewConversationHistory(0, 0)
	h.GetSession("conv-1")
	h.RemoveSession("conv-1")

	if h.SessionCount() != 0 {
		t.Errorf("expected 0 sessions after removal, got %d", h.SessionCount())
	}
}

func TestConversationHistory_LockSessionSerializesSameConversation(t *testing.T) {
	h := NewConversationHistory(0, 0)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			unlock := h.LockSession("conv-1")
			defer unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(order) != 3 {
		t.Fatalf("expected all 3 goroutines to record their turn, got %d", len(order))
	}
}

func TestConversationHistory_LockSessionDoesNotBlockDifferentConversations(t *testing.T) {
	h := NewConversationHistory(0, 0)

	unlock1 := h.LockSession("conv-1")
	defer unlock1()

	done := make(chan struct{})
	go func() {
		unlock2 := h.LockSession("conv-2")
		defer unlock2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on conv-2 blocked while conv-1 was held, expected independent locks")
	}
}

func TestConversationHistory_LockSessionEmptyIDIsNoOp(t *testing.T) {
	h := NewConversationHistory(0, 0)
	unlock := h.LockSession("")
	unlock()
}
