package usecase

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"voicecrm/internal/domain"
)

// conversationLog is the append-only transcript history. It outlives
// individual sessions: stopping a session does not clear it.
type conversationLog struct {
	mu      sync.Mutex
	entries []domain.ConversationEntry
}

func newConversationLog() *conversationLog {
	return &conversationLog{}
}

// Append records a trimmed, non-empty transcript and reports whether an
// entry was created.
func (l *conversationLog) Append(role domain.Role, text string) (domain.ConversationEntry, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ConversationEntry{}, false
	}

	entry := domain.ConversationEntry{
		ID:        uuid.NewString(),
		Text:      text,
		Role:      role,
		Timestamp: time.Now(),
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return entry, true
}

// Snapshot returns a copy of the log in append order.
func (l *conversationLog) Snapshot() []domain.ConversationEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ConversationEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
