package sessions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Common conversation store errors.
var (
	ErrConversationNotFound      = errors.New("conversation not found")
	ErrConversationNotArchivable = errors.New("conversation cannot be archived from its current status")
)

// ConversationStore manages Conversation metadata layered over a Store's
// sessions/messages and a BranchStore's branches. It does not own message
// content: Conversation.SessionID is the join key back to those stores.
type ConversationStore interface {
	// Create creates a new Active conversation bound to sessionID.
	Create(ctx context.Context, sessionID, title string) (*models.Conversation, error)

	// Get retrieves a conversation by ID.
	Get(ctx context.Context, id string) (*models.Conversation, error)

	// ListSummaries returns lightweight projections, most-recently-active first.
	ListSummaries(ctx context.Context, opts ListOptions) ([]*models.ConversationSummary, error)

	// SetStatus transitions a conversation to the given status.
	SetStatus(ctx context.Context, id string, status models.ConversationStatus) error

	// Archive transitions a conversation to Archived. Returns
	// ErrConversationNotArchivable if the current status doesn't allow it.
	Archive(ctx context.Context, id string) error

	// Touch updates LastActiveAt to now, e.g. after a new message is appended.
	Touch(ctx context.Context, id string) error

	// SetBranchPresence records whether the conversation has non-primary
	// branches, updated by the branch store after a fork/delete.
	SetBranchPresence(ctx context.Context, id string, hasBranches bool) error
}

// MemoryConversationStore is an in-memory ConversationStore, the default
// backing store the way MemoryStore is the default session Store.
type MemoryConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messageCounts func(sessionID string) int
}

// NewMemoryConversationStore creates an in-memory conversation store.
// messageCounts, if non-nil, is consulted by ListSummaries to populate
// ConversationSummary.MessageCount; a nil func leaves it at zero.
func NewMemoryConversationStore(messageCounts func(sessionID string) int) *MemoryConversationStore {
	return &MemoryConversationStore{
		conversations: make(map[string]*models.Conversation),
		messageCounts: messageCounts,
	}
}

func (s *MemoryConversationStore) Create(ctx context.Context, sessionID, title string) (*models.Conversation, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	conv := models.NewConversation(sessionID, title)
	conv.ID = uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = cloneConversation(conv)
	return cloneConversation(conv), nil
}

func (s *MemoryConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

func (s *MemoryConversationStore) ListSummaries(ctx context.Context, opts ListOptions) ([]*models.ConversationSummary, error) {
	s.mu.RLock()
	var out []*models.ConversationSummary
	for _, conv := range s.conversations {
		count := 0
		if s.messageCounts != nil {
			count = s.messageCounts(conv.SessionID)
		}
		out = append(out, &models.ConversationSummary{
			ID:           conv.ID,
			SessionID:    conv.SessionID,
			Title:        conv.Title,
			Status:       conv.Status,
			Tags:         append([]string(nil), conv.Tags...),
			MessageCount: count,
			LastActiveAt: conv.LastActiveAt,
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	if start > len(out) {
		return []*models.ConversationSummary{}, nil
	}
	return out[start:end], nil
}

func (s *MemoryConversationStore) SetStatus(ctx context.Context, id string, status models.ConversationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	conv.Status = status
	return nil
}

func (s *MemoryConversationStore) Archive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	if !conv.CanArchive() {
		return ErrConversationNotArchivable
	}
	conv.Status = models.ConversationArchived
	return nil
}

func (s *MemoryConversationStore) Touch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	conv.LastActiveAt = time.Now()
	return nil
}

func (s *MemoryConversationStore) SetBranchPresence(ctx context.Context, id string, hasBranches bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	conv.HasBranches = hasBranches
	return nil
}

func cloneConversation(c *models.Conversation) *models.Conversation {
	clone := *c
	clone.Tags = append([]string(nil), c.Tags...)
	return &clone
}
