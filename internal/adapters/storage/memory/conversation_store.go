package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/PabloGalante/personai/internal/domain"
)

type ConversationStore struct {
	mu            sync.RWMutex
	conversations map[domain.ConversationID]*domain.Conversation
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		conversations: make(map[domain.ConversationID]*domain.Conversation),
	}
}

func (s *ConversationStore) CreateConversation(_ context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conv.ID]; exists {
		return fmt.Errorf("conversation %s: %w", conv.ID, domain.ErrAlreadyExists)
	}

	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

func (s *ConversationStore) UpdateConversation(_ context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conv.ID]; !exists {
		return fmt.Errorf("conversation %s: %w", conv.ID, domain.ErrNotFound)
	}

	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

func (s *ConversationStore) GetConversation(_ context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}

	return cloneConversation(conv), nil
}

func (s *ConversationStore) LatestConversationByUser(_ context.Context, userID domain.UserID) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Conversation
	for _, conv := range s.conversations {
		if conv.UserID != userID {
			continue
		}
		if latest == nil || conv.UpdatedAt.After(latest.UpdatedAt) {
			latest = conv
		}
	}

	if latest == nil {
		return nil, fmt.Errorf("conversation for user %s: %w", userID, domain.ErrNotFound)
	}
	return cloneConversation(latest), nil
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	out := *c
	out.Summary.KeyInsights = append([]string(nil), c.Summary.KeyInsights...)
	return &out
}
