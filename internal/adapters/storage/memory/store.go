// Package memory provides in-memory context store implementations for
// local development and tests.
package memory

import "github.com/PabloGalante/personai/internal/domain"

// Store bundles every in-memory store into a single domain.Store.
type Store struct {
	*ConversationStore
	*MessageStore
	*TaskStore
	*ProfileStore
}

var _ domain.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		ConversationStore: NewConversationStore(),
		MessageStore:      NewMessageStore(),
		TaskStore:         NewTaskStore(),
		ProfileStore:      NewProfileStore(),
	}
}
