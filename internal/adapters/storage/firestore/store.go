// Package firestore implements the context store on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/personai/internal/domain"
)

const (
	colConversations = "conversations"
	colMessages      = "messages"
	colTasks         = "tasks"
	colMissions      = "missions"
	colProfiles      = "profiles"
)

type Store struct {
	client *firestore.Client
}

var _ domain.Store = (*Store)(nil)

// NewStore creates a Firestore store for the given project.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Helpers

func (s *Store) conversationDoc(id domain.ConversationID) *firestore.DocumentRef {
	return s.client.Collection(colConversations).Doc(string(id))
}

func (s *Store) messagesCol(id domain.ConversationID) *firestore.CollectionRef {
	return s.conversationDoc(id).Collection(colMessages)
}

// mapErr turns a gRPC NotFound or AlreadyExists into the domain sentinel.
func mapErr(op, what string, err error) error {
	switch status.Code(err) {
	case codes.OK:
		return nil
	case codes.NotFound:
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	case codes.AlreadyExists:
		return fmt.Errorf("%s: %w", what, domain.ErrAlreadyExists)
	}
	return fmt.Errorf("firestore %s: %w", op, err)
}

// collect drains iter, decoding each document with decode.
func collect[T any](iter *firestore.DocumentIterator, op string, decode func(*firestore.DocumentSnapshot) (T, error)) ([]T, error) {
	defer iter.Stop()

	var out []T
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("firestore %s: %w", op, err)
		}
		v, err := decode(snap)
		if err != nil {
			return nil, fmt.Errorf("firestore %s decode: %w", op, err)
		}
		out = append(out, v)
	}
	return out, nil
}
