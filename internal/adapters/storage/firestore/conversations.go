package firestore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/firestore"
	pb "cloud.google.com/go/firestore/apiv1/firestorepb"

	"github.com/PabloGalante/personai/internal/domain"
)

type conversationDoc struct {
	UserID         string        `firestore:"user_id"`
	Phase          string        `firestore:"phase"`
	Summary        memorySummary `firestore:"summary"`
	SessionStart   time.Time     `firestore:"session_started_at"`
	MessageCount   int           `firestore:"message_count"`
	SessionMode    string        `firestore:"session_mode"`
	ProbingPersona string        `firestore:"probing_persona"`
	ProtocolLocked bool          `firestore:"protocol_locked"`
	CreatedAt      time.Time     `firestore:"created_at"`
	UpdatedAt      time.Time     `firestore:"updated_at"`
}

type memorySummary struct {
	ProfileNotes string   `firestore:"profile_notes"`
	KeyInsights  []string `firestore:"key_insights"`
	CurrentTopic string   `firestore:"current_topic"`
}

type messageDoc struct {
	ConversationID string    `firestore:"conversation_id"`
	UserID         string    `firestore:"user_id"`
	Role           string    `firestore:"role"`
	Content        string    `firestore:"content"`
	Phase          string    `firestore:"phase"`
	CreatedAt      time.Time `firestore:"created_at"`
}

func toConversationDoc(c *domain.Conversation) conversationDoc {
	return conversationDoc{
		UserID: string(c.UserID),
		Phase:  string(c.Phase),
		Summary: memorySummary{
			ProfileNotes: c.Summary.ProfileNotes,
			KeyInsights:  c.Summary.KeyInsights,
			CurrentTopic: c.Summary.CurrentTopic,
		},
		SessionStart:   c.Session.StartedAt,
		MessageCount:   c.Session.MessageCount,
		SessionMode:    string(c.Session.Mode),
		ProbingPersona: c.ProbingPersona,
		ProtocolLocked: c.ProtocolLocked,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func fromConversationDoc(id string, d conversationDoc) *domain.Conversation {
	return &domain.Conversation{
		ID:     domain.ConversationID(id),
		UserID: domain.UserID(d.UserID),
		Phase:  domain.Phase(d.Phase),
		Summary: domain.MemorySummary{
			ProfileNotes: d.Summary.ProfileNotes,
			KeyInsights:  d.Summary.KeyInsights,
			CurrentTopic: d.Summary.CurrentTopic,
		},
		Session: domain.SessionState{
			StartedAt:    d.SessionStart,
			MessageCount: d.MessageCount,
			Mode:         domain.SessionMode(d.SessionMode),
		},
		ProbingPersona: d.ProbingPersona,
		ProtocolLocked: d.ProtocolLocked,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func decodeConversation(snap *firestore.DocumentSnapshot) (*domain.Conversation, error) {
	var doc conversationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return fromConversationDoc(snap.Ref.ID, doc), nil
}

// ConversationStore implementation

func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	_, err := s.conversationDoc(conv.ID).Create(ctx, toConversationDoc(conv))
	return mapErr("CreateConversation", "conversation "+string(conv.ID), err)
}

// UpdateConversation replaces the whole document. The document must exist.
func (s *Store) UpdateConversation(ctx context.Context, conv *domain.Conversation) error {
	ref := s.conversationDoc(conv.ID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Set(ref, toConversationDoc(conv))
	})
	return mapErr("UpdateConversation", "conversation "+string(conv.ID), err)
}

func (s *Store) GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	snap, err := s.conversationDoc(id).Get(ctx)
	if err != nil {
		return nil, mapErr("GetConversation", "conversation "+string(id), err)
	}
	conv, err := decodeConversation(snap)
	if err != nil {
		return nil, fmt.Errorf("firestore GetConversation decode: %w", err)
	}
	return conv, nil
}

func (s *Store) LatestConversationByUser(ctx context.Context, userID domain.UserID) (*domain.Conversation, error) {
	iter := s.client.Collection(colConversations).
		Where("user_id", "==", string(userID)).
		OrderBy("updated_at", firestore.Desc).
		Limit(1).
		Documents(ctx)

	out, err := collect(iter, "LatestConversationByUser", decodeConversation)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("conversation for user %s: %w", userID, domain.ErrNotFound)
	}
	return out[0], nil
}

// MessageStore implementation

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	doc := messageDoc{
		ConversationID: string(msg.ConversationID),
		UserID:         string(msg.UserID),
		Role:           string(msg.Role),
		Content:        msg.Content,
		Phase:          string(msg.Phase),
		CreatedAt:      msg.CreatedAt,
	}
	_, err := s.messagesCol(msg.ConversationID).Doc(string(msg.ID)).Create(ctx, doc)
	return mapErr("AppendMessage", "message "+string(msg.ID), err)
}

// ListMessages returns the trailing `limit` messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID domain.ConversationID, limit int) ([]*domain.Message, error) {
	q := s.messagesCol(conversationID).OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	out, err := collect(q.Documents(ctx), "ListMessages", func(snap *firestore.DocumentSnapshot) (*domain.Message, error) {
		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		return &domain.Message{
			ID:             domain.MessageID(snap.Ref.ID),
			ConversationID: conversationID,
			UserID:         domain.UserID(doc.UserID),
			Role:           domain.Role(doc.Role),
			Content:        doc.Content,
			Phase:          domain.Phase(doc.Phase),
			CreatedAt:      doc.CreatedAt,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	if out == nil {
		out = []*domain.Message{}
	}
	return out, nil
}

const countAlias = "all"

// CountMessages counts the messages subcollection server side.
func (s *Store) CountMessages(ctx context.Context, conversationID domain.ConversationID) (int, error) {
	res, err := s.messagesCol(conversationID).NewAggregationQuery().WithCount(countAlias).Get(ctx)
	if err != nil {
		return 0, mapErr("CountMessages", "conversation "+string(conversationID), err)
	}
	return countFrom(res, countAlias)
}

func countFrom(res firestore.AggregationResult, alias string) (int, error) {
	switch v := res[alias].(type) {
	case *pb.Value:
		return int(v.GetIntegerValue()), nil
	case int64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("count aggregation %q: unexpected %T", alias, res[alias])
	}
}
