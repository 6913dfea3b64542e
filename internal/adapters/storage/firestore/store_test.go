package firestore

import (
	"errors"
	"testing"
	"time"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/personai/internal/domain"
)

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr("op", "thing", nil))
	assert.ErrorIs(t, mapErr("op", "thing", status.Error(codes.NotFound, "gone")), domain.ErrNotFound)
	assert.ErrorIs(t, mapErr("op", "thing", status.Error(codes.AlreadyExists, "dup")), domain.ErrAlreadyExists)

	err := mapErr("op", "thing", errors.New("boom"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestConversationDocKeepsSessionState(t *testing.T) {
	now := time.Now()
	conv := &domain.Conversation{
		ID:     "c1",
		UserID: "u1",
		Phase:  domain.PhaseTheCounsel,
		Summary: domain.MemorySummary{
			ProfileNotes: "Runner",
			KeyInsights:  []string{"craves structure"},
		},
		Session: domain.SessionState{
			StartedAt:    now.Add(-time.Hour),
			MessageCount: 31,
			Mode:         domain.SessionModeSoftClose,
		},
		ProtocolLocked: true,
		CreatedAt:      now.Add(-24 * time.Hour),
		UpdatedAt:      now,
	}

	assert.Equal(t, conv, fromConversationDoc("c1", toConversationDoc(conv)))
}

func TestCountFrom(t *testing.T) {
	n, err := countFrom(map[string]any{"all": &pb.Value{ValueType: &pb.Value_IntegerValue{IntegerValue: 60}}}, "all")
	require.NoError(t, err)
	assert.Equal(t, 60, n)

	n, err = countFrom(map[string]any{"all": int64(3)}, "all")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = countFrom(map[string]any{}, "all")
	assert.Error(t, err)
}
