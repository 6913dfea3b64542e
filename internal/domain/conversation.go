package domain

// MemorySummary holds durable facts about the user, carried across turns
// independently of the raw message history.
type MemorySummary struct {
	ProfileNotes string   `json:"profile_notes,omitempty"`
	KeyInsights  []string `json:"key_insights,omitempty"`
	CurrentTopic string   `json:"current_topic,omitempty"`
}

func (m MemorySummary) IsZero() bool {
	return m.ProfileNotes == "" && len(m.KeyInsights) == 0 && m.CurrentTopic == ""
}

// Merge folds update into m. Empty fields in update keep the current value;
// insights are appended without duplicates.
func (m MemorySummary) Merge(update MemorySummary) MemorySummary {
	out := MemorySummary{
		ProfileNotes: m.ProfileNotes,
		CurrentTopic: m.CurrentTopic,
		KeyInsights:  append([]string(nil), m.KeyInsights...),
	}
	if update.ProfileNotes != "" {
		out.ProfileNotes = update.ProfileNotes
	}
	if update.CurrentTopic != "" {
		out.CurrentTopic = update.CurrentTopic
	}

	seen := make(map[string]struct{}, len(out.KeyInsights))
	for _, in := range out.KeyInsights {
		seen[in] = struct{}{}
	}
	for _, in := range update.KeyInsights {
		if in == "" {
			continue
		}
		if _, ok := seen[in]; ok {
			continue
		}
		seen[in] = struct{}{}
		out.KeyInsights = append(out.KeyInsights, in)
	}
	return out
}

// SessionState is the fatigue accounting persisted alongside a conversation.
// A zero StartedAt means the session has not been started yet.
type SessionState struct {
	StartedAt    Timestamp
	MessageCount int
	Mode         SessionMode
}

type SessionMode string

const (
	SessionModeNormal     SessionMode = "normal"
	SessionModeSoftClose  SessionMode = "soft_close"
	SessionModeReflective SessionMode = "reflective"
)

// Conversation is a dialogue thread owned by a single user.
type Conversation struct {
	ID     ConversationID
	UserID UserID
	Phase  Phase

	Summary MemorySummary
	Session SessionState

	// ProbingPersona is the persona candidate being triangulated, if any.
	ProbingPersona string
	ProtocolLocked bool

	CreatedAt Timestamp
	UpdatedAt Timestamp
}

// Message is a single persisted utterance. Messages are never mutated.
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	UserID         UserID
	Role           Role
	Content        string
	Phase          Phase
	CreatedAt      Timestamp
}

// Profile is the durable user record the persona tools write to.
type Profile struct {
	UserID UserID

	Essence          string
	PersonaStrategy  string
	PersonaValues    []string
	IdentityTags     []string
	Logline          string
	EmotionalPosture string
	GrowthPhilosophy string
	ActiveGoal       string

	UpdatedAt Timestamp
}
