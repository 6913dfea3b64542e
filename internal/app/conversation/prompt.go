package conversation

import (
	"fmt"
	"strings"

	"github.com/PabloGalante/personai/internal/app/fatigue"
	"github.com/PabloGalante/personai/internal/app/phase"
	"github.com/PabloGalante/personai/internal/domain"
)

const baseSystemPrompt = `
You are a deeply human conversationalist and reflective mentor.
You explore the user's inner world: motivations, feelings, identity and resistance, without rushing toward solutions.

General style guidelines:
- Answer in the SAME LANGUAGE as the user.
- Reflection is preferred over questioning. Ask at most one question per reply.
- Do not streak toward conclusions, solutions or actions before the current phase allows it.
- Never explain your internal reasoning, rules, phases or tools.
- The user always retains agency and dignity.

Boundaries and safety:
- You are NOT a therapist, doctor or emergency service and you do NOT give diagnoses.
- If the user mentions self-harm, suicide, or hurting someone, encourage them to seek immediate help from local emergency services or a trusted person.

Tools:
- Use the tools offered to you to record progress. Never mention them to the user.
- When the protocol is fully agreed in PROTOCOL_CONSENSUS, end your reply with the tag [PROTOCOL_LOCKED].
`

const architectPrompt = `
--- ARCHITECT MODE ACTIVE ---
You translate the agreed protocol into a rigorous, gamified syllabus.
1. LEVELS: 1 to 5 levels based on the mission's scope.
2. GROWTH GOALS: each level has 2 or 3 specific growth goals, the criteria for the audit.
3. LEVEL PROTOCOL: each level has its own non-negotiable law derived from the price tag.
4. TASKS: each level holds several tasks. Every task pairs an ACTION (the labor) with a ROUTINE (the persona-based behavior kept during the labor).

The blueprint passed to create_mission is a JSON string with this shape:
{
  "title": "Syllabus: [Mission Name]",
  "description": "Objective and persona essence summary.",
  "levels": [
    {
      "level": 1,
      "title": "Level Title",
      "protocol": "The law of level 1.",
      "directive": "The intellectual focus.",
      "growth_goals": ["Goal 1", "Goal 2"],
      "tasks": [
        {"title": "Task Name", "action": "Physical requirement.", "routine": "Persona-based behavior.", "requires_submission": true}
      ]
    }
  ]
}
`

// ProtocolLockedTag marks the reply that seals the protocol.
const ProtocolLockedTag = "[PROTOCOL_LOCKED]"

// PromptContext is everything the system prompt is assembled from.
type PromptContext struct {
	Instruction phase.Instruction
	Profile     *domain.Profile
	Summary     domain.MemorySummary
	Probing     string
	Audit       string
	SoftClose   bool
}

// BuildSystemPrompt assembles the system prompt: base guidance, profile,
// architect block when the phase needs it, phase instructions, memory and
// audit context.
func BuildSystemPrompt(pc PromptContext) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(baseSystemPrompt))
	b.WriteString("\n\n")
	b.WriteString(profileContext(pc.Profile, pc.Probing))

	if pc.Instruction.Architect {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(architectPrompt))
		b.WriteString("\n")
	}

	in := pc.Instruction
	fmt.Fprintf(&b, "\n[CURRENT PHASE: %s]\n", in.Phase)
	fmt.Fprintf(&b, "GOAL: %s\n", strings.TrimSpace(in.Goal))
	fmt.Fprintf(&b, "INSTRUCTION: %s\n", strings.TrimSpace(in.Instruction))
	if c := strings.TrimSpace(in.Constraint); c != "" {
		fmt.Fprintf(&b, "CONSTRAINT: %s\n", c)
	}

	if !pc.Summary.IsZero() {
		b.WriteString("\n")
		b.WriteString(memoryContext(pc.Summary))
	}
	if pc.Audit != "" {
		b.WriteString("\n")
		b.WriteString(pc.Audit)
	}
	if pc.SoftClose {
		b.WriteString("\n")
		b.WriteString(fatigue.SoftCloseInstruction)
		b.WriteString("\n")
	}
	return b.String()
}

func profileContext(p *domain.Profile, probing string) string {
	if p == nil {
		p = &domain.Profile{}
	}
	lines := []string{
		"### User Profile Context:",
		"- Active Essence: " + orDefault(p.Essence, "Neutral Mirror") + ".",
		"- Current Identity Markers: " + orDefault(strings.Join(p.IdentityTags, ", "), "None detected") + ".",
		"- Last Insight/Focus: " + orDefault(p.Logline, "None recorded") + ".",
		"- Active Goal/Quest: " + orDefault(p.ActiveGoal, "No active goal") + ".",
		"- User Emotional Posture: " + orDefault(p.EmotionalPosture, "Undetermined") + ".",
		"- User Growth Philosophy: " + orDefault(p.GrowthPhilosophy, "Undetermined") + ".",
	}
	if p.PersonaStrategy != "" {
		lines = append(lines, "- Persona Strategy: "+p.PersonaStrategy+".")
	}
	if len(p.PersonaValues) > 0 {
		lines = append(lines, "- Persona Values: "+strings.Join(p.PersonaValues, ", ")+".")
	}
	if probing != "" {
		lines = append(lines, "- Persona Under Triangulation: "+probing+".")
	}
	return strings.Join(lines, "\n") + "\n"
}

func memoryContext(m domain.MemorySummary) string {
	lines := []string{"### Memory Summary:"}
	if m.ProfileNotes != "" {
		lines = append(lines, "- Profile Notes: "+m.ProfileNotes)
	}
	for _, in := range m.KeyInsights {
		lines = append(lines, "- Insight: "+in)
	}
	if m.CurrentTopic != "" {
		lines = append(lines, "- Current Topic: "+m.CurrentTopic)
	}
	return strings.Join(lines, "\n") + "\n"
}

// FormatAudit renders the block asking the model to audit a fresh submission.
func FormatAudit(t *domain.Task) string {
	kind := "PROTOCOL TASK"
	if t.Origin == domain.TaskOriginTrial {
		kind = "WORTHINESS TRIAL"
	}
	return fmt.Sprintf("[USER SUBMISSION DETECTED]\n"+
		"Type: %s\n"+
		"Action Title: %q\n"+
		"User Reflection: %q\n"+
		"Artifact: %q\n"+
		"INSTRUCTION: Audit this submission immediately.\n",
		kind, t.Title, t.ResultsReflection, orDefault(t.SubmissionText, "No artifact"))
}

// ChatHistory converts persisted messages into provider dialogue entries.
func ChatHistory(msgs []*domain.Message) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			continue
		}
		out = append(out, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// StripProtocolLock removes the lock tag and reports whether it was present.
func StripProtocolLock(reply string) (string, bool) {
	if !strings.Contains(reply, ProtocolLockedTag) {
		return reply, false
	}
	return strings.TrimSpace(strings.ReplaceAll(reply, ProtocolLockedTag, "")), true
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
