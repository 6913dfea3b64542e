// Package fatigue throttles long sessions. A session is classified by how many
// messages it has accumulated; long sessions stop reaching the completion
// provider and get fixed replies instead.
package fatigue

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/PabloGalante/personai/internal/domain"
)

type Mode = domain.SessionMode

const (
	Normal     = domain.SessionModeNormal
	SoftClose  = domain.SessionModeSoftClose
	Reflective = domain.SessionModeReflective
)

type Config struct {
	SoftLimit int
	HardLimit int
	// Window is how long a session lasts before its accounting resets.
	Window time.Duration

	// SoftCloseUsesProvider asks the provider for a short closing reply
	// instead of returning the fixed pausing narrative.
	SoftCloseUsesProvider bool
	SoftCloseMaxTokens    int
}

// Classify maps a message count to a mode. The hard limit is exclusive and
// the soft limit inclusive: soft <= count <= hard is SoftClose.
func Classify(messageCount int, cfg Config) Mode {
	switch {
	case messageCount > cfg.HardLimit:
		return Reflective
	case messageCount >= cfg.SoftLimit:
		return SoftClose
	default:
		return Normal
	}
}

func rank(m Mode) int {
	switch m {
	case SoftClose:
		return 1
	case Reflective:
		return 2
	default:
		return 0
	}
}

func maxMode(a, b Mode) Mode {
	if rank(b) > rank(a) {
		return b
	}
	if a == "" {
		return Normal
	}
	return a
}

type Controller struct {
	cfg  Config
	now  func() time.Time
	pick func(n int) int
}

func NewController(cfg Config) *Controller {
	return &Controller{
		cfg:  cfg,
		now:  time.Now,
		pick: rand.IntN,
	}
}

func (c *Controller) Config() Config {
	return c.cfg
}

// Elapsed is the time since the session started. A missing start, or one in
// the future, counts as a session that just started.
func (c *Controller) Elapsed(state domain.SessionState) time.Duration {
	if state.StartedAt.IsZero() {
		return 0
	}
	d := c.now().Sub(state.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Reset restarts the session once the window has elapsed. The count restarts
// from historyCount, not zero. The mode only relaxes when that count is below
// the hard limit. Within the window Reset returns state unchanged.
func (c *Controller) Reset(state domain.SessionState, historyCount int) domain.SessionState {
	if c.cfg.Window <= 0 || c.Elapsed(state) <= c.cfg.Window {
		return state
	}

	next := domain.SessionState{
		StartedAt:    c.now(),
		MessageCount: historyCount,
	}
	if historyCount < c.cfg.HardLimit {
		next.Mode = Classify(historyCount, c.cfg)
	} else {
		next.Mode = maxMode(state.Mode, Classify(historyCount, c.cfg))
	}
	return next
}

// Observe accounts for added messages. Within a session the mode only moves
// toward Reflective.
func (c *Controller) Observe(state domain.SessionState, added int) domain.SessionState {
	if state.StartedAt.IsZero() {
		state.StartedAt = c.now()
	}
	state.MessageCount += added
	state.Mode = maxMode(state.Mode, Classify(state.MessageCount, c.cfg))
	return state
}

// Evaluate runs the per-turn accounting for one incoming user message and
// returns the state the turn runs under.
func (c *Controller) Evaluate(state domain.SessionState, historyCount int) domain.SessionState {
	state = c.Reset(state, historyCount)
	return c.Observe(state, 1)
}

// RechargeHours is the whole number of hours until the session window
// resets, at least 1.
func (c *Controller) RechargeHours(state domain.SessionState) int {
	remaining := c.cfg.Window - c.Elapsed(state)
	hours := int(math.Ceil(remaining.Hours()))
	if hours < 1 {
		return 1
	}
	return hours
}

// SoftCloseReply is the fixed pausing narrative.
func (c *Controller) SoftCloseReply(state domain.SessionState) string {
	hours := c.RechargeHours(state)
	unit := "hours"
	if hours == 1 {
		unit = "hour"
	}
	return "We have covered profound ground today. My capacity to offer you the sharpest insight is waning. " +
		"Let us pause here so I can integrate what we've discussed. I will be fully recharged in " +
		strconv.Itoa(hours) + " " + unit + "."
}

// SoftCloseInstruction is appended to the system prompt when SoftClose is
// configured to still reach the provider.
const SoftCloseInstruction = "SESSION FATIGUE: the session is long. Reply in at most three sentences, " +
	"acknowledge the ground covered and invite the user to pause and return later. Do not open new topics."

// Acknowledgments are the only replies given in Reflective mode.
var Acknowledgments = []string{
	"I hear you.",
	"Go on.",
	"Understood.",
	"I'm listening.",
	"Noted.",
}

// Acknowledgment picks one of the fixed acknowledgments pseudo-randomly.
func (c *Controller) Acknowledgment() string {
	return Acknowledgments[c.pick(len(Acknowledgments))]
}

// ParseStart decodes a client supplied session start in epoch milliseconds.
// Anything missing or non-numeric yields the zero time.
func ParseStart(raw any) time.Time {
	var ms float64
	switch v := raw.(type) {
	case float64:
		ms = v
	case int64:
		ms = float64(v)
	case int:
		ms = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}
		}
		ms = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return time.Time{}
		}
		ms = f
	default:
		return time.Time{}
	}
	if ms <= 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms))
}
