package httpadapter

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PabloGalante/personai/internal/app/conversation"
	"github.com/PabloGalante/personai/internal/app/fatigue"
	"github.com/PabloGalante/personai/internal/app/tasks"
	"github.com/PabloGalante/personai/internal/domain"
	"github.com/PabloGalante/personai/internal/observability"
)

type Server struct {
	svc   *conversation.Service
	tasks *tasks.Service
}

// NewServer builds the echo app. Everything under /v1 requires a bearer token.
func NewServer(svc *conversation.Service, taskSvc *tasks.Service, auth domain.Authenticator) *echo.Echo {
	s := &Server{svc: svc, tasks: taskSvc}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(withRequestID)
	e.Use(withLogging)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, headerRequestID},
	}))

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/v1", withAuth(auth))
	v1.POST("/chat/turn", s.handleTurn)
	v1.GET("/conversations/:id", s.handleGetConversation)
	v1.GET("/tasks", s.handleListTasks)
	v1.POST("/tasks/:id/complete", s.handleCompleteTask)

	return e
}

// DTOs (request/response)

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type turnRequest struct {
	Message        string                `json:"message"`
	UserID         string                `json:"user_id,omitempty"`
	ConversationID string                `json:"conversation_id,omitempty"`
	Phase          string                `json:"phase,omitempty"`
	History        []historyEntry        `json:"history,omitempty"`
	Summary        *domain.MemorySummary `json:"summary,omitempty"`
	// SessionStartedAt is epoch milliseconds, as a number or a string.
	SessionStartedAt any `json:"session_started_at,omitempty"`
}

type turnResponse struct {
	Reply          string                `json:"reply"`
	NewPhase       string                `json:"new_phase,omitempty"`
	ConversationID string                `json:"conversation_id"`
	Summary        *domain.MemorySummary `json:"summary,omitempty"`
	Mode           string                `json:"mode"`
	ProtocolLocked bool                  `json:"protocol_locked,omitempty"`
	Degraded       bool                  `json:"degraded,omitempty"`
}

type conversationResponse struct {
	ID             string               `json:"id"`
	Phase          string               `json:"phase"`
	Summary        domain.MemorySummary `json:"summary"`
	MessageCount   int                  `json:"message_count"`
	Mode           string               `json:"mode"`
	ProtocolLocked bool                 `json:"protocol_locked"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Phase     string    `json:"phase,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type timelineResponse struct {
	Conversation conversationResponse `json:"conversation"`
	Messages     []messageResponse    `json:"messages"`
}

type completeTaskRequest struct {
	Reflection string `json:"reflection"`
	Submission string `json:"submission,omitempty"`
}

// Handlers

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTurn(c echo.Context) error {
	var req turnRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return badRequest(c, "message is required")
	}

	userID := userIDFrom(c)
	if req.UserID != "" && domain.UserID(req.UserID) != userID {
		return forbidden(c)
	}

	out, err := s.svc.HandleTurn(c.Request().Context(), conversation.TurnInput{
		UserID:         userID,
		Message:        req.Message,
		ConversationID: domain.ConversationID(req.ConversationID),
		Phase:          domain.Phase(req.Phase),
		Summary:        req.Summary,
		History:        toHistory(req.History),
		SessionStart:   fatigue.ParseStart(req.SessionStartedAt),
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, turnResponse{
		Reply:          out.Reply,
		NewPhase:       string(out.Phase),
		ConversationID: string(out.ConversationID),
		Summary:        out.Summary,
		Mode:           string(out.Mode),
		ProtocolLocked: out.ProtocolLocked,
		Degraded:       out.Degraded,
	})
}

func (s *Server) handleGetConversation(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	conv, msgs, err := s.svc.GetConversationTimeline(
		c.Request().Context(),
		userIDFrom(c),
		domain.ConversationID(c.Param("id")),
		limit,
	)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, timelineResponse{
		Conversation: toConversationResponse(conv),
		Messages:     toMessagesResponse(msgs),
	})
}

func (s *Server) handleListTasks(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	list, err := s.tasks.ListUserTasks(c.Request().Context(), userIDFrom(c), limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"tasks": list})
}

func (s *Server) handleCompleteTask(c echo.Context) error {
	var req completeTaskRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	task, err := s.tasks.CompleteTask(c.Request().Context(), tasks.CompleteInput{
		UserID:     userIDFrom(c),
		TaskID:     domain.TaskID(c.Param("id")),
		Reflection: req.Reflection,
		Submission: req.Submission,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

// Conversion helpers

func toHistory(entries []historyEntry) []conversation.HistoryEntry {
	out := make([]conversation.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		var role domain.Role
		switch strings.ToLower(strings.TrimSpace(e.Role)) {
		case "user":
			role = domain.RoleUser
		case "assistant", "model":
			role = domain.RoleAssistant
		default:
			continue
		}
		out = append(out, conversation.HistoryEntry{Role: role, Content: e.Content})
	}
	return out
}

func toConversationResponse(c *domain.Conversation) conversationResponse {
	return conversationResponse{
		ID:             string(c.ID),
		Phase:          string(c.Phase),
		Summary:        c.Summary,
		MessageCount:   c.Session.MessageCount,
		Mode:           string(c.Session.Mode),
		ProtocolLocked: c.ProtocolLocked,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func toMessagesResponse(msgs []*domain.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			ID:        string(m.ID),
			Role:      string(m.Role),
			Content:   m.Content,
			Phase:     string(m.Phase),
			CreatedAt: m.CreatedAt,
		})
	}
	return out
}

// HTTP helpers

func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return unauthorized(c)
	case errors.Is(err, domain.ErrForbidden):
		return forbidden(c)
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, domain.ErrTaskLocked):
		return c.JSON(http.StatusConflict, map[string]string{"error": "task is locked"})
	case errors.Is(err, domain.ErrInvalidInput):
		return badRequest(c, err.Error())
	default:
		return internalError(c, err)
	}
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}

func forbidden(c echo.Context) error {
	return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
}

func internalError(c echo.Context, err error) error {
	observability.LoggerFromContext(c.Request().Context()).Error("request failed", "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}
