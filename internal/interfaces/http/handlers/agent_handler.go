package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/application"
	"github.com/agentforge/runtime/internal/domain/entity"
	"github.com/agentforge/runtime/internal/domain/service"
	apperrors "github.com/agentforge/runtime/pkg/errors"
)

// AgentHandler implements the Agency<->Agent contract surface forwarded
// under `/agency/:id/agent/:aid/...` (spec §6): invoke, action, state,
// events, projection, export, fork, register, destroy. Every operation
// resolves the target AgentRuntime through the owning Agency first, so
// cross-agency access is structurally impossible (spec §3 isolation).
type AgentHandler struct {
	registry *application.AgencyRegistry
	logger   *zap.Logger
}

func NewAgentHandler(registry *application.AgencyRegistry, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{registry: registry, logger: logger}
}

func (h *AgentHandler) agency(c *gin.Context) (*application.Agency, bool) {
	a, err := h.registry.MustGet(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return a, true
}

// Invoke implements `POST /agency/:id/agent/:aid/invoke`. The body's
// `message` string is the user message; when it is empty, the Content of
// the last user-role entry in `messages` (flat form) is used instead.
// Other body fields, such as files or vars, are not read.
func (h *AgentHandler) Invoke(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	rt, found := agentOf(a, c.Param("aid"))
	if !found {
		writeError(c, apperrors.NewNotFoundError("agent", c.Param("aid")))
		return
	}

	var req struct {
		Message  string                `json:"message"`
		Messages []service.FlatMessage `json:"messages"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}

	message := req.Message
	if message == "" {
		for _, fm := range req.Messages {
			if fm.Role == string(entity.RoleUser) {
				message = fm.Content
			}
		}
	}

	if err := rt.Invoke(c.Request.Context(), message); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": rt.State()})
}

// Action implements `POST /agency/:id/agent/:aid/action {type, ...}` (spec
// §4.6 cancel, §4.7 subagent_result/cancel_subagents, HITL approve).
func (h *AgentHandler) Action(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	rt, found := agentOf(a, c.Param("aid"))
	if !found {
		writeError(c, apperrors.NewNotFoundError("agent", c.Param("aid")))
		return
	}

	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}
	actionType, _ := raw["type"].(string)
	if actionType == "" {
		writeError(c, apperrors.NewValidationError("action type is required"))
		return
	}

	if err := rt.Action(c.Request.Context(), actionType, raw); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": rt.State()})
}

func (h *AgentHandler) State(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	rt, found := agentOf(a, c.Param("aid"))
	if !found {
		writeError(c, apperrors.NewNotFoundError("agent", c.Param("aid")))
		return
	}
	c.JSON(http.StatusOK, rt.State())
}

// Events implements `GET /agency/:id/agent/:aid/events`: the full,
// unfiltered event log (spec §4.2, used for audit and client-side replay).
func (h *AgentHandler) Events(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	rt, found := agentOf(a, c.Param("aid"))
	if !found {
		writeError(c, apperrors.NewNotFoundError("agent", c.Param("aid")))
		return
	}
	events, _, err := rt.Export(c.Request.Context(), false)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// Projection implements `GET /agency/:id/agent/:aid/projection?at=<seq>&
// legacy=true|false` (spec §4.2, invariant 1): at omitted replays the
// current in-memory projection; at present replays the log up to that seq
// from scratch. legacy=true serializes messages through FromParts.
func (h *AgentHandler) Projection(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	rt, found := agentOf(a, c.Param("aid"))
	if !found {
		writeError(c, apperrors.NewNotFoundError("agent", c.Param("aid")))
		return
	}

	var proj entity.Projection
	if raw := c.Query("at"); raw != "" {
		at, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(c, apperrors.NewValidationError("at must be a non-negative integer"))
			return
		}
		events, _, err := rt.Export(c.Request.Context(), false)
		if err != nil {
			writeError(c, err)
			return
		}
		proj = service.ProjectUntil(events, at)
	} else {
		proj = rt.Projection()
	}

	if c.Query("legacy") == "true" {
		flat := make([]service.FlatMessage, 0, len(proj.Messages))
		for _, m := range proj.Messages {
			flat = append(flat, service.FromParts(m))
		}
		c.JSON(http.StatusOK, gin.H{
			"messages":          flat,
			"status":            proj.Status,
			"step":              proj.Step,
			"pendingToolCalls":  proj.PendingToolCalls,
			"totalInputTokens":  proj.TotalInputTokens,
			"totalOutputTokens": proj.TotalOutputTokens,
			"inferenceCount":    proj.InferenceCount,
			"lastError":         proj.LastError,
		})
		return
	}
	c.JSON(http.StatusOK, proj)
}

// Export implements `GET /agency/:id/agent/:aid/export?includeSnapshot=
// true` (spec §6, backing fork's own /internal/copy-events call as well as
// operator-facing backup/debug use).
func (h *AgentHandler) Export(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	rt, found := agentOf(a, c.Param("aid"))
	if !found {
		writeError(c, apperrors.NewNotFoundError("agent", c.Param("aid")))
		return
	}
	includeSnapshot := c.Query("includeSnapshot") == "true"
	events, snap, err := rt.Export(c.Request.Context(), includeSnapshot)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "snapshot": snap})
}

// Fork implements `POST /agency/:id/agent/:aid/fork {at?, id?}` (spec §6,
// S6).
func (h *AgentHandler) Fork(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	var req struct {
		At *uint64 `json:"at"`
		ID string  `json:"id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}
	targetID, token, err := a.Fork(c.Request.Context(), c.Param("aid"), req.At, req.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": targetID, "token": token})
}

// Register is a no-op acknowledgement: in this runtime an agent is always
// fully registered at spawn time (spec §9's in-process realization folds
// the teacher's separate register step into SpawnAgent), so this endpoint
// exists only so external callers following the documented contract get a
// 200 rather than a 404.
func (h *AgentHandler) Register(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	if _, found := agentOf(a, c.Param("aid")); !found {
		writeError(c, apperrors.NewNotFoundError("agent", c.Param("aid")))
		return
	}
	c.Status(http.StatusOK)
}

func (h *AgentHandler) Destroy(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	if err := a.DeleteAgent(c.Request.Context(), c.Param("aid")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CopyEvents implements the guarded `/agency/:id/agent/:aid/internal/
// copy-events` step of the fork contract (spec §6); exposed mainly so the
// two-step handshake is independently exercisable, e.g. for tests or a
// future out-of-process Agent.
func (h *AgentHandler) CopyEvents(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	var req struct {
		SourceID string `json:"sourceId" binding:"required"`
		Token    string `json:"token" binding:"required"`
		Cut      uint64 `json:"cut"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}
	if err := a.CopyEvents(c.Request.Context(), req.SourceID, c.Param("aid"), req.Token, req.Cut); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// agentOf looks up one live agent runtime by id within its Agency.
func agentOf(a *application.Agency, id string) (*application.AgentRuntime, bool) {
	return a.Agent(id)
}
