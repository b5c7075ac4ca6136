package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/application"
	"github.com/agentforge/runtime/internal/domain/entity"
	apperrors "github.com/agentforge/runtime/pkg/errors"
)

// AgencyHandler implements the tenant-scoped REST surface of spec §6:
// agency lifecycle, blueprints, agent spawn/listing/tree, schedules, vars,
// MCP servers, and the fs routing endpoints. Grounded on the teacher's
// gin-handler-per-resource shape (handlers.MessageHandler/AgentHandler),
// adapted from single-agent-loop endpoints to Agency-scoped CRUD.
type AgencyHandler struct {
	registry *application.AgencyRegistry
	logger   *zap.Logger
}

func NewAgencyHandler(registry *application.AgencyRegistry, logger *zap.Logger) *AgencyHandler {
	return &AgencyHandler{registry: registry, logger: logger}
}

// writeError centralizes AppError -> HTTP status mapping (spec §7); a bare
// error with no AppError wraps to 500.
func writeError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus(), gin.H{"error": appErr.Code, "message": appErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
}

// agency resolves the :id path param against the registry or writes 404.
func (h *AgencyHandler) agency(c *gin.Context) (*application.Agency, bool) {
	a, err := h.registry.MustGet(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return a, true
}

// --- agencies --------------------------------------------------------------

func (h *AgencyHandler) CreateAgency(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}
	id := req.Name
	a, err := h.registry.Create(c.Request.Context(), id, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": a.ID(), "name": a.Name()})
}

func (h *AgencyHandler) ListAgencies(c *gin.Context) {
	out := make([]gin.H, 0)
	for _, a := range h.registry.List() {
		out = append(out, gin.H{"id": a.ID(), "name": a.Name()})
	}
	c.JSON(http.StatusOK, out)
}

func (h *AgencyHandler) DeleteAgency(c *gin.Context) {
	if err := h.registry.Delete(c.Request.Context(), c.Param("agencyId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- blueprints --------------------------------------------------------------

type blueprintDTO struct {
	Name         string         `json:"name"`
	Prompt       string         `json:"prompt"`
	Capabilities []string       `json:"capabilities"`
	Model        string         `json:"model,omitempty"`
	Vars         map[string]any `json:"vars,omitempty"`
	CreatedAt    string         `json:"createdAt"`
	UpdatedAt    string         `json:"updatedAt"`
}

func toBlueprintDTO(bp *entity.Blueprint) blueprintDTO {
	return blueprintDTO{
		Name:         bp.Name(),
		Prompt:       bp.Prompt(),
		Capabilities: bp.Capabilities(),
		Model:        bp.Model(),
		Vars:         bp.Vars(),
		CreatedAt:    bp.CreatedAt().Format(timeLayout),
		UpdatedAt:    bp.UpdatedAt().Format(timeLayout),
	}
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func (h *AgencyHandler) ListBlueprints(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	bps, err := a.ListBlueprints(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]blueprintDTO, 0, len(bps))
	for _, bp := range bps {
		out = append(out, toBlueprintDTO(bp))
	}
	c.JSON(http.StatusOK, out)
}

func (h *AgencyHandler) UpsertBlueprint(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	var req struct {
		Name         string         `json:"name" binding:"required"`
		Prompt       string         `json:"prompt"`
		Capabilities []string       `json:"capabilities"`
		Model        string         `json:"model"`
		Vars         map[string]any `json:"vars"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}
	bp, err := a.UpsertBlueprint(c.Request.Context(), req.Name, req.Prompt, req.Capabilities, req.Model, req.Vars)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBlueprintDTO(bp))
}

func (h *AgencyHandler) DeleteBlueprint(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	if err := a.DeleteBlueprint(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- agents ------------------------------------------------------------------

func (h *AgencyHandler) ListAgents(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	threads, err := a.ListAgentSummaries(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, threads)
}

func (h *AgencyHandler) SpawnAgent(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	var req struct {
		AgentType      string `json:"agentType" binding:"required"`
		Input          string `json:"input"`
		RelatedAgentID string `json:"relatedAgentId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}
	rt, err := a.SpawnAgent(c.Request.Context(), req.AgentType, req.RelatedAgentID, map[string]any{}, req.Input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": rt.ID(), "agentType": rt.AgentType()})
}

func (h *AgencyHandler) Forest(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, a.Forest())
}

func (h *AgencyHandler) AgentTree(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	node, ancestors, descendants, err := a.AgentTree(c.Param("aid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node, "ancestors": ancestors, "descendants": descendants})
}

func (h *AgencyHandler) DeleteAgent(c *gin.Context) {
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

// --- schedules -----------------------------------------------------------

func (h *AgencyHandler) ListSchedules(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	ss, err := a.ListSchedules(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ss)
}

func (h *AgencyHandler) CreateSchedule(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	var s entity.Schedule
	if err := c.ShouldBindJSON(&s); err != nil {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}
	if err := a.CreateSchedule(c.Request.Context(), &s); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *AgencyHandler) PatchSchedule(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	sched, err := a.GetSchedule(c.Request.Context(), c.Param("sid"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := c.ShouldBindJSON(sched); err != nil {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}
	sched.ID = c.Param("sid")
	if err := a.CreateSchedule(c.Request.Context(), sched); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h *AgencyHandler) PauseSchedule(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	if err := a.PauseSchedule(c.Request.Context(), c.Param("sid")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AgencyHandler) ResumeSchedule(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	if err := a.ResumeSchedule(c.Request.Context(), c.Param("sid")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AgencyHandler) TriggerSchedule(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	if err := a.TriggerSchedule(c.Request.Context(), c.Param("sid")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *AgencyHandler) ListScheduleRuns(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	runs, err := a.ListScheduleRuns(c.Request.Context(), c.Param("sid"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

// --- vars ------------------------------------------------------------------

func (h *AgencyHandler) ListVars(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	vars, err := a.AllVars(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, vars)
}

func (h *AgencyHandler) PutVars(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}
	for k, v := range body {
		if err := a.SetVar(c.Request.Context(), k, v); err != nil {
			writeError(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func (h *AgencyHandler) GetVar(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	v, found, err := a.GetVar(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		writeError(c, apperrors.NewNotFoundError("var", c.Param("key")))
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "value": v})
}

func (h *AgencyHandler) PutVar(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	var req struct {
		Value any `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}
	if err := a.SetVar(c.Request.Context(), c.Param("key"), req.Value); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AgencyHandler) DeleteVar(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	if err := a.DeleteVar(c.Request.Context(), c.Param("key")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- MCP ---------------------------------------------------------------

func (h *AgencyHandler) ListMCPServers(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, a.ListMCPServers())
}

func (h *AgencyHandler) AddMCPServer(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	var req struct {
		ID      string            `json:"id"`
		Name    string            `json:"name" binding:"required"`
		URL     string            `json:"url" binding:"required"`
		Headers map[string]string `json:"headers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}
	id := req.ID
	if id == "" {
		id = req.Name
	}
	if err := a.AddMCPServer(c.Request.Context(), id, req.Name, req.URL, req.Headers); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (h *AgencyHandler) RetryMCPServer(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	for _, s := range a.ListMCPServers() {
		if s.ID == c.Param("sid") {
			c.Status(http.StatusAccepted)
			return
		}
	}
	writeError(c, apperrors.NewNotFoundError("mcp server", c.Param("sid")))
}

func (h *AgencyHandler) RemoveMCPServer(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	if err := a.RemoveMCPServer(c.Param("sid")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AgencyHandler) ListMCPTools(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	out := make([]gin.H, 0)
	for _, s := range a.ListMCPServers() {
		out = append(out, gin.H{"serverId": s.ID, "toolCount": s.ToolCount})
	}
	c.JSON(http.StatusOK, out)
}

func (h *AgencyHandler) CallMCPTool(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	var req struct {
		ServerID  string         `json:"serverId" binding:"required"`
		ToolName  string         `json:"toolName" binding:"required"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}
	result, err := a.CallMCPTool(c.Request.Context(), req.ServerID, req.ToolName, req.Arguments)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// --- filesystem ------------------------------------------------------------

func (h *AgencyHandler) FSHandle(c *gin.Context) {
	a, ok := h.agency(c)
	if !ok {
		return
	}
	callerAgentID := c.Query("agentId")
	path := c.Param("path")
	if path == "" {
		path = "/"
	}

	switch c.Request.Method {
	case http.MethodGet:
		if data, err := a.FSRead(callerAgentID, path); err == nil {
			c.Data(http.StatusOK, "application/octet-stream", data)
			return
		}
		names, err := a.FSList(callerAgentID, path)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, names)
	case http.MethodPut:
		body, err := c.GetRawData()
		if err != nil {
			writeError(c, apperrors.NewValidationError(err.Error()))
			return
		}
		if err := a.FSWrite(callerAgentID, path, body); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	case http.MethodDelete:
		if err := a.FSDelete(callerAgentID, path); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	default:
		c.Status(http.StatusMethodNotAllowed)
	}
}
