package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wordflowlab/arbiter/pkg/dispatch"
	"github.com/wordflowlab/arbiter/pkg/types"
	"github.com/wordflowlab/arbiter/pkg/workflow"
)

// registerWorkflowRoutes registers all workflow-related routes
func (s *Server) registerWorkflowRoutes(rg *gin.RouterGroup) {
	workflows := rg.Group("/workflows")
	{
		workflows.POST("", s.createWorkflow)
		workflows.GET("/:id", s.getWorkflow)
		workflows.DELETE("/:id", s.deleteWorkflow)
		workflows.POST("/:id/trigger", s.triggerWorkflow)
	}
}

// registerHandlerRoutes registers event handler management routes
func (s *Server) registerHandlerRoutes(rg *gin.RouterGroup) {
	handlers := rg.Group("/handlers")
	{
		handlers.GET("", s.listHandlers)
		handlers.GET("/:id", s.getHandler)
		handlers.POST("/:id/enable", s.enableHandler)
		handlers.POST("/:id/disable", s.disableHandler)
	}
}

// registerExecutionRoutes registers workflow execution routes
func (s *Server) registerExecutionRoutes(rg *gin.RouterGroup) {
	executions := rg.Group("/executions")
	{
		executions.GET("", s.listActiveExecutions)
		executions.GET("/:id", s.getExecution)
		executions.POST("/:id/cancel", s.cancelExecution)
	}
}

// registerAgentRoutes registers all agent-related routes
func (s *Server) registerAgentRoutes(rg *gin.RouterGroup) {
	agents := rg.Group("/agents")
	{
		agents.GET("", s.listAgents)
		agents.GET("/:id", s.getAgent)
		agents.POST("/:id/execute", s.executeAgent)
		agents.GET("/:id/usage", s.getAgentUsage)
		agents.DELETE("/:id/usage", s.resetAgentUsage)
	}
}

// registerTriggerRoutes registers the manual broadcast route
func (s *Server) registerTriggerRoutes(rg *gin.RouterGroup) {
	triggers := rg.Group("/triggers")
	{
		triggers.POST("/manual", s.broadcastManual)
	}
}

// ---- workflows ----

// createWorkflowRequest is the registration payload: a trigger binding
// plus the agents that run when it fires.
type createWorkflowRequest struct {
	ID            string              `json:"id" binding:"required"`
	Name          string              `json:"name"`
	Trigger       types.TriggerConfig `json:"trigger" binding:"required"`
	Agents        []string            `json:"agents" binding:"required"`
	MaxIterations int                 `json:"max_iterations"`
	Condition     string              `json:"condition"`
}

func (s *Server) createWorkflow(c *gin.Context) {
	var req createWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Executor.RegisterDefinition(workflow.Definition{
		ID:            req.ID,
		Name:          req.Name,
		Agents:        req.Agents,
		MaxIterations: req.MaxIterations,
	}); err != nil {
		respondError(c, err)
		return
	}

	if err := s.deps.Dispatcher.RegisterWorkflow(dispatch.WorkflowRegistration{
		WorkflowID: req.ID,
		Trigger:    req.Trigger,
		Condition:  req.Condition,
	}); err != nil {
		// Keep registration atomic from the caller's view
		_ = s.deps.Executor.RemoveDefinition(req.ID)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"workflow_id": req.ID,
		"handler_id":  dispatch.HandlerID(req.ID),
	})
}

func (s *Server) getWorkflow(c *gin.Context) {
	def, err := s.deps.Executor.GetDefinition(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) deleteWorkflow(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Dispatcher.UnregisterWorkflow(id); err != nil {
		respondError(c, err)
		return
	}
	_ = s.deps.Executor.RemoveDefinition(id)
	c.Status(http.StatusNoContent)
}

func (s *Server) triggerWorkflow(c *gin.Context) {
	var body map[string]interface{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := s.deps.Dispatcher.TriggerManualEvent(c.Param("id"), body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ---- handlers ----

func (s *Server) listHandlers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"handlers": s.deps.Dispatcher.ListHandlers()})
}

func (s *Server) getHandler(c *gin.Context) {
	handler, err := s.deps.Dispatcher.GetHandler(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler)
}

func (s *Server) enableHandler(c *gin.Context) {
	if err := s.deps.Dispatcher.EnableEventHandler(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) disableHandler(c *gin.Context) {
	if err := s.deps.Dispatcher.DisableEventHandler(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---- executions ----

func (s *Server) listActiveExecutions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"executions": s.deps.Executor.GetActiveExecutions()})
}

func (s *Server) getExecution(c *gin.Context) {
	exec, err := s.deps.Executor.GetExecution(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (s *Server) cancelExecution(c *gin.Context) {
	if err := s.deps.Executor.CancelExecution(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---- agents ----

func (s *Server) listAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.deps.Runtime.ListAgents()})
}

func (s *Server) getAgent(c *gin.Context) {
	config, err := s.deps.Runtime.GetAgentConfig(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, config)
}

type executeAgentRequest struct {
	Input      map[string]interface{} `json:"input"`
	UserPrompt string                 `json:"user_prompt"`
}

func (s *Server) executeAgent(c *gin.Context) {
	var req executeAgentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := s.deps.Runtime.ExecuteAgent(c.Request.Context(), c.Param("id"), req.Input, req.UserPrompt)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getAgentUsage(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.deps.Runtime.GetAgentConfig(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Runtime.TokenUsage(id))
}

func (s *Server) resetAgentUsage(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.deps.Runtime.GetAgentConfig(id); err != nil {
		respondError(c, err)
		return
	}
	s.deps.Runtime.ResetTokenUsage(id)
	c.Status(http.StatusNoContent)
}

// ---- triggers ----

// handleWebhook forwards an inbound request to the webhook backend.
// The backend reports match/header/processing failures in-band; the
// adapter only translates them to status codes.
func (s *Server) handleWebhook(c *gin.Context) {
	endpoint := "/hooks" + c.Param("path")

	headers := make(map[string]string, len(c.Request.Header))
	for name := range c.Request.Header {
		headers[name] = c.GetHeader(name)
	}

	var body interface{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
	}

	result := s.deps.Webhook.HandleRequest(endpoint, c.Request.Method, headers, body)
	switch result.Error {
	case "":
		c.JSON(http.StatusOK, result)
	case "Webhook not found":
		c.JSON(http.StatusNotFound, result)
	case "Invalid headers":
		c.JSON(http.StatusForbidden, result)
	default:
		c.JSON(http.StatusInternalServerError, result)
	}
}

type broadcastManualRequest struct {
	Data map[string]interface{} `json:"data"`
}

// broadcastManual fires every manual registration at once
func (s *Server) broadcastManual(c *gin.Context) {
	var req broadcastManualRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": s.deps.Manual.TriggerManual(req.Data)})
}

// respondError maps typed engine errors to HTTP status codes
func respondError(c *gin.Context, err error) {
	var notFound *types.NotFoundError
	var validation *types.ValidationError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
