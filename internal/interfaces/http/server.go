package http

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/application"
	"github.com/agentforge/runtime/internal/interfaces/http/handlers"
	"github.com/agentforge/runtime/internal/interfaces/websocket"
)

// Server is the public HTTP/WebSocket boundary of spec §6: one gin engine
// serving every agency-scoped REST route plus the per-agency WebSocket
// relay, gated by a shared secret. Grounded on the teacher's
// gin.New()+Recovery()+ginLogger server shape, generalized from a single
// fixed route set to the full agency/agent/schedule/vars/mcp/fs surface.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config configures the HTTP server's bind address, gin mode and gate.
type Config struct {
	Host   string
	Port   int
	Mode   string // debug, release
	Secret string
}

// NewServer wires the registry-backed handlers and the WebSocket hub into
// one gin engine. metrics, when non-nil, is mounted at GET /metrics in
// Prometheus text exposition format.
func NewServer(cfg Config, registry *application.AgencyRegistry, hub *websocket.Hub, metrics http.Handler, logger *zap.Logger) *Server {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	router.Use(corsMiddleware())
	router.Use(secretGate(cfg.Secret))

	agencyHandler := handlers.NewAgencyHandler(registry, logger)
	agentHandler := handlers.NewAgentHandler(registry, logger)

	setupRoutes(router, agencyHandler, agentHandler, hub, metrics)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes registers every endpoint named in spec §6.
func setupRoutes(router *gin.Engine, ah *handlers.AgencyHandler, gh *handlers.AgentHandler, hub *websocket.Hub, metrics http.Handler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	router.POST("/agencies", ah.CreateAgency)
	router.GET("/agencies", ah.ListAgencies)
	router.DELETE("/agency/:agencyId", ah.DeleteAgency)

	agency := router.Group("/agency/:id")
	{
		agency.GET("/blueprints", ah.ListBlueprints)
		agency.POST("/blueprints", ah.UpsertBlueprint)
		agency.DELETE("/blueprints/:name", ah.DeleteBlueprint)

		agency.GET("/agents", ah.ListAgents)
		agency.POST("/agents", ah.SpawnAgent)
		agency.GET("/agents/tree", ah.Forest)
		agency.GET("/agents/:aid/tree", ah.AgentTree)
		agency.DELETE("/agents/:aid", ah.DeleteAgent)

		agency.GET("/schedules", ah.ListSchedules)
		agency.POST("/schedules", ah.CreateSchedule)
		agency.PATCH("/schedules/:sid", ah.PatchSchedule)
		agency.POST("/schedules/:sid/pause", ah.PauseSchedule)
		agency.POST("/schedules/:sid/resume", ah.ResumeSchedule)
		agency.POST("/schedules/:sid/trigger", ah.TriggerSchedule)
		agency.GET("/schedules/:sid/runs", ah.ListScheduleRuns)

		agency.GET("/vars", ah.ListVars)
		agency.PUT("/vars", ah.PutVars)
		agency.GET("/vars/:key", ah.GetVar)
		agency.PUT("/vars/:key", ah.PutVar)
		agency.DELETE("/vars/:key", ah.DeleteVar)

		agency.GET("/mcp", ah.ListMCPServers)
		agency.POST("/mcp", ah.AddMCPServer)
		agency.POST("/mcp/:sid/retry", ah.RetryMCPServer)
		agency.DELETE("/mcp/:sid", ah.RemoveMCPServer)
		agency.GET("/mcp/tools", ah.ListMCPTools)
		agency.POST("/mcp/call", ah.CallMCPTool)

		agency.Any("/fs/*path", ah.FSHandle)
		agency.Any("/fs", ah.FSHandle)

		agency.GET("/ws", func(c *gin.Context) { hub.Serve(c.Writer, c.Request, c.Param("id")) })

		agent := agency.Group("/agent/:aid")
		{
			agent.POST("/invoke", gh.Invoke)
			agent.POST("/action", gh.Action)
			agent.GET("/state", gh.State)
			agent.GET("/events", gh.Events)
			agent.GET("/projection", gh.Projection)
			agent.GET("/export", gh.Export)
			agent.POST("/fork", gh.Fork)
			agent.POST("/register", gh.Register)
			agent.DELETE("/destroy", gh.Destroy)
			agent.POST("/internal/copy-events", gh.CopyEvents)
		}
	}
}

// corsMiddleware implements spec §6's wide-open CORS policy: any origin,
// preflight answered with 204 and no body.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-SECRET, X-Agent-Id, X-Agent-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// secretGate enforces spec §6's shared-secret requirement: every request
// needs X-SECRET or a `key` query param matching the configured secret,
// except health checks, OAuth callback paths, and paths ending in /ws
// (WebSocket upgrades, which the hub checks itself). An empty configured
// secret disables the gate (local/dev mode).
func secretGate(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		if c.Request.URL.Path == "/health" || strings.HasPrefix(c.Request.URL.Path, "/oauth/") || strings.HasSuffix(c.Request.URL.Path, "/ws") {
			c.Next()
			return
		}
		supplied := c.GetHeader("X-SECRET")
		if supplied == "" {
			supplied = c.Query("key")
		}
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "missing or invalid secret"})
			return
		}
		c.Next()
	}
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
