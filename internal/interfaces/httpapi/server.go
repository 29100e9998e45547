package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"marketpulse/internal/application/port"
	"marketpulse/internal/application/service"
	"marketpulse/internal/domain/model"
	"marketpulse/internal/interfaces/stream"
)

// Server exposes the control surface: alert rule sync, manual
// notifications, on-demand evaluation, and the kline websocket.
type Server struct {
	router   *gin.Engine
	registry *service.Registry
	alerts   *service.Engine
	notifier port.Notifier
}

func New(registry *service.Registry, alerts *service.Engine, notifier port.Notifier) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:   gin.New(),
		registry: registry,
		alerts:   alerts,
		notifier: notifier,
	}

	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())

	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/ws", s.handleWS)
	s.router.POST("/alerts/sync", s.handleAlertsSync)
	s.router.POST("/notify", s.handleNotify)
	s.router.GET("/alerts/check", s.handleAlertsCheck)

	return s
}

// Run blocks serving HTTP until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":    true,
		"feeds": s.registry.ActiveFeeds(),
	})
}

func (s *Server) handleWS(c *gin.Context) {
	stream.Serve(s.registry, c.Writer, c.Request)
}

type alertsSyncRequest struct {
	TelegramChatID string            `json:"telegramChatId"`
	Alerts         []model.AlertRule `json:"alerts"`
}

// handleAlertsSync replaces the whole rule set. The client owns the
// rules; the server never merges.
func (s *Server) handleAlertsSync(c *gin.Context) {
	var req alertsSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request body"})
		return
	}

	s.alerts.ReplaceRules(req.TelegramChatID, req.Alerts)
	log.Info().Int("rules", len(req.Alerts)).Msg("alert rules synced")
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(req.Alerts)})
}

type notifyRequest struct {
	TelegramChatID string `json:"telegramChatId"`
	Text           string `json:"text"`
}

func (s *Server) handleNotify(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TelegramChatID == "" || req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "telegramChatId and text are required"})
		return
	}

	err := s.notifier.Send(c.Request.Context(), req.TelegramChatID, req.Text)
	switch {
	case errors.Is(err, port.ErrNotifierDisabled):
		c.JSON(http.StatusOK, gin.H{"ok": false, "sent": false})
	case err != nil:
		log.Warn().Err(err).Msg("manual notification failed")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true, "sent": true})
	}
}

// handleAlertsCheck triggers one evaluation pass outside the timer.
// Errors are logged but the endpoint still answers ok: the pass ran.
func (s *Server) handleAlertsCheck(c *gin.Context) {
	if err := s.alerts.EvaluateNow(c.Request.Context()); err != nil {
		log.Warn().Err(err).Msg("manual alert check failed")
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
