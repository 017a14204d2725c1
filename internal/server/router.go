package server

import (
	"net/http"
	"time"

	"github.com/SandipWaghchaure7/geocluster-connect/internal/auth"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/config"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/metrics"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/mw"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/service"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, chat *service.ChatService, hub *ws.Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(chat, hub)
	api := r.Group("/api/v1")
	api.Use(auth.AuthMiddleware(cfg.JWTSecret, db))
	api.GET("/groups/:id/messages", h.ListMessages)
	api.POST("/groups/:id/messages", h.SendMessage)
	api.GET("/groups/:id/presence", h.GroupPresence)
	api.PUT("/messages/read", h.MarkRead)
	api.DELETE("/messages/:id", h.DeleteMessage)

	r.GET("/ws", ws.Serve(hub, chat, db, cfg))
	return r
}
