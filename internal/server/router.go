package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/auth"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/config"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/metrics"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/mw"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/ws"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
// gateway 为 nil 时不挂载 /ws（测试环境）。
func SetupRouter(cfg config.Config, h *Handler, gateway *ws.Gateway, users auth.UserFinder) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP+路由的速率，避免消息接口被刷爆。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(auth.Middleware(cfg, users))

	chats := api.Group("/chats")
	{
		chats.GET("", h.ListChats)
		chats.POST("", h.CreateDirectChat)
		chats.POST("/group", h.CreateGroupChat)
		chats.GET("/search/users", h.SearchUsers)
		chats.GET("/:chatId", h.ChatDetails)
		chats.DELETE("/:chatId", h.DeleteChat)
	}

	msgs := api.Group("/messages")
	{
		msgs.GET("/:chatId", h.ListMessages)
		msgs.POST("/:chatId", h.SendMessage)
		msgs.PUT("/:chatId/read", h.MarkMessagesRead)
		msgs.PUT("/edit/:messageId", h.EditMessage)
		msgs.DELETE("/:messageId", h.DeleteMessage)
	}

	if gateway != nil {
		// WebSocket 握手自带 token 校验，不走 api 组的认证中间件。
		r.GET("/ws", gateway.Serve())
	}

	return r
}
