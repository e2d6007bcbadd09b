package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/esi_helpdesk/backend/internal/config"
	"github.com/esi_helpdesk/backend/internal/db"
	"github.com/esi_helpdesk/backend/internal/http/handlers"
	"github.com/esi_helpdesk/backend/internal/http/middleware"
	"github.com/esi_helpdesk/backend/internal/observability"

	_ "github.com/esi_helpdesk/backend/docs"
)

func Router(cfg config.Config, store *db.Store, pipeline handlers.TurnProcessor, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.AdminKeyHeader, middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:         store,
		Conversations: store,
		Pipeline:      pipeline,
		Validator:     validator.New(),
		Logger:        logger,
	}

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	api := r.Group("/api")
	if cfg.RequestTimeout > 0 {
		api.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	{
		api.POST("/chat", h.Chat)
		api.GET("/conversations/:id/messages", h.ConversationMessages)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.GET("/tickets", h.TicketsList)
		admin.GET("/tickets/:id", h.TicketDetails)
		admin.PATCH("/tickets/:id", h.TicketUpdate)
		admin.GET("/metrics/summary", h.MetricsSummary)
		admin.GET("/metrics/trends", h.MetricsTrends)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
