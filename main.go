package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"securelink/internal/auth"
	"securelink/internal/config"
	"securelink/internal/db"
	"securelink/internal/delivery"
	"securelink/internal/handlers"
	"securelink/internal/middleware"
	"securelink/internal/observability"
	"securelink/internal/presence"
	"securelink/internal/push"
	"securelink/internal/rabbitmq"
	"securelink/internal/registry"
	"securelink/internal/repositories"
	"securelink/internal/telemetry"
	"securelink/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "securelink", cfg.OTLPAddr)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer shutdownTracer(context.Background())

	if eventsPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange); err != nil {
		log.Printf("channel events publishing disabled: %v", err)
	} else {
		observability.SetPublisher(eventsPublisher)
		defer eventsPublisher.Close()
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer auditPublisher.Close()
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, cfg.AuditRoutingKey, "securelink", cfg.Environment)

	contactRepo := repositories.NewContactRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	chatRepo := repositories.NewChatRepo(database)
	presenceRepo := repositories.NewPresenceRepo(database)

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	reg := registry.New(cfg.IdleThreshold, cfg.SweepInterval)
	reg.Start()
	defer reg.Stop()

	tracker := presence.NewTracker(reg, presenceRepo, cfg.TypingTTL)
	defer tracker.Close()

	// Evicted connections never reach their own teardown path, so the
	// offline transition is recorded here.
	reg.SetEvictHandler(func(conn *registry.Connection) {
		tracker.SetOffline(context.Background(), conn.PrincipalID, conn.ContactID)
	})

	notifier := push.NewDispatcher(cfg.PushEndpoint, cfg.PushTimeout, contactRepo)
	coordinator := delivery.NewCoordinator(messageRepo, contactRepo, reg, notifier, cfg.MaxContentLength)

	messageHandler := handlers.NewMessageHandler(coordinator, auditEmitter)
	chatHandler := handlers.NewChatHandler(chatRepo, messageRepo, contactRepo, coordinator, tracker, reg, auditEmitter)
	channelHandler := ws.NewChannelHandler(reg, tracker, coordinator, verifier, cfg.AuthGrace, cfg.SendBufferSize)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("securelink"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier, auditEmitter)

	router.POST("/messages", authMiddleware, messageHandler.SendMessage)
	router.POST("/messages/:message_id/delivered", authMiddleware, messageHandler.MarkDelivered)
	router.POST("/messages/:message_id/read", authMiddleware, messageHandler.MarkRead)

	router.GET("/chats", authMiddleware, chatHandler.ListChats)
	router.GET("/chats/:contact_id/messages", authMiddleware, chatHandler.GetConversation)
	router.POST("/chats/:contact_id/read", authMiddleware, chatHandler.MarkConversationRead)

	router.PUT("/contacts/me/push-token", authMiddleware, chatHandler.SetPushToken)
	router.GET("/presence/:contact_id", authMiddleware, chatHandler.GetPresence)

	router.GET("/ws", channelHandler.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, reg, auditEmitter, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
