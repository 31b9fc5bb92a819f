package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"companion-backend/internal/config"
	"companion-backend/internal/handler"
	"companion-backend/internal/llm"
	"companion-backend/internal/service"
	"companion-backend/internal/storage"
	"companion-backend/internal/tools"
	"companion-backend/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	einoTool "github.com/cloudwego/eino/components/tool"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	store := newStorage(cfg)
	if err := store.Init(); err != nil {
		logger.Fatalf("Failed to init storage: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	taskService := service.NewTaskService(store)
	registry := buildToolRegistry(ctx, cfg, taskService)

	toolInfos, err := registry.Infos(ctx)
	if err != nil {
		logger.Fatalf("Failed to collect tool schemas: %v", err)
	}
	chatModel, err := llm.NewChatModel(ctx, cfg, toolInfos)
	if err != nil {
		logger.Fatalf("Failed to init chat model: %v", err)
	}

	turns := service.NewTurnController(chatModel, registry, cfg)
	profileService := service.NewProfileService(store, chatModel, cfg)
	chatService := service.NewChatService(store, cfg, turns, profileService)
	defer chatService.Close()

	chatHandler := handler.NewChatHandler(chatService)
	taskHandler := handler.NewTaskHandler(taskService)
	profileHandler := handler.NewProfileHandler(profileService)

	router := setupRouter(cfg, chatHandler, taskHandler, profileHandler)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		logger.Infof("服务器启动在端口 %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("服务器启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("服务器正在关闭...")
	if err := server.Close(); err != nil {
		logger.Errorf("服务器关闭失败: %v", err)
	}
	logger.Info("服务器已关闭")
}

func newStorage(cfg *config.Config) storage.Storage {
	switch cfg.Storage.Type {
	case "disk":
		return storage.NewDiskStorage(cfg.Storage.DataDir, cfg.Storage.CacheSize, cfg.Storage.QuotaBytes)
	default:
		return storage.NewMemoryStorage()
	}
}

func buildToolRegistry(ctx context.Context, cfg *config.Config, taskService *service.TaskService) *tools.Registry {
	registry := tools.NewRegistry()
	if !cfg.Chat.EnableTools {
		return registry
	}

	if err := registry.Register(ctx, tools.NewAddTaskTool(taskService)); err != nil {
		logger.Errorf("Failed to register add_task tool: %v", err)
	}
	if err := registry.Register(ctx, tools.NewShowTasksTool(taskService)); err != nil {
		logger.Errorf("Failed to register show_tasks tool: %v", err)
	}

	for _, t := range tools.GetWorkerSearchMCPTools(ctx, cfg.Chat.WorkerSearchMCPURL) {
		invokable, ok := t.(einoTool.InvokableTool)
		if !ok {
			continue
		}
		if err := registry.Register(ctx, invokable); err != nil {
			logger.Errorf("Failed to register MCP tool: %v", err)
		}
	}

	logger.Infof("Tool registry ready with %d tools", registry.Len())
	return registry
}

func setupRouter(cfg *config.Config, chatHandler *handler.ChatHandler, taskHandler *handler.TaskHandler, profileHandler *handler.ProfileHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	api := router.Group("/api")
	{
		chat := api.Group("/chat")
		{
			chat.POST("/stream", chatHandler.StreamChat)
			chat.POST("/session", chatHandler.CreateSession)
			chat.POST("/session/list", chatHandler.GetSessionList)
			chat.POST("/session/select/:session_id", chatHandler.SelectSession)
			chat.GET("/session/del/:session_id", chatHandler.DeleteSession)
			chat.POST("/session/clear", chatHandler.ClearAllSessions)
			chat.GET("/session/:session_id", chatHandler.GetSession)
			chat.GET("/messages/:session_id", chatHandler.GetMessages)
			chat.PUT("/session/:session_id", chatHandler.RenameSession)
		}

		tasksGroup := api.Group("/tasks")
		{
			tasksGroup.GET("", taskHandler.ListTasks)
			tasksGroup.POST("", taskHandler.AddTask)
			tasksGroup.PUT("/:task_id/toggle", taskHandler.ToggleTask)
			tasksGroup.GET("/reminders/due", taskHandler.DueReminders)
		}

		profile := api.Group("/profile")
		{
			profile.GET("", profileHandler.GetProfile)
			profile.POST("/xp", profileHandler.AwardXP)
			profile.POST("/interest", profileHandler.TrackInterest)
		}

		settings := api.Group("/settings")
		{
			settings.GET("", chatHandler.GetSettings)
			settings.PUT("", chatHandler.UpdateSettings)
		}
	}

	return router
}
