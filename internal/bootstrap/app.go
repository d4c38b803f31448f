package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "shoplist-sync/internal/handler/http"
	wsHandler "shoplist-sync/internal/handler/websocket"
	"shoplist-sync/internal/hub"
	"shoplist-sync/internal/infra/notify"
	gormpersistence "shoplist-sync/internal/infra/persistence/gorm"
	"shoplist-sync/internal/infra/setup"
	redisstate "shoplist-sync/internal/infra/state/redis"
	"shoplist-sync/internal/infra/telemetry"
	"shoplist-sync/internal/middleware"
	"shoplist-sync/internal/service"
	"shoplist-sync/internal/tasks"
	"shoplist-sync/internal/worker"
)

const (
	serviceName      = "shoplist-sync"
	snapshotCacheTTL = 24 * time.Hour
	snapshotSchedule = "@every 5m"
	shutdownTimeout  = 15 * time.Second
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Scheduler   *asynq.Scheduler
	Registry    *hub.Registry
	HttpServer  *http.Server
	Nats        *nats.Conn // 未配置 NATS_URL 时为 nil

	metricsShutdown telemetry.Shutdown
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := newLogger(cfg)
	log.Info("Configuration loaded successfully")

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	metricsShutdown, err := telemetry.InitMetrics(context.Background(), serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	db, err := setup.InitDB(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database initialized and migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	log.Info("Redis client initialized")

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)

	var (
		nc        *nats.Conn
		publisher service.Publisher = notify.LogPublisher{}
	)
	if cfg.NatsURL != "" {
		nc, err = notify.Connect(cfg.NatsURL, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to init NATS: %w", err)
		}
		publisher = nc
	} else {
		log.Warn("NATS_URL not set, notices will only be logged")
	}
	log.Info("Infrastructure initialized successfully")

	// 4. 初始化 Repositories
	userRepo := gormpersistence.NewGormUserRepository(db)
	roomRepo := gormpersistence.NewGormRoomRepository(db)
	mutationRepo := gormpersistence.NewGormMutationRepository(db)
	snapshotRepo := gormpersistence.NewGormSnapshotRepository(db)
	stateRepo := redisstate.NewRedisStateRepository(redisClient, cfg.KeyPrefix)

	// 5. 初始化 Services
	authService, err := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	roomService := service.NewRoomService(roomRepo)
	gateway := service.NewStoreGateway(mutationRepo, snapshotRepo, stateRepo, snapshotCacheTTL)
	snapshotService := service.NewSnapshotService(snapshotRepo, stateRepo, mutationRepo, snapshotCacheTTL)
	noticeService := service.NewNoticeService(roomService, publisher)
	log.Info("Services initialized")

	// 6. 初始化房间注册表
	registry := hub.NewRegistry(gateway, service.NewNoticeEnqueuer(asynqClient), cfg.Hub)
	registry.SetSnapshotSaver(snapshotService)
	registry.SetAccess(roomService)
	log.Info("Room registry initialized")

	// 7. 初始化 Worker Server 与定时任务
	workerServer := worker.NewWorkerServer(
		redisClientOpt,
		worker.NewRoomNoticeHandler(noticeService),
		worker.NewSnapshotCheckHandler(registry, snapshotService),
		log,
	)
	scheduler := asynq.NewScheduler(redisClientOpt, &asynq.SchedulerOpts{
		Logger: worker.NewAsynqLogger(log.WithField("component", "scheduler")),
	})
	entryID, err := scheduler.Register(snapshotSchedule, tasks.NewSnapshotCheckTask(), asynq.Queue("default"))
	if err != nil {
		return nil, fmt.Errorf("failed to register snapshot check task: %w", err)
	}
	log.Infof("Periodic snapshot check registered with schedule '%s' (EntryID: %s)", snapshotSchedule, entryID)

	// 8. 初始化 Gin Engine 和路由
	router := newRouter(cfg, log, redisClient, routes{
		auth: httpHandler.NewAuthHandler(authService),
		room: httpHandler.NewRoomHandler(roomService),
		list: httpHandler.NewListHandler(registry, roomService),
		ws:   wsHandler.NewWebSocketHandler(registry, cfg.AllowedOrigins),
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:          cfg,
		Log:             log,
		DB:              db,
		RedisClient:     redisClient,
		AsynqClient:     asynqClient,
		AsynqServer:     workerServer,
		Scheduler:       scheduler,
		Registry:        registry,
		HttpServer:      httpServer,
		Nats:            nc,
		metricsShutdown: metricsShutdown,
	}, nil
}

func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel) // 已被 LoadConfig 验证
	log.SetLevel(level)
	log.SetOutput(os.Stdout)

	// 各包通过 logrus 标准 logger 记录日志，保持同一格式
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
	return log
}

type routes struct {
	auth *httpHandler.AuthHandler
	room *httpHandler.RoomHandler
	list *httpHandler.ListHandler
	ws   *wsHandler.WebSocketHandler
}

func newRouter(cfg *Config, log *logrus.Logger, redisClient *redis.Client, h routes) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	limiter := redisstate.NewRedisStateRepository(redisClient, cfg.KeyPrefix)
	router.Use(middleware.RateLimit(limiter, cfg.RateLimitMax, cfg.RateLimitWindow))

	api := router.Group("/api")
	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/register", h.auth.Register)
		authRoutes.POST("/login", h.auth.Login)
	}
	api.GET("/emojis", httpHandler.Emojis)

	protected := api.Group("").Use(middleware.Auth(cfg.JWTSecret))
	{
		protected.GET("/me", h.auth.Me)
		protected.GET("/rooms", h.room.ListRooms)
		protected.POST("/rooms", h.room.CreateRoom)
		protected.POST("/rooms/join", h.room.JoinRoom)
		protected.GET("/rooms/:roomId/items", h.list.Items)
	}
	router.GET("/ws", middleware.Auth(cfg.JWTSecret), h.ws.HandleConnection)
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	return router
}

// corsMiddleware 只回显白名单内的 Origin。白名单为空时使用开发默认值。
func corsMiddleware(allowed []string) gin.HandlerFunc {
	if len(allowed) == 0 {
		allowed = []string{"http://localhost:3000"}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
				break
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	go a.AsynqServer.Start()

	go func() {
		if err := a.Scheduler.Run(); err != nil {
			a.Log.Errorf("Asynq scheduler stopped with error: %v", err)
		}
	}()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// Shutdown 优雅地关闭应用。先停止接入新连接，再让房间写完未落盘的变更。
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// 1. 停止 HTTP 服务器。已升级的 WebSocket 连接不受影响，由注册表关闭
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	}

	// 2. 关闭所有房间
	if err := a.Registry.Close(ctx); err != nil {
		a.Log.Errorf("Error closing room registry: %v", err)
	} else {
		a.Log.Info("Room registry closed.")
	}

	// 3. 停止定时任务和 Worker
	a.Scheduler.Shutdown()
	a.AsynqServer.Shutdown()

	// 4. 关闭客户端连接
	if err := a.AsynqClient.Close(); err != nil {
		a.Log.Errorf("Error closing Asynq client: %v", err)
	}
	if a.Nats != nil {
		if err := a.Nats.Drain(); err != nil {
			a.Log.Errorf("Error draining NATS connection: %v", err)
		}
	}
	if err := a.RedisClient.Close(); err != nil {
		a.Log.Errorf("Error closing Redis connection: %v", err)
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.Log.Errorf("Error closing database connection: %v", err)
		}
	}
	if err := a.metricsShutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down metrics: %v", err)
	}

	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()

		// token 可能出现在 query 中，不记录 query
		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
		})
		if login := c.GetString(middleware.LoginKey); login != "" {
			entry = entry.WithField("user", login)
		}

		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			entry.Error(errorMessage)
			return
		}
		switch {
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
