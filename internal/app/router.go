package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"swipeskills/internal/config"
	"swipeskills/internal/docstore"
	"swipeskills/internal/docstore/memory"
	"swipeskills/internal/docstore/mongo"
	"swipeskills/internal/docstore/postgres"
	"swipeskills/internal/middleware"
	"swipeskills/internal/repository"
	"swipeskills/internal/service"
	"swipeskills/internal/storage"
	"swipeskills/internal/util"
	"swipeskills/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Deps are the infrastructure clients the HTTP layer is built on. Redis,
// RabbitMQ and Media may be nil.
type Deps struct {
	Store    docstore.Store
	Redis    *util.RedisClient
	RabbitMQ *util.RabbitMQClient
	Media    storage.MediaStorage
	Hub      *websocket.Hub
}

var validatorsOnce sync.Once

// NewRouter connects the configured backends, starts the hub and the
// notification worker, and returns the engine with a cleanup func that
// releases them.
func NewRouter(ctx context.Context, cfg *config.Config) (*gin.Engine, func(), error) {
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize Redis with retry logic
	redisClient := initRedisWithRetry(cfg)

	store, err := initStore(ctx, cfg, redisClient)
	if err != nil {
		if redisClient != nil {
			redisClient.Close()
		}
		return nil, nil, err
	}

	media, err := storage.New(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Warn("Media storage unavailable, uploads limited to hosted media URLs")
		media = nil
	}

	// Initialize RabbitMQ with retry logic
	rabbitMQ := initRabbitMQWithRetry(cfg)

	hubCtx, stopHub := context.WithCancel(ctx)
	wsHub := websocket.NewHub()
	go wsHub.Run(hubCtx)
	logrus.Info("WebSocket hub started")

	worker := service.NewNotificationWorker(rabbitMQ, wsHub)
	if rabbitMQ != nil {
		if err := worker.Start(); err != nil {
			logrus.WithError(err).Warn("Failed to start notification worker, notifications go to the hub directly")
		} else {
			logrus.Info("Notification worker started successfully")
		}
	}

	engine := NewEngine(cfg, Deps{
		Store:    store,
		Redis:    redisClient,
		RabbitMQ: rabbitMQ,
		Media:    media,
		Hub:      wsHub,
	})

	cleanup := func() {
		worker.Stop()
		stopHub()
		if err := store.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close document store")
		}
		if rabbitMQ != nil {
			rabbitMQ.Close()
		}
		if redisClient != nil {
			redisClient.Close()
		}
	}
	return engine, cleanup, nil
}

// NewEngine wires repositories, services and handlers onto a gin engine
func NewEngine(cfg *config.Config, deps Deps) *gin.Engine {
	validatorsOnce.Do(registerValidators)

	r := gin.New()
	r.Use(middleware.RequestLogger(logrus.StandardLogger()))
	r.Use(corsMiddleware(cfg.ClientURL))

	// Initialize repositories
	userRepo := repository.NewUserRepository(deps.Store, deps.Redis)
	videoRepo := repository.NewVideoRepository(deps.Store)
	commentRepo := repository.NewCommentRepository(deps.Store)
	followRepo := repository.NewFollowRepository(deps.Store)
	shareRepo := repository.NewShareRepository(deps.Store)
	notificationRepo := repository.NewNotificationRepository(deps.Store, deps.Redis)

	// Initialize services
	notificationService := service.NewNotificationService(notificationRepo, service.NewRabbitPublisher(deps.RabbitMQ))
	if deps.Hub != nil {
		notificationService.SetWSHub(deps.Hub)
	}
	membership := service.NewMembershipCache(deps.Store,
		service.WithMembershipTTL(cfg.MembershipCacheTTL),
		service.WithMembershipLimit(cfg.MembershipCacheLimit))
	likeService := service.NewLikeService(deps.Store, userRepo, videoRepo, membership, notificationService)
	followService := service.NewFollowService(deps.Store, userRepo, followRepo, notificationService)
	shareService := service.NewShareService(deps.Store, userRepo, videoRepo, shareRepo, notificationService)
	commentService := service.NewCommentService(deps.Store, userRepo, videoRepo, commentRepo, notificationService)
	feedService := service.NewFeedService(userRepo, videoRepo, membership, cfg.FeedDefaultLimit, cfg.FeedMaxLimit)
	userService := service.NewUserService(deps.Store, userRepo, videoRepo, followRepo, membership)
	videoService := service.NewVideoService(deps.Store, userRepo, videoRepo, deps.Media)

	// Initialize handlers
	authHandler := NewAuthHandler(cfg.JWTSecret)
	userHandler := NewUserHandler(userService)
	followHandler := NewFollowHandler(followService)
	videoHandler := NewVideoHandler(videoService, shareService)
	likeHandler := NewLikeHandler(likeService, commentService)
	commentHandler := NewCommentHandler(commentService)
	feedHandler := NewFeedHandler(feedService)
	notificationHandler := NewNotificationHandler(notificationService)

	protected := []gin.HandlerFunc{authHandler.AuthMiddleware()}
	if cfg.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		protected = append(protected, rateLimiter.Middleware())
		logrus.Infof("Rate limiting enabled: %d req/sec, burst: %d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	// API routes
	api := r.Group("/api/v1", protected...)
	{
		users := api.Group("/users")
		{
			users.POST("", userHandler.CreateProfile)
			users.GET("/me", userHandler.GetMe)
			users.PUT("/me/preferences", userHandler.UpdatePreferences)
			users.DELETE("/me", userHandler.DeleteAccount)
			users.GET("/:id", userHandler.GetUser)
			users.GET("/:id/videos", videoHandler.GetVideosByCreator)

			users.POST("/:id/follow", followHandler.Follow)
			users.DELETE("/:id/follow", followHandler.Unfollow)
			users.GET("/:id/following", followHandler.GetFollowing)
			users.GET("/:id/followers", followHandler.GetFollowers)
		}

		videos := api.Group("/videos")
		{
			videos.POST("", videoHandler.UploadVideo)
			videos.GET("/:id", videoHandler.GetVideo)
			videos.DELETE("/:id", videoHandler.DeleteVideo)

			videos.POST("/:id/like", likeHandler.LikeVideo)
			videos.DELETE("/:id/like", likeHandler.UnlikeVideo)
			videos.POST("/:id/save", likeHandler.SaveVideo)
			videos.DELETE("/:id/save", likeHandler.UnsaveVideo)
			videos.POST("/:id/share", videoHandler.ShareVideo)
			videos.POST("/:id/view", videoHandler.RecordView)

			videos.GET("/:id/comments", commentHandler.GetThread)
			videos.POST("/:id/comments", commentHandler.AddComment)
			videos.POST("/:id/comments/migrate", commentHandler.MigrateReplies)
		}

		comments := api.Group("/comments")
		{
			comments.POST("/:id/replies", commentHandler.AddReply)
			comments.PUT("/:id", commentHandler.EditComment)
			comments.DELETE("/:id", commentHandler.DeleteComment)
			comments.POST("/:id/like", likeHandler.LikeComment)
			comments.DELETE("/:id/like", likeHandler.UnlikeComment)
		}

		feed := api.Group("/feed")
		{
			feed.GET("/home", feedHandler.HomeFeed)
			feed.GET("/search", feedHandler.SearchFeed)
		}

		notifications := api.Group("/notifications")
		{
			notifications.GET("", notificationHandler.GetNotifications)
			notifications.GET("/unread/count", notificationHandler.GetUnreadCount)
			notifications.PUT("/read-all", notificationHandler.MarkAllAsRead)
			notifications.PUT("/:id/read", notificationHandler.MarkAsRead)
			notifications.DELETE("/:id", notificationHandler.DeleteNotification)
		}
	}

	// WebSocket route
	if deps.Hub != nil {
		// keep the connected user's membership reconciled while online
		watchMembership := func(ctx context.Context, userID string) {
			if err := membership.Watch(ctx, userID); err != nil {
				logrus.WithError(err).WithField("user_id", userID).Warn("Failed to watch membership")
			}
		}
		ws := websocket.ServeWS(deps.Hub, deps.Store, cfg.JWTSecret, watchMembership)
		r.GET("/ws", func(c *gin.Context) {
			ws.ServeHTTP(c.Writer, c.Request)
		})
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

// initStore opens the document store selected by DOCSTORE_BACKEND
func initStore(ctx context.Context, cfg *config.Config, redisClient *util.RedisClient) (docstore.Store, error) {
	switch cfg.DocstoreBackend {
	case "postgres":
		db, err := initDB(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "connect to database")
		}
		var rdb *redis.Client
		if redisClient != nil {
			rdb = redisClient.GetClient()
		}
		store, err := postgres.New(db, rdb)
		if err != nil {
			return nil, err
		}
		logrus.Info("Document store: postgres")
		return store, nil
	case "mongo":
		store, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, errors.Wrap(err, "connect to mongo")
		}
		logrus.Info("Document store: mongo")
		return store, nil
	default:
		logrus.Warn("Document store: in-memory, data is lost on restart")
		return memory.New(), nil
	}
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	level := gormlogger.Warn
	if cfg.IsDevelopment() {
		level = gormlogger.Info
	}
	return gorm.Open(gormpostgres.Open(cfg.PostgresDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	})
}

// initRabbitMQWithRetry attempts to connect to RabbitMQ with exponential backoff retry
func initRabbitMQWithRetry(cfg *config.Config) *util.RabbitMQClient {
	client, err := withRetry("RabbitMQ", func() (*util.RabbitMQClient, error) {
		return util.NewRabbitMQClient(cfg)
	})
	if err != nil {
		logrus.WithError(err).Warn("RabbitMQ unavailable, notifications are pushed to the hub directly")
		return nil
	}
	return client
}

// initRedisWithRetry attempts to connect to Redis with exponential backoff retry
func initRedisWithRetry(cfg *config.Config) *util.RedisClient {
	client, err := withRetry("Redis", func() (*util.RedisClient, error) {
		return util.NewRedisClient(cfg)
	})
	if err != nil {
		logrus.WithError(err).Warn("Redis unavailable, caching and cross-instance change feed disabled")
		return nil
	}
	return client
}

const (
	connectMaxRetries   = 10
	connectInitialDelay = 2 * time.Second
	connectMaxDelay     = 30 * time.Second
)

func withRetry[T any](name string, connect func() (T, error)) (T, error) {
	var (
		client T
		err    error
	)
	for attempt := 1; attempt <= connectMaxRetries; attempt++ {
		client, err = connect()
		if err == nil {
			logrus.Infof("%s connected successfully on attempt %d", name, attempt)
			return client, nil
		}
		if attempt == connectMaxRetries {
			break
		}

		// Calculate delay with exponential backoff
		delay := connectInitialDelay * time.Duration(1<<uint(attempt-1))
		if delay > connectMaxDelay {
			delay = connectMaxDelay
		}
		logrus.WithError(err).Warnf("Failed to connect to %s (attempt %d/%d), retrying in %v", name, attempt, connectMaxRetries, delay)
		time.Sleep(delay)
	}
	return client, errors.Wrapf(err, "%s: giving up after %d attempts", name, connectMaxRetries)
}

func corsMiddleware(clientURL string) gin.HandlerFunc {
	// Allowed origins (whitelist)
	allowedOrigins := map[string]struct{}{
		clientURL:               {},
		"http://localhost:3000": {},
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if _, ok := allowedOrigins[origin]; ok {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", clientURL)
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
