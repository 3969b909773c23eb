package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"portal/internal/audit"
	"portal/internal/auth"
	"portal/internal/config"
	"portal/internal/handler"
	"portal/internal/httpmiddleware"
	"portal/internal/metrics"
	"portal/internal/portalclient"
	"portal/internal/queue"
	"portal/internal/store"
	"portal/internal/views"
)

func main() {
	cfg := config.Load()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	db, dbErr := store.NewDB(ctx, cfg.DatabaseURL, store.PoolOptions{MaxOpen: 10})
	if dbErr != nil {
		log.Printf("warning: db not reachable: %v", dbErr)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		// Nothing consumes an in-process queue from another binary; drain it
		// here so publishers never block.
		mem := queue.NewInMemory(64)
		go drain(ctx, mem)
		q = mem
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	portal := portalclient.New(cfg.PortalAPIURL, cfg.PortalAPITimeout)
	portal.Token = auth.BearerToken
	if err := portal.Health(ctx); err != nil {
		log.Printf("warning: portal api not reachable: %v", err)
	}

	commitMetrics := metrics.NewCommits(prometheus.DefaultRegisterer)
	registry := views.NewRegistry(views.Options{
		Backend:           portal,
		Permission:        auth.NewRolePermission(cfg.MarkerRoles...),
		Queue:             q,
		Observer:          commitMetrics,
		Logger:            logger,
		ToggleConcurrency: cfg.ToggleConcurrency,
		IdleTTL:           cfg.ViewIdleTTL,
		OnSizeChange:      commitMetrics.SetOpenViews,
	})
	go registry.Run(ctx, time.Minute)

	var commits handler.CommitLister
	if db != nil {
		repo := audit.NewRepository(db.Client)
		if dbErr == nil {
			if err := repo.Migrate(ctx); err != nil {
				log.Printf("warning: commit log migration failed: %v", err)
			}
		}
		commits = repo
	}
	h := handler.New(registry, commits)

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		reqCtx := c.Request.Context()
		redisHealthy := redisClient.Healthy(reqCtx)
		dbHealthy := db.Healthy(reqCtx)
		portalHealthy := portal.Health(reqCtx) == nil
		status := http.StatusOK
		if !portalHealthy || !dbHealthy || (cfg.QueueBackend != "memory" && !redisHealthy) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status": "ok",
			"redis":  redisHealthy,
			"db":     dbHealthy,
			"portal": portalHealthy,
			"views":  registry.Len(),
		})
	})

	v1 := r.Group("/v1", auth.UserAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	h.Register(v1, httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*cfg.PortalAPITimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	// Give in-flight saves time to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func drain(ctx context.Context, q *queue.InMemory) {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return
	}
	for msg := range msgs {
		log.Printf("commit event (memory queue): %s", msg.Body)
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cache-Control", "no-store")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
