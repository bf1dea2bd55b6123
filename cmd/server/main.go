package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"folio/internal/config"
	"folio/internal/db"
	"folio/internal/feed"
	"folio/internal/middleware"
	"folio/internal/models"
	"folio/internal/router"
	"folio/internal/services"
	"folio/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg)

	// 变更推送：单实例用进程内 Hub，多实例走 Redis
	changes := newFeed(cfg)

	// 存储层
	var st store.Store
	switch cfg.Store {
	case "memory":
		logrus.Warn("Using in-memory comment store, data is lost on restart")
		st = store.NewMemoryStore(changes)
	default:
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to open database")
		}
		st = store.NewGormStore(conn, changes)
	}

	mail := services.NewMailService(cfg.SMTP)
	comments, err := services.NewCommentService(st, services.CommentOptions{
		AutoApprove: cfg.Comments.AutoApprove,
		MaxLength:   cfg.Comments.MaxLength,
		MaxDepth:    cfg.Comments.MaxDepth,
		SiteURL:     cfg.SiteURL,
	}, mail)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create comment service")
	}
	// 监听变更事件失效列表缓存，多实例部署时也能感知其他实例的写入
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if err := comments.WatchChanges(watchCtx, changes); err != nil {
		logrus.WithError(err).Fatal("Failed to watch comment changes")
	}

	votes := services.NewVoteService(st,
		services.WithFetchRetry(cfg.Vote.FetchAttempts, cfg.Vote.FetchBackoff),
		services.WithCommitHook(func(updated *models.Comment) {
			comments.Invalidate(updated.PostID)
		}),
	)

	gin.SetMode(cfg.GinMode)
	r := router.New(router.Deps{
		Comments:  comments,
		Votes:     votes,
		Feed:      changes,
		SpamGuard: middleware.NewSpamGuard(cfg.Comments.Interval),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logrus.Infof("folio server starting on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	// SSE 连接会在请求上下文取消后释放订阅
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("Server forced to shutdown")
	}
}

func setupLogging(cfg *config.Config) {
	if cfg.GinMode == gin.ReleaseMode {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func newFeed(cfg *config.Config) feed.Feed {
	if cfg.Feed != "redis" {
		return feed.NewHub()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to redis")
	}
	logrus.WithField("addr", cfg.RedisAddr).Info("Using redis change feed")
	return feed.NewRedisFeed(client)
}
