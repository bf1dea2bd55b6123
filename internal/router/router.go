package router

import (
	"folio/internal/feed"
	"folio/internal/handlers"
	"folio/internal/middleware"
	"folio/internal/services"

	"github.com/gin-gonic/gin"
)

// Deps 路由所需的服务
type Deps struct {
	Comments  *services.CommentService
	Votes     *services.VoteService
	Feed      feed.Feed
	SpamGuard *middleware.SpamGuard
}

func RegisterRoutes(r *gin.Engine, deps Deps) {
	// Handlers
	commentHandler := handlers.NewCommentHandler(deps.Comments)
	voteHandler := handlers.NewVoteHandler(deps.Votes)
	eventsHandler := handlers.NewEventsHandler(deps.Comments, deps.Feed)

	guard := deps.SpamGuard
	if guard == nil {
		guard = middleware.NewSpamGuard(0)
	}

	r.GET("/healthz", handlers.Healthz) // 健康检查

	api := r.Group("/api")
	{
		api.GET("/comments", commentHandler.List)                   // 文章评论列表
		api.POST("/comments", guard.Limit(), commentHandler.Create) // 发表评论/回复
		api.POST("/comments/:id/vote", voteHandler.Vote)            // 点赞/顶
		api.GET("/comments/:id/events", eventsHandler.Stream)       // 评论变更推送 (SSE)
	}
}

// New builds an engine with the request logger, recovery and all routes.
func New(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	RegisterRoutes(r, deps)
	return r
}
