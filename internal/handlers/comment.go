package handlers

import (
	"net/http"

	"folio/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

type CommentHandler struct {
	comments *services.CommentService
}

func NewCommentHandler(comments *services.CommentService) *CommentHandler {
	return &CommentHandler{comments: comments}
}

type createCommentRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Comment  string `json:"comment" binding:"required"`
	PostID   string `json:"postId" binding:"required"`
	ParentID string `json:"parentId"`
}

// Create 提交评论或回复
func (h *CommentHandler) Create(c *gin.Context) {
	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "Missing required fields")
		return
	}

	comment, err := h.comments.Create(c.Request.Context(), services.CommentInput{
		Name:     req.Name,
		Email:    req.Email,
		Comment:  req.Comment,
		PostID:   req.PostID,
		ParentID: req.ParentID,
	})
	switch {
	case err == nil:
	case errors.Is(err, services.ErrInvalidComment):
		RespondError(c, http.StatusBadRequest, "Invalid comment")
		return
	case errors.Is(err, services.ErrTooDeep):
		RespondError(c, http.StatusBadRequest, "Replies cannot be nested any deeper")
		return
	case errors.Is(err, services.ErrParentNotFound):
		RespondError(c, http.StatusNotFound, "Parent comment not found")
		return
	default:
		RespondInternal(c, err, "comment could not be saved")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Comment submitted successfully",
		"comment": comment,
	})
}

// List 返回文章下已审核的评论，最新的在前
func (h *CommentHandler) List(c *gin.Context) {
	postID := c.Query("postId")
	if postID == "" {
		RespondError(c, http.StatusBadRequest, "Missing postId")
		return
	}

	comments, err := h.comments.List(c.Request.Context(), postID)
	if err != nil {
		if errors.Is(err, services.ErrInvalidComment) {
			RespondError(c, http.StatusBadRequest, "Missing postId")
			return
		}
		RespondInternal(c, err, "comments could not be loaded")
		return
	}
	c.JSON(http.StatusOK, comments)
}
