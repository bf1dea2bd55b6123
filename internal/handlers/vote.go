package handlers

import (
	"net/http"

	"folio/internal/models"
	"folio/internal/services"
	"folio/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

type VoteHandler struct {
	votes *services.VoteService
}

func NewVoteHandler(votes *services.VoteService) *VoteHandler {
	return &VoteHandler{votes: votes}
}

type voteRequest struct {
	Type   string `json:"type" binding:"required,oneof=like upvote"`
	Action string `json:"action" binding:"required,oneof=add remove"`
}

// Vote applies a like/upvote add or remove and returns the updated comment.
func (h *VoteHandler) Vote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "Invalid vote type or action")
		return
	}

	updated, err := h.votes.Vote(c.Request.Context(), c.Param("id"), models.VoteKind(req.Type), models.VoteAction(req.Action))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, updated)
	case errors.Is(err, services.ErrInvalidVote):
		RespondError(c, http.StatusBadRequest, "Invalid vote type or action")
	case errors.Is(err, store.ErrNotFound):
		RespondError(c, http.StatusNotFound, "Comment not found")
	default:
		RespondInternal(c, err, "vote could not be recorded")
	}
}
