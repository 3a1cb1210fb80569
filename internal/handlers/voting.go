package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/14kear/quickpoll/internal/repo"
	"github.com/14kear/quickpoll/internal/services"
	"github.com/gin-gonic/gin"
)

type VotingHandler struct {
	pollService *services.Polls
}

type CreatePollRequest struct {
	Title   string   `json:"title" binding:"required"`
	Options []string `json:"options" binding:"required"`
}

type CastVoteRequest struct {
	Option string `json:"option" binding:"required"`
}

func NewVotingHandler(pollService *services.Polls) *VotingHandler {
	return &VotingHandler{pollService: pollService}
}

func (v *VotingHandler) CreatePoll(c *gin.Context) {
	var req CreatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	poll, err := v.pollService.CreatePoll(c.Request.Context(), req.Title, req.Options, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"poll": poll})
}

func (v *VotingHandler) GetPolls(c *gin.Context) {
	polls, err := v.pollService.ListActivePolls(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"polls": polls})
}

func (v *VotingHandler) GetPollSnapshot(c *gin.Context) {
	pollID, ok := pollIDFromPath(c)
	if !ok {
		return
	}

	poll, tally, err := v.pollService.GetPollSnapshot(c.Request.Context(), pollID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"poll": poll, "tally": tally})
}

func (v *VotingHandler) DeletePoll(c *gin.Context) {
	pollID, ok := pollIDFromPath(c)
	if !ok {
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	if err := v.pollService.DeletePoll(c.Request.Context(), pollID, userID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (v *VotingHandler) CastVote(c *gin.Context) {
	var req CastVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}

	pollID, ok := pollIDFromPath(c)
	if !ok {
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	tally, err := v.pollService.CastVote(c.Request.Context(), pollID, userID, req.Option)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tally": tally})
}

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// SubscribeToPoll streams tally-changed and poll-deleted events over SSE.
// The stream ends when the client disconnects or the poll is deleted.
func (v *VotingHandler) SubscribeToPoll(c *gin.Context) {
	pollID, ok := pollIDFromPath(c)
	if !ok {
		return
	}

	sub, err := v.pollService.SubscribeToPoll(c.Request.Context(), pollID)
	if err != nil {
		respondError(c, err)
		return
	}
	defer sub.Cancel()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-heartbeat.C:
			c.SSEvent("ping", nil)
			return true
		case event, open := <-sub.Events():
			if !open {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		}
	})
}

func (v *VotingHandler) GetNotifications(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	notifications, err := v.pollService.Notifications(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func (v *VotingHandler) MarkNotificationRead(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	if err := v.pollService.MarkNotificationRead(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

func pollIDFromPath(c *gin.Context) (int64, bool) {
	pollID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid poll id"})
		return 0, false
	}
	return pollID, true
}

func userIDFromContext(c *gin.Context) (int64, bool) {
	userIDValue, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}

	userID, ok := userIDValue.(int64)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user id in context"})
		return 0, false
	}

	return userID, true
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, repo.ErrInvalidOption):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, repo.ErrPollNotFound), errors.Is(err, repo.ErrNotificationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, repo.ErrPollDeleted):
		c.JSON(http.StatusGone, gin.H{"error": "poll deleted"})
	case errors.Is(err, repo.ErrDuplicateVote):
		c.JSON(http.StatusConflict, gin.H{"error": "already voted"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
