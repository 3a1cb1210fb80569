package routes

import (
	"github.com/14kear/quickpoll/internal/handlers"
	"github.com/gin-gonic/gin"
)

func RegisterPublicRoutes(rg *gin.RouterGroup, handler *handlers.VotingHandler) {
	{
		rg.GET("/polls", handler.GetPolls)
		rg.GET("/polls/:id", handler.GetPollSnapshot)
		rg.GET("/polls/:id/events", handler.SubscribeToPoll)
	}
}

func RegisterPrivateRoutes(rg *gin.RouterGroup, handler *handlers.VotingHandler) {
	{
		rg.POST("/polls", handler.CreatePoll)
		rg.DELETE("/polls/:id", handler.DeletePoll)
		rg.POST("/polls/:id/votes", handler.CastVote)

		rg.GET("/notifications", handler.GetNotifications)
		rg.POST("/notifications/:id/read", handler.MarkNotificationRead)
	}
}
