package http

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/zelid/core"
	"github.com/layer-3/zelid/service"
)

// SetupRouter sets up the Gin router
func SetupRouter(authService *service.AuthService, logger watermill.LoggerAdapter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	handlers := NewAuthHandlers(authService, logger)
	tier := func(t core.Tier) gin.HandlerFunc { return RequireTier(authService, t) }

	router.GET("/health", handlers.Health)
	router.GET("/ws/zelid/:loginphrase", handlers.Subscribe)

	zelid := router.Group("/zelid")
	zelid.Use(AuthMiddleware(authService))
	{
		zelid.GET("/loginphrase", tier(service.TierIssueChallenge), handlers.LoginPhrase)
		zelid.POST("/verifylogin", tier(service.TierVerifyLogin), handlers.VerifyLogin)
		zelid.POST("/logoutspecificsession", tier(service.TierLogoutSpecific), handlers.LogoutSpecific)

		zelid.GET("/me", tier(service.TierSessionsForCaller), handlers.Me)
		zelid.GET("/loggedsessions", tier(service.TierSessionsForCaller), handlers.LoggedSessions)
		zelid.POST("/logoutcurrentsession", tier(service.TierLogoutCurrent), handlers.LogoutCurrent)
		zelid.POST("/logoutallsessions", tier(service.TierLogoutSelf), handlers.LogoutAllSessions)

		zelid.GET("/loggedusers", tier(service.TierAllSessions), handlers.LoggedUsers)
		zelid.POST("/logoutallusers", tier(service.TierLogoutAll), handlers.LogoutAllUsers)
		zelid.GET("/activeloginphrases", tier(service.TierActiveChallenges), handlers.ActiveLoginPhrases)
	}

	return router
}
