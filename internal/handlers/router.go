package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/mossy-p/call-gateway/internal/middleware"
)

// NewRouter mounts the handshake API, federation endpoints, and the
// signaling WebSocket on a gin engine.
func NewRouter(allowedOrigins []string, jwtSecret, federationSecret string, gw *Gateway, calls *Calls) *gin.Engine {
	router := gin.Default()
	router.Use(OriginFilter(allowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", Login(jwtSecret))

		// Pre-call handshake (requires JWT)
		apiGroup.POST("/calls/request", middleware.JWTAuth(jwtSecret), calls.Request)
		apiGroup.POST("/calls/accept", middleware.JWTAuth(jwtSecret), calls.Accept)
		apiGroup.POST("/calls/reject", middleware.JWTAuth(jwtSecret), calls.Reject)

		// Room introspection (public)
		apiGroup.GET("/rooms/:roomId", gw.GetRoom)
	}

	fedGroup := router.Group("/federation", middleware.FederationAuth(federationSecret))
	{
		fedGroup.POST("/call/request", calls.FederatedRequest)
		fedGroup.POST("/call/accept", calls.FederatedAcceptNotice)
		fedGroup.POST("/call/reject", calls.FederatedRejectNotice)
	}

	// WebSocket signaling endpoint; the call token rides in the query string.
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal", gw.HandleSignaling)
	}

	return router
}
