package main

import (
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/httpapi"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/rbac"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/signaling"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, ws *signaling.WSController, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// CALL routes
		calls := v1.Group("/calls")
		{
			calls.POST("", h.InitiateCall)
			calls.POST("/:session_id/accept", h.AcceptCall)
			calls.POST("/:session_id/end", h.EndCall)
			calls.GET("/active", h.ActiveCalls)
			calls.GET("/history", h.CallHistory)
			calls.GET("/summary", h.CallSummary)
		}

		// WALLET routes
		v1.GET("/wallet/balance", h.GetWalletBalance)

		// SIGNALING
		v1.GET("/signaling/ws", ws.Handle)

		// ADMIN routes
		// billing_bot is intentionally NOT included; only human admins here.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.GET("/ping", func(c *gin.Context) {
				c.JSON(200, gin.H{"status": "ok"})
			})
			admin.POST("/wallet/credit", h.AdminCredit)
		}
	}
}
