package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter wires the auth service routes. admission, when non-nil, is
// mounted before all routing so over-limit clients receive the uniform 429
// regardless of the targeted route.
func NewRouter(h *Handler, authn *Authenticator, admission gin.HandlerFunc, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(recovery(logger))
	if admission != nil {
		r.Use(admission)
	}

	start := time.Now()
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "up",
			"uptime":    time.Since(start).Seconds(),
			"timestamp": time.Now().UnixMilli(),
		})
	})

	api := r.Group("/api/auth")
	{
		api.POST("/register", h.Register)
		api.GET("/verify-email", h.VerifyEmail)
		api.POST("/login", h.Login)
		api.POST("/mfa-verify", h.VerifyMFA)
		api.POST("/password-reset/request", h.RequestPasswordReset)
		api.POST("/password-reset/confirm", h.ConfirmPasswordReset)
		api.GET("/google", h.GoogleRedirect)
		api.GET("/google/callback", h.GoogleCallback)

		protected := api.Group("")
		protected.Use(authn.Handler())
		protected.POST("/logout", h.Logout)
		protected.GET("/me", h.Me)
	}

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "Not found.")
	})

	return r
}

// recovery is the catch-all responder: no request may crash the process,
// and no internal detail leaks to the caller.
func recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("panic recovered", zap.Any("panic", recovered))
		abort(c, http.StatusInternalServerError, "Internal server error.")
	})
}
