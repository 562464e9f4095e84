// Package httpapi exposes the identity flows over HTTP with a uniform
// response envelope and translates domain errors to contractual status
// codes at this boundary only.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Envelope is the uniform response body shared by every service.
type Envelope struct {
	Success    bool        `json:"success"`
	StatusCode int         `json:"statusCode"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
}

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Envelope{
		Success:    status < http.StatusBadRequest,
		StatusCode: status,
		Message:    message,
		Data:       data,
	})
}

func fail(c *gin.Context, status int, message string) {
	respond(c, status, message, nil)
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Envelope{
		Success:    false,
		StatusCode: status,
		Message:    message,
	})
}
