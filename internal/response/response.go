package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the JSON envelope for operator endpoints
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success wraps data in a success envelope
func Success(data interface{}) Response {
	return Response{
		Success: true,
		Message: "success",
		Data:    data,
	}
}

// Error returns an error envelope
func Error(message string) Response {
	return Response{
		Success: false,
		Message: message,
	}
}

// SuccessJSON sends a 200 success envelope
func SuccessJSON(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Success(data))
}

// ErrorJSON sends an error envelope with statusCode
func ErrorJSON(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Error(message))
}

// AbortJSON stops the handler chain with an error envelope
func AbortJSON(c *gin.Context, statusCode int, message string) {
	c.AbortWithStatusJSON(statusCode, Error(message))
}

// Text acknowledges with a short plain text body
func Text(c *gin.Context, statusCode int, body string) {
	c.String(statusCode, body)
}
