package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/call-relay/internal/middleware"
)

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token    string `json:"token"`
	Operator string `json:"operator"`
}

// Login issues operator tokens for the ops API. With no admin password
// configured any credentials are accepted, which is only meant for
// development.
func Login(jwtSecret, adminPassword string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		if adminPassword != "" && subtle.ConstantTimeCompare([]byte(req.Password), []byte(adminPassword)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		tokenString, err := middleware.IssueToken(jwtSecret, req.Username, time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		c.JSON(http.StatusOK, LoginResponse{
			Token:    tokenString,
			Operator: req.Username,
		})
	}
}
