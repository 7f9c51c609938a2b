package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// Authentication guards the operator surface with a bearer token when
// OPERATOR_TOKEN is set. Without a configured token all requests pass, which
// is the expected mode behind a private admin network.
func Authentication(c *gin.Context) {
	token := os.Getenv("OPERATOR_TOKEN")
	if token == "" {
		c.Next()
		return
	}

	auth := c.GetHeader("Authorization")
	got, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}
