package http

import (
	"net/http"

	"github.com/aescanero/dagrun/pkg/api/cors"
	"github.com/gin-gonic/gin"
)

// corsMiddleware applies the origin policy. Disallowed origins get no CORS
// headers, which makes browsers reject the response.
func corsMiddleware(policy *cors.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if policy.AllowAll() {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && policy.Allows(origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
