package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Request log line, tagged with the deny reason code when the admission
// gate rejected the request.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		requestID := c.GetString("request_id")

		if reason := c.GetString(denyReasonKey); reason != "" {
			log.Printf("[%s] %s %s - %d - %v - %s - denied %s",
				requestID,
				method,
				path,
				statusCode,
				latency,
				c.ClientIP(),
				reason,
			)
			return
		}

		log.Printf("[%s] %s %s - %d - %v - %s",
			requestID,
			method,
			path,
			statusCode,
			latency,
			c.ClientIP(),
		)
	}
}
