// README: Access log middleware writing through the component Logger.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"honeycomb/internal/logger"
)

func Logging(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := map[string]any{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}
		if uid := CallerUID(c); uid != "" {
			fields["uid"] = uid
		}
		if len(c.Errors) > 0 {
			log.Warnf("%s %s %d: %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.Errors.String())
			return
		}
		log.Debugw("http request", fields)
	}
}
