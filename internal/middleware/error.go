package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/booking-engine/pkg/errors"
	"github.com/jwalitptl/booking-engine/pkg/httputil"
	"github.com/jwalitptl/booking-engine/pkg/logger"
)

// ErrorHandler renders the last error handlers attached with c.Error.
// Internal errors are logged with their cause, which never reaches the client.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		if httputil.StatusFor(errors.CodeOf(err)) == http.StatusInternalServerError {
			log.Error(err, "request failed",
				"request_id", c.GetString(ContextRequestID),
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
			)
		}
		if c.Writer.Written() {
			return
		}
		httputil.RespondWithError(c, err)
	}
}
