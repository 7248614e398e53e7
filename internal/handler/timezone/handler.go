package timezone

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/booking-engine/internal/timezone"
	"github.com/jwalitptl/booking-engine/pkg/httputil"
)

type Handler struct {
	now func() time.Time
}

func NewHandler() *Handler {
	return &Handler{now: time.Now}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/timezones", h.ListTimezones)
}

// ListTimezones returns the supported zones with their current UTC offsets.
func (h *Handler) ListTimezones(c *gin.Context) {
	httputil.RespondWithSuccess(c, http.StatusOK, timezone.ListTimezones(h.now()))
}
