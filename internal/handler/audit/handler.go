package audit

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/booking-engine/internal/handler"
	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/service/audit"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
	"github.com/jwalitptl/booking-engine/pkg/httputil"
)

type Handler struct {
	service *audit.Service
}

func NewHandler(service *audit.Service) *Handler {
	return &Handler{
		service: service,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, read gin.HandlerFunc) {
	audit := r.Group("/audit", read)
	{
		audit.GET("/logs", h.ListLogs)
		audit.GET("/logs/entity/:type/:id", h.GetEntityLogs)
		audit.GET("/logs/user/:id", h.GetUserLogs)
		audit.GET("/export", h.ExportLogs)
	}
}

func (h *Handler) ListLogs(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	h.respond(c, filters)
}

func (h *Handler) GetEntityLogs(c *gin.Context) {
	entityID, err := handler.ParseID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	filters, err := parseFilters(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	filters.EntityType = c.Param("type")
	filters.EntityID = &entityID
	h.respond(c, filters)
}

func (h *Handler) GetUserLogs(c *gin.Context) {
	userID, err := handler.ParseID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	filters, err := parseFilters(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	filters.UserID = &userID
	h.respond(c, filters)
}

func (h *Handler) respond(c *gin.Context, filters model.AuditFilters) {
	logs, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		handler.Fail(c, apperrors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, logs)
}

// ExportLogs streams the matching logs as csv (default) or json.
func (h *Handler) ExportLogs(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	if format != "csv" && format != "json" {
		handler.Fail(c, apperrors.BadRequest("unsupported format", nil))
		return
	}
	filters, err := parseFilters(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	logs, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		handler.Fail(c, apperrors.Internal(err))
		return
	}

	filename := fmt.Sprintf("audit_logs_%s.%s", time.Now().UTC().Format("20060102_150405"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	switch format {
	case "csv":
		c.Header("Content-Type", "text/csv")
		c.Status(http.StatusOK)
		writer := csv.NewWriter(c.Writer)
		_ = writer.Write([]string{"ID", "User ID", "Action", "Entity Type", "Entity ID", "Created At"})
		for _, log := range logs {
			_ = writer.Write([]string{
				log.ID.String(),
				log.UserID.String(),
				log.Action,
				log.EntityType,
				log.EntityID.String(),
				log.CreatedAt.Format(time.RFC3339),
			})
		}
		writer.Flush()
	case "json":
		c.JSON(http.StatusOK, logs)
	}
}

func parseFilters(c *gin.Context) (model.AuditFilters, error) {
	filters := model.AuditFilters{EntityType: c.Query("entity_type")}
	var err error
	if filters.UserID, err = handler.QueryUUID(c, "user_id"); err != nil {
		return filters, err
	}
	if filters.EntityID, err = handler.QueryUUID(c, "entity_id"); err != nil {
		return filters, err
	}
	if raw := c.Query("limit"); raw != "" {
		if filters.Limit, err = strconv.Atoi(raw); err != nil {
			return filters, apperrors.BadRequest("invalid limit", err)
		}
	}
	return filters, nil
}

