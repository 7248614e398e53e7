package slot

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/booking-engine/internal/handler"
	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/service/slot"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
	"github.com/jwalitptl/booking-engine/pkg/httputil"
)

type Handler struct {
	service *slot.Service
}

func NewHandler(service *slot.Service) *Handler {
	return &Handler{service: service}
}

// Guards carries the permission middleware for each group of slot routes.
type Guards struct {
	Generate gin.HandlerFunc
	Write    gin.HandlerFunc
	Stats    gin.HandlerFunc
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, g Guards) {
	r.POST("/templates/:id/generate", g.Generate, h.GenerateSlots)
	r.POST("/conflicts/check", h.CheckConflicts)

	slots := r.Group("/slots")
	{
		slots.GET("", h.QuerySlots)
		slots.POST("", g.Write, h.CreateSlot)
		slots.GET("/stats", g.Stats, h.GetStats)
		slots.GET("/:id", h.GetSlot)
		slots.POST("/:id/block", g.Write, h.BlockSlot)
		slots.POST("/:id/unblock", g.Write, h.UnblockSlot)
		slots.POST("/:id/cancel", g.Write, h.CancelSlot)
	}
}

type GenerateRequest struct {
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
}

func (h *Handler) GenerateSlots(c *gin.Context) {
	actor, err := handler.Actor(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	templateID, err := handler.ParseID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	var req GenerateRequest
	if err := handler.Bind(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}
	start, err := handler.ParseDate(req.StartDate, "start_date")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	end, err := handler.ParseDate(req.EndDate, "end_date")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	result, err := h.service.Generate(c.Request.Context(), actor, templateID, start, end)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, result)
}

func (h *Handler) CreateSlot(c *gin.Context) {
	actor, err := handler.Actor(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	var req model.CreateSlotRequest
	if err := handler.Bind(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}

	created, err := h.service.CreateStandalone(c.Request.Context(), actor, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, created)
}

func (h *Handler) GetSlot(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	s, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, s)
}

// QuerySlots accepts professional_id, template_id, from, to, a comma separated
// status list and page/page_size.
func (h *Handler) QuerySlots(c *gin.Context) {
	var filters model.SlotFilters
	var err error
	if filters.ProfessionalID, err = handler.QueryUUID(c, "professional_id"); err != nil {
		handler.Fail(c, err)
		return
	}
	if filters.TemplateID, err = handler.QueryUUID(c, "template_id"); err != nil {
		handler.Fail(c, err)
		return
	}
	if filters.From, err = handler.QueryTime(c, "from"); err != nil {
		handler.Fail(c, err)
		return
	}
	if filters.To, err = handler.QueryTime(c, "to"); err != nil {
		handler.Fail(c, err)
		return
	}
	if raw := c.Query("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			filters.Statuses = append(filters.Statuses, model.SlotStatus(strings.TrimSpace(st)))
		}
	}
	if err := c.ShouldBindQuery(&filters.Pagination); err != nil {
		handler.Fail(c, apperrors.BadRequest("invalid pagination", err))
		return
	}

	page, err := h.service.Query(c.Request.Context(), filters)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithPagination(c, page.Slots, page.Page, page.PageSize, page.Total)
}

func (h *Handler) GetStats(c *gin.Context) {
	actor, err := handler.Actor(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	professionalID, err := handler.QueryUUID(c, "professional_id")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	if professionalID == nil {
		professionalID = &actor.ID
	}
	from, err := handler.QueryTime(c, "from")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	to, err := handler.QueryTime(c, "to")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), *professionalID, from, to)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, stats)
}

func (h *Handler) CheckConflicts(c *gin.Context) {
	var req model.ConflictCheckRequest
	if err := handler.Bind(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}
	result, err := h.service.CheckConflicts(c.Request.Context(), &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, result)
}

func (h *Handler) BlockSlot(c *gin.Context) {
	h.transition(c, h.service.Block)
}

func (h *Handler) UnblockSlot(c *gin.Context) {
	h.transition(c, h.service.Unblock)
}

func (h *Handler) CancelSlot(c *gin.Context) {
	h.transition(c, h.service.Cancel)
}

type transitionFunc func(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Slot, error)

func (h *Handler) transition(c *gin.Context, fn transitionFunc) {
	actor, err := handler.Actor(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	id, err := handler.ParseID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	updated, err := fn(c.Request.Context(), actor, id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, updated)
}
