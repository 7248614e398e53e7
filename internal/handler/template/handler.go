package template

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/booking-engine/internal/handler"
	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/service/template"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
	"github.com/jwalitptl/booking-engine/pkg/httputil"
)

type Handler struct {
	service *template.Service
}

func NewHandler(service *template.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the template endpoints. write guards the mutating ones.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, write gin.HandlerFunc) {
	templates := r.Group("/templates")
	{
		templates.POST("", write, h.CreateTemplate)
		templates.GET("", h.ListTemplates)
		templates.GET("/:id", h.GetTemplate)
		templates.PUT("/:id", write, h.UpdateTemplate)
		templates.DELETE("/:id", write, h.DeleteTemplate)
	}
}

func (h *Handler) CreateTemplate(c *gin.Context) {
	actor, err := handler.Actor(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	var req model.CreateTemplateRequest
	if err := handler.Bind(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}

	tmpl, err := h.service.Create(c.Request.Context(), actor, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, tmpl)
}

func (h *Handler) GetTemplate(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	tmpl, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, tmpl)
}

// ListTemplates lists one professional's templates, the caller's own by default.
func (h *Handler) ListTemplates(c *gin.Context) {
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
		if actor.Role == model.RoleClient {
			handler.Fail(c, apperrors.BadRequest("professional_id is required", nil))
			return
		}
		professionalID = &actor.ID
	}

	templates, err := h.service.List(c.Request.Context(), *professionalID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, templates)
}

func (h *Handler) UpdateTemplate(c *gin.Context) {
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
	var req model.UpdateTemplateRequest
	if err := handler.Bind(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}

	tmpl, err := h.service.Update(c.Request.Context(), actor, id, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, tmpl)
}

func (h *Handler) DeleteTemplate(c *gin.Context) {
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
	if err := h.service.Delete(c.Request.Context(), actor, id); err != nil {
		handler.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
