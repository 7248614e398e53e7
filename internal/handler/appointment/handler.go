package appointment

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/booking-engine/internal/handler"
	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/service/booking"
	"github.com/jwalitptl/booking-engine/pkg/httputil"
)

type Handler struct {
	service *booking.Service
}

func NewHandler(service *booking.Service) *Handler {
	return &Handler{service: service}
}

type Guards struct {
	Create gin.HandlerFunc
	Update gin.HandlerFunc
	Cancel gin.HandlerFunc
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, g Guards) {
	r.POST("/slots/:id/book", g.Create, h.BookSlot)

	appointments := r.Group("/appointments")
	{
		appointments.GET("", h.ListAppointments)
		appointments.GET("/:id", h.GetAppointment)
		appointments.PUT("/:id", g.Update, h.UpdateAppointment)
		appointments.POST("/:id/cancel", g.Cancel, h.CancelAppointment)
		appointments.POST("/:id/confirm", g.Update, h.ConfirmAppointment)
		appointments.POST("/:id/complete", g.Update, h.CompleteAppointment)
	}
}

// BookSlot books the slot for the caller. The body is optional.
func (h *Handler) BookSlot(c *gin.Context) {
	actor, err := handler.Actor(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	slotID, err := handler.ParseID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	var req model.BookRequest
	if c.Request.ContentLength != 0 {
		if err := handler.Bind(c, &req); err != nil {
			handler.Fail(c, err)
			return
		}
	}

	result, err := h.service.Book(c.Request.Context(), actor, slotID, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, result)
}

func (h *Handler) GetAppointment(c *gin.Context) {
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
	appt, err := h.service.Get(c.Request.Context(), actor, id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, appt)
}

func (h *Handler) ListAppointments(c *gin.Context) {
	actor, err := handler.Actor(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	filters := model.AppointmentFilters{Status: model.AppointmentStatus(c.Query("status"))}
	if filters.ProfessionalID, err = handler.QueryUUID(c, "professional_id"); err != nil {
		handler.Fail(c, err)
		return
	}
	if filters.ClientID, err = handler.QueryUUID(c, "client_id"); err != nil {
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

	appointments, err := h.service.List(c.Request.Context(), actor, filters)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, appointments)
}

func (h *Handler) UpdateAppointment(c *gin.Context) {
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
	var req model.UpdateAppointmentRequest
	if err := handler.Bind(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}

	appt, err := h.service.Update(c.Request.Context(), actor, id, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, appt)
}

func (h *Handler) CancelAppointment(c *gin.Context) {
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
	var req model.CancelAppointmentRequest
	if c.Request.ContentLength != 0 {
		if err := handler.Bind(c, &req); err != nil {
			handler.Fail(c, err)
			return
		}
	}

	appt, err := h.service.Cancel(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, appt)
}

func (h *Handler) ConfirmAppointment(c *gin.Context) {
	h.advance(c, h.service.Confirm)
}

func (h *Handler) CompleteAppointment(c *gin.Context) {
	h.advance(c, h.service.Complete)
}

func (h *Handler) advance(c *gin.Context, fn func(context.Context, model.Actor, uuid.UUID) (*model.Appointment, error)) {
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
	appt, err := fn(c.Request.Context(), actor, id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, appt)
}
