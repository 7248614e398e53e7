// Package handler holds the request helpers shared by the HTTP handlers.
package handler

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/booking-engine/internal/middleware"
	"github.com/jwalitptl/booking-engine/internal/model"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
)

const DateLayout = "2006-01-02"

// Fail records err for middleware.ErrorHandler and stops the chain.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// Actor returns the authenticated caller.
func Actor(c *gin.Context) (model.Actor, error) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return model.Actor{}, apperrors.Unauthorized(nil)
	}
	return actor, nil
}

func ParseID(c *gin.Context, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		return uuid.Nil, apperrors.BadRequest("invalid "+param, err)
	}
	return id, nil
}

// Bind decodes the JSON body into obj and runs its validate tags.
func Bind(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		return apperrors.BadRequest("malformed request body", err)
	}
	return nil
}

// QueryUUID parses an optional uuid query parameter.
func QueryUUID(c *gin.Context, name string) (*uuid.UUID, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperrors.BadRequest("invalid "+name, err)
	}
	return &id, nil
}

// QueryTime parses an optional RFC 3339 query parameter.
func QueryTime(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperrors.BadRequest(name+" must be RFC 3339", err)
	}
	t = t.UTC()
	return &t, nil
}

// ParseDate reads a YYYY-MM-DD calendar date.
func ParseDate(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, apperrors.BadRequest(name+" is required", nil)
	}
	d, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, apperrors.BadRequest(name+" must be YYYY-MM-DD", err)
	}
	return d, nil
}
