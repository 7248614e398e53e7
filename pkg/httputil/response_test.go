package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
)

func respond(err error) (*httptest.ResponseRecorder, Response) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	RespondWithError(c, err)

	var body Response
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestRespondWithErrorMapsCodes(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{apperrors.SlotUnavailable("taken"), http.StatusConflict},
		{apperrors.LockTimeout("slot:1", nil), http.StatusServiceUnavailable},
		{apperrors.Cancelled("request ended while waiting for lock on slot:1", context.Canceled), http.StatusServiceUnavailable},
		{apperrors.NotFound("slot", nil), http.StatusNotFound},
		{apperrors.InvalidRange("bad"), http.StatusBadRequest},
		{apperrors.RateLimited(), http.StatusTooManyRequests},
		{apperrors.Forbidden("no"), http.StatusForbidden},
	}
	for _, tt := range tests {
		w, body := respond(tt.err)
		assert.Equal(t, tt.status, w.Code, tt.err.Error())
		assert.False(t, body.Success)
	}
}

func TestRespondWithErrorHidesInternalCauses(t *testing.T) {
	for _, err := range []error{
		errors.New("pq: connection refused"),
		apperrors.Internal(errors.New("pq: connection refused")),
		apperrors.StaleState("slot"),
	} {
		w, body := respond(err)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		require.NotNil(t, body.Error)
		assert.Equal(t, apperrors.ErrInternal, body.Error.Code)
		assert.NotContains(t, w.Body.String(), "pq:")
	}
}

func TestRespondWithErrorCarriesConflictDetails(t *testing.T) {
	w, _ := respond(apperrors.Conflict("overlap", []string{"a"}))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"success":false,"error":{"code":"conflict","message":"overlap","details":["a"]}}`, w.Body.String())
}
