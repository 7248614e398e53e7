package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/booking-engine/internal/model"
	"github.com/jwalitptl/booking-engine/internal/service/authz"
	"github.com/jwalitptl/booking-engine/pkg/auth"
	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
	"github.com/jwalitptl/booking-engine/pkg/httputil"
)

const ContextActor = "actor"

type AuthMiddleware struct {
	tokens     auth.JWTService
	authorizer authz.Authorizer
}

func NewAuthMiddleware(tokens auth.JWTService, authorizer authz.Authorizer) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:     tokens,
		authorizer: authorizer,
	}
}

// Authenticate verifies the bearer token and stores the actor in the context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			httputil.RespondWithError(c, apperrors.Unauthorized(nil))
			return
		}

		actor, err := m.tokens.ValidateToken(token)
		if err != nil {
			httputil.RespondWithError(c, apperrors.Unauthorized(err))
			return
		}

		SetActor(c, *actor)
		c.Next()
	}
}

// RequirePermission rejects actors whose role may not perform action.
func (m *AuthMiddleware) RequirePermission(action authz.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			httputil.RespondWithError(c, apperrors.Unauthorized(nil))
			return
		}
		if err := authz.Require(c.Request.Context(), m.authorizer, actor, action); err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		c.Next()
	}
}

func SetActor(c *gin.Context, actor model.Actor) {
	c.Set(ContextActor, actor)
}

func ActorFrom(c *gin.Context) (model.Actor, bool) {
	v, ok := c.Get(ContextActor)
	if !ok {
		return model.Actor{}, false
	}
	actor, ok := v.(model.Actor)
	return actor, ok
}
