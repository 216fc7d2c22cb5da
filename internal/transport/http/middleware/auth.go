package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ozonelabrada/resqhub-sub000/internal/infra/security"
)

const claimsKey = "auth_claims"

// TokenParser verifies a bearer token and returns its claims.
type TokenParser interface {
	Parse(token string) (*security.AccessTokenClaims, error)
}

// authError has the same shape as handlers.ErrorResponse.
type authError struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func abortAuth(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, authError{Error: msg, TraceID: GetTraceID(c)})
}

// RequireAuth verifies the bearer token and exposes the caller's user id and claims
// to downstream handlers.
func RequireAuth(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, problem := bearerToken(c.GetHeader("Authorization"))
		if problem != "" {
			abortAuth(c, http.StatusUnauthorized, problem)
			return
		}

		claims, err := parser.Parse(token)
		switch {
		case err == nil:
		case errors.Is(err, security.ErrExpiredToken):
			abortAuth(c, http.StatusUnauthorized, "access token expired")
			return
		case errors.Is(err, security.ErrInvalidToken):
			abortAuth(c, http.StatusUnauthorized, "invalid access token")
			return
		default:
			_ = c.Error(err)
			abortAuth(c, http.StatusInternalServerError, "authentication failed")
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(claimsKey, claims)
		GetRequestContext(c).UserID = claims.UserID
		trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.String("enduser.id", claims.UserID))

		c.Next()
	}
}

func bearerToken(header string) (string, string) {
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok {
		return "", "invalid authorization format: expected 'Bearer <token>'"
	}
	if !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization format: must start with 'Bearer'"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "missing access token"
	}
	return token, ""
}

// RequireRole lets the request through when the caller holds any of roles.
// It must run after RequireAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			abortAuth(c, http.StatusUnauthorized, "authentication required")
			return
		}
		for _, role := range roles {
			if claims.HasRole(role) {
				c.Next()
				return
			}
		}
		abortAuth(c, http.StatusForbidden, "insufficient permissions")
	}
}

// ClaimsFromContext returns the verified token claims set by RequireAuth.
func ClaimsFromContext(c *gin.Context) (*security.AccessTokenClaims, bool) {
	val, exists := c.Get(claimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := val.(*security.AccessTokenClaims)
	return claims, ok && claims != nil
}

// GetAuthenticatedUserID retrieves the user ID from context (helper for handlers)
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok
}
