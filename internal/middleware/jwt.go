package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/gate-backend/internal/model"
	"github.com/stemsi/gate-backend/internal/response"
	"github.com/stemsi/gate-backend/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

// TokenValidator is the slice of AuthService the middleware needs.
type TokenValidator interface {
	ValidateToken(tokenStr string) (*service.Claims, error)
}

// RequireLearnerJWT validates a learner JWT from the Authorization header.
func RequireLearnerJWT(auth TokenValidator) gin.HandlerFunc {
	return requireRole(auth, model.RoleLearner, bearerToken, response.ErrLearnerAccessOnly)
}

// RequireAdminJWT validates an admin JWT from the Authorization header.
func RequireAdminJWT(auth TokenValidator) gin.HandlerFunc {
	return requireRole(auth, model.RoleAdmin, bearerToken, response.ErrAdminAccessOnly)
}

// RequireJWT validates a JWT of any role from the Authorization header.
func RequireJWT(auth TokenValidator) gin.HandlerFunc {
	return requireRole(auth, "", bearerToken, response.ErrForbidden)
}

// RequireLearnerWSAuth validates a learner JWT from the ?token= query param.
// Browsers cannot set headers on a WebSocket upgrade.
func RequireLearnerWSAuth(auth TokenValidator) gin.HandlerFunc {
	return requireRole(auth, model.RoleLearner, queryToken, response.ErrLearnerAccessOnly)
}

func requireRole(auth TokenValidator, role model.Role, extract func(*gin.Context) string, denied response.ErrCode) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := extract(c)
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := auth.ValidateToken(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if role != "" && claims.Role != role {
			response.AbortFail(c, http.StatusForbidden, denied)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func queryToken(c *gin.Context) string {
	return c.Query("token")
}
