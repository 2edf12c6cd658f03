package middlewares

import (
	"context"
	"net/http"
	"strings"

	"github.com/geocoder89/authhub/internal/auth"
	"github.com/geocoder89/authhub/internal/denylist"
	"github.com/geocoder89/authhub/internal/domain/user"
	"github.com/gin-gonic/gin"
)

// Keep these interfaces small so tests can fake them easily.

type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type IdentityResolver interface {
	GetIdentity(ctx context.Context, userID string) (user.Identity, error)
}

type AuthMiddleware struct {
	jwt     TokenVerifier
	users   IdentityResolver
	revoked denylist.Store
}

func NewAuthMiddleware(jwt TokenVerifier, users IdentityResolver, revoked denylist.Store) *AuthMiddleware {
	return &AuthMiddleware{
		jwt:     jwt,
		users:   users,
		revoked: revoked,
	}
}

// ExtractToken pulls the raw token from the request: cookie first, then the
// Authorization header for non-browser clients.
func ExtractToken(ctx *gin.Context) string {
	if raw, err := ctx.Cookie(auth.TokenCookie); err == nil && raw != "" {
		return raw
	}

	authHeader := ctx.GetHeader("Authorization")

	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
	}

	return ""
}

// RequireAuth verifies the presented token and resolves the caller's
// identity fresh from the store. The token is only trusted for the user id;
// role and permissions always reflect the current database state, so a
// revocation takes effect on the very next request.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := ExtractToken(c)

		if raw == "" {
			unauthorized(c, "Not authorized, please login")
			return
		}

		claims, err := m.jwt.Verify(raw)

		if err != nil {
			unauthorized(c, "Invalid or expired token")
			return
		}

		if m.revoked != nil {
			gone, dErr := m.revoked.IsRevoked(c.Request.Context(), claims.JTI)

			if dErr != nil || gone {
				unauthorized(c, "Invalid or expired token")
				return
			}
		}

		identity, err := m.users.GetIdentity(c.Request.Context(), claims.Subject)

		if err != nil {
			// covers users deleted after token issuance
			unauthorized(c, "Not authorized, please login")
			return
		}

		c.Set(CtxIdentity, identity)

		c.Next()
	}
}

// IdentityFromContext returns the identity stashed by RequireAuth.
func IdentityFromContext(c *gin.Context) (user.Identity, bool) {
	v, ok := c.Get(CtxIdentity)

	if !ok {
		return user.Identity{}, false
	}

	identity, ok := v.(user.Identity)

	return identity, ok
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":    "unauthorized",
			"message": message,
		},
	})
}
