package middlewares

import (
	"net/http"

	"github.com/geocoder89/authhub/internal/authz"
	"github.com/geocoder89/authhub/internal/observability"
	"github.com/gin-gonic/gin"
)

// RequirePermissions gates a route on the evaluator's decision for the
// identity RequireAuth resolved. With no arguments it only requires a valid
// login. Wildcard holders pass everything.
func RequirePermissions(prom *observability.Prom, required ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFromContext(c)

		if !ok {
			unauthorized(c, "Missing identity context")
			return
		}

		decision := authz.Authorize(identity, required...)

		if prom != nil {
			outcome := "allow"

			if !decision.Allowed {
				outcome = "deny"
			}

			prom.AuthzDecisions.WithLabelValues(outcome).Inc()
		}

		if !decision.Allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{
					"code":    "forbidden",
					"message": "Missing required permissions",
					"details": gin.H{"missing": decision.Missing},
				},
			})
			return
		}

		c.Next()
	}
}
