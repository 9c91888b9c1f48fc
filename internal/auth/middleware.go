package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fashionpoint/platform/internal/account"
)

const (
	// ContextKeyAccountID is the gin context key for the caller's account id
	ContextKeyAccountID = "authAccountID"
	// ContextKeyRole is the gin context key for the caller's role
	ContextKeyRole = "authRole"
)

// Middleware extracts and verifies the bearer token from the request.
// Sets authAccountID and authRole in context if valid.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if ok && raw != "" {
			if p, err := v.Verify(strings.TrimSpace(raw)); err == nil {
				c.Set(ContextKeyAccountID, p.AccountID)
				c.Set(ContextKeyRole, string(p.Role))
			}
		}

		c.Next()
	}
}

// RequireAuth rejects requests without a verified principal.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextKeyAccountID) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Bearer token required. Include 'Authorization: Bearer <token>' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireRole requires auth AND the given role.
func RequireRole(role account.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextKeyAccountID) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Bearer token required.",
			})
			return
		}
		if c.GetString(ContextKeyRole) != string(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "This endpoint requires the " + string(role) + " role.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin is shorthand for RequireRole(account.RoleAdmin).
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(account.RoleAdmin)
}

// GetPrincipal returns the authenticated principal from context.
func GetPrincipal(c *gin.Context) (*Principal, bool) {
	id := c.GetString(ContextKeyAccountID)
	if id == "" {
		return nil, false
	}
	return &Principal{
		AccountID: id,
		Role:      account.Role(c.GetString(ContextKeyRole)),
	}, true
}
