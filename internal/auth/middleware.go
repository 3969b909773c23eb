package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type ctxKey struct{}

type identity struct {
	claims Claims
	token  string
}

// WithIdentity stores the caller's claims and raw bearer token in ctx.
func WithIdentity(ctx context.Context, claims Claims, token string) context.Context {
	return context.WithValue(ctx, ctxKey{}, identity{claims: claims, token: token})
}

// ClaimsFrom returns the caller's claims stored by UserAuth.
func ClaimsFrom(ctx context.Context) (Claims, bool) {
	id, ok := ctx.Value(ctxKey{}).(identity)
	return id.claims, ok
}

// BearerToken returns the caller's raw token so it can be forwarded upstream.
func BearerToken(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(identity)
	return id.token
}

// UserAuth enforces bearer JWT tokens signed with HS256 and puts the caller's
// identity on the request context.
func UserAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("claims", claims)
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), claims, tokenStr))
		c.Next()
	}
}
