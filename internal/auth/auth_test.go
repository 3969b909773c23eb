package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "portal-test"
)

func TestIssueAndParse(t *testing.T) {
	tok, exp, err := Issue("u1", "Meera", "trainer", testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	claims, err := Parse(tok, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "trainer", claims.Role)
	assert.Equal(t, "Meera", claims.Name)
}

func TestParseRejects(t *testing.T) {
	good, _, err := Issue("u1", "", "admin", testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	expired, _, err := Issue("u1", "", "admin", testIssuer, testKey, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		key    string
		issuer string
	}{
		{"wrong key", good, "other", testIssuer},
		{"wrong issuer", good, testKey, "someone-else"},
		{"expired", expired, testKey, testIssuer},
		{"garbage", "not-a-jwt", testKey, testIssuer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.token, tt.key, tt.issuer)
			assert.Error(t, err)
		})
	}
}

func TestRolePermission(t *testing.T) {
	p := NewRolePermission("Admin", " trainer ", "")

	tests := []struct {
		role string
		want bool
	}{
		{"admin", true},
		{"TRAINER", true},
		{"viewer", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			ctx := WithIdentity(context.Background(), Claims{Subject: "u1", Role: tt.role}, "tok")
			assert.Equal(t, tt.want, p.CanMarkAttendance(ctx))
		})
	}

	assert.False(t, p.CanMarkAttendance(context.Background()), "anonymous caller")
}

func TestUserAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", UserAuth(testKey, testIssuer), func(c *gin.Context) {
		claims, ok := ClaimsFrom(c.Request.Context())
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"sub": claims.Subject, "token": BearerToken(c.Request.Context())})
	})

	tok, _, err := Issue("u7", "", "trainer", testIssuer, testKey, time.Hour)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"sub":"u7"`)
		assert.Contains(t, rr.Body.String(), tok)
	})

	t.Run("missing", func(t *testing.T) {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("invalid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
