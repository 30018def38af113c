package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"medicine-dispatch/internal/models"
	"medicine-dispatch/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const secret = "test-secret"

func signToken(t *testing.T, key, userID, role string, ttl time.Duration) string {
	t.Helper()
	claims := &models.JwtCustomClaims{
		UserID: userID,
		Email:  userID + "@example.com",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func whoami(c echo.Context) error {
	userID, role, err := utils.ExtractUserInfo(c)
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, userID+":"+role)
}

func serve(e *echo.Echo, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTMAuth(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, JWTMAuth(secret))
	e.GET("/admin", whoami, JWTMAuth(secret), AdminRequired())

	rec := serve(e, http.MethodGet, "/me", map[string]string{
		echo.HeaderAuthorization: "Bearer " + signToken(t, secret, "user-1", models.RoleCustomer, time.Hour),
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1:customer", rec.Body.String())

	rec = serve(e, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing or malformed JWT")

	rec = serve(e, http.MethodGet, "/me", map[string]string{
		echo.HeaderAuthorization: "Bearer " + signToken(t, "other-secret", "user-1", models.RoleCustomer, time.Hour),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(e, http.MethodGet, "/me", map[string]string{
		echo.HeaderAuthorization: "Bearer " + signToken(t, secret, "user-1", models.RoleCustomer, -time.Minute),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRequired(t *testing.T) {
	e := echo.New()
	e.GET("/admin", whoami, JWTMAuth(secret), AdminRequired())

	rec := serve(e, http.MethodGet, "/admin", map[string]string{
		echo.HeaderAuthorization: "Bearer " + signToken(t, secret, "user-1", models.RoleCustomer, time.Hour),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(e, http.MethodGet, "/admin", map[string]string{
		echo.HeaderAuthorization: "Bearer " + signToken(t, secret, "ops-1", models.RoleAdmin, time.Hour),
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops-1:admin", rec.Body.String())
}

func TestAPIKeyAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-key"), bcrypt.MinCost)
	require.NoError(t, err)

	e := echo.New()
	e.POST("/bridge", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, APIKeyAuth(string(hash)))

	rec := serve(e, http.MethodPost, "/bridge", map[string]string{APIKeyHeader: "s3cret-key"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(e, http.MethodPost, "/bridge", map[string]string{APIKeyHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(e, http.MethodPost, "/bridge", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"unauthorized"`)
}

func TestRequestLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := serve(e, http.MethodGet, "/ok", map[string]string{echo.HeaderXRequestID: "req-42"})
	require.Equal(t, http.StatusOK, rec.Code)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "req-42", entry.Data["request_id"])
	assert.Equal(t, "/ok", entry.Data["uri"])
	assert.Equal(t, http.StatusOK, entry.Data["status"])

	serve(e, http.MethodGet, "/missing", nil)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}
