package middleware

import (
	"net/http"

	"medicine-dispatch/pkg/utils"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyHeader carries the shared secret of machine operators and the MQTT bridge.
const APIKeyHeader = "X-Api-Key"

// APIKeyAuth accepts requests whose X-Api-Key matches the bcrypt hash.
func APIKeyAuth(hash string) echo.MiddlewareFunc {
	hashed := []byte(hash)
	return echomw.KeyAuthWithConfig(echomw.KeyAuthConfig{
		KeyLookup: "header:" + APIKeyHeader,
		Validator: func(key string, c echo.Context) (bool, error) {
			return bcrypt.CompareHashAndPassword(hashed, []byte(key)) == nil, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			utils.LoggerFrom(c).WithError(err).Warn("api key rejected")
			return utils.RespondWithError(c, http.StatusUnauthorized, "Missing or invalid API key")
		},
	})
}
