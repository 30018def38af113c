package middleware

import (
	"errors"
	"net/http"

	"medicine-dispatch/internal/models"
	"medicine-dispatch/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

// JWTMAuth configures and returns Echo's JWT middleware.
// On success the user id, email and role of the claims are stored in the
// context under "userID", "userEmail" and "userRole".
func JWTMAuth(jwtSecretKey string) echo.MiddlewareFunc {
	config := echojwt.Config{
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(models.JwtCustomClaims)
		},
		SigningKey: []byte(jwtSecretKey),

		// Browsers cannot set headers on websocket upgrades.
		TokenLookup: "header:Authorization:Bearer ,query:access_token",

		SuccessHandler: func(c echo.Context) {
			// "user" is the default context key used by echo-jwt
			userToken := c.Get("user").(*jwt.Token)
			claims := userToken.Claims.(*models.JwtCustomClaims)

			c.Set("userID", claims.UserID)
			c.Set("userEmail", claims.Email)
			c.Set("userRole", claims.Role)
			utils.SetLogger(c, utils.LoggerFrom(c).WithField("user_id", claims.UserID))
		},

		ErrorHandler: func(c echo.Context, err error) error {
			utils.LoggerFrom(c).WithError(err).Debug("jwt rejected")

			switch {
			case errors.Is(err, echojwt.ErrJWTMissing):
				return utils.RespondWithError(c, http.StatusUnauthorized, "Missing or malformed JWT")
			case errors.Is(err, jwt.ErrTokenMalformed):
				return utils.RespondWithError(c, http.StatusUnauthorized, "Token is malformed")
			case errors.Is(err, jwt.ErrTokenExpired):
				return utils.RespondWithError(c, http.StatusUnauthorized, "Token has expired")
			case errors.Is(err, jwt.ErrTokenSignatureInvalid):
				return utils.RespondWithError(c, http.StatusUnauthorized, "Invalid token signature")
			}
			return utils.RespondWithError(c, http.StatusUnauthorized, "Invalid or expired JWT")
		},
	}
	return echojwt.WithConfig(config)
}

// AdminRequired lets only tokens with the admin role through. It must run
// after JWTMAuth.
func AdminRequired() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if role, _ := c.Get("userRole").(string); role != models.RoleAdmin {
				return utils.RespondWithError(c, http.StatusForbidden, "Admin access required")
			}
			return next(c)
		}
	}
}
