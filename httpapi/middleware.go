package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// TokenMiddleware rejects requests whose bearer token does not match the
// bcrypt digest. The digest lives in configuration so the plaintext token
// never does.
func TokenMiddleware(digest string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := bearerToken(c.Request())
			if err != nil {
				return err
			}
			if bcrypt.CompareHashAndPassword([]byte(digest), []byte(token)) != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "authorization scheme must be Bearer")
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "empty token")
	}
	return token, nil
}
