package csrf

import (
	"net/http"

	"github.com/browserbridge/authcore/config"
	admissionmw "github.com/browserbridge/authcore/middleware/admission"
	"github.com/browserbridge/authcore/services/csrfguard"
	"github.com/labstack/echo/v4"
)

const ContextKey = "csrf"

var safeMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

// Middleware enforces the double-submit check on state-changing requests and
// makes sure safe requests leave with a token cookie to submit later.
func Middleware(cfg *config.Config, guard *csrfguard.Service) echo.MiddlewareFunc {
	if !cfg.CSRF.Enabled {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return next
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sessionID, userID := bindingFromContext(c)

			if safeMethods[c.Request().Method] {
				if _, err := c.Cookie(cfg.CSRF.CookieName); err != nil {
					token, err := guard.Issue(sessionID, userID)
					if err != nil {
						return echo.NewHTTPError(http.StatusInternalServerError, "failed to issue CSRF token")
					}
					setCookie(c, cfg, token)
					c.Set(ContextKey, token)
				}
				return next(c)
			}

			origin := c.Request().Header.Get("Origin")
			extensionID := c.Request().Header.Get(cfg.CSRF.ExtensionHeader)
			if guard.IsExemptExtension(origin, extensionID) {
				return next(c)
			}

			headerToken := c.Request().Header.Get(cfg.CSRF.HeaderName)
			cookieToken := ""
			if cookie, err := c.Cookie(cfg.CSRF.CookieName); err == nil {
				cookieToken = cookie.Value
			}

			if err := guard.Check(headerToken, cookieToken, sessionID, userID); err != nil {
				return echo.NewHTTPError(http.StatusForbidden, "CSRF token validation failed")
			}

			return next(c)
		}
	}
}

// RotateToken issues a fresh token for the given binding and sets its cookie.
// Handlers call it after authentication state changes.
func RotateToken(c echo.Context, cfg *config.Config, guard *csrfguard.Service, sessionID, userID string) (string, error) {
	token, err := guard.Rotate(sessionID, userID)
	if err != nil {
		return "", err
	}
	setCookie(c, cfg, token)
	c.Set(ContextKey, token)
	return token, nil
}

func GetToken(c echo.Context) string {
	if token, ok := c.Get(ContextKey).(string); ok {
		return token
	}
	return ""
}

func bindingFromContext(c echo.Context) (sessionID, userID string) {
	if identity := admissionmw.GetIdentity(c); identity != nil {
		return identity.SessionID, identity.UserID
	}
	return "", ""
}

func setCookie(c echo.Context, cfg *config.Config, token string) {
	var sameSite http.SameSite
	switch cfg.CSRF.CookieSameSite {
	case "strict":
		sameSite = http.SameSiteStrictMode
	case "lax":
		sameSite = http.SameSiteLaxMode
	case "none":
		sameSite = http.SameSiteNoneMode
	default:
		sameSite = http.SameSiteDefaultMode
	}

	c.SetCookie(&http.Cookie{
		Name:     cfg.CSRF.CookieName,
		Value:    token,
		Path:     cfg.CSRF.CookiePath,
		MaxAge:   int(cfg.CSRF.TokenExpiry.Seconds()),
		Secure:   cfg.CSRF.CookieSecure,
		HttpOnly: cfg.CSRF.CookieHTTPOnly,
		SameSite: sameSite,
	})
}
