package admission

import (
	"net/http"

	"github.com/browserbridge/authcore/services/admission"
	"github.com/labstack/echo/v4"
)

const (
	IdentityKey = "_admission_identity"
	DecisionKey = "_admission_decision"
)

// RequireAdmission runs every request through the admission gate and attaches
// the decoded identity to the echo context. Rejections map onto transport
// status codes here; the gate itself stays transport-agnostic.
func RequireAdmission(gate *admission.Gate) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			decision := gate.Admit(req.Context(), admission.Request{
				Headers:  req.Header,
				Path:     req.URL.Path,
				Method:   req.Method,
				ClientIP: c.RealIP(),
			})

			c.Set(DecisionKey, decision)

			if !decision.Admitted {
				if decision.StepUpRequired {
					return echo.NewHTTPError(http.StatusForbidden, "additional authentication required")
				}
				switch decision.Reason {
				case admission.ReasonMissingToken:
					return echo.NewHTTPError(http.StatusUnauthorized, "authorization required")
				case admission.ReasonTokenExpired:
					return echo.NewHTTPError(http.StatusUnauthorized, "token has expired")
				case admission.ReasonTokenTooOld:
					return echo.NewHTTPError(http.StatusForbidden, "recent authentication required for this operation")
				case admission.ReasonIPMismatch, admission.ReasonDeviceMismatch:
					return echo.NewHTTPError(http.StatusUnauthorized, "token not valid for this client")
				default:
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
				}
			}

			c.Set(IdentityKey, decision.Identity)
			return next(c)
		}
	}
}

func GetIdentity(c echo.Context) *admission.Identity {
	if identity, ok := c.Get(IdentityKey).(*admission.Identity); ok {
		return identity
	}
	return nil
}

func GetDecision(c echo.Context) (admission.Decision, bool) {
	decision, ok := c.Get(DecisionKey).(admission.Decision)
	return decision, ok
}
