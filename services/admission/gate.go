package admission

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/anomaly"
	"github.com/browserbridge/authcore/services/audit"
	"github.com/browserbridge/authcore/services/logging"
	"github.com/browserbridge/authcore/services/signing"
	"go.uber.org/zap"
)

// Reason is the closed set of rejection causes a gate decision can carry.
type Reason string

const (
	ReasonMissingToken       Reason = "missing_token"
	ReasonInvalidToken       Reason = "invalid_token"
	ReasonTokenExpired       Reason = "token_expired"
	ReasonTokenRevoked       Reason = "token_revoked"
	ReasonTokenTypeMismatch  Reason = "token_type_mismatch"
	ReasonTokenNotFound      Reason = "token_not_found"
	ReasonIPMismatch         Reason = "ip_mismatch"
	ReasonDeviceMismatch     Reason = "device_mismatch"
	ReasonTokenTooOld        Reason = "token_too_old_for_sensitive_operation"
	ReasonSuspiciousActivity Reason = "suspicious_activity_detected"
)

// Request carries the transport-agnostic attributes the gate evaluates. The
// HTTP layer builds one per inbound request.
type Request struct {
	Headers  http.Header
	Path     string
	Method   string
	ClientIP string
}

// Identity is the decoded principal attached to an admitted request.
type Identity struct {
	UserID      string
	SessionID   string
	Email       string
	Roles       []string
	ExtensionID string
	TokenID     string
}

// Decision is the terminal outcome of running the admission pipeline.
type Decision struct {
	Admitted       bool
	Reason         Reason
	Identity       *Identity
	StepUpRequired bool
}

// Gate runs the layered per-request admission pipeline: bearer extraction,
// token verification, context binding checks, sensitive-path freshness and
// anomaly scoring.
type Gate struct {
	config     *config.Config
	signing    *signing.Service
	scorer     anomaly.Scorer
	dispatcher *audit.Dispatcher
	logger     *logging.Service
	now        func() time.Time
}

func NewGate(cfg *config.Config, signingService *signing.Service, scorer anomaly.Scorer, dispatcher *audit.Dispatcher, logger *logging.Service) *Gate {
	return &Gate{
		config:     cfg,
		signing:    signingService,
		scorer:     scorer,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Admit evaluates one request and returns a terminal decision. Audit emission
// never influences the outcome.
func (g *Gate) Admit(ctx context.Context, req Request) Decision {
	token := g.extractBearer(req.Headers)
	if token == "" {
		return g.reject(ctx, req, ReasonMissingToken, nil)
	}

	claims, err := g.signing.Verify(token, signing.TokenTypeAccess)
	if err != nil {
		return g.reject(ctx, req, mapVerifyError(err), nil)
	}

	identity := &Identity{
		UserID:      claims.UserID,
		SessionID:   claims.SessionID,
		Email:       claims.Email,
		Roles:       claims.Roles,
		ExtensionID: claims.ExtensionID,
		TokenID:     claims.ID,
	}

	if g.config.Admission.IPBinding && claims.IPAddress != "" && claims.IPAddress != req.ClientIP {
		if g.logger != nil {
			g.logger.Warn("admission rejected, client IP differs from issuance IP",
				zap.String("user_id", claims.UserID),
				zap.String("issued_ip", claims.IPAddress),
				zap.String("request_ip", req.ClientIP))
		}
		return g.reject(ctx, req, ReasonIPMismatch, identity)
	}

	if g.config.Admission.DeviceBinding && claims.Fingerprint != "" {
		if Fingerprint(req.Headers) != claims.Fingerprint {
			return g.reject(ctx, req, ReasonDeviceMismatch, identity)
		}
	}

	if g.isSensitivePath(req.Path) && claims.IssuedAt != nil {
		age := g.now().Sub(claims.IssuedAt.Time)
		if age > g.config.Admission.SensitiveTokenMaxAge {
			return g.reject(ctx, req, ReasonTokenTooOld, identity)
		}
	}

	if g.scorer != nil {
		decision, done := g.scoreRequest(ctx, req, identity)
		if done {
			return decision
		}
	}

	return Decision{Admitted: true, Identity: identity}
}

func (g *Gate) scoreRequest(ctx context.Context, req Request, identity *Identity) (Decision, bool) {
	score, err := g.scorer.Score(ctx, anomaly.Signals{
		UserID:      identity.UserID,
		SessionID:   identity.SessionID,
		IP:          req.ClientIP,
		Path:        req.Path,
		Method:      req.Method,
		UserAgent:   req.Headers.Get("User-Agent"),
		Fingerprint: Fingerprint(req.Headers),
	})
	if err != nil {
		if g.logger != nil {
			g.logger.Error("anomaly scorer failed, continuing without score",
				zap.Error(err),
				zap.String("user_id", identity.UserID))
		}
		return Decision{}, false
	}

	// The threshold is exclusive: a score equal to it passes untouched.
	if score.Score <= g.config.Admission.AnomalyThreshold {
		return Decision{}, false
	}

	if score.RequiresAdditionalAuth {
		g.emit(ctx, audit.Event{
			Type:      audit.EventAdmissionDenied,
			Severity:  audit.SeverityAlert,
			UserID:    identity.UserID,
			SessionID: identity.SessionID,
			IP:        req.ClientIP,
			Path:      req.Path,
			Reason:    string(ReasonSuspiciousActivity),
			Score:     score.Score,
			Metadata:  scoreMetadata(req, score),
		})
		return Decision{Reason: ReasonSuspiciousActivity, Identity: identity, StepUpRequired: true}, true
	}

	// over threshold without the step-up flag: record and admit
	g.emit(ctx, audit.Event{
		Type:      audit.EventAdmissionFlagged,
		Severity:  audit.SeverityWarning,
		UserID:    identity.UserID,
		SessionID: identity.SessionID,
		IP:        req.ClientIP,
		Path:      req.Path,
		Score:     score.Score,
		Metadata:  scoreMetadata(req, score),
	})
	return Decision{Admitted: true, Identity: identity}, true
}

func (g *Gate) extractBearer(headers http.Header) string {
	value := headers.Get(g.config.Admission.BearerHeader)
	if value == "" {
		return ""
	}
	if !strings.HasPrefix(value, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(value, "Bearer "))
}

// isSensitivePath matches the request path against the configured pattern
// set. A trailing "*" matches any suffix; otherwise the match is exact.
func (g *Gate) isSensitivePath(path string) bool {
	for _, pattern := range g.config.Admission.SensitivePaths {
		if strings.HasSuffix(pattern, "*") {
			if strings.HasPrefix(path, strings.TrimSuffix(pattern, "*")) {
				return true
			}
			continue
		}
		if path == pattern {
			return true
		}
	}
	return false
}

func (g *Gate) reject(ctx context.Context, req Request, reason Reason, identity *Identity) Decision {
	event := audit.Event{
		Type:     audit.EventAdmissionDenied,
		Severity: audit.SeverityWarning,
		IP:       req.ClientIP,
		Path:     req.Path,
		Reason:   string(reason),
		Metadata: clientMetadata(req),
	}
	if identity != nil {
		event.UserID = identity.UserID
		event.SessionID = identity.SessionID
	}
	g.emit(ctx, event)

	return Decision{Reason: reason, Identity: identity}
}

func (g *Gate) emit(ctx context.Context, event audit.Event) {
	defer func() {
		if r := recover(); r != nil && g.logger != nil {
			g.logger.Error("audit emission panicked", zap.Any("panic", r))
		}
	}()
	g.dispatcher.Emit(ctx, event)
}

func scoreMetadata(req Request, score anomaly.Score) map[string]string {
	metadata := clientMetadata(req)
	if len(score.Reasons) > 0 {
		metadata["anomaly_reasons"] = strings.Join(score.Reasons, ", ")
	}
	return metadata
}

func mapVerifyError(err error) Reason {
	switch {
	case errors.Is(err, signing.ErrExpiredToken):
		return ReasonTokenExpired
	case errors.Is(err, signing.ErrTokenRevoked):
		return ReasonTokenRevoked
	case errors.Is(err, signing.ErrTokenTypeMismatch):
		return ReasonTokenTypeMismatch
	case errors.Is(err, signing.ErrTokenNotFound):
		return ReasonTokenNotFound
	default:
		return ReasonInvalidToken
	}
}
