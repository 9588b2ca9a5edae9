package audit

import (
	"context"
	"fmt"

	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AlertMailer sends a security alert to the configured operator address.
type AlertMailer interface {
	SendAlert(to string, subject string, body string) error
}

// MailSink emails alert-severity events. Delivery is rate limited so a burst
// of rejections cannot flood the operator inbox.
type MailSink struct {
	config  *config.AuditConfig
	mailer  AlertMailer
	limiter *rate.Limiter
	logger  *logging.Service
}

func NewMailSink(cfg *config.AuditConfig, mailer AlertMailer, logger *logging.Service) *MailSink {
	every := cfg.AlertRateEvery
	if every <= 0 {
		every = 1
	}
	return &MailSink{
		config:  cfg,
		mailer:  mailer,
		limiter: rate.NewLimiter(rate.Every(every), 1),
		logger:  logger,
	}
}

func (s *MailSink) Emit(_ context.Context, event Event) {
	if s == nil || s.mailer == nil || s.config.AlertEmail == "" {
		return
	}
	if event.Severity != SeverityAlert {
		return
	}
	if !s.limiter.Allow() {
		if s.logger != nil {
			s.logger.Debug("alert email suppressed by rate limit",
				zap.String("event_id", event.ID))
		}
		return
	}

	subject := fmt.Sprintf("security alert: %s", event.Type)
	body := fmt.Sprintf(
		"Event %s at %s\nType: %s\nUser: %s\nSession: %s\nIP: %s\nReason: %s\n",
		event.ID, event.Timestamp.Format("2006-01-02 15:04:05 MST"),
		event.Type, event.UserID, event.SessionID, event.IP, event.Reason)

	if err := s.mailer.SendAlert(s.config.AlertEmail, subject, body); err != nil {
		if s.logger != nil {
			s.logger.Error("failed to send alert email",
				zap.Error(err),
				zap.String("event_id", event.ID))
		}
	}
}
