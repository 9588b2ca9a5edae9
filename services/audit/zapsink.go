package audit

import (
	"context"

	"github.com/browserbridge/authcore/services/logging"
	"go.uber.org/zap"
)

// ZapSink writes events as structured log entries.
type ZapSink struct {
	logger *logging.Service
}

func NewZapSink(logger *logging.Service) *ZapSink {
	return &ZapSink{logger: logger}
}

func (s *ZapSink) Emit(_ context.Context, event Event) {
	if s == nil || s.logger == nil {
		return
	}

	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.Time("event_time", event.Timestamp),
		zap.String("event_type", string(event.Type)),
	}
	if event.UserID != "" {
		fields = append(fields, zap.String("user_id", event.UserID))
	}
	if event.SessionID != "" {
		fields = append(fields, zap.String("session_id", event.SessionID))
	}
	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	if event.Path != "" {
		fields = append(fields, zap.String("path", event.Path))
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}
	if event.Score > 0 {
		fields = append(fields, zap.Int("anomaly_score", event.Score))
	}
	for k, v := range event.Metadata {
		fields = append(fields, zap.String(k, v))
	}

	switch event.Severity {
	case SeverityAlert:
		s.logger.Error("security event", fields...)
	case SeverityWarning:
		s.logger.Warn("security event", fields...)
	default:
		s.logger.Info("security event", fields...)
	}
}
