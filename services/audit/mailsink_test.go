package audit

import (
	"context"
	"testing"
	"time"

	"github.com/browserbridge/authcore/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	sent []string
}

func (m *fakeMailer) SendAlert(to, subject, body string) error {
	m.sent = append(m.sent, subject)
	return nil
}

func TestMailSink_OnlyAlertSeverity(t *testing.T) {
	mailer := &fakeMailer{}
	sink := NewMailSink(&config.AuditConfig{AlertEmail: "ops@example.com", AlertRateEvery: time.Hour}, mailer, nil)

	sink.Emit(context.Background(), Event{Type: EventLogin, Severity: SeverityInfo})
	sink.Emit(context.Background(), Event{Type: EventAdmissionFlagged, Severity: SeverityWarning})
	assert.Empty(t, mailer.sent)

	sink.Emit(context.Background(), Event{Type: EventTokenReplay, Severity: SeverityAlert})
	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0], "token_replay")
}

func TestMailSink_RateLimited(t *testing.T) {
	mailer := &fakeMailer{}
	sink := NewMailSink(&config.AuditConfig{AlertEmail: "ops@example.com", AlertRateEvery: time.Hour}, mailer, nil)

	for i := 0; i < 5; i++ {
		sink.Emit(context.Background(), Event{Type: EventTokenReplay, Severity: SeverityAlert})
	}

	assert.Len(t, mailer.sent, 1)
}

func TestMailSink_NoRecipientConfigured(t *testing.T) {
	mailer := &fakeMailer{}
	sink := NewMailSink(&config.AuditConfig{AlertRateEvery: time.Minute}, mailer, nil)

	sink.Emit(context.Background(), Event{Type: EventTokenReplay, Severity: SeverityAlert})
	assert.Empty(t, mailer.sent)
}
