package testutils

import (
	"context"
	"time"

	"github.com/browserbridge/authcore/services/anomaly"
	"github.com/browserbridge/authcore/services/audit"
	"github.com/stretchr/testify/mock"
)

type MockRevocationService struct {
	mock.Mock
}

func (m *MockRevocationService) Revoke(jti string, expiresAt time.Time) error {
	args := m.Called(jti, expiresAt)
	return args.Error(0)
}

func (m *MockRevocationService) IsRevoked(jti string) (bool, error) {
	args := m.Called(jti)
	return args.Bool(0), args.Error(1)
}

type MockAlertMailer struct {
	mock.Mock
}

func (m *MockAlertMailer) SendAlert(to string, subject string, body string) error {
	args := m.Called(to, subject, body)
	return args.Error(0)
}

type MockScorer struct {
	mock.Mock
}

func (m *MockScorer) Score(ctx context.Context, signals anomaly.Signals) (anomaly.Score, error) {
	args := m.Called(ctx, signals)
	return args.Get(0).(anomaly.Score), args.Error(1)
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Emit(ctx context.Context, event audit.Event) {
	m.Called(ctx, event)
}
