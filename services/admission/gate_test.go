package admission

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/anomaly"
	"github.com/browserbridge/authcore/services/audit"
	"github.com/browserbridge/authcore/services/refreshledger"
	"github.com/browserbridge/authcore/services/revocation"
	"github.com/browserbridge/authcore/services/signing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKeyOnce sync.Once
	testKeyPEM  string
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKeyPEM = string(signing.EncodePrivateKeyPEM(key))
	})

	cfg := &config.Config{}
	cfg.Signing.Issuer = "authcore-test"
	cfg.Signing.Audience = "authcore-test"
	cfg.Signing.AccessExpiry = 15 * time.Minute
	cfg.Signing.RefreshExpiry = 168 * time.Hour
	cfg.Signing.PrivateKeyPEM = testKeyPEM
	cfg.Admission.BearerHeader = "Authorization"
	cfg.Admission.SensitiveTokenMaxAge = 5 * time.Minute
	cfg.Admission.AnomalyThreshold = 75
	return cfg
}

type testGate struct {
	gate       *Gate
	signing    *signing.Service
	revocation *revocation.Service
	config     *config.Config
}

func newTestGate(t *testing.T, mutate func(cfg *config.Config), scorer anomaly.Scorer, dispatcher *audit.Dispatcher) *testGate {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(cfg)
	}

	ledger := refreshledger.NewService(cfg, nil)
	revocationSvc := revocation.NewService(cfg, revocation.NewMemoryStore(), nil)

	signingSvc, err := signing.NewService(cfg, ledger, nil)
	require.NoError(t, err)
	signingSvc.SetRevocationService(revocationSvc)

	return &testGate{
		gate:       NewGate(cfg, signingSvc, scorer, dispatcher, nil),
		signing:    signingSvc,
		revocation: revocationSvc,
		config:     cfg,
	}
}

func requestHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/126.0.0.0 Safari/537.36")
	h.Set("Accept-Language", "en-GB,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Accept", "application/json")
	return h
}

func requestFor(token string) Request {
	h := requestHeaders()
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return Request{
		Headers:  h,
		Path:     "/api/tasks",
		Method:   http.MethodGet,
		ClientIP: "1.2.3.4",
	}
}

func (tg *testGate) issue(t *testing.T, payload signing.Payload) *signing.TokenPair {
	t.Helper()
	pair, err := tg.signing.IssuePair(payload)
	require.NoError(t, err)
	return pair
}

func basePayload() signing.Payload {
	return signing.Payload{
		UserID:    "u1",
		SessionID: "s1",
		Email:     "u1@example.com",
		Roles:     []string{"operator"},
	}
}

func TestAdmit_HappyPath(t *testing.T) {
	tg := newTestGate(t, nil, nil, nil)
	pair := tg.issue(t, basePayload())

	decision := tg.gate.Admit(context.Background(), requestFor(pair.AccessToken))

	assert.True(t, decision.Admitted)
	assert.Empty(t, decision.Reason)
	require.NotNil(t, decision.Identity)
	assert.Equal(t, "u1", decision.Identity.UserID)
	assert.Equal(t, "s1", decision.Identity.SessionID)
	assert.Equal(t, []string{"operator"}, decision.Identity.Roles)
	assert.NotEmpty(t, decision.Identity.TokenID)
}

func TestAdmit_MissingToken(t *testing.T) {
	tg := newTestGate(t, nil, nil, nil)

	t.Run("no header", func(t *testing.T) {
		decision := tg.gate.Admit(context.Background(), requestFor(""))
		assert.False(t, decision.Admitted)
		assert.Equal(t, ReasonMissingToken, decision.Reason)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		req := requestFor("")
		req.Headers.Set("Authorization", "Basic dXNlcjpwYXNz")
		decision := tg.gate.Admit(context.Background(), req)
		assert.False(t, decision.Admitted)
		assert.Equal(t, ReasonMissingToken, decision.Reason)
	})
}

func TestAdmit_InvalidToken(t *testing.T) {
	tg := newTestGate(t, nil, nil, nil)

	decision := tg.gate.Admit(context.Background(), requestFor("not.a.jwt"))
	assert.False(t, decision.Admitted)
	assert.Equal(t, ReasonInvalidToken, decision.Reason)
}

func TestAdmit_ExpiredToken(t *testing.T) {
	tg := newTestGate(t, func(cfg *config.Config) {
		cfg.Signing.AccessExpiry = -time.Minute
	}, nil, nil)
	pair := tg.issue(t, basePayload())

	decision := tg.gate.Admit(context.Background(), requestFor(pair.AccessToken))
	assert.False(t, decision.Admitted)
	assert.Equal(t, ReasonTokenExpired, decision.Reason)
}

func TestAdmit_RevokedToken(t *testing.T) {
	tg := newTestGate(t, nil, nil, nil)
	pair := tg.issue(t, basePayload())

	claims, err := tg.signing.Verify(pair.AccessToken, signing.TokenTypeAccess)
	require.NoError(t, err)
	require.NoError(t, tg.revocation.Revoke(claims.ID, time.Now().Add(time.Hour)))

	decision := tg.gate.Admit(context.Background(), requestFor(pair.AccessToken))
	assert.False(t, decision.Admitted)
	assert.Equal(t, ReasonTokenRevoked, decision.Reason)
}

func TestAdmit_RefreshTokenRejected(t *testing.T) {
	tg := newTestGate(t, nil, nil, nil)
	pair := tg.issue(t, basePayload())

	decision := tg.gate.Admit(context.Background(), requestFor(pair.RefreshToken))
	assert.False(t, decision.Admitted)
	assert.Equal(t, ReasonTokenTypeMismatch, decision.Reason)
}

func TestAdmit_IPBinding(t *testing.T) {
	tg := newTestGate(t, func(cfg *config.Config) {
		cfg.Admission.IPBinding = true
	}, nil, nil)

	payload := basePayload()
	payload.IPAddress = "1.2.3.4"
	pair := tg.issue(t, payload)

	t.Run("matching IP admits", func(t *testing.T) {
		req := requestFor(pair.AccessToken)
		req.ClientIP = "1.2.3.4"
		decision := tg.gate.Admit(context.Background(), req)
		assert.True(t, decision.Admitted)
	})

	t.Run("different IP rejects", func(t *testing.T) {
		req := requestFor(pair.AccessToken)
		req.ClientIP = "9.9.9.9"
		decision := tg.gate.Admit(context.Background(), req)
		assert.False(t, decision.Admitted)
		assert.Equal(t, ReasonIPMismatch, decision.Reason)
		require.NotNil(t, decision.Identity)
		assert.Equal(t, "u1", decision.Identity.UserID)
	})

	t.Run("binding disabled ignores mismatch", func(t *testing.T) {
		tg2 := newTestGate(t, nil, nil, nil)
		pair2 := tg2.issue(t, payload)
		req := requestFor(pair2.AccessToken)
		req.ClientIP = "9.9.9.9"
		decision := tg2.gate.Admit(context.Background(), req)
		assert.True(t, decision.Admitted)
	})
}

func TestAdmit_DeviceBinding(t *testing.T) {
	tg := newTestGate(t, func(cfg *config.Config) {
		cfg.Admission.DeviceBinding = true
	}, nil, nil)

	payload := basePayload()
	payload.Fingerprint = Fingerprint(requestHeaders())
	pair := tg.issue(t, payload)

	t.Run("same device admits", func(t *testing.T) {
		decision := tg.gate.Admit(context.Background(), requestFor(pair.AccessToken))
		assert.True(t, decision.Admitted)
	})

	t.Run("changed headers reject", func(t *testing.T) {
		req := requestFor(pair.AccessToken)
		req.Headers.Set("User-Agent", "curl/8.5.0")
		decision := tg.gate.Admit(context.Background(), req)
		assert.False(t, decision.Admitted)
		assert.Equal(t, ReasonDeviceMismatch, decision.Reason)
	})

	t.Run("token without fingerprint claim admits", func(t *testing.T) {
		pair2 := tg.issue(t, basePayload())
		req := requestFor(pair2.AccessToken)
		req.Headers.Set("User-Agent", "curl/8.5.0")
		decision := tg.gate.Admit(context.Background(), req)
		assert.True(t, decision.Admitted)
	})
}

func TestAdmit_SensitivePathFreshness(t *testing.T) {
	tg := newTestGate(t, func(cfg *config.Config) {
		cfg.Admission.SensitivePaths = []string{"/api/admin/*", "/api/account/password"}
	}, nil, nil)
	pair := tg.issue(t, basePayload())

	t.Run("fresh token admits on sensitive path", func(t *testing.T) {
		req := requestFor(pair.AccessToken)
		req.Path = "/api/admin/users"
		decision := tg.gate.Admit(context.Background(), req)
		assert.True(t, decision.Admitted)
	})

	t.Run("stale token rejected on sensitive path", func(t *testing.T) {
		tg.gate.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
		defer func() { tg.gate.now = time.Now }()

		req := requestFor(pair.AccessToken)
		req.Path = "/api/account/password"
		decision := tg.gate.Admit(context.Background(), req)
		assert.False(t, decision.Admitted)
		assert.Equal(t, ReasonTokenTooOld, decision.Reason)
	})

	t.Run("stale token still admits on ordinary path", func(t *testing.T) {
		tg.gate.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
		defer func() { tg.gate.now = time.Now }()

		decision := tg.gate.Admit(context.Background(), requestFor(pair.AccessToken))
		assert.True(t, decision.Admitted)
	})
}

func TestIsSensitivePath(t *testing.T) {
	tg := newTestGate(t, func(cfg *config.Config) {
		cfg.Admission.SensitivePaths = []string{"/api/admin/*", "/api/account/password"}
	}, nil, nil)

	tests := []struct {
		path string
		want bool
	}{
		{"/api/admin/users", true},
		{"/api/admin/", true},
		{"/api/account/password", true},
		{"/api/account/password/reset", false},
		{"/api/tasks", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tg.gate.isSensitivePath(tt.path), tt.path)
	}
}

func TestAdmit_AnomalyScoring(t *testing.T) {
	t.Run("hard block requires both threshold and flag", func(t *testing.T) {
		scorer := anomaly.ScorerFunc(func(context.Context, anomaly.Signals) (anomaly.Score, error) {
			return anomaly.Score{Score: 90, Reasons: []string{"impossible travel"}, RequiresAdditionalAuth: true}, nil
		})
		tg := newTestGate(t, nil, scorer, nil)
		pair := tg.issue(t, basePayload())

		decision := tg.gate.Admit(context.Background(), requestFor(pair.AccessToken))
		assert.False(t, decision.Admitted)
		assert.Equal(t, ReasonSuspiciousActivity, decision.Reason)
		assert.True(t, decision.StepUpRequired)
		require.NotNil(t, decision.Identity)
	})

	t.Run("over threshold without flag is soft logged", func(t *testing.T) {
		scorer := anomaly.ScorerFunc(func(context.Context, anomaly.Signals) (anomaly.Score, error) {
			return anomaly.Score{Score: 90}, nil
		})
		sink := &captureSink{}
		dispatcher := audit.NewDispatcher(&config.AuditConfig{Enabled: true, BufferSize: 8}, sink, nil)
		tg := newTestGate(t, nil, scorer, dispatcher)
		pair := tg.issue(t, basePayload())

		decision := tg.gate.Admit(context.Background(), requestFor(pair.AccessToken))
		assert.True(t, decision.Admitted)
		assert.False(t, decision.StepUpRequired)

		dispatcher.Close()
		events := sink.all()
		require.Len(t, events, 1)
		assert.Equal(t, audit.EventAdmissionFlagged, events[0].Type)
		assert.Equal(t, 90, events[0].Score)
	})

	t.Run("score equal to the threshold admits silently", func(t *testing.T) {
		scorer := anomaly.ScorerFunc(func(context.Context, anomaly.Signals) (anomaly.Score, error) {
			return anomaly.Score{Score: 75, RequiresAdditionalAuth: true}, nil
		})
		sink := &captureSink{}
		dispatcher := audit.NewDispatcher(&config.AuditConfig{Enabled: true, BufferSize: 8}, sink, nil)
		tg := newTestGate(t, nil, scorer, dispatcher)
		pair := tg.issue(t, basePayload())

		decision := tg.gate.Admit(context.Background(), requestFor(pair.AccessToken))
		assert.True(t, decision.Admitted)
		assert.False(t, decision.StepUpRequired)

		dispatcher.Close()
		assert.Empty(t, sink.all(), "a score at the threshold is not flagged")
	})

	t.Run("under threshold admits silently", func(t *testing.T) {
		scorer := anomaly.ScorerFunc(func(context.Context, anomaly.Signals) (anomaly.Score, error) {
			return anomaly.Score{Score: 10, RequiresAdditionalAuth: true}, nil
		})
		tg := newTestGate(t, nil, scorer, nil)
		pair := tg.issue(t, basePayload())

		decision := tg.gate.Admit(context.Background(), requestFor(pair.AccessToken))
		assert.True(t, decision.Admitted)
	})

	t.Run("scorer failure never blocks the request", func(t *testing.T) {
		scorer := anomaly.ScorerFunc(func(context.Context, anomaly.Signals) (anomaly.Score, error) {
			return anomaly.Score{}, errors.New("scorer backend down")
		})
		tg := newTestGate(t, nil, scorer, nil)
		pair := tg.issue(t, basePayload())

		decision := tg.gate.Admit(context.Background(), requestFor(pair.AccessToken))
		assert.True(t, decision.Admitted)
	})
}

func TestAdmit_RejectionsEmitAuditEvents(t *testing.T) {
	sink := &captureSink{}
	dispatcher := audit.NewDispatcher(&config.AuditConfig{Enabled: true, BufferSize: 8}, sink, nil)
	tg := newTestGate(t, nil, nil, dispatcher)

	decision := tg.gate.Admit(context.Background(), requestFor(""))
	assert.False(t, decision.Admitted)

	dispatcher.Close()
	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventAdmissionDenied, events[0].Type)
	assert.Equal(t, string(ReasonMissingToken), events[0].Reason)
	assert.Equal(t, "1.2.3.4", events[0].IP)
}

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *captureSink) Emit(_ context.Context, event audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) all() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Event, len(s.events))
	copy(out, s.events)
	return out
}
