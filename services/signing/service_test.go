package signing

import (
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/refreshledger"
	"github.com/browserbridge/authcore/services/revocation"
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
		testKeyPEM = string(EncodePrivateKeyPEM(key))
	})

	cfg := &config.Config{}
	cfg.Signing.Issuer = "authcore-test"
	cfg.Signing.Audience = "authcore-test"
	cfg.Signing.AccessExpiry = 15 * time.Minute
	cfg.Signing.RefreshExpiry = 168 * time.Hour
	cfg.Signing.PrivateKeyPEM = testKeyPEM
	return cfg
}

type testCore struct {
	signing    *Service
	ledger     *refreshledger.Service
	revocation *revocation.Service
	clock      time.Time
}

func newTestCore(t *testing.T) *testCore {
	t.Helper()
	cfg := testConfig(t)

	ledger := refreshledger.NewService(cfg, nil)
	revocationSvc := revocation.NewService(cfg, revocation.NewMemoryStore(), nil)

	signingSvc, err := NewService(cfg, ledger, nil)
	require.NoError(t, err)
	signingSvc.SetRevocationService(revocationSvc)

	core := &testCore{
		signing:    signingSvc,
		ledger:     ledger,
		revocation: revocationSvc,
		clock:      time.Now(),
	}
	signingSvc.now = func() time.Time { return core.clock }
	return core
}

func (c *testCore) advance(d time.Duration) {
	c.clock = c.clock.Add(d)
}

func basePayload() Payload {
	return Payload{
		UserID:    "u1",
		SessionID: "s1",
		Email:     "u1@example.com",
		Roles:     []string{"operator"},
	}
}

func TestNewService_RequiresKeyMaterial(t *testing.T) {
	cfg := testConfig(t)
	cfg.Signing.PrivateKeyPEM = ""

	_, err := NewService(cfg, refreshledger.NewService(cfg, nil), nil)
	require.Error(t, err, "service must refuse to start without key material")
}

func TestIssuePairAndVerify(t *testing.T) {
	core := newTestCore(t)

	pair, err := core.signing.IssuePair(basePayload())
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.True(t, pair.RefreshExpiresAt.After(pair.AccessExpiresAt))

	claims, err := core.signing.Verify(pair.AccessToken, TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "s1", claims.SessionID)
	assert.Equal(t, []string{"operator"}, claims.Roles)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
	assert.NotEmpty(t, claims.ID)

	refreshClaims, err := core.signing.Verify(pair.RefreshToken, TokenTypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeRefresh, refreshClaims.TokenType)
	assert.NotEqual(t, claims.ID, refreshClaims.ID, "access and refresh JTIs must differ")

	assert.Equal(t, 1, core.ledger.Count())
}

func TestVerify_TypeMismatch(t *testing.T) {
	core := newTestCore(t)

	pair, err := core.signing.IssuePair(basePayload())
	require.NoError(t, err)

	_, err = core.signing.Verify(pair.AccessToken, TokenTypeRefresh)
	assert.ErrorIs(t, err, ErrTokenTypeMismatch)

	_, err = core.signing.Verify(pair.RefreshToken, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrTokenTypeMismatch)
}

func TestVerify_GarbageAndForeignTokens(t *testing.T) {
	core := newTestCore(t)

	_, err := core.signing.Verify("not.a.token", TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// A token signed by a different key must not verify.
	otherCfg := testConfig(t)
	foreignKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherCfg.Signing.PrivateKeyPEM = string(EncodePrivateKeyPEM(foreignKey))

	other, err := NewService(otherCfg, refreshledger.NewService(otherCfg, nil), nil)
	require.NoError(t, err)

	pair, err := other.IssuePair(basePayload())
	require.NoError(t, err)

	_, err = core.signing.Verify(pair.AccessToken, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Expiry(t *testing.T) {
	core := newTestCore(t)

	pair, err := core.signing.IssuePair(basePayload())
	require.NoError(t, err)

	_, err = core.signing.Verify(pair.AccessToken, TokenTypeAccess)
	require.NoError(t, err)

	core.advance(16 * time.Minute)

	_, err = core.signing.Verify(pair.AccessToken, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrExpiredToken)

	// The refresh token is still inside its own lifetime.
	_, err = core.signing.Verify(pair.RefreshToken, TokenTypeRefresh)
	assert.NoError(t, err)
}

func TestRotate_SingleUse(t *testing.T) {
	core := newTestCore(t)

	pair, err := core.signing.IssuePair(basePayload())
	require.NoError(t, err)

	newPair, err := core.signing.Rotate(pair.RefreshToken, basePayload())
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, newPair.RefreshToken)

	_, err = core.signing.Rotate(pair.RefreshToken, basePayload())
	require.Error(t, err, "second rotation of the same refresh token must fail")
	assert.True(t,
		err == ErrTokenRevoked || err == ErrTokenNotFound,
		"got %v, want ErrTokenRevoked or ErrTokenNotFound", err)
}

func TestRotate_RevokesOldFamily(t *testing.T) {
	core := newTestCore(t)

	pair, err := core.signing.IssuePair(basePayload())
	require.NoError(t, err)

	_, err = core.signing.Rotate(pair.RefreshToken, basePayload())
	require.NoError(t, err)

	_, err = core.signing.Verify(pair.AccessToken, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrTokenRevoked, "previously linked access token must be revoked")

	_, err = core.signing.Verify(pair.RefreshToken, TokenTypeRefresh)
	require.Error(t, err)
	assert.True(t,
		err == ErrTokenRevoked || err == ErrTokenNotFound,
		"got %v, want ErrTokenRevoked or ErrTokenNotFound", err)
}

// Full lifecycle: verify, expire, rotate, and confirm the original family is
// dead while the replacement works.
func TestLifecycle_ExpireThenRotate(t *testing.T) {
	core := newTestCore(t)

	pair, err := core.signing.IssuePair(Payload{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)

	claims, err := core.signing.Verify(pair.AccessToken, TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)

	core.advance(16 * time.Minute)

	_, err = core.signing.Verify(pair.AccessToken, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrExpiredToken)

	newPair, err := core.signing.Rotate(pair.RefreshToken, Payload{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)

	_, err = core.signing.Verify(newPair.AccessToken, TokenTypeAccess)
	require.NoError(t, err)

	// Both original tokens now fail closed: the access token was already
	// expired and is additionally blacklisted, the refresh token is spent.
	_, err = core.signing.Verify(pair.RefreshToken, TokenTypeRefresh)
	require.Error(t, err)
	assert.True(t,
		err == ErrTokenRevoked || err == ErrTokenNotFound,
		"got %v, want ErrTokenRevoked or ErrTokenNotFound", err)
}

func TestRevokeAll_ByUser(t *testing.T) {
	core := newTestCore(t)

	pair1, err := core.signing.IssuePair(Payload{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	pair2, err := core.signing.IssuePair(Payload{UserID: "u1", SessionID: "s2"})
	require.NoError(t, err)
	other, err := core.signing.IssuePair(Payload{UserID: "u2", SessionID: "s3"})
	require.NoError(t, err)

	require.NoError(t, core.signing.RevokeAll(refreshledger.Filter{UserID: "u1"}))

	for _, token := range []string{pair1.AccessToken, pair2.AccessToken} {
		_, err = core.signing.Verify(token, TokenTypeAccess)
		assert.ErrorIs(t, err, ErrTokenRevoked)
	}
	for _, token := range []string{pair1.RefreshToken, pair2.RefreshToken} {
		_, err = core.signing.Verify(token, TokenTypeRefresh)
		require.Error(t, err)
	}

	assert.Empty(t, core.ledger.JTIsMatching(refreshledger.Filter{UserID: "u1"}),
		"no ledger entries for the revoked user may remain")

	// The other user's tokens are untouched.
	_, err = core.signing.Verify(other.AccessToken, TokenTypeAccess)
	assert.NoError(t, err)
}

func TestRevokeAll_BySession(t *testing.T) {
	core := newTestCore(t)

	target, err := core.signing.IssuePair(Payload{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	keep, err := core.signing.IssuePair(Payload{UserID: "u1", SessionID: "s2"})
	require.NoError(t, err)

	require.NoError(t, core.signing.RevokeAll(refreshledger.Filter{SessionID: "s1"}))

	_, err = core.signing.Verify(target.AccessToken, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	_, err = core.signing.Verify(keep.AccessToken, TokenTypeAccess)
	assert.NoError(t, err)
}

func TestBlacklistEntryOutlivedByExpiryCheck(t *testing.T) {
	core := newTestCore(t)

	pair, err := core.signing.IssuePair(basePayload())
	require.NoError(t, err)

	require.NoError(t, core.signing.RevokeAll(refreshledger.Filter{UserID: "u1"}))

	_, err = core.signing.Verify(pair.AccessToken, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	// Past the access lifetime the blacklist entry may be evicted, but the
	// token then independently fails as expired.
	core.advance(16 * time.Minute)
	require.NoError(t, core.revocation.CleanupExpired())

	_, err = core.signing.Verify(pair.AccessToken, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestIssuePair_EmbedsBindingClaims(t *testing.T) {
	core := newTestCore(t)

	payload := basePayload()
	payload.IPAddress = "1.2.3.4"
	payload.Fingerprint = "fp-hash"
	payload.ExtensionID = "ext-1"

	pair, err := core.signing.IssuePair(payload)
	require.NoError(t, err)

	claims, err := core.signing.Verify(pair.AccessToken, TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", claims.IPAddress)
	assert.Equal(t, "fp-hash", claims.Fingerprint)
	assert.Equal(t, "ext-1", claims.ExtensionID)
}

func TestDecode(t *testing.T) {
	core := newTestCore(t)

	pair, err := core.signing.IssuePair(basePayload())
	require.NoError(t, err)

	t.Run("revoked token still decodes", func(t *testing.T) {
		require.NoError(t, core.signing.RevokeAll(refreshledger.Filter{UserID: "u1"}))

		_, err := core.signing.Verify(pair.RefreshToken, TokenTypeRefresh)
		assert.ErrorIs(t, err, ErrTokenRevoked)

		claims, err := core.signing.Decode(pair.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, "u1", claims.UserID)
		assert.Equal(t, "s1", claims.SessionID)
	})

	t.Run("expired token does not decode", func(t *testing.T) {
		core.advance(core.signing.config.Signing.RefreshExpiry + time.Minute)

		_, err := core.signing.Decode(pair.RefreshToken)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("garbage does not decode", func(t *testing.T) {
		_, err := core.signing.Decode("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

type touchTrackingLedger struct {
	*refreshledger.Service
	mu       sync.Mutex
	touched  []string
	consumed []refreshledger.Entry
}

func (l *touchTrackingLedger) Touch(refreshJTI string) {
	l.mu.Lock()
	l.touched = append(l.touched, refreshJTI)
	l.mu.Unlock()
	l.Service.Touch(refreshJTI)
}

func (l *touchTrackingLedger) CheckAndDelete(refreshJTI string) (refreshledger.Entry, error) {
	entry, err := l.Service.CheckAndDelete(refreshJTI)
	if err == nil {
		l.mu.Lock()
		l.consumed = append(l.consumed, entry)
		l.mu.Unlock()
	}
	return entry, err
}

func TestRotate_StampsLastUsed(t *testing.T) {
	cfg := testConfig(t)
	ledger := &touchTrackingLedger{Service: refreshledger.NewService(cfg, nil)}

	service, err := NewService(cfg, ledger, nil)
	require.NoError(t, err)

	pair, err := service.IssuePair(basePayload())
	require.NoError(t, err)

	claims, err := service.Decode(pair.RefreshToken)
	require.NoError(t, err)

	_, err = service.Rotate(pair.RefreshToken, basePayload())
	require.NoError(t, err)

	require.Len(t, ledger.touched, 1)
	assert.Equal(t, claims.ID, ledger.touched[0])

	require.Len(t, ledger.consumed, 1)
	assert.False(t, ledger.consumed[0].LastUsed.IsZero(),
		"the consumed entry must record when the rotation used it")
}
