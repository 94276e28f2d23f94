package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lumahealth/scangate/internal/abuse"
	"github.com/lumahealth/scangate/internal/identity"
	"github.com/lumahealth/scangate/internal/models"
	"github.com/lumahealth/scangate/internal/ratelimit"
	"github.com/lumahealth/scangate/internal/tier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type fakeProfile struct {
	tiers map[string]string
	err   error
}

func (f *fakeProfile) TierFor(ctx context.Context, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.tiers[userID], nil
}

type spyLimiter struct {
	inner ratelimit.Limiter
	calls int
}

func (s *spyLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Decision, error) {
	s.calls++
	return s.inner.Check(ctx, key, limit, window)
}

type errLimiter struct{}

func (errLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("limiter unavailable")
}

type gateFixture struct {
	gate    *Gate
	store   *fakeQuotaStore
	audit   *fakeAuditor
	limiter *spyLimiter
	profile *fakeProfile
}

func newGateFixture(t *testing.T, overrides []tier.Override, limiter ratelimit.Limiter) *gateFixture {
	t.Helper()

	table, err := tier.NewTable(overrides)
	require.NoError(t, err)

	if limiter == nil {
		limiter = ratelimit.NewMemoryWindow()
	}
	spy := &spyLimiter{inner: limiter}

	store := newFakeQuotaStore()
	audit := &fakeAuditor{}
	profile := &fakeProfile{tiers: map[string]string{}}

	gate := NewGate(
		identity.NewResolver(testSecret),
		abuse.NewEngine(128, time.Minute, "development"),
		tier.NewResolver(profile, nil),
		table,
		spy,
		NewQuotaService(store, audit),
		audit,
	)

	return &gateFixture{gate: gate, store: store, audit: audit, limiter: spy, profile: profile}
}

func userToken(t *testing.T, userID string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	return signed
}

func cleanRequest(ip string) identity.RequestContext {
	return identity.RequestContext{
		IP:        ip,
		UserAgent: "LumaHealth/2.4.1 (iPhone; iOS 17.2)",
		Origin:    "https://app.lumahealth.example",
	}
}

// Anonymous identity, limit 3: three requests succeed with remaining
// 2, 1, 0 and the fourth is a rate-limit deny.
func TestGateAnonymousSequence(t *testing.T) {
	f := newGateFixture(t, []tier.Override{
		{Name: "anonymous", RequestLimit: 3, WindowSeconds: 3600, StartingScans: 10},
	}, nil)
	rc := cleanRequest("203.0.113.20")

	for _, want := range []int{2, 1, 0} {
		result := f.gate.CheckAdmission(context.Background(), rc)
		require.True(t, result.Allowed)
		assert.Equal(t, tier.Anonymous, result.Tier)
		assert.Equal(t, want, result.Rate.Remaining)
	}

	result := f.gate.CheckAdmission(context.Background(), rc)
	assert.False(t, result.Allowed)
	assert.Equal(t, models.ReasonRateLimitExceeded, result.DenyReason)
	assert.Equal(t, 0, result.Rate.Remaining)

	events := f.audit.byReason(models.ReasonRateLimitExceeded)
	require.Len(t, events, 1)
	assert.Equal(t, models.SeverityHigh, events[0].Severity)
	assert.False(t, events[0].Authenticated)
}

// An automation signature is denied before any rate-limit counter is
// touched.
func TestGateAbuseDenyShortCircuits(t *testing.T) {
	f := newGateFixture(t, nil, nil)

	rc := cleanRequest("203.0.113.21")
	rc.UserAgent = "curl/8.0"

	result := f.gate.CheckAdmission(context.Background(), rc)
	assert.False(t, result.Allowed)
	assert.Equal(t, models.ReasonSuspiciousActivity, result.DenyReason)
	assert.Zero(t, f.limiter.calls)
	assert.Empty(t, f.store.entries)

	require.Len(t, f.audit.byReason(models.ReasonSuspiciousActivity), 1)
}

// A matched IP lands in the short-term flag set, so the follow-up request
// from the same address is denied even with a clean user agent.
func TestGateAbuseDenyFlagsIP(t *testing.T) {
	f := newGateFixture(t, nil, nil)

	rc := cleanRequest("203.0.113.22")
	rc.UserAgent = "python-requests/2.31"
	f.gate.CheckAdmission(context.Background(), rc)

	result := f.gate.CheckAdmission(context.Background(), cleanRequest("203.0.113.22"))
	assert.False(t, result.Allowed)
	assert.Equal(t, models.ReasonSuspiciousActivity, result.DenyReason)
}

// A device that consumed its free scans stays exhausted even when a fresh
// account authenticates from it: the ledger is device-keyed.
func TestGateDeviceQuotaSurvivesNewAccount(t *testing.T) {
	f := newGateFixture(t, []tier.Override{
		{Name: "anonymous", RequestLimit: 100, WindowSeconds: 3600, StartingScans: 3},
		{Name: "free", RequestLimit: 100, WindowSeconds: 3600, StartingScans: 10},
	}, nil)
	f.profile.tiers["u-new"] = "free"

	rc := cleanRequest("203.0.113.23")
	rc.Fingerprint = "d1fingerprint0001"
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result := f.gate.CheckAdmission(ctx, rc)
		require.True(t, result.Allowed, "request %d", i+1)
		require.NoError(t, f.gate.Consume(ctx, result))
	}

	result := f.gate.CheckAdmission(ctx, rc)
	assert.False(t, result.Allowed)
	assert.Equal(t, models.ReasonQuotaExhausted, result.DenyReason)

	// Same device, never-seen auth token
	authed := rc
	authed.BearerToken = userToken(t, "u-new")

	result = f.gate.CheckAdmission(ctx, authed)
	assert.False(t, result.Allowed)
	assert.Equal(t, models.ReasonQuotaExhausted, result.DenyReason)
	assert.Equal(t, "device:d1fingerprint0001", result.SubjectKey)
}

func TestGateBlockedDeviceDenies(t *testing.T) {
	f := newGateFixture(t, []tier.Override{
		{Name: "anonymous", RequestLimit: 100, WindowSeconds: 3600, StartingScans: 3},
	}, nil)

	rc := cleanRequest("203.0.113.24")
	rc.Fingerprint = "d2fingerprint0002"
	ctx := context.Background()

	// Entry exists with scans remaining, then gets blocked
	first := f.gate.CheckAdmission(ctx, rc)
	require.True(t, first.Allowed)
	require.NoError(t, f.store.SetBlocked(ctx, "device:d2fingerprint0002", true))

	result := f.gate.CheckAdmission(ctx, rc)
	assert.False(t, result.Allowed)
	assert.Equal(t, models.ReasonDeviceBlocked, result.DenyReason)
	assert.True(t, result.Quota.IsBlocked)
}

// Quota store outage: admission still succeeds, with the documented
// one-extra-scan allowance.
func TestGateQuotaStoreOutageFailsOpen(t *testing.T) {
	f := newGateFixture(t, []tier.Override{
		{Name: "anonymous", RequestLimit: 100, WindowSeconds: 3600, StartingScans: 3},
	}, nil)
	f.store.findErr = errors.New("connection refused")

	result := f.gate.CheckAdmission(context.Background(), cleanRequest("203.0.113.25"))
	assert.True(t, result.Allowed)
	assert.True(t, result.Quota.Degraded)
	assert.Equal(t, 1, result.Quota.RemainingScans)
}

// Even a limiter that errors outright still yields an admission decision,
// never an error to the caller.
func TestGateLimiterFailureStillDecides(t *testing.T) {
	f := newGateFixture(t, nil, errLimiter{})

	result := f.gate.CheckAdmission(context.Background(), cleanRequest("203.0.113.26"))
	assert.True(t, result.Allowed)
	assert.True(t, result.Rate.Degraded)
}

func TestGateAuthenticatedProIsUncapped(t *testing.T) {
	f := newGateFixture(t, nil, nil)
	f.profile.tiers["u-pro"] = "pro"

	rc := cleanRequest("203.0.113.27")
	rc.BearerToken = userToken(t, "u-pro")

	result := f.gate.CheckAdmission(context.Background(), rc)
	require.True(t, result.Allowed)
	assert.Equal(t, tier.Pro, result.Tier)
	assert.Equal(t, "user:u-pro", result.Identity.Key)
	assert.Equal(t, -1, result.Quota.RemainingScans)
}

// Only the first failing check's reason is reported.
func TestGateDenyReasonsAreExclusive(t *testing.T) {
	f := newGateFixture(t, []tier.Override{
		{Name: "anonymous", RequestLimit: 1, WindowSeconds: 3600, StartingScans: 1},
	}, nil)
	ctx := context.Background()

	rc := cleanRequest("203.0.113.28")
	rc.Fingerprint = "d3fingerprint0003"

	result := f.gate.CheckAdmission(ctx, rc)
	require.True(t, result.Allowed)
	require.NoError(t, f.gate.Consume(ctx, result))

	// Both the window and the ledger are now exhausted; the rate limiter
	// reports first.
	result = f.gate.CheckAdmission(ctx, rc)
	assert.Equal(t, models.ReasonRateLimitExceeded, result.DenyReason)
	assert.Len(t, f.audit.byReason(models.ReasonRateLimitExceeded), 1)
	assert.Empty(t, f.audit.byReason(models.ReasonQuotaExhausted))
}

func TestGateQuotaStatusIsReadOnly(t *testing.T) {
	f := newGateFixture(t, []tier.Override{
		{Name: "anonymous", RequestLimit: 100, WindowSeconds: 3600, StartingScans: 3},
	}, nil)

	rc := cleanRequest("203.0.113.29")
	rc.Fingerprint = "d4fingerprint0004"
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, quota := f.gate.QuotaStatus(ctx, rc)
		assert.True(t, quota.CanScan)
		assert.Equal(t, 3, quota.RemainingScans)
	}

	assert.Zero(t, f.limiter.calls)
}

func TestGateConsumeChargesSubject(t *testing.T) {
	f := newGateFixture(t, []tier.Override{
		{Name: "anonymous", RequestLimit: 100, WindowSeconds: 3600, StartingScans: 3},
	}, nil)

	rc := cleanRequest("203.0.113.30")
	rc.Fingerprint = "d5fingerprint0005"
	ctx := context.Background()

	result := f.gate.CheckAdmission(ctx, rc)
	require.True(t, result.Allowed)
	require.NoError(t, f.gate.Consume(ctx, result))

	entry := f.store.entries["device:d5fingerprint0005"]
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.ScanCount)

	_, _, quota := f.gate.QuotaStatus(ctx, rc)
	assert.Equal(t, 2, quota.RemainingScans)
}

func TestGateSubjectKeyFallsBackToIdentity(t *testing.T) {
	f := newGateFixture(t, nil, nil)

	result := f.gate.CheckAdmission(context.Background(), cleanRequest("203.0.113.31"))
	require.True(t, result.Allowed)
	assert.Equal(t, result.Identity.Key, result.SubjectKey)
	assert.True(t, strings.HasPrefix(result.SubjectKey, "ip:203.0.113.31|"))
}
