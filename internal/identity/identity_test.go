package identity

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	return signed
}

func TestResolvePrefersAuthenticatedSubject(t *testing.T) {
	r := NewResolver(testSecret)

	token := signedToken(t, jwt.MapClaims{
		"user_id": "u-42",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	id := r.Resolve(RequestContext{
		BearerToken: token,
		Fingerprint: "aabbccddeeff0011",
		IP:          "203.0.113.9",
		UserAgent:   "LumaHealth/2.4.1",
	})

	assert.Equal(t, "user:u-42", id.Key)
	assert.Equal(t, KindUser, id.Kind)
	assert.Equal(t, "u-42", id.UserID)
	assert.True(t, id.Authenticated)
}

func TestResolveFallsBackToFingerprint(t *testing.T) {
	r := NewResolver(testSecret)

	id := r.Resolve(RequestContext{
		Fingerprint: "aabbccddeeff0011",
		IP:          "203.0.113.9",
		UserAgent:   "LumaHealth/2.4.1",
	})

	assert.Equal(t, "device:aabbccddeeff0011", id.Key)
	assert.Equal(t, KindDevice, id.Kind)
	assert.False(t, id.Authenticated)
}

func TestResolveInvalidTokenIsSilentFallback(t *testing.T) {
	r := NewResolver(testSecret)

	tokens := []string{
		"not-a-jwt",
		signedToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}), // no user_id
		func() string {
			expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"user_id": "u-42",
				"exp":     time.Now().Add(-time.Hour).Unix(),
			})
			signed, _ := expired.SignedString([]byte(testSecret))
			return signed
		}(),
	}

	for _, token := range tokens {
		id := r.Resolve(RequestContext{
			BearerToken: token,
			Fingerprint: "aabbccddeeff0011",
		})

		assert.Equal(t, KindDevice, id.Kind)
		assert.False(t, id.Authenticated)
	}
}

func TestResolveIPAgentComposite(t *testing.T) {
	r := NewResolver(testSecret)

	id := r.Resolve(RequestContext{
		IP:        "203.0.113.9",
		UserAgent: "LumaHealth/2.4.1",
	})

	assert.Equal(t, KindIP, id.Kind)
	assert.True(t, strings.HasPrefix(id.Key, "ip:203.0.113.9|"))

	// Same IP, different agent: different key
	other := r.Resolve(RequestContext{
		IP:        "203.0.113.9",
		UserAgent: "LumaHealth/3.0.0",
	})
	assert.NotEqual(t, id.Key, other.Key)
}

func TestNormalizeFingerprintRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"valid":        "aabbccddeeff0011",
		"trimmed":      "  aabbccddeeff0011  ",
		"too short":    "abc",
		"bad chars":    "aabbcc/../etc???",
		"way too long": strings.Repeat("a", 200),
		"empty":        "",
	}

	assert.Equal(t, "aabbccddeeff0011", NormalizeFingerprint(cases["valid"]))
	assert.Equal(t, "aabbccddeeff0011", NormalizeFingerprint(cases["trimmed"]))
	assert.Empty(t, NormalizeFingerprint(cases["too short"]))
	assert.Empty(t, NormalizeFingerprint(cases["bad chars"]))
	assert.Empty(t, NormalizeFingerprint(cases["way too long"]))
	assert.Empty(t, NormalizeFingerprint(cases["empty"]))
}

// A request with malformed fingerprint material resolves as if no
// fingerprint was sent at all.
func TestResolveMalformedFingerprintFallsThrough(t *testing.T) {
	r := NewResolver(testSecret)

	id := r.Resolve(RequestContext{
		Fingerprint: "???",
		IP:          "203.0.113.9",
		UserAgent:   "LumaHealth/2.4.1",
	})

	assert.Equal(t, KindIP, id.Kind)
}
