package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// How an identity key was derived.
type Kind string

const (
	KindUser   Kind = "user"
	KindDevice Kind = "device"
	KindIP     Kind = "ip"
)

// Normalized request metadata, built once at the HTTP boundary so no
// downstream component re-parses raw headers.
type RequestContext struct {
	BearerToken string
	Fingerprint string
	IP          string
	UserAgent   string
	Origin      string
	Referer     string
}

// The key a request is rate-limited and quota-tracked against, plus how it
// was derived.
type Identity struct {
	Key           string
	Kind          Kind
	UserID        string
	Authenticated bool
}

type Resolver struct {
	jwtSecret []byte
}

func NewResolver(secret string) *Resolver {
	return &Resolver{jwtSecret: []byte(secret)}
}

// Derives the rate-limit identity for a request. Priority is fixed:
// authenticated subject, then device fingerprint, then IP+agent composite.
// Missing or invalid credentials are not an error; anonymous access is a
// supported tier.
func (r *Resolver) Resolve(rc RequestContext) Identity {
	if rc.BearerToken != "" {
		if userID, err := r.verifyToken(rc.BearerToken); err == nil {
			return Identity{
				Key:           "user:" + userID,
				Kind:          KindUser,
				UserID:        userID,
				Authenticated: true,
			}
		}
	}

	if fp := NormalizeFingerprint(rc.Fingerprint); fp != "" {
		return Identity{
			Key:  "device:" + fp,
			Kind: KindDevice,
		}
	}

	agentHash := sha256.Sum256([]byte(rc.UserAgent))
	return Identity{
		Key:  fmt.Sprintf("ip:%s|%s", rc.IP, hex.EncodeToString(agentHash[:8])),
		Kind: KindIP,
	}
}

// Validates a bearer JWT and returns the subject user id.
func (r *Resolver) verifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verifying signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.jwtSecret, nil
	})

	if err != nil {
		return "", err
	}

	if !token.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", errors.New("token missing user_id claim")
	}

	return userID, nil
}

// Malformed fingerprint material is treated as "no fingerprint provided",
// not as a hard failure.
func NormalizeFingerprint(raw string) string {
	fp := strings.TrimSpace(raw)
	if len(fp) < 8 || len(fp) > 128 {
		return ""
	}
	for _, c := range fp {
		valid := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
		if !valid {
			return ""
		}
	}
	return fp
}
