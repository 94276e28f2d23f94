package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumahealth/scangate/internal/identity"
	"github.com/lumahealth/scangate/internal/models"
	"github.com/lumahealth/scangate/internal/service"
)

// Context key the admission result is stored under for the handler.
const GateResultKey = "gate_result"

// Header clients send their device fingerprint in.
const FingerprintHeader = "X-Device-Fingerprint"

// Context key the deny reason code is stored under for the request log.
const denyReasonKey = "deny_reason"

// Builds the normalized request context once at the boundary and runs the
// admission gate. Denied requests never reach the handler; allowed ones
// carry the gate result in the gin context so the handler can consume
// quota after its own work succeeds.
func Admission(gate *service.Gate, fingerprints *service.FingerprintService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := requestContext(c)

		result := gate.CheckAdmission(c.Request.Context(), rc)

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			abortDenied(c, result)
			return
		}

		// Record the device contact off the request path. Detached from
		// cancellation so an aborted request still counts as a sighting.
		if fp := identity.NormalizeFingerprint(rc.Fingerprint); fp != "" && fingerprints != nil {
			observeCtx := context.WithoutCancel(c.Request.Context())
			go fingerprints.Observe(observeCtx, fp, result.Identity.UserID, rc.IP)
		}

		c.Set(GateResultKey, result)
		c.Next()
	}
}

func requestContext(c *gin.Context) identity.RequestContext {
	token := ""
	authHeader := c.GetHeader("Authorization")
	if parts := strings.Split(authHeader, " "); len(parts) == 2 && parts[0] == "Bearer" {
		token = parts[1]
	}

	return identity.RequestContext{
		BearerToken: token,
		Fingerprint: c.GetHeader(FingerprintHeader),
		IP:          c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		Origin:      c.GetHeader("Origin"),
		Referer:     c.GetHeader("Referer"),
	}
}

func setRateLimitHeaders(c *gin.Context, result service.GateResult) {
	if result.Limits.RequestLimit == 0 {
		return
	}

	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limits.RequestLimit))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Rate.Remaining))
	c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", result.Rate.ResetAt.Unix()))
	c.Header("X-RateLimit-Tier", result.Tier.String())
}

func abortDenied(c *gin.Context, result service.GateResult) {
	c.Set(denyReasonKey, result.DenyReason)

	switch result.DenyReason {
	case models.ReasonSuspiciousActivity:
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Request blocked",
			"code":  models.ReasonSuspiciousActivity,
		})
	case models.ReasonRateLimitExceeded:
		retryAfter := int(time.Until(result.Rate.ResetAt).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}

		c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":      "Rate limit exceeded",
			"code":       models.ReasonRateLimitExceeded,
			"retryAfter": retryAfter,
		})
	case models.ReasonDeviceBlocked, models.ReasonQuotaExhausted:
		// Quota denials are an application-level outcome, not a transport
		// error: the client renders them as an in-app state.
		c.JSON(http.StatusOK, gin.H{
			"canScan":        false,
			"remainingScans": 0,
			"isBlocked":      result.DenyReason == models.ReasonDeviceBlocked,
			"code":           result.DenyReason,
		})
	default:
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Request blocked",
			"code":  result.DenyReason,
		})
	}

	c.Abort()
}
