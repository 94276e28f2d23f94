package service

import (
	"context"
	"encoding/json"
	"log"

	"github.com/lumahealth/scangate/internal/abuse"
	"github.com/lumahealth/scangate/internal/identity"
	"github.com/lumahealth/scangate/internal/models"
	"github.com/lumahealth/scangate/internal/ratelimit"
	"github.com/lumahealth/scangate/internal/tier"
	"gorm.io/datatypes"
)

// The admission decision plus the quota metadata callers surface to
// clients. DenyReason is empty when Allowed; otherwise it carries exactly
// one reason code, from the first failing check.
type GateResult struct {
	Allowed    bool
	DenyReason string
	Identity   identity.Identity
	Tier       tier.Tier
	Limits     tier.Limits
	Rate       ratelimit.Decision
	Quota      QuotaDecision
	SubjectKey string
}

// Gate decides, for every incoming analysis request, who is asking, which
// quota class applies, whether the request is likely automated abuse, and
// whether it may proceed. Checks run in a fixed order and the first deny
// is terminal: abuse heuristics, then the rolling rate limit, then the
// absolute quota ledger.
type Gate struct {
	identities *identity.Resolver
	abuse      *abuse.Engine
	tiers      *tier.Resolver
	table      *tier.Table
	limiter    ratelimit.Limiter
	quotas     *QuotaService
	audit      Auditor
}

func NewGate(
	identities *identity.Resolver,
	abuseEngine *abuse.Engine,
	tiers *tier.Resolver,
	table *tier.Table,
	limiter ratelimit.Limiter,
	quotas *QuotaService,
	audit Auditor,
) *Gate {
	return &Gate{
		identities: identities,
		abuse:      abuseEngine,
		tiers:      tiers,
		table:      table,
		limiter:    limiter,
		quotas:     quotas,
		audit:      audit,
	}
}

func (g *Gate) CheckAdmission(ctx context.Context, rc identity.RequestContext) GateResult {
	id := g.identities.Resolve(rc)

	// Abuse heuristics run before any stateful work, so a denied request
	// never touches a rate-limit counter.
	if match := g.abuse.Check(rc); match != nil {
		g.abuse.Flag(rc.IP)
		g.emitDeny(id, models.ReasonSuspiciousActivity, models.SeverityHigh, map[string]interface{}{
			"heuristic":  match.Reason,
			"ip":         rc.IP,
			"user_agent": rc.UserAgent,
		})
		return GateResult{DenyReason: models.ReasonSuspiciousActivity, Identity: id}
	}

	t := g.tiers.Resolve(ctx, id)
	limits := g.table.Limits(t)

	rate, err := g.limiter.Check(ctx, id.Key, limits.RequestLimit, limits.Window)
	if err != nil {
		// The fallback chain already absorbed a store error; reaching
		// here means even the in-process counter failed. Admission still
		// gets a decision, never an error.
		log.Printf("Rate limit check unavailable for %s, allowing: %v", id.Key, err)
		rate = ratelimit.Decision{Allowed: true, Remaining: limits.RequestLimit, Degraded: true}
	}

	result := GateResult{
		Identity:   id,
		Tier:       t,
		Limits:     limits,
		Rate:       rate,
		SubjectKey: g.subjectKey(id, rc),
	}

	if !rate.Allowed {
		// Unauthenticated denials are upgrade-prompt candidates
		// downstream; the Authenticated tag on the event is how that
		// fact travels.
		g.emitDeny(id, models.ReasonRateLimitExceeded, models.SeverityHigh, map[string]interface{}{
			"tier":     t.String(),
			"limit":    limits.RequestLimit,
			"reset_at": rate.ResetAt.Unix(),
		})
		result.DenyReason = models.ReasonRateLimitExceeded
		return result
	}

	result.Quota = g.quotas.Check(ctx, result.SubjectKey, limits.StartingScans)

	if result.Quota.IsBlocked {
		g.emitDeny(id, models.ReasonDeviceBlocked, models.SeverityHigh, map[string]interface{}{
			"subject": result.SubjectKey,
		})
		result.DenyReason = models.ReasonDeviceBlocked
		return result
	}

	if !result.Quota.CanScan {
		g.emitDeny(id, models.ReasonQuotaExhausted, models.SeverityMedium, map[string]interface{}{
			"subject": result.SubjectKey,
			"tier":    t.String(),
		})
		result.DenyReason = models.ReasonQuotaExhausted
		return result
	}

	result.Allowed = true
	return result
}

// Read-only view of the caller's ledger state. Runs no abuse checks,
// touches no rate-limit counter, and consumes nothing; two consecutive
// calls see the same remaining count.
func (g *Gate) QuotaStatus(ctx context.Context, rc identity.RequestContext) (identity.Identity, tier.Tier, QuotaDecision) {
	id := g.identities.Resolve(rc)
	t := g.tiers.Resolve(ctx, id)
	limits := g.table.Limits(t)

	return id, t, g.quotas.Check(ctx, g.subjectKey(id, rc), limits.StartingScans)
}

// Charges the ledger after the caller's downstream work succeeded.
func (g *Gate) Consume(ctx context.Context, result GateResult) error {
	return g.quotas.Consume(ctx, result.SubjectKey, result.Limits.StartingScans)
}

// The ledger is device-keyed whenever a fingerprint is present, even for
// authenticated requests: a device that spent its guest scans cannot reset
// the cap by signing up a fresh account.
func (g *Gate) subjectKey(id identity.Identity, rc identity.RequestContext) string {
	if fp := identity.NormalizeFingerprint(rc.Fingerprint); fp != "" {
		return "device:" + fp
	}
	return id.Key
}

func (g *Gate) emitDeny(id identity.Identity, reason, severity string, metadata map[string]interface{}) {
	encoded, _ := json.Marshal(metadata)
	g.audit.Emit(&models.AuditEvent{
		Identity:      id.Key,
		Reason:        reason,
		Severity:      severity,
		Authenticated: id.Authenticated,
		Metadata:      datatypes.JSON(encoded),
	})
}
