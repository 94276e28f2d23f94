package abuse

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lumahealth/scangate/internal/identity"
)

// Heuristic reasons, recorded in audit metadata. The caller-facing code is
// always SUSPICIOUS_ACTIVITY.
const (
	ReasonFlaggedIP           = "ip_previously_flagged"
	ReasonMissingUserAgent    = "missing_user_agent"
	ReasonAutomationSignature = "automation_signature"
	ReasonSuspiciousOrigin    = "suspicious_origin"
)

// Tokens that identify automation tooling in a user-agent string.
var automationSignatures = []string{
	"curl",
	"wget",
	"python-requests",
	"bot",
	"crawler",
	"spider",
	"headless",
	"phantom",
	"scrapy",
	"httpclient",
	"java/",
	"go-http-client",
}

var localOrigins = []string{
	"localhost",
	"127.0.0.1",
	"0.0.0.0",
}

type Match struct {
	Reason string
}

// Stateless pre-filter evaluated before any limiter work. It never calls
// external stores; the only state it touches is a process-scoped flag set
// of recently suspicious IPs, which is best-effort, lost on restart, and
// not shared across processes.
type Engine struct {
	flags      *expirable.LRU[string, time.Time]
	production bool
}

func NewEngine(capacity int, flagTTL time.Duration, environment string) *Engine {
	return &Engine{
		flags:      expirable.NewLRU[string, time.Time](capacity, nil, flagTTL),
		production: environment == "production",
	}
}

// Evaluates the rules in order; first match wins. Check never mutates the
// flag set, so an identical request replays to an identical verdict.
func (e *Engine) Check(rc identity.RequestContext) *Match {
	if _, flagged := e.flags.Get(rc.IP); flagged {
		return &Match{Reason: ReasonFlaggedIP}
	}

	agent := strings.TrimSpace(rc.UserAgent)
	if agent == "" {
		return &Match{Reason: ReasonMissingUserAgent}
	}

	lower := strings.ToLower(agent)
	for _, sig := range automationSignatures {
		if strings.Contains(lower, sig) {
			return &Match{Reason: ReasonAutomationSignature}
		}
	}

	if e.production {
		origin := rc.Origin
		if origin == "" {
			origin = rc.Referer
		}
		if origin == "" || isLocalOrigin(origin) {
			return &Match{Reason: ReasonSuspiciousOrigin}
		}
	}

	return nil
}

// Adds an IP to the short-term flag set. Called by the gate after a match.
func (e *Engine) Flag(ip string) {
	if ip == "" {
		return
	}
	e.flags.Add(ip, time.Now())
}

func (e *Engine) IsFlagged(ip string) bool {
	_, ok := e.flags.Get(ip)
	return ok
}

func isLocalOrigin(origin string) bool {
	lower := strings.ToLower(origin)
	for _, local := range localOrigins {
		if strings.Contains(lower, local) {
			return true
		}
	}
	return false
}
