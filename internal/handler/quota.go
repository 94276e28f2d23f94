package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lumahealth/scangate/internal/identity"
	"github.com/lumahealth/scangate/internal/middleware"
	"github.com/lumahealth/scangate/internal/service"
)

type QuotaHandler struct {
	gate *service.Gate
}

func NewQuotaHandler(gate *service.Gate) *QuotaHandler {
	return &QuotaHandler{gate: gate}
}

// Returns the caller's current ledger state without consuming anything.
func (h *QuotaHandler) Status(c *gin.Context) {
	token := ""
	if parts := strings.Split(c.GetHeader("Authorization"), " "); len(parts) == 2 && parts[0] == "Bearer" {
		token = parts[1]
	}

	rc := identity.RequestContext{
		BearerToken: token,
		Fingerprint: c.GetHeader(middleware.FingerprintHeader),
		IP:          c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
	}

	_, t, quota := h.gate.QuotaStatus(c.Request.Context(), rc)

	c.JSON(http.StatusOK, gin.H{
		"canScan":        quota.CanScan,
		"remainingScans": quota.RemainingScans,
		"isBlocked":      quota.IsBlocked,
		"tier":           t.String(),
	})
}
