package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lumahealth/scangate/internal/analyzer"
	"github.com/lumahealth/scangate/internal/middleware"
	"github.com/lumahealth/scangate/internal/service"
)

const maxScanPayload = 8 << 20

type ScanHandler struct {
	gate     *service.Gate
	analyzer analyzer.Analyzer
}

func NewScanHandler(gate *service.Gate, a analyzer.Analyzer) *ScanHandler {
	return &ScanHandler{gate: gate, analyzer: a}
}

// Runs the analysis for an admitted request. Quota is charged only after
// the analyzer succeeds, so a failed analysis never costs the caller a
// scan.
func (h *ScanHandler) Create(c *gin.Context) {
	resultValue, exists := c.Get(middleware.GateResultKey)
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "admission result missing"})
		return
	}
	result := resultValue.(service.GateResult)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxScanPayload))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	analysis, err := h.analyzer.Analyze(c.Request.Context(), payload)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "analysis failed"})
		return
	}

	remaining := result.Quota.RemainingScans
	degraded := result.Quota.Degraded

	// The scan already ran; a failed charge follows the ledger's fail-open
	// posture and leaves the reported count unchanged.
	if err := h.gate.Consume(c.Request.Context(), result); err != nil {
		degraded = true
	} else if remaining > 0 {
		remaining--
	}

	resp := gin.H{
		"canScan":        true,
		"remainingScans": remaining,
		"analysis":       analysis,
	}
	if degraded {
		resp["degraded"] = true
	}

	c.JSON(http.StatusOK, resp)
}
