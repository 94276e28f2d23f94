package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lumahealth/scangate/internal/models"
	"github.com/lumahealth/scangate/internal/service"
	"gorm.io/datatypes"
)

// Operator endpoints for blocking devices and ledger subjects. Blocks are
// the only mutation the gate accepts from outside; everything else it
// owns is append-only or derived from traffic.
type AdminHandler struct {
	fingerprints *service.FingerprintService
	quotas       service.QuotaStore
	audit        service.Auditor
}

func NewAdminHandler(fingerprints *service.FingerprintService, quotas service.QuotaStore, audit service.Auditor) *AdminHandler {
	return &AdminHandler{
		fingerprints: fingerprints,
		quotas:       quotas,
		audit:        audit,
	}
}

// Blocking a device marks both the fingerprint registry row and the
// device-keyed ledger entry, so enforcement holds on the hot path without
// an extra registry lookup.
func (h *AdminHandler) BlockDevice(c *gin.Context) {
	h.setDeviceBlocked(c, true)
}

func (h *AdminHandler) UnblockDevice(c *gin.Context) {
	h.setDeviceBlocked(c, false)
}

func (h *AdminHandler) setDeviceBlocked(c *gin.Context, blocked bool) {
	fp := c.Param("fingerprint")
	if fp == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fingerprint required"})
		return
	}

	ctx := c.Request.Context()

	if err := h.fingerprints.SetBlocked(ctx, fp, blocked); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update fingerprint"})
		return
	}

	if err := h.quotas.SetBlocked(ctx, "device:"+fp, blocked); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update ledger"})
		return
	}

	h.auditBlock("device:"+fp, blocked, c.GetString("user_id"))

	c.JSON(http.StatusOK, gin.H{
		"fingerprint": fp,
		"isBlocked":   blocked,
	})
}

// Blocks or unblocks a ledger subject key directly (user or IP keyed).
func (h *AdminHandler) BlockSubject(c *gin.Context) {
	h.setSubjectBlocked(c, true)
}

func (h *AdminHandler) UnblockSubject(c *gin.Context) {
	h.setSubjectBlocked(c, false)
}

func (h *AdminHandler) setSubjectBlocked(c *gin.Context, blocked bool) {
	key := c.Param("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject key required"})
		return
	}

	if err := h.quotas.SetBlocked(c.Request.Context(), key, blocked); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update ledger"})
		return
	}

	h.auditBlock(key, blocked, c.GetString("user_id"))

	c.JSON(http.StatusOK, gin.H{
		"subject":   key,
		"isBlocked": blocked,
	})
}

// Inspection view for the review path: registry row plus ledger entry.
func (h *AdminHandler) GetDevice(c *gin.Context) {
	fp := c.Param("fingerprint")

	ctx := c.Request.Context()

	device, err := h.fingerprints.Find(ctx, fp)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if device == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown fingerprint"})
		return
	}

	ledger, err := h.quotas.Find(ctx, "device:"+fp)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device": device,
		"ledger": ledger,
	})
}

func (h *AdminHandler) auditBlock(subject string, blocked bool, operator string) {
	action := "block"
	if !blocked {
		action = "unblock"
	}

	metadata, _ := json.Marshal(map[string]interface{}{
		"action":   action,
		"operator": operator,
	})
	h.audit.Emit(&models.AuditEvent{
		Identity:      subject,
		Reason:        models.ReasonDeviceBlocked,
		Severity:      models.SeverityHigh,
		Authenticated: true,
		Metadata:      datatypes.JSON(metadata),
	})
}
