package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"blocksentinel/internal/verify"
)

// VerifyHandler exposes the read-only integrity checks.
type VerifyHandler struct {
	verifier *verify.Service
	logger   *zap.Logger
}

// NewVerifyHandler creates a new verification handler.
func NewVerifyHandler(verifier *verify.Service, logger *zap.Logger) *VerifyHandler {
	return &VerifyHandler{
		verifier: verifier,
		logger:   logger.Named("verify_handler"),
	}
}

// VerifyComplaint runs the full chain, status, and evidence audit for one
// complaint.
func (h *VerifyHandler) VerifyComplaint(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid complaint ID", "code": "invalid_argument"})
		return
	}

	report, err := h.verifier.VerifyComplaint(c.Request.Context(), id)
	if err != nil {
		RespondError(c, h.logger, err, "Failed to verify complaint")
		return
	}

	c.JSON(http.StatusOK, report)
}

// VerifyEvidence round-trips a single blob by its content hash.
func (h *VerifyHandler) VerifyEvidence(c *gin.Context) {
	check, err := h.verifier.VerifyEvidence(c.Request.Context(), c.Param("hash"))
	if err != nil {
		RespondError(c, h.logger, err, "Failed to verify evidence")
		return
	}

	c.JSON(http.StatusOK, check)
}
