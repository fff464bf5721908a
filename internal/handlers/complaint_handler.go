package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"blocksentinel/internal/ledger"
	"blocksentinel/internal/middleware"
	"blocksentinel/internal/models"
)

// ComplaintHandler handles HTTP requests for complaint lifecycle operations.
type ComplaintHandler struct {
	ledger *ledger.Service
	logger *zap.Logger
}

// NewComplaintHandler creates a new complaint handler.
func NewComplaintHandler(svc *ledger.Service, logger *zap.Logger) *ComplaintHandler {
	return &ComplaintHandler{
		ledger: svc,
		logger: logger.Named("complaint_handler"),
	}
}

// Register creates a new complaint.
func (h *ComplaintHandler) Register(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
		return
	}

	var req models.RegisterComplaintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload", "code": "invalid_argument", "details": err.Error()})
		return
	}

	complaint, err := h.ledger.Register(c.Request.Context(), &req, actor)
	if err != nil {
		h.respondError(c, err, "Failed to register complaint")
		return
	}

	c.JSON(http.StatusCreated, complaint)
}

// Get retrieves one complaint.
func (h *ComplaintHandler) Get(c *gin.Context) {
	id, ok := h.complaintID(c)
	if !ok {
		return
	}

	complaint, err := h.ledger.GetComplaint(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to get complaint")
		return
	}

	c.JSON(http.StatusOK, complaint)
}

// List returns a filtered page of complaints.
func (h *ComplaintHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	filter := &models.ComplaintFilter{}
	if statuses := c.Query("status"); statuses != "" {
		for _, raw := range strings.Split(statuses, ",") {
			status := models.ComplaintStatus(strings.TrimSpace(raw))
			if !status.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter", "code": "invalid_argument"})
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := c.Query("officer_id"); raw != "" {
		officerID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid officer ID", "code": "invalid_argument"})
			return
		}
		filter.OfficerID = &officerID
	}
	if raw := c.Query("complainant_id"); raw != "" {
		complainantID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid complainant ID", "code": "invalid_argument"})
			return
		}
		filter.ComplainantID = &complainantID
	}

	page, err := h.ledger.ListComplaints(c.Request.Context(), filter, limit, offset)
	if err != nil {
		h.respondError(c, err, "Failed to list complaints")
		return
	}

	c.JSON(http.StatusOK, page)
}

// AssignOfficer assigns an investigating officer to a pending complaint.
func (h *ComplaintHandler) AssignOfficer(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
		return
	}
	id, ok := h.complaintID(c)
	if !ok {
		return
	}

	var req models.AssignOfficerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload", "code": "invalid_argument", "details": err.Error()})
		return
	}

	result, err := h.ledger.AssignOfficer(c.Request.Context(), id, req.OfficerID, actor)
	if err != nil {
		h.respondError(c, err, "Failed to assign officer")
		return
	}

	c.JSON(http.StatusOK, result)
}

// AttachEvidence stores a content-verified evidence item on the complaint.
func (h *ComplaintHandler) AttachEvidence(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
		return
	}
	id, ok := h.complaintID(c)
	if !ok {
		return
	}

	var req models.AttachEvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload", "code": "invalid_argument", "details": err.Error()})
		return
	}

	result, err := h.ledger.AttachEvidence(c.Request.Context(), id, &req, actor)
	if err != nil {
		h.respondError(c, err, "Failed to attach evidence")
		return
	}

	c.JSON(http.StatusOK, result)
}

// AdvanceToFIRPending acknowledges evidence review completion.
func (h *ComplaintHandler) AdvanceToFIRPending(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
		return
	}
	id, ok := h.complaintID(c)
	if !ok {
		return
	}

	result, err := h.ledger.AdvanceToFIRPending(c.Request.Context(), id, actor)
	if err != nil {
		h.respondError(c, err, "Failed to advance complaint")
		return
	}

	c.JSON(http.StatusOK, result)
}

// AttachFIR records the filed FIR document.
func (h *ComplaintHandler) AttachFIR(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
		return
	}
	id, ok := h.complaintID(c)
	if !ok {
		return
	}

	var req models.AttachFIRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload", "code": "invalid_argument", "details": err.Error()})
		return
	}

	result, err := h.ledger.AttachFIR(c.Request.Context(), id, &req, actor)
	if err != nil {
		h.respondError(c, err, "Failed to attach FIR")
		return
	}

	c.JSON(http.StatusOK, result)
}

// MarkCompleted closes a complaint whose FIR has been filed.
func (h *ComplaintHandler) MarkCompleted(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
		return
	}
	id, ok := h.complaintID(c)
	if !ok {
		return
	}

	result, err := h.ledger.MarkCompleted(c.Request.Context(), id, actor)
	if err != nil {
		h.respondError(c, err, "Failed to complete complaint")
		return
	}

	c.JSON(http.StatusOK, result)
}

// RecordCorrection appends an admin correction entry.
func (h *ComplaintHandler) RecordCorrection(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
		return
	}
	id, ok := h.complaintID(c)
	if !ok {
		return
	}

	var req models.RecordCorrectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload", "code": "invalid_argument", "details": err.Error()})
		return
	}

	result, err := h.ledger.RecordCorrection(c.Request.Context(), id, &req, actor)
	if err != nil {
		h.respondError(c, err, "Failed to record correction")
		return
	}

	c.JSON(http.StatusOK, result)
}

// Chain returns a complaint's full entry lane, oldest first.
func (h *ComplaintHandler) Chain(c *gin.Context) {
	id, ok := h.complaintID(c)
	if !ok {
		return
	}

	entries, err := h.ledger.Lane(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to load chain")
		return
	}

	c.JSON(http.StatusOK, gin.H{"complaint_id": id, "entries": entries})
}

// Evidence lists the complaint's evidence items.
func (h *ComplaintHandler) Evidence(c *gin.Context) {
	id, ok := h.complaintID(c)
	if !ok {
		return
	}

	items, err := h.ledger.ListEvidence(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to list evidence")
		return
	}

	c.JSON(http.StatusOK, gin.H{"complaint_id": id, "evidence": items})
}

func (h *ComplaintHandler) complaintID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid complaint ID", "code": "invalid_argument"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *ComplaintHandler) respondError(c *gin.Context, err error, logMessage string) {
	RespondError(c, h.logger, err, logMessage)
}
