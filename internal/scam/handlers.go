package scam

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/safepay/guard/internal/metrics"
)

// Handler provides the HTTP endpoint for message scanning.
type Handler struct{}

// NewHandler creates a new scam handler.
func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes sets up the scam routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/detect-scam", h.Detect)
}

// DetectRequest is the message material to scan.
type DetectRequest struct {
	EmailAddress string `json:"email_address"`
	EmailBody    string `json:"email_body"`
	SMSContent   string `json:"sms_content"`
	PhoneNumber  string `json:"phone_number"`
}

// Detect handles POST /v1/detect-scam
func (h *Handler) Detect(c *gin.Context) {
	var req DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	in := Input{
		EmailAddress: req.EmailAddress,
		EmailBody:    req.EmailBody,
		SMSContent:   req.SMSContent,
		PhoneNumber:  req.PhoneNumber,
	}
	if in.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "At least one of email_address, email_body, sms_content, phone_number is required",
		})
		return
	}

	verdict := Analyze(in)
	metrics.MessagesScannedTotal.WithLabelValues(verdict.Label).Inc()
	c.JSON(http.StatusOK, verdict)
}
