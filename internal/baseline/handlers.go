package baseline

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for baseline inspection.
type Handler struct {
	tracker *Tracker
}

// NewHandler creates a new baseline handler.
func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// RegisterRoutes sets up baseline routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:id/baseline", h.GetBaseline)
}

// GetBaseline handles GET /v1/users/:id/baseline.
// A user with no history gets a null baseline, not a 404.
func (h *Handler) GetBaseline(c *gin.Context) {
	b, err := h.tracker.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	if b == nil {
		c.JSON(http.StatusOK, gin.H{"baseline": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"baseline": b})
}
