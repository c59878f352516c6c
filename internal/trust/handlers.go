package trust

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/safepay/guard/internal/users"
)

// Handler provides HTTP endpoints for trusted-link management.
type Handler struct {
	service *Service
}

// NewHandler creates a new trust handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up trusted-link routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:id/trusted-links", h.ListLinks)
	r.POST("/users/:id/trusted-links", h.Invite)
	r.DELETE("/users/:id/trusted-links/:reviewerID", h.Revoke)
}

// actorIs checks that the caller manages their own links.
// Link management is owner-only; reviewers cannot edit who watches them.
func actorIs(c *gin.Context, userID string) bool {
	return c.GetHeader("X-User-ID") == userID
}

// ListLinks handles GET /v1/users/:id/trusted-links
func (h *Handler) ListLinks(c *gin.Context) {
	protectedID := c.Param("id")
	if !actorIs(c, protectedID) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Only the account owner can view trusted links",
		})
		return
	}

	links, err := h.service.Links(c.Request.Context(), protectedID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"links": links,
		"count": len(links),
	})
}

// Invite handles POST /v1/users/:id/trusted-links
func (h *Handler) Invite(c *gin.Context) {
	protectedID := c.Param("id")
	if !actorIs(c, protectedID) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Only the account owner can invite reviewers",
		})
		return
	}

	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reviewer_id or reviewer_email is required",
		})
		return
	}

	link, err := h.service.Invite(c.Request.Context(), protectedID, req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrDuplicateLink):
			status = http.StatusConflict
			code = "duplicate_link"
		case errors.Is(err, ErrSelfLink), errors.Is(err, ErrNotReviewer):
			status = http.StatusBadRequest
			code = "validation_error"
		case errors.Is(err, users.ErrUserNotFound):
			status = http.StatusNotFound
			code = "reviewer_not_found"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"link": link})
}

// Revoke handles DELETE /v1/users/:id/trusted-links/:reviewerID
func (h *Handler) Revoke(c *gin.Context) {
	protectedID := c.Param("id")
	if !actorIs(c, protectedID) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Only the account owner can revoke reviewers",
		})
		return
	}

	link, err := h.service.Revoke(c.Request.Context(), protectedID, c.Param("reviewerID"))
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		if errors.Is(err, ErrLinkNotFound) {
			status = http.StatusNotFound
			code = "not_found"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"link": link})
}
