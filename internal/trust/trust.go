// Package trust manages the directed authorization links between a
// protected party and their reviewers.
//
// A link points protected → reviewer. Only a reviewer holding an ACTIVE
// link may see or resolve the protected party's alerts. Revocation is a
// status change, not a delete; the history of who was trusted when is
// preserved. Authorization is always evaluated against the current link
// state, never cached.
package trust

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/safepay/guard/internal/idgen"
	"github.com/safepay/guard/internal/metrics"
	"github.com/safepay/guard/internal/users"
)

var (
	ErrLinkNotFound  = errors.New("trusted link not found")
	ErrDuplicateLink = errors.New("reviewer is already linked")
	ErrSelfLink      = errors.New("cannot link a user to themselves")
	ErrNotReviewer   = errors.New("target user is not a reviewer")
	ErrUnauthorized  = errors.New("not authorized for this user's data")
)

// Status of a trusted link.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusRevoked Status = "REVOKED"
)

// Link is a directed trust edge from a protected party to a reviewer.
// At most one link exists per ordered (protected, reviewer) pair.
type Link struct {
	ID          string     `json:"id"`
	ProtectedID string     `json:"protectedId"`
	ReviewerID  string     `json:"reviewerId"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
}

// Store persists trusted links.
type Store interface {
	Create(ctx context.Context, link *Link) error
	Get(ctx context.Context, protectedID, reviewerID string) (*Link, error)
	Update(ctx context.Context, link *Link) error
	ListByProtected(ctx context.Context, protectedID string) ([]*Link, error)
	ListActiveByReviewer(ctx context.Context, reviewerID string) ([]*Link, error)
}

// UserDirectory resolves invite targets. Satisfied by *users.Service.
type UserDirectory interface {
	Get(ctx context.Context, id string) (*users.User, error)
	GetByEmail(ctx context.Context, email string) (*users.User, error)
}

// InviteRequest identifies the reviewer to link, by ID or email.
type InviteRequest struct {
	ReviewerID    string `json:"reviewer_id"`
	ReviewerEmail string `json:"reviewer_email"`
}

// Service implements trust-link business logic.
type Service struct {
	store Store
	users UserDirectory
}

// NewService creates a new trust service.
func NewService(store Store, users UserDirectory) *Service {
	return &Service{store: store, users: users}
}

// Invite creates an ACTIVE link from a protected party to a reviewer,
// or reactivates a previously revoked one.
func (s *Service) Invite(ctx context.Context, protectedID string, req InviteRequest) (*Link, error) {
	reviewer, err := s.resolveReviewer(ctx, req)
	if err != nil {
		return nil, err
	}
	if reviewer.ID == protectedID {
		return nil, ErrSelfLink
	}
	if reviewer.Role != users.RoleReviewer {
		return nil, fmt.Errorf("%w: %s has role %s", ErrNotReviewer, reviewer.ID, reviewer.Role)
	}

	now := time.Now().UTC()
	existing, err := s.store.Get(ctx, protectedID, reviewer.ID)
	if err != nil && !errors.Is(err, ErrLinkNotFound) {
		return nil, err
	}
	if existing != nil {
		if existing.Status == StatusActive {
			return nil, ErrDuplicateLink
		}
		// Re-invite after revocation reactivates the same edge.
		existing.Status = StatusActive
		existing.RevokedAt = nil
		existing.UpdatedAt = now
		if err := s.store.Update(ctx, existing); err != nil {
			return nil, err
		}
		metrics.TrustedLinksActive.Inc()
		return existing, nil
	}

	link := &Link{
		ID:          idgen.WithPrefix("lnk_"),
		ProtectedID: protectedID,
		ReviewerID:  reviewer.ID,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, link); err != nil {
		return nil, err
	}
	metrics.TrustedLinksActive.Inc()
	return link, nil
}

func (s *Service) resolveReviewer(ctx context.Context, req InviteRequest) (*users.User, error) {
	switch {
	case req.ReviewerID != "":
		u, err := s.users.Get(ctx, req.ReviewerID)
		if err != nil {
			return nil, fmt.Errorf("reviewer lookup: %w", err)
		}
		return u, nil
	case req.ReviewerEmail != "":
		u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.ReviewerEmail)))
		if err != nil {
			return nil, fmt.Errorf("reviewer lookup: %w", err)
		}
		return u, nil
	default:
		return nil, errors.New("reviewer_id or reviewer_email is required")
	}
}

// Revoke marks a link REVOKED. The link row survives as history.
func (s *Service) Revoke(ctx context.Context, protectedID, reviewerID string) (*Link, error) {
	link, err := s.store.Get(ctx, protectedID, reviewerID)
	if err != nil {
		return nil, err
	}
	if link.Status == StatusRevoked {
		return nil, ErrLinkNotFound
	}

	now := time.Now().UTC()
	link.Status = StatusRevoked
	link.RevokedAt = &now
	link.UpdatedAt = now
	if err := s.store.Update(ctx, link); err != nil {
		return nil, err
	}
	metrics.TrustedLinksActive.Dec()
	return link, nil
}

// IsAuthorized reports whether actorID may act on protectedID's data.
// The owner always may; a reviewer only through an ACTIVE link. The
// link state is read fresh on every call so revocation takes effect
// immediately.
func (s *Service) IsAuthorized(ctx context.Context, actorID, protectedID string) (bool, error) {
	if actorID == protectedID {
		return true, nil
	}
	link, err := s.store.Get(ctx, protectedID, actorID)
	if errors.Is(err, ErrLinkNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return link.Status == StatusActive, nil
}

// ActiveReviewers returns the IDs of reviewers currently linked to a
// protected party.
func (s *Service) ActiveReviewers(ctx context.Context, protectedID string) ([]string, error) {
	links, err := s.store.ListByProtected(ctx, protectedID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, l := range links {
		if l.Status == StatusActive {
			out = append(out, l.ReviewerID)
		}
	}
	return out, nil
}

// WatchedProtected returns the protected parties a reviewer currently watches.
func (s *Service) WatchedProtected(ctx context.Context, reviewerID string) ([]string, error) {
	links, err := s.store.ListActiveByReviewer(ctx, reviewerID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, l := range links {
		out = append(out, l.ProtectedID)
	}
	return out, nil
}

// Links returns all links for a protected party, revoked ones included.
func (s *Service) Links(ctx context.Context, protectedID string) ([]*Link, error) {
	return s.store.ListByProtected(ctx, protectedID)
}
