package orgs

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMemberNotFound is returned when a user is not a member of the organization
	ErrMemberNotFound = errors.New("member not found")
	// ErrMemberExists is returned when adding a user who is already a member
	ErrMemberExists = errors.New("member already exists")
)

// Role represents a member's role within an organization
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleMember  Role = "member"
	RoleBilling Role = "billing"
)

// OrgMember represents a user's membership in an organization
type OrgMember struct {
	ID             int64       `json:"id"`
	OrganizationID int64       `json:"organization_id"`
	UserID         int64       `json:"user_id"`
	Role           Role        `json:"role"`
	Flags          MemberFlags `json:"flags"`
	InvitedBy      *int64      `json:"invited_by,omitempty"`
	JoinedAt       time.Time   `json:"joined_at"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Service defines membership operations used by SSO verification
type Service interface {
	GetMember(ctx context.Context, orgID, userID int64) (*OrgMember, error)
	AddMember(ctx context.Context, member *OrgMember) error
	RemoveMember(ctx context.Context, orgID, userID int64) error
	UpdateMemberFlags(ctx context.Context, memberID int64, flags MemberFlags) error
	ClearSSOLinked(ctx context.Context, orgID int64) (int64, error)
	ListUnlinkedMembers(ctx context.Context, orgID int64) ([]*OrgMember, error)
}
