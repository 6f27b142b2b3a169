package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const memberColumns = `id, organization_id, user_id, role, flags, invited_by, joined_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*OrgMember, error) {
	member := &OrgMember{}
	var bits int64
	if err := row.Scan(
		&member.ID, &member.OrganizationID, &member.UserID, &member.Role, &bits,
		&member.InvitedBy, &member.JoinedAt, &member.CreatedAt, &member.UpdatedAt,
	); err != nil {
		return nil, err
	}
	member.Flags = FlagsFromBits(bits)
	return member, nil
}

// GetMember retrieves the membership of userID in orgID
func (s *PostgresService) GetMember(ctx context.Context, orgID, userID int64) (*OrgMember, error) {
	query := `SELECT ` + memberColumns + `
		FROM organization_members
		WHERE organization_id = $1 AND user_id = $2`

	member, err := scanMember(s.db.QueryRowContext(ctx, query, orgID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	return member, nil
}

// AddMember adds a user to an organization and fills in the generated fields
func (s *PostgresService) AddMember(ctx context.Context, member *OrgMember) error {
	if member.Role == "" {
		member.Role = RoleMember
	}
	now := s.now().UTC()
	if member.JoinedAt.IsZero() {
		member.JoinedAt = now
	}
	member.CreatedAt = now
	member.UpdatedAt = now

	query := `
		INSERT INTO organization_members (organization_id, user_id, role, flags, invited_by, joined_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (organization_id, user_id) DO NOTHING
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		member.OrganizationID, member.UserID, member.Role, member.Flags.Bits(),
		member.InvitedBy, member.JoinedAt, member.CreatedAt, member.UpdatedAt,
	).Scan(&member.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMemberExists
	}
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}

	return nil
}

// RemoveMember removes a user from an organization
func (s *PostgresService) RemoveMember(ctx context.Context, orgID, userID int64) error {
	query := `DELETE FROM organization_members WHERE organization_id = $1 AND user_id = $2`
	result, err := s.db.ExecContext(ctx, query, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrMemberNotFound
	}

	return nil
}

// UpdateMemberFlags persists the SSO flags of a membership. Other bits of
// the flags column are preserved.
func (s *PostgresService) UpdateMemberFlags(ctx context.Context, memberID int64, flags MemberFlags) error {
	query := `
		UPDATE organization_members
		SET flags = (flags & $1) | $2, updated_at = $3
		WHERE id = $4
	`
	result, err := s.db.ExecContext(ctx, query, ^ssoFlagMask, flags.Bits(), s.now().UTC(), memberID)
	if err != nil {
		return fmt.Errorf("failed to update member flags: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrMemberNotFound
	}

	return nil
}

// ClearSSOLinked removes sso:linked from every member of an organization and
// returns the number of memberships touched.
func (s *PostgresService) ClearSSOLinked(ctx context.Context, orgID int64) (int64, error) {
	return clearSSOLinked(ctx, s.db, orgID, s.now().UTC())
}

// ClearSSOLinkedTx is ClearSSOLinked inside a caller-owned transaction
func ClearSSOLinkedTx(ctx context.Context, tx *sql.Tx, orgID int64, now time.Time) (int64, error) {
	return clearSSOLinked(ctx, tx, orgID, now.UTC())
}

func clearSSOLinked(ctx context.Context, db execer, orgID int64, now time.Time) (int64, error) {
	query := `
		UPDATE organization_members
		SET flags = flags & $1, updated_at = $2
		WHERE organization_id = $3
	`
	result, err := db.ExecContext(ctx, query, ^bitSSOLinked, now, orgID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear sso:linked: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// ListUnlinkedMembers lists members of an organization without sso:linked.
// These are the members who need to be asked to link their identity again.
func (s *PostgresService) ListUnlinkedMembers(ctx context.Context, orgID int64) ([]*OrgMember, error) {
	query := `SELECT ` + memberColumns + `
		FROM organization_members
		WHERE organization_id = $1 AND (flags & $2) = 0
		ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, orgID, bitSSOLinked)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlinked members: %w", err)
	}
	defer rows.Close()

	var members []*OrgMember
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}

	return members, nil
}
