package sso

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/authcheck/pkg/orgs"
)

// claimBatchSize keeps each claim statement well under the PostgreSQL
// bind parameter limit
const claimBatchSize = 5000

// Storage handles auth providers and auth identities
type Storage struct {
	db  *sql.DB
	now func() time.Time
}

// NewStorage creates a new SSO storage
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db, now: time.Now}
}

// WithClock replaces the time source used for new rows
func (s *Storage) WithClock(now func() time.Time) *Storage {
	s.now = now
	return s
}

// CreateProvider creates a new SSO provider configuration
func (s *Storage) CreateProvider(ctx context.Context, config *ProviderConfig) error {
	oauth2ConfigJSON, oidcConfigJSON, err := marshalProviderConfigs(config)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	config.CreatedAt = now
	config.UpdatedAt = now

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO auth_providers (
			organization_id, provider, provider_name, oauth2_config, oidc_config, flags,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, config.OrganizationID, config.Provider, string(config.ProviderName),
		oauth2ConfigJSON, oidcConfigJSON, config.Flags,
		config.CreatedAt, config.UpdatedAt).Scan(&config.ID)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	return nil
}

// GetProviderByID retrieves a provider by ID
func (s *Storage) GetProviderByID(ctx context.Context, id int64) (*ProviderConfig, error) {
	var (
		providerName     sql.NullString
		oauth2ConfigJSON []byte
		oidcConfigJSON   []byte
	)

	config := &ProviderConfig{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, provider, provider_name, oauth2_config, oidc_config, flags,
			created_at, updated_at
		FROM auth_providers
		WHERE id = $1
	`, id).Scan(
		&config.ID, &config.OrganizationID, &config.Provider, &providerName,
		&oauth2ConfigJSON, &oidcConfigJSON, &config.Flags,
		&config.CreatedAt, &config.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	config.ProviderName = ProviderName(providerName.String)

	if len(oauth2ConfigJSON) > 0 {
		config.OAuth2Config = &OAuth2Config{}
		if err := json.Unmarshal(oauth2ConfigJSON, config.OAuth2Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal OAuth2 config: %w", err)
		}
	}

	if len(oidcConfigJSON) > 0 {
		config.OIDCConfig = &OIDCConfig{}
		if err := json.Unmarshal(oidcConfigJSON, config.OIDCConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal OIDC config: %w", err)
		}
	}

	return config, nil
}

// DisableProvider removes a provider. In one transaction it clears
// sso:linked for every member of the owning organization, deletes the
// provider's identities and deletes the provider.
func (s *Storage) DisableProvider(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var orgID int64
	err = tx.QueryRowContext(ctx, `SELECT organization_id FROM auth_providers WHERE id = $1`, id).Scan(&orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrProviderNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get provider: %w", err)
	}

	if _, err := orgs.ClearSSOLinkedTx(ctx, tx, orgID, s.now()); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM auth_identities WHERE auth_provider_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete identities: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM auth_providers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CreateIdentity stores a new auth identity. A zero LastVerified is set to
// the creation time.
func (s *Storage) CreateIdentity(ctx context.Context, identity *AuthIdentity) error {
	dataJSON, err := json.Marshal(identity.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal identity data: %w", err)
	}

	now := s.now().UTC()
	if identity.DateAdded.IsZero() {
		identity.DateAdded = now
	}
	if identity.LastVerified.IsZero() {
		identity.LastVerified = now
	}
	if identity.LastSynced.IsZero() {
		identity.LastSynced = now
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO auth_identities (
			user_id, auth_provider_id, ident, data, last_verified, last_synced, date_added
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, identity.UserID, identity.AuthProviderID, identity.Ident, string(dataJSON),
		identity.LastVerified.UTC(), identity.LastSynced.UTC(), identity.DateAdded.UTC()).Scan(&identity.ID)
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}

	return nil
}

// GetIdentity retrieves an auth identity by ID
func (s *Storage) GetIdentity(ctx context.Context, id int64) (*AuthIdentity, error) {
	var dataJSON []byte

	identity := &AuthIdentity{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, auth_provider_id, ident, data, last_verified, last_synced, date_added
		FROM auth_identities
		WHERE id = $1
	`, id).Scan(
		&identity.ID, &identity.UserID, &identity.AuthProviderID, &identity.Ident, &dataJSON,
		&identity.LastVerified, &identity.LastSynced, &identity.DateAdded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}

	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &identity.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal identity data: %w", err)
		}
	}

	return identity, nil
}

// ListStaleIdentityIDs returns the ids of identities last verified at or
// before cutoff
func (s *Storage) ListStaleIdentityIDs(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM auth_identities
		WHERE last_verified <= $1
		ORDER BY id ASC
	`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list stale identities: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan identity id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate identities: %w", err)
	}

	return ids, nil
}

// ClaimIdentities sets last_verified to now for exactly the given ids in one
// transaction and returns the number of rows updated. Claimed identities
// are not selected again until the next cutoff passes them.
func (s *Storage) ClaimIdentities(ctx context.Context, ids []int64, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var claimed int64
	for start := 0; start < len(ids); start += claimBatchSize {
		end := start + claimBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		query, args := claimQuery(ids[start:end], now.UTC())
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to claim identities: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		claimed += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return claimed, nil
}

// claimQuery builds "UPDATE ... WHERE id IN ($2, $3, ...)" with now as $1
func claimQuery(ids []int64, now time.Time) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, now)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}

	query := `UPDATE auth_identities SET last_verified = $1 WHERE id IN (` + strings.Join(placeholders, ", ") + `)`
	return query, args
}

// UpdateIdentityData replaces the stored provider data of an identity, such
// as a rotated refresh token
func (s *Storage) UpdateIdentityData(ctx context.Context, id int64, data map[string]any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal identity data: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `UPDATE auth_identities SET data = $1 WHERE id = $2`, string(dataJSON), id)
	if err != nil {
		return fmt.Errorf("failed to update identity data: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrIdentityNotFound
	}

	return nil
}

// TouchIdentity records a completed verification at now
func (s *Storage) TouchIdentity(ctx context.Context, id int64, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE auth_identities SET last_verified = $1 WHERE id = $2`, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrIdentityNotFound
	}

	return nil
}

// DeleteIdentity removes an auth identity. Deleting a missing identity is
// not an error.
func (s *Storage) DeleteIdentity(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_identities WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	return nil
}

// marshalProviderConfigs encodes the JSON columns as strings, which lib/pq
// accepts for jsonb where []byte would be sent as bytea
func marshalProviderConfigs(config *ProviderConfig) (sql.NullString, sql.NullString, error) {
	var oauth2ConfigJSON, oidcConfigJSON sql.NullString

	if config.OAuth2Config != nil {
		data, err := json.Marshal(config.OAuth2Config)
		if err != nil {
			return oauth2ConfigJSON, oidcConfigJSON, fmt.Errorf("failed to marshal OAuth2 config: %w", err)
		}
		oauth2ConfigJSON = sql.NullString{String: string(data), Valid: true}
	}

	if config.OIDCConfig != nil {
		data, err := json.Marshal(config.OIDCConfig)
		if err != nil {
			return oauth2ConfigJSON, oidcConfigJSON, fmt.Errorf("failed to marshal OIDC config: %w", err)
		}
		oidcConfigJSON = sql.NullString{String: string(data), Valid: true}
	}

	return oauth2ConfigJSON, oidcConfigJSON, nil
}
