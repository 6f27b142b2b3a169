package authcheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/authcheck/pkg/observability"
	"github.com/platinummonkey/authcheck/pkg/orgs"
	"github.com/platinummonkey/authcheck/pkg/sso"
)

// Outcome is the result of one reconciliation
type Outcome string

const (
	// OutcomeValid means the provider confirmed the identity
	OutcomeValid Outcome = "valid"
	// OutcomeInvalid means the identity could not be confirmed
	OutcomeInvalid Outcome = "invalid"
	// OutcomeOrphaned means the identity no longer belonged to a membership
	// and was deleted
	OutcomeOrphaned Outcome = "orphaned"
	// OutcomeMissing means the identity was deleted before it was processed
	OutcomeMissing Outcome = "missing"
)

// IdentityStore is the identity and provider persistence used by the
// reconciler. *sso.Storage implements it.
type IdentityStore interface {
	GetIdentity(ctx context.Context, id int64) (*sso.AuthIdentity, error)
	GetProviderByID(ctx context.Context, id int64) (*sso.ProviderConfig, error)
	UpdateIdentityData(ctx context.Context, id int64, data map[string]any) error
	TouchIdentity(ctx context.Context, id int64, now time.Time) error
	DeleteIdentity(ctx context.Context, id int64) error
}

// MemberStore reads and updates organization memberships.
// *orgs.PostgresService implements it.
type MemberStore interface {
	GetMember(ctx context.Context, orgID, userID int64) (*orgs.OrgMember, error)
	UpdateMemberFlags(ctx context.Context, memberID int64, flags orgs.MemberFlags) error
}

// ValidatorResolver returns the validator for a provider configuration.
// *sso.Registry implements it.
type ValidatorResolver interface {
	Resolve(ctx context.Context, config *sso.ProviderConfig) (sso.Validator, error)
}

// Reconciler re-verifies one identity and records the result on the
// membership it grants. Anything short of a positive answer from the
// provider marks the membership invalid.
type Reconciler struct {
	identities IdentityStore
	members    MemberStore
	validators ValidatorResolver

	clock   func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewReconciler creates a reconciler
func NewReconciler(identities IdentityStore, members MemberStore, validators ValidatorResolver, opts ...Option) *Reconciler {
	o := newOptions(opts)
	return &Reconciler{
		identities: identities,
		members:    members,
		validators: validators,
		clock:      o.clock,
		logger:     o.logger.WithField("component", "reconciler"),
		metrics:    o.metrics,
	}
}

// Reconcile verifies the identity and updates the membership flags:
// sso:linked when valid, sso:invalid otherwise. It then stamps the
// identity's last_verified. Only persistence failures are returned as
// errors; running it again with the same validator answer is a no-op.
func (r *Reconciler) Reconcile(ctx context.Context, authIdentityID int64) (outcome Outcome, err error) {
	started := time.Now()
	ctx, span := observability.StartSpan(ctx, "authcheck.reconcile",
		attribute.Int64("auth_identity.id", authIdentityID))
	defer func() {
		if err == nil {
			span.SetAttributes(attribute.String("authcheck.outcome", string(outcome)))
			r.metrics.RecordReconciliation(string(outcome), time.Since(started))
		} else {
			r.metrics.RecordReconciliation("error", time.Since(started))
		}
		observability.EndSpan(span, err)
	}()

	logger := observability.ForTask(ctx, observability.UpdateLoggerWithTraceContext(ctx, r.logger)).
		WithField("auth_identity_id", authIdentityID)

	identity, err := r.identities.GetIdentity(ctx, authIdentityID)
	if errors.Is(err, sso.ErrIdentityNotFound) {
		logger.Warn("Auth identity no longer exists, skipping verification")
		return OutcomeMissing, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load auth identity %d: %w", authIdentityID, err)
	}

	provider, err := r.identities.GetProviderByID(ctx, identity.AuthProviderID)
	if errors.Is(err, sso.ErrProviderNotFound) {
		// Without a provider there is no organization to reconcile against
		logger.WithField("auth_provider_id", identity.AuthProviderID).
			Error("Auth provider no longer exists, removing identity")
		return r.removeOrphan(ctx, identity)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load auth provider %d: %w", identity.AuthProviderID, err)
	}
	logger = logger.WithFields(map[string]interface{}{
		"provider":        provider.Provider,
		"organization_id": provider.OrganizationID,
	})

	storedToken := identity.RefreshToken()
	isValid := r.verify(ctx, logger, provider, identity)
	if identity.RefreshToken() != storedToken {
		if err := r.saveCredentials(ctx, logger, identity); err != nil {
			return "", err
		}
	}

	member, err := r.members.GetMember(ctx, provider.OrganizationID, identity.UserID)
	if errors.Is(err, orgs.ErrMemberNotFound) {
		logger.WithField("user_id", identity.UserID).
			Warn("User is no longer a member of the organization, removing identity")
		return r.removeOrphan(ctx, identity)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load membership for identity %d: %w", identity.ID, err)
	}

	flags := orgs.VerificationFlags(isValid)
	err = r.members.UpdateMemberFlags(ctx, member.ID, flags)
	if errors.Is(err, orgs.ErrMemberNotFound) {
		logger.WithFields(map[string]interface{}{
			"user_id":   identity.UserID,
			"member_id": member.ID,
		}).Warn("Membership was removed during verification, removing identity")
		return r.removeOrphan(ctx, identity)
	}
	if err != nil {
		return "", fmt.Errorf("failed to update membership %d: %w", member.ID, err)
	}

	if err := r.identities.TouchIdentity(ctx, identity.ID, r.clock()); err != nil {
		if !errors.Is(err, sso.ErrIdentityNotFound) {
			return "", fmt.Errorf("failed to stamp identity %d: %w", identity.ID, err)
		}
		logger.Warn("Auth identity was deleted during verification")
	}

	outcome = OutcomeInvalid
	if isValid {
		outcome = OutcomeValid
	}
	logger.WithFields(map[string]interface{}{
		"member_id": member.ID,
		"flags":     flags.String(),
	}).Info("Auth identity verified")

	return outcome, nil
}

// removeOrphan deletes an identity that no longer grants a membership
func (r *Reconciler) removeOrphan(ctx context.Context, identity *sso.AuthIdentity) (Outcome, error) {
	if err := r.identities.DeleteIdentity(ctx, identity.ID); err != nil {
		return "", err
	}
	return OutcomeOrphaned, nil
}

// saveCredentials stores a refresh token the provider rotated during
// validation. The old token is already spent at that point.
func (r *Reconciler) saveCredentials(ctx context.Context, logger *observability.Logger, identity *sso.AuthIdentity) error {
	err := r.identities.UpdateIdentityData(ctx, identity.ID, identity.Data)
	if errors.Is(err, sso.ErrIdentityNotFound) {
		logger.Warn("Auth identity was deleted before its rotated refresh token could be stored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to store rotated refresh token for identity %d: %w", identity.ID, err)
	}
	logger.Debug("Stored rotated refresh token")
	return nil
}

// verify asks the provider's validator about the identity. Failing to
// resolve the validator, a validator error and a validator panic all count
// as invalid.
func (r *Reconciler) verify(ctx context.Context, logger *observability.Logger, provider *sso.ProviderConfig, identity *sso.AuthIdentity) bool {
	validator, err := r.validators.Resolve(ctx, provider)
	if err != nil {
		r.metrics.RecordValidatorError(provider.Provider)
		logger.WithError(err).Error("Failed to resolve validator, treating identity as invalid")
		return false
	}

	valid, err := callValidator(ctx, validator, identity)
	if err != nil {
		r.metrics.RecordValidatorError(provider.Provider)
		logger.WithError(err).Error("Failed to verify auth identity, treating it as invalid")
		return false
	}
	return valid
}

func callValidator(ctx context.Context, validator sso.Validator, identity *sso.AuthIdentity) (valid bool, err error) {
	defer func() {
		if perr := observability.PanicError(recover()); perr != nil {
			valid, err = false, perr
		}
	}()
	return validator.IdentityIsValid(ctx, identity)
}
