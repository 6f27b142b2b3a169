// Package orgs stores organization memberships and their SSO status flags.
//
// # Flags
//
// Each membership carries two named flags:
//
//   - sso:linked   the member's SSO identity was valid at the last check
//   - sso:invalid  the last check found the identity invalid
//
// A verification writes both at once with VerificationFlags, so a member is
// never linked and invalid at the same time. Both false means the identity
// has not been verified yet or linking was cleared when the provider was
// removed.
//
// Flags are persisted in an integer column (bit 0 linked, bit 1 invalid).
// Updates only touch those two bits.
//
// # Usage Example
//
//	service := orgs.NewPostgresService(db)
//
//	member, err := service.GetMember(ctx, orgID, userID)
//	if errors.Is(err, orgs.ErrMemberNotFound) {
//		// identity is orphaned
//	}
//
//	err = service.UpdateMemberFlags(ctx, member.ID, orgs.VerificationFlags(valid))
//
// Members that need to link again:
//
//	members, err := service.ListUnlinkedMembers(ctx, orgID)
package orgs
