// Package sso stores SSO provider configurations and the auth identities
// linking users to external accounts, and validates those identities.
//
// # Validators
//
// A Validator answers whether an identity is still valid at its provider.
// The Registry maps a provider key (ProviderConfig.Provider) to a
// ValidatorFactory and caches built validators per configuration version:
//
//	registry, _ := sso.NewRegistry(sso.DefaultValidatorCacheSize)
//	sso.RegisterDefaults(registry, httpClient)
//
//	validator, err := registry.Resolve(ctx, provider)
//	valid, err := validator.IdentityIsValid(ctx, identity)
//
// The built-in validators refresh the identity's stored OAuth2 refresh token
// and read the provider's userinfo endpoint:
//
//   - oauth2: token and userinfo URLs from OAuth2Config
//   - oidc: endpoints discovered from the issuer, subject must match Ident
//
// A rejected grant (invalid_grant, 401 or 403) yields false with no error.
// An unreachable or failing provider yields an error; callers decide how to
// treat it.
//
// # Storage
//
// Storage reads and writes the auth_providers and auth_identities tables.
// ListStaleIdentityIDs and ClaimIdentities back the periodic verification
// sweep; TouchIdentity and DeleteIdentity are used when a verification
// completes. DisableProvider removes a provider together with its identities
// and unlinks the organization's members.
package sso
