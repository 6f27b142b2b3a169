package sso

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCValidator verifies an identity against an OpenID Connect provider.
// The stored refresh token must still be accepted and the userinfo subject
// must match the identity's account id.
type OIDCValidator struct {
	config       *ProviderConfig
	provider     *oidc.Provider
	oauth2Config *oauth2.Config
	httpClient   *http.Client
}

// NewOIDCValidator discovers the provider and creates a validator. Presets
// fill in an issuer and scopes missing from the configuration.
func NewOIDCValidator(ctx context.Context, config *ProviderConfig, httpClient *http.Client) (*OIDCValidator, error) {
	if config.OIDCConfig == nil {
		return nil, fmt.Errorf("OIDC config is required")
	}
	cfg := withPresetDefaults(config.ProviderName, *config.OIDCConfig)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if httpClient != nil {
		ctx = oidc.ClientContext(ctx, httpClient)
	}
	if cfg.SkipIssuerCheck {
		ctx = oidc.InsecureIssuerURLContext(ctx, cfg.IssuerURL)
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &OIDCValidator{
		config:   config,
		provider: provider,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			Scopes:       cfg.Scopes,
		},
		httpClient: httpClient,
	}, nil
}

// IdentityIsValid implements Validator
func (v *OIDCValidator) IdentityIsValid(ctx context.Context, identity *AuthIdentity) (bool, error) {
	ctx = withHTTPClient(ctx, v.httpClient)

	token, err := refresh(ctx, v.oauth2Config, identity)
	if errors.Is(err, errRevoked) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	endpoint := v.provider.UserInfoEndpoint()
	if endpoint == "" {
		// A successful refresh is the strongest signal available
		return true, nil
	}

	claims, err := fetchUserInfo(ctx, v.oauth2Config, token, endpoint)
	if errors.Is(err, errRevoked) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return subjectMatches(claims, "sub", identity.Ident), nil
}
