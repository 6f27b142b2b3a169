package sso

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrIdentityNotFound is returned when an auth identity does not exist
	ErrIdentityNotFound = errors.New("auth identity not found")
	// ErrProviderNotFound is returned when an auth provider does not exist
	ErrProviderNotFound = errors.New("auth provider not found")
	// ErrUnknownProvider is returned when no validator is registered for a provider key
	ErrUnknownProvider = errors.New("unknown auth provider")
)

// Validator registry keys
const (
	ProviderOAuth2 = "oauth2"
	ProviderOIDC   = "oidc"
)

// ProviderName identifies a well-known identity provider
type ProviderName string

const (
	ProviderAzureAD       ProviderName = "azuread"
	ProviderOkta          ProviderName = "okta"
	ProviderGoogle        ProviderName = "google"
	ProviderGenericOAuth2 ProviderName = "generic_oauth2"
	ProviderGenericOIDC   ProviderName = "generic_oidc"
)

// ProviderConfig is an organization's SSO provider configuration
type ProviderConfig struct {
	ID             int64         `json:"id"`
	OrganizationID int64         `json:"organization_id"`
	Provider       string        `json:"provider"` // validator registry key
	ProviderName   ProviderName  `json:"provider_name,omitempty"`
	OAuth2Config   *OAuth2Config `json:"oauth2_config,omitempty"`
	OIDCConfig     *OIDCConfig   `json:"oidc_config,omitempty"`
	Flags          int64         `json:"flags"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// OAuth2Config holds OAuth2 configuration
type OAuth2Config struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	AuthURL      string   `json:"auth_url"`
	TokenURL     string   `json:"token_url"`
	UserInfoURL  string   `json:"user_info_url"`
	Scopes       []string `json:"scopes"`
	SubjectClaim string   `json:"subject_claim,omitempty"` // defaults to "sub"
}

// Validate checks the fields needed to verify identities
func (c *OAuth2Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if c.TokenURL == "" {
		return fmt.Errorf("token_url is required")
	}
	if c.UserInfoURL == "" {
		return fmt.Errorf("user_info_url is required")
	}
	return nil
}

// OIDCConfig holds OpenID Connect configuration
type OIDCConfig struct {
	ClientID        string   `json:"client_id"`
	ClientSecret    string   `json:"client_secret,omitempty"`
	IssuerURL       string   `json:"issuer_url"` // Discovery endpoint
	Scopes          []string `json:"scopes"`
	SkipIssuerCheck bool     `json:"skip_issuer_check,omitempty"`
}

// Validate checks the fields needed to verify identities
func (c *OIDCConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if c.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	if len(c.Scopes) == 0 {
		return fmt.Errorf("scopes are required")
	}

	for _, scope := range c.Scopes {
		if scope == "openid" {
			return nil
		}
	}
	return fmt.Errorf("'openid' scope is required for OIDC")
}

// AuthIdentity links a user to an external account at an SSO provider
type AuthIdentity struct {
	ID             int64          `json:"id"`
	UserID         int64          `json:"user_id"`
	AuthProviderID int64          `json:"auth_provider_id"`
	Ident          string         `json:"ident"` // account id at the provider
	Data           map[string]any `json:"data,omitempty"`
	LastVerified   time.Time      `json:"last_verified"`
	LastSynced     time.Time      `json:"last_synced"`
	DateAdded      time.Time      `json:"date_added"`
}

// RefreshToken returns the stored OAuth2 refresh token, if any
func (i *AuthIdentity) RefreshToken() string {
	if i.Data == nil {
		return ""
	}
	token, _ := i.Data["refresh_token"].(string)
	return token
}

// SetRefreshToken replaces the stored refresh token. It reports whether the
// token changed; an empty token never replaces a stored one.
func (i *AuthIdentity) SetRefreshToken(token string) bool {
	if token == "" || token == i.RefreshToken() {
		return false
	}
	if i.Data == nil {
		i.Data = make(map[string]any)
	}
	i.Data["refresh_token"] = token
	return true
}
