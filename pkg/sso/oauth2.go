package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// errRevoked marks a refresh or userinfo rejection: the grant is gone and the
// identity is invalid, as opposed to the provider being unreachable.
var errRevoked = errors.New("grant revoked")

// OAuth2Validator verifies an identity by refreshing its stored token and
// reading the provider's userinfo endpoint.
type OAuth2Validator struct {
	config       *ProviderConfig
	oauth2Config *oauth2.Config
	httpClient   *http.Client
}

// NewOAuth2Validator creates a validator for an oauth2 provider
func NewOAuth2Validator(config *ProviderConfig, httpClient *http.Client) (*OAuth2Validator, error) {
	if config.OAuth2Config == nil {
		return nil, fmt.Errorf("OAuth2 config is required")
	}
	if err := config.OAuth2Config.Validate(); err != nil {
		return nil, err
	}

	cfg := config.OAuth2Config
	return &OAuth2Validator{
		config: config,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			Scopes: cfg.Scopes,
		},
		httpClient: httpClient,
	}, nil
}

// IdentityIsValid implements Validator
func (v *OAuth2Validator) IdentityIsValid(ctx context.Context, identity *AuthIdentity) (bool, error) {
	ctx = withHTTPClient(ctx, v.httpClient)

	token, err := refresh(ctx, v.oauth2Config, identity)
	if errors.Is(err, errRevoked) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	claims, err := fetchUserInfo(ctx, v.oauth2Config, token, v.config.OAuth2Config.UserInfoURL)
	if errors.Is(err, errRevoked) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	claim := v.config.OAuth2Config.SubjectClaim
	if claim == "" {
		claim = "sub"
	}
	return subjectMatches(claims, claim, identity.Ident), nil
}

func withHTTPClient(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// refresh exchanges the identity's refresh token for a new access token. A
// rotated refresh token is written back to identity.Data.
func refresh(ctx context.Context, config *oauth2.Config, identity *AuthIdentity) (*oauth2.Token, error) {
	refreshToken := identity.RefreshToken()
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: identity %d has no refresh token", errRevoked, identity.ID)
	}

	token, err := config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && isRevocation(retrieveErr) {
			return nil, fmt.Errorf("%w: %s", errRevoked, retrieveErr.ErrorCode)
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	// Providers that rotate refresh tokens invalidate the old one now
	identity.SetRefreshToken(token.RefreshToken)

	return token, nil
}

func isRevocation(err *oauth2.RetrieveError) bool {
	switch err.ErrorCode {
	case "invalid_grant", "unauthorized_client":
		return true
	}
	if err.Response != nil {
		switch err.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
	}
	return false
}

// fetchUserInfo reads the userinfo document with the given token
func fetchUserInfo(ctx context.Context, config *oauth2.Config, token *oauth2.Token, userInfoURL string) (map[string]interface{}, error) {
	client := config.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build user info request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: user info returned %d", errRevoked, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("user info request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var userInfo map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}

	return userInfo, nil
}

// subjectMatches compares the claim with the stored account id. An identity
// without a stored id matches nothing.
func subjectMatches(claims map[string]interface{}, claim, ident string) bool {
	if ident == "" {
		return false
	}
	switch v := claims[claim].(type) {
	case string:
		return v == ident
	case float64:
		// numeric ids such as GitHub's
		return fmt.Sprintf("%.0f", v) == ident
	default:
		return false
	}
}
