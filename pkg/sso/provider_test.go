package sso

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPresetConfig(t *testing.T) {
	for _, name := range []ProviderName{ProviderAzureAD, ProviderOkta, ProviderGoogle} {
		t.Run(string(name), func(t *testing.T) {
			config, err := GetPresetConfig(name)
			require.NoError(t, err)

			assert.Equal(t, ProviderOIDC, config.Provider)
			assert.Equal(t, name, config.ProviderName)
			require.NotNil(t, config.OIDCConfig)
			assert.Contains(t, config.OIDCConfig.Scopes, "openid")
		})
	}

	google, err := GetPresetConfig(ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "https://accounts.google.com", google.OIDCConfig.IssuerURL)
}

func TestGetPresetConfig_Invalid(t *testing.T) {
	config, err := GetPresetConfig(ProviderName("invalid"))
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "no preset configuration")
}

func TestWithPresetDefaults(t *testing.T) {
	filled := withPresetDefaults(ProviderGoogle, OIDCConfig{ClientID: "c"})
	assert.Equal(t, "https://accounts.google.com", filled.IssuerURL)
	assert.Contains(t, filled.Scopes, "openid")
	assert.Equal(t, "c", filled.ClientID)

	explicit := withPresetDefaults(ProviderGoogle, OIDCConfig{IssuerURL: "https://idp", Scopes: []string{"openid"}})
	assert.Equal(t, "https://idp", explicit.IssuerURL)
	assert.Equal(t, []string{"openid"}, explicit.Scopes)

	generic := withPresetDefaults(ProviderGenericOIDC, OIDCConfig{})
	assert.Empty(t, generic.IssuerURL)
}

func TestAuthIdentity_RefreshToken(t *testing.T) {
	assert.Equal(t, "", (&AuthIdentity{}).RefreshToken())
	assert.Equal(t, "", (&AuthIdentity{Data: map[string]any{"refresh_token": 7}}).RefreshToken())
	assert.Equal(t, "rt", (&AuthIdentity{Data: map[string]any{"refresh_token": "rt"}}).RefreshToken())
}

func TestAuthIdentity_SetRefreshToken(t *testing.T) {
	identity := &AuthIdentity{}
	assert.False(t, identity.SetRefreshToken(""))
	assert.Nil(t, identity.Data)

	assert.True(t, identity.SetRefreshToken("rt-1"))
	assert.Equal(t, "rt-1", identity.RefreshToken())

	assert.False(t, identity.SetRefreshToken("rt-1"))
	assert.False(t, identity.SetRefreshToken(""), "an empty token keeps the stored one")
	assert.Equal(t, "rt-1", identity.RefreshToken())

	assert.True(t, identity.SetRefreshToken("rt-2"))
	assert.Equal(t, "rt-2", identity.RefreshToken())
}
