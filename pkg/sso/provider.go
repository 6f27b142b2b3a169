package sso

import (
	"fmt"
)

// GetPresetConfig returns preset configuration for well-known providers
func GetPresetConfig(providerName ProviderName) (*ProviderConfig, error) {
	switch providerName {
	case ProviderAzureAD:
		// The issuer is tenant specific and has to be configured
		return &ProviderConfig{
			Provider:     ProviderOIDC,
			ProviderName: ProviderAzureAD,
			OIDCConfig: &OIDCConfig{
				Scopes: []string{"openid", "profile", "email", "offline_access"},
			},
		}, nil

	case ProviderOkta:
		return &ProviderConfig{
			Provider:     ProviderOIDC,
			ProviderName: ProviderOkta,
			OIDCConfig: &OIDCConfig{
				Scopes: []string{"openid", "profile", "email", "offline_access"},
			},
		}, nil

	case ProviderGoogle:
		return &ProviderConfig{
			Provider:     ProviderOIDC,
			ProviderName: ProviderGoogle,
			OIDCConfig: &OIDCConfig{
				IssuerURL: "https://accounts.google.com",
				Scopes:    []string{"openid", "profile", "email"},
			},
		}, nil

	default:
		return nil, fmt.Errorf("no preset configuration for provider: %s", providerName)
	}
}

// withPresetDefaults fills empty issuer and scopes from the provider preset
func withPresetDefaults(name ProviderName, cfg OIDCConfig) OIDCConfig {
	preset, err := GetPresetConfig(name)
	if err != nil || preset.OIDCConfig == nil {
		return cfg
	}
	if cfg.IssuerURL == "" {
		cfg.IssuerURL = preset.OIDCConfig.IssuerURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = preset.OIDCConfig.Scopes
	}
	return cfg
}
