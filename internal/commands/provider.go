package commands

import (
	"fmt"

	"github.com/smartparent/companion/internal/auth"
	"github.com/smartparent/companion/internal/config"
)

// restoreProvider loads the config and rebuilds the identity provider from
// the saved credentials. Refreshed tokens are written back to the config file
// as they are issued.
func restoreProvider() (*auth.Provider, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.RefreshToken == "" {
		return nil, nil, fmt.Errorf("not signed in: run 'companion login' first")
	}

	provider := auth.New(cfg.APIBaseURL)
	provider.SetCredentialsHandler(persistCredentials(cfg))
	provider.Restore(cfg.AccessToken, cfg.RefreshToken, cfg.TokenExpiry, cfg.UserID, cfg.UserEmail)
	return provider, cfg, nil
}
