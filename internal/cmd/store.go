package cmd

import (
	"context"

	"github.com/avrlink/avrlink/internal/config"
	"github.com/avrlink/avrlink/internal/core/store"
)

// openStore opens and migrates the configured store.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if cfg == nil {
		loaded, err := loadConfig()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	return store.OpenAndMigrate(ctx, cfg.Store)
}
