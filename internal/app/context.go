package app

import (
	"fmt"
	"os"

	"claimline/internal/config"
)

const defaultServiceID = "claimline"

// ResolveConfig loads the workspace config, seeding the default claimline.yml
// when none exists yet.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	if err := WriteDefaultConfig(workspace); err != nil {
		return nil, err
	}
	return config.Default(defaultServiceID), nil
}

// WriteDefaultConfig writes the default config file for a workspace.
func WriteDefaultConfig(workspace string) error {
	path := config.Path(workspace)
	if err := os.WriteFile(path, []byte(config.GenerateDefault(defaultServiceID)), 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
