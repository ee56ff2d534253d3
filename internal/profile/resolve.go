package profile

import "github.com/matheus3301/inboxsync/internal/config"

const DefaultName = "main"

// Resolve determines the active profile name using precedence:
// 1. flagOverride (--profile flag)
// 2. config.toml default_profile
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}

// LoadConfig returns the profile's config: the per-profile file when it
// exists, otherwise the global one, otherwise defaults.
func LoadConfig(name string) (*config.Config, error) {
	if cfg, err := config.Load(ProfileConfigPath(name)); err == nil {
		return cfg, nil
	}
	return config.LoadOrDefault(ConfigPath())
}
