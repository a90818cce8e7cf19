// Package config loads apitap's on-disk configuration and overlays
// environment variables, following the precedence the teacher gateway
// uses for its own flags: env wins, then YAML, then built-in defaults.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/apitap/apitap/internal/obslog"
)

// Config is apitap's complete runtime configuration.
type Config struct {
	SkillsDir string        `yaml:"skillsDir"`
	VaultDir  string        `yaml:"vaultDir"`
	MachineID string        `yaml:"machineId,omitempty"`
	Capture   CaptureConfig `yaml:"capture"`
	Replay    ReplayConfig  `yaml:"replay"`
	OAuth     OAuthConfig   `yaml:"oauth"`
	Logging   obslog.Config `yaml:"logging"`
}

// CaptureConfig holds extra blocklist domains, extra noise paths, and a
// PII-scrubbing switch for capture. No package reads these fields:
// pkg/capture filters with its built-in sets only, and pkg/skillgen's
// scrubbing is set through Generator.SetScrubPII.
type CaptureConfig struct {
	ExtraBlockedDomains []string `yaml:"extraBlockedDomains,omitempty"`
	ExtraNoisePaths     []string `yaml:"extraNoisePaths,omitempty"`
	ScrubPII            bool     `yaml:"scrubPii"`
}

// ReplayConfig holds replay limits. cmd/apitap passes MaxResponseBytes to
// browse; TimeoutSeconds and OAuthTimeoutSeconds are not read by any
// package, and pkg/replay and pkg/oauthrefresh use their built-in timeouts.
type ReplayConfig struct {
	TimeoutSeconds      int `yaml:"timeoutSeconds"`
	OAuthTimeoutSeconds int `yaml:"oauthTimeoutSeconds"`
	MaxResponseBytes    int `yaml:"maxResponseBytes"`
}

// OAuthConfig lists extra trusted OAuth hosts. pkg/oauthrefresh does not
// read it; its well-known host list is fixed.
type OAuthConfig struct {
	ExtraTrustedHosts []string `yaml:"extraTrustedHosts,omitempty"`
}

// Load reads the YAML file at path (if non-empty and present), applies
// defaults for anything left unset, then overlays environment variables,
// which always win regardless of what the file or defaults say.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SkillsDir == "" {
		cfg.SkillsDir = "./apitap/skills"
	}
	if cfg.VaultDir == "" {
		cfg.VaultDir = "./apitap/vault"
	}
	if cfg.Replay.TimeoutSeconds <= 0 {
		cfg.Replay.TimeoutSeconds = 10
	}
	if cfg.Replay.OAuthTimeoutSeconds <= 0 {
		cfg.Replay.OAuthTimeoutSeconds = 15
	}
	if cfg.Replay.MaxResponseBytes <= 0 {
		cfg.Replay.MaxResponseBytes = 2 << 20 // 2 MiB
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnv overlays environment variables the same way cmd/gateway's
// envOr helper does for flags, but after YAML has already been applied —
// so an env var always overrides a file setting, never the reverse.
func applyEnv(cfg *Config) {
	if v := os.Getenv("APITAP_DIR"); v != "" {
		cfg.SkillsDir = v + "/skills"
		cfg.VaultDir = v + "/vault"
	}
	if v := os.Getenv("APITAP_SKILLS_DIR"); v != "" {
		cfg.SkillsDir = v
	}
	if v := os.Getenv("APITAP_MACHINE_ID"); v != "" {
		cfg.MachineID = v
	}
}
