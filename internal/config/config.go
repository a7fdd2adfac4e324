// Package config loads runtime configuration: defaults, then an optional
// TOML file, then environment variables (env wins).
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Tenant   TenantConfig   `toml:"tenant"`
	LLM      LLMConfig      `toml:"llm"`
	Intent   IntentConfig   `toml:"intent"`
	Database DatabaseConfig `toml:"database"`
	Skills   SkillsConfig   `toml:"skills"`
	Agent    AgentConfig    `toml:"agent"`
	OAuth    OAuthConfig    `toml:"oauth"`
	Observer ObserverConfig `toml:"observer"`
}

type TenantConfig struct {
	ID string `toml:"id"`
}

type LLMConfig struct {
	Provider     string `toml:"provider"`
	DefaultModel string `toml:"default_model"`
	APIKey       string `toml:"api_key"`
	BaseURL      string `toml:"base_url"`
}

// IntentConfig drives the lightweight classifier used for routing. It may
// point at a cheaper model than the main loop.
type IntentConfig struct {
	Model      string `toml:"model"`
	TimeoutSec int    `toml:"timeout_sec"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver      string `toml:"driver"`
	Path        string `toml:"path"`
	PostgresURL string `toml:"postgres_url"`
}

// SkillsConfig names the three layered skill roots. Later layers override
// earlier ones by skill name.
type SkillsConfig struct {
	EnterpriseDir string `toml:"enterprise_dir"`
	PersonalDir   string `toml:"personal_dir"`
	ProjectDir    string `toml:"project_dir"`
}

type AgentConfig struct {
	MaxIterations int    `toml:"max_iterations"`
	WorkspacePath string `toml:"workspace_path"`
}

type OAuthConfig struct {
	// EncryptionKey is hex or raw; it must decode to 32 bytes.
	EncryptionKey string              `toml:"encryption_key"`
	Integrations  []IntegrationConfig `toml:"integrations"`
}

type IntegrationConfig struct {
	Name         string   `toml:"name"`
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
	RedirectURL  string   `toml:"redirect_url"`
	Scopes       []string `toml:"scopes"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		Tenant:   TenantConfig{ID: "default"},
		LLM:      LLMConfig{Provider: "openai", DefaultModel: "gpt-4o-mini"},
		Intent:   IntentConfig{Model: "gpt-4.1-nano", TimeoutSec: 10},
		Database: DatabaseConfig{Driver: "sqlite", Path: "omniforge.db"},
		Skills: SkillsConfig{
			EnterpriseDir: "/etc/omniforge/skills",
			PersonalDir:   filepath.Join(home, ".omniforge", "skills"),
			ProjectDir:    ".omniforge/skills",
		},
		Agent: AgentConfig{MaxIterations: 15, WorkspacePath: filepath.Join(home, "omniforge-workspace")},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "omniforge.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("OMNIFORGE_TENANT_ID"); v != "" {
		cfg.Tenant.ID = v
	}
	if v := os.Getenv("OMNIFORGE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OMNIFORGE_LLM_DEFAULT_MODEL"); v != "" {
		cfg.LLM.DefaultModel = v
	}
	if v := os.Getenv("OMNIFORGE_INTENT_MODEL"); v != "" {
		cfg.Intent.Model = v
	}
	if v := os.Getenv("OMNIFORGE_INTENT_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Intent.TimeoutSec = n
		}
	}
	if v := os.Getenv("OMNIFORGE_DATABASE_URL"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.PostgresURL = v
	}
	if v := os.Getenv("OMNIFORGE_SKILLS_ENTERPRISE_DIR"); v != "" {
		cfg.Skills.EnterpriseDir = v
	}
	if v := os.Getenv("OMNIFORGE_SKILLS_PERSONAL_DIR"); v != "" {
		cfg.Skills.PersonalDir = v
	}
	if v := os.Getenv("OMNIFORGE_SKILLS_PROJECT_DIR"); v != "" {
		cfg.Skills.ProjectDir = v
	}
	if v := os.Getenv("OMNIFORGE_OAUTH_KEY"); v != "" {
		cfg.OAuth.EncryptionKey = v
	}
	if v := os.Getenv("OMNIFORGE_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Intent.Model == "" {
		cfg.Intent.Model = cfg.LLM.DefaultModel
	}
	if cfg.Tenant.ID == "" {
		cfg.Tenant.ID = "default"
	}

	return cfg
}

// SkillRoots returns the layer roots in precedence order, lowest first.
// Loaders walk them in order so the project layer wins name collisions.
func (c Config) SkillRoots() []string {
	return []string{c.Skills.EnterpriseDir, c.Skills.PersonalDir, c.Skills.ProjectDir}
}
