package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Tenant.ID != "default" {
		t.Errorf("tenant = %q, want default", cfg.Tenant.ID)
	}
	if cfg.Agent.MaxIterations != 15 {
		t.Errorf("max iterations = %d, want 15", cfg.Agent.MaxIterations)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.Database.Driver)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "omniforge.toml")
	data := `
[tenant]
id = "acme"

[llm]
provider = "openai"
default_model = "gpt-4o"

[agent]
max_iterations = 25
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.Tenant.ID != "acme" {
		t.Errorf("tenant = %q, want acme", cfg.Tenant.ID)
	}
	if cfg.LLM.DefaultModel != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", cfg.LLM.DefaultModel)
	}
	if cfg.Agent.MaxIterations != 25 {
		t.Errorf("max iterations = %d, want 25", cfg.Agent.MaxIterations)
	}
	// Untouched sections keep defaults.
	if cfg.Intent.TimeoutSec != 10 {
		t.Errorf("intent timeout = %d, want 10", cfg.Intent.TimeoutSec)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OMNIFORGE_TENANT_ID", "env-tenant")
	t.Setenv("OMNIFORGE_INTENT_MODEL", "gpt-4.1-mini")
	t.Setenv("OMNIFORGE_INTENT_TIMEOUT_SEC", "30")

	cfg := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if cfg.Tenant.ID != "env-tenant" {
		t.Errorf("tenant = %q, want env-tenant", cfg.Tenant.ID)
	}
	if cfg.Intent.Model != "gpt-4.1-mini" {
		t.Errorf("intent model = %q", cfg.Intent.Model)
	}
	if cfg.Intent.TimeoutSec != 30 {
		t.Errorf("intent timeout = %d, want 30", cfg.Intent.TimeoutSec)
	}
}

func TestSkillLayerEnvOverrides(t *testing.T) {
	t.Setenv("OMNIFORGE_SKILLS_ENTERPRISE_DIR", "/srv/skills")
	t.Setenv("OMNIFORGE_SKILLS_PERSONAL_DIR", "/home/ada/skills")
	t.Setenv("OMNIFORGE_SKILLS_PROJECT_DIR", "./skills")

	cfg := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if cfg.Skills.EnterpriseDir != "/srv/skills" {
		t.Errorf("enterprise = %q", cfg.Skills.EnterpriseDir)
	}
	if cfg.Skills.PersonalDir != "/home/ada/skills" {
		t.Errorf("personal = %q", cfg.Skills.PersonalDir)
	}
	if cfg.Skills.ProjectDir != "./skills" {
		t.Errorf("project = %q", cfg.Skills.ProjectDir)
	}
}

func TestSkillRootsOrder(t *testing.T) {
	cfg := Default()
	roots := cfg.SkillRoots()
	if len(roots) != 3 {
		t.Fatalf("roots = %d, want 3", len(roots))
	}
	if roots[0] != cfg.Skills.EnterpriseDir || roots[2] != cfg.Skills.ProjectDir {
		t.Error("roots must run enterprise, personal, project")
	}
}
