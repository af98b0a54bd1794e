package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper() error = %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Agent.BuildMaxIterations != 50 || cfg.Agent.AskMaxIterations != 10 {
		t.Errorf("iterations = %d/%d", cfg.Agent.BuildMaxIterations, cfg.Agent.AskMaxIterations)
	}
	if cfg.Server.KeepAliveInterval != 15*time.Second {
		t.Errorf("keepalive = %v", cfg.Server.KeepAliveInterval)
	}
	if cfg.Billing.MarginPercent != 20 || cfg.Billing.CreditsPerDollar != 100 {
		t.Errorf("billing = %+v", cfg.Billing)
	}
	if cfg.Sandbox.VerifyCommand != "npx --no-install prettier --check ." {
		t.Errorf("verify command = %q", cfg.Sandbox.VerifyCommand)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	yaml := `
llm:
  provider: openai
  model: gpt-4.1-mini
agent:
  build_max_iterations: 20
sandbox:
  mode: host
  cmd_timeout: 45s
session:
  backend: file
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DYNO_LLM_API_KEY", "sk-from-env")
	t.Setenv("DYNO_AGENT_BUILD_MAX_ITERATIONS", "30")

	v, err := NewViper(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4.1-mini" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, want env override", cfg.LLM.APIKey)
	}
	if cfg.Agent.BuildMaxIterations != 30 {
		t.Errorf("build iterations = %d, env should beat file", cfg.Agent.BuildMaxIterations)
	}
	if cfg.Sandbox.CmdTimeout != 45*time.Second {
		t.Errorf("cmd timeout = %v", cfg.Sandbox.CmdTimeout)
	}
	if cfg.Session.Backend != "file" {
		t.Errorf("session backend = %q", cfg.Session.Backend)
	}
}

func TestNewViper_MissingExplicitFile(t *testing.T) {
	if _, err := NewViper(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("NewViper() expected error for a missing explicit file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Agent:    AgentConfig{BuildMaxIterations: 50, AskMaxIterations: 10, RetryAttempts: 3},
			Sandbox:  SandboxConfig{Mode: "auto"},
			Database: DatabaseConfig{Path: "dyno.db"},
			Session:  SessionConfig{Backend: "sqlite"},
			Billing:  BillingConfig{Enabled: true, MarginPercent: 20, CreditsPerDollar: 100},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero iterations allowed", mutate: func(c *Config) { c.Agent.BuildMaxIterations = 0 }},
		{name: "negative iterations", mutate: func(c *Config) { c.Agent.AskMaxIterations = -1 }, wantErr: true},
		{name: "unknown session backend", mutate: func(c *Config) { c.Session.Backend = "redis" }, wantErr: true},
		{name: "unknown sandbox mode", mutate: func(c *Config) { c.Sandbox.Mode = "vm" }, wantErr: true},
		{name: "negative margin", mutate: func(c *Config) { c.Billing.MarginPercent = -5 }, wantErr: true},
		{name: "zero credits per dollar", mutate: func(c *Config) { c.Billing.CreditsPerDollar = 0 }, wantErr: true},
		{name: "billing disabled ignores rate", mutate: func(c *Config) { c.Billing.Enabled = false; c.Billing.CreditsPerDollar = 0 }},
		{name: "billing needs database", mutate: func(c *Config) { c.Session.Backend = "memory"; c.Database.Path = "" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "dyno.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("mode = %v, want 0600", perm)
	}
	if err := WriteDefault(path); err == nil {
		t.Error("WriteDefault() overwrote an existing file")
	}

	v, err := NewViper(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Load(v); err != nil {
		t.Errorf("written defaults do not load: %v", err)
	}
}
