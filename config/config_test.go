package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"llm": {"routing": {"planning": "gpt-4o"}}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedding.Dimensions != 1536 {
		t.Fatalf("expected default dimensions 1536, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Agents.MaxIterations != 10 || cfg.Agents.MaxRecommendations != 4 {
		t.Fatalf("unexpected agent defaults: %+v", cfg.Agents)
	}
	if cfg.Threads.SummarizationThreshold != 6000 {
		t.Fatalf("expected summarization threshold 6000, got %d", cfg.Threads.SummarizationThreshold)
	}
	if cfg.Threads.SearchThreshold != 0.7 {
		t.Fatalf("expected thread search threshold 0.7, got %.2f", cfg.Threads.SearchThreshold)
	}
	if cfg.LLM.Providers["openai"].Timeout != 60*time.Second {
		t.Fatalf("expected provider timeout from general.default_timeout, got %s", cfg.LLM.Providers["openai"].Timeout)
	}
	if got := cfg.LLM.Routing.Model("planning"); got != "gpt-4o" {
		t.Fatalf("expected planning model gpt-4o, got %q", got)
	}
	if got := cfg.LLM.Routing.Model("chatting"); got != "gpt-4o-mini" {
		t.Fatalf("expected chatting to fall back to gpt-4o-mini, got %q", got)
	}
	if p, ok := cfg.LLM.Providers["openai"]; !ok || p.Type != "openai" {
		t.Fatalf("expected default openai provider, got %+v", cfg.LLM.Providers)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `{"server": {"address": ":9000"}}`)
	t.Setenv("DREW_SERVER_ADDRESS", ":7000")
	t.Setenv("DREW_AGENTS_TOOL_CALLING", "true")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":7000" {
		t.Fatalf("expected env override :7000, got %q", cfg.Server.Address)
	}
	if !cfg.Agents.ToolCalling {
		t.Fatalf("expected tool calling enabled from env")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "drew"}
	want := "postgres://u:p@db:5432/drew?sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
	p.URL = "postgres://explicit"
	if got := p.DSN(); got != "postgres://explicit" {
		t.Fatalf("expected url to win, got %q", got)
	}
}

func TestValidateRejectsMissingPostgres(t *testing.T) {
	cfg := &Config{
		Storage:   StorageConfig{Redis: RedisConfig{Host: "localhost", Port: "6379"}},
		Embedding: EmbeddingConfig{Dimensions: 8},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected postgres validation error")
	}
}

func TestLoadDefaultTimeoutFillsUnsetTimeouts(t *testing.T) {
	path := writeConfig(t, `{
  "general": {"debug": true, "default_timeout": "5s"},
  "llm": {"providers": {
    "local": {"type": "openai", "base_url": "http://localhost:8080/v1"},
    "openai": {"type": "openai", "timeout": "90s"}
  }},
  "storage": {"redis": {"timeout": "1s"}}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.General.Debug {
		t.Fatalf("expected debug on")
	}
	if got := cfg.LLM.Providers["local"].Timeout; got != 5*time.Second {
		t.Fatalf("local provider timeout = %s, want 5s", got)
	}
	if got := cfg.LLM.Providers["openai"].Timeout; got != 90*time.Second {
		t.Fatalf("explicit provider timeout overwritten: %s", got)
	}
	if cfg.Storage.Postgres.Timeout != 5*time.Second || cfg.Storage.Redis.Timeout != time.Second {
		t.Fatalf("unexpected storage timeouts pg=%s redis=%s", cfg.Storage.Postgres.Timeout, cfg.Storage.Redis.Timeout)
	}
}
