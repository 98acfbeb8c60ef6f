package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ADMIN_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.RoundInterval != 5*time.Second {
		t.Fatalf("expected default round interval 5s, got %v", cfg.RoundInterval)
	}
	if cfg.ErrorCooldown != 25*time.Second {
		t.Fatalf("expected default error cooldown 25s, got %v", cfg.ErrorCooldown)
	}
	if cfg.MaxCooldown != 5*time.Minute {
		t.Fatalf("expected default max cooldown 5m, got %v", cfg.MaxCooldown)
	}
}

func TestLoadRequiresAdminSecret(t *testing.T) {
	t.Setenv("ADMIN_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without ADMIN_SECRET")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ADMIN_SECRET", "s3cret")
	t.Setenv("PORT", "9090")
	t.Setenv("AGENT_MESSAGE_INTERVAL_SECONDS", "30")
	t.Setenv("TURN_DELAY", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.RoundInterval != 30*time.Second {
		t.Fatalf("expected 30s round interval, got %v", cfg.RoundInterval)
	}
	if cfg.TurnDelay != 2*time.Second {
		t.Fatalf("expected 2s turn delay, got %v", cfg.TurnDelay)
	}
}

func writeAgentsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write agents file: %v", err)
	}
	return path
}

func TestLoadAgents(t *testing.T) {
	t.Parallel()

	cfg := &Config{AgentsFile: writeAgentsFile(t, `[
		{"id": "host-1", "name": "Marilyn", "host": true, "credential": "host-key"},
		{"id": "agent-a", "name": "Alice"},
		{"id": "agent-b", "name": "Bob"}
	]`)}

	host, contestants, err := cfg.LoadAgents()
	if err != nil {
		t.Fatalf("LoadAgents failed: %v", err)
	}
	if host.ID != "host-1" || !host.Host {
		t.Fatalf("unexpected host %+v", host)
	}
	if len(contestants) != 2 {
		t.Fatalf("expected 2 contestants, got %d", len(contestants))
	}
}

func TestLoadAgentsValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
	}{
		{"no host", `[{"id": "agent-a", "name": "Alice"}]`},
		{"two hosts", `[
			{"id": "h1", "name": "A", "host": true},
			{"id": "h2", "name": "B", "host": true},
			{"id": "c1", "name": "C"}
		]`},
		{"no contestants", `[{"id": "h1", "name": "A", "host": true}]`},
		{"missing name", `[{"id": "h1", "host": true}, {"id": "c1", "name": "C"}]`},
		{"invalid json", `{`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{AgentsFile: writeAgentsFile(t, tc.content)}
			if _, _, err := cfg.LoadAgents(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
