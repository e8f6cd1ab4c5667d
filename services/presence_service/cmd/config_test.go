package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, env, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config."+env+".yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := writeConfig(t, "test", `
token:
  secret: s3cret
storage:
  driver: memory
log:
  service: presence-service
`)
	cfg, logCfg, err := loadConfig("test", dir)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Token.TTL != 2*time.Hour {
		t.Fatalf("token ttl: want=2h got=%v", cfg.Token.TTL)
	}
	if cfg.Session.StaleTimeout != 30*time.Second || cfg.Session.SweepInterval != 10*time.Second {
		t.Fatalf("session: got=%+v", cfg.Session)
	}
	if cfg.Session.SnapshotInterval != time.Minute || cfg.WS.LayoutRepoll != 30*time.Second {
		t.Fatalf("intervals: snapshot=%v layout=%v", cfg.Session.SnapshotInterval, cfg.WS.LayoutRepoll)
	}
	if cfg.WS.HeartbeatInterval != 10*time.Second {
		t.Fatalf("heartbeat: want=10s got=%v", cfg.WS.HeartbeatInterval)
	}
	if cfg.Token.WebSecret != "s3cret" {
		t.Fatalf("web secret fallback: got=%q", cfg.Token.WebSecret)
	}
	if cfg.Session.NodeID == "" {
		t.Fatalf("node id should be filled")
	}
	if logCfg.Service != "presence-service" || logCfg.Level != "info" {
		t.Fatalf("log config: got=%+v", logCfg)
	}
}

func TestLoadConfigSeed(t *testing.T) {
	dir := writeConfig(t, "test", `
token:
  secret: s3cret
storage:
  driver: memory
  seed:
    canvases:
      - id: C
        owner: U1
        grants:
          - user: U2
            role: editor
`)
	cfg, _, err := loadConfig("test", dir)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	c := cfg.Storage.Seed.Canvases
	if len(c) != 1 || len(c[0].Grants) != 1 || c[0].Grants[0].User != "U2" {
		t.Fatalf("seed: got=%+v", cfg.Storage.Seed)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing secret", "storage:\n  driver: memory\n", "token.secret"},
		{"mysql without dsn", "token:\n  secret: x\n", "dsn"},
		{"bad driver", "token:\n  secret: x\nstorage:\n  driver: mongo\n", "storage.driver"},
		{"heartbeat too slow", "token:\n  secret: x\nstorage:\n  driver: memory\nws:\n  heartbeat_interval: 45s\n", "heartbeat"},
	}
	for _, tc := range cases {
		dir := writeConfig(t, "test", tc.body)
		_, _, err := loadConfig("test", dir)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: want error containing %q got=%v", tc.name, tc.want, err)
		}
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := writeConfig(t, "test", "storage:\n  driver: memory\n")
	t.Setenv("PRESENCE_TOKEN_SECRET", "from-env")

	cfg, _, err := loadConfig("test", dir)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Token.Secret != "from-env" {
		t.Fatalf("secret: want=from-env got=%q", cfg.Token.Secret)
	}
}
