package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/broady/fedapi/identifiers"
	"golang.org/x/time/rate"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fedapi.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Listen != ":8448" {
		t.Errorf("Listen = %q, want :8448", cfg.Listen)
	}
	if cfg.ServerName.String() != "localhost" {
		t.Errorf("ServerName = %q, want localhost", cfg.ServerName)
	}
	if cfg.KeyValidity != 24*time.Hour {
		t.Errorf("KeyValidity = %v, want 24h", cfg.KeyValidity)
	}
	if cfg.RateLimit != rate.Limit(10) || cfg.RateBurst != 20 {
		t.Errorf("rate = %v/%d, want 10/20", cfg.RateLimit, cfg.RateBurst)
	}
	if len(cfg.SigningSeed) != 0 {
		t.Error("expected no signing seed by default")
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
listen = "127.0.0.1:9000"
server_name = "example.org"
key_id = "ed25519:a_1"
signing_seed = "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8"
key_validity = "1h"

[resolve]
"other.org" = "http://127.0.0.1:9001"

[[devices]]
user = "@alice:example.org"
device_id = "ABCDEFGH"
display_name = "phone"
`)

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.ServerName.String() != "example.org" {
		t.Errorf("ServerName = %q", cfg.ServerName)
	}
	if cfg.KeyID.String() != "ed25519:a_1" {
		t.Errorf("KeyID = %q", cfg.KeyID)
	}
	if len(cfg.SigningSeed) != 32 || cfg.SigningSeed[31] != 31 {
		t.Errorf("SigningSeed = %v", cfg.SigningSeed)
	}
	if cfg.KeyValidity != time.Hour {
		t.Errorf("KeyValidity = %v", cfg.KeyValidity)
	}
	if cfg.RateBurst != 20 {
		t.Errorf("RateBurst = %d, want default 20", cfg.RateBurst)
	}
	if len(cfg.Devices) != 1 || cfg.Devices[0].DisplayName != "phone" {
		t.Errorf("Devices = %+v", cfg.Devices)
	}

	other := identifiers.MustParse[identifiers.ServerNameKind]("other.org")
	if got := cfg.baseURL(other); got != "http://127.0.0.1:9001" {
		t.Errorf("baseURL(other.org) = %q", got)
	}
	if got := cfg.baseURL(cfg.ServerName); got != "https://example.org" {
		t.Errorf("baseURL(example.org) = %q", got)
	}

	key, generated, err := cfg.signingKey()
	if err != nil || generated {
		t.Fatalf("signingKey: generated=%v err=%v", generated, err)
	}
	if key.ID() != cfg.KeyID {
		t.Errorf("key ID = %s", key.ID())
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
listen = "127.0.0.1:9000"
server_name = "example.org"
`)
	t.Setenv("FEDAPI_LISTEN", ":8008")
	t.Setenv("FEDAPI_SERVER_NAME", "env.example.org")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Listen != ":8008" {
		t.Errorf("Listen = %q, want :8008", cfg.Listen)
	}
	if cfg.ServerName.String() != "env.example.org" {
		t.Errorf("ServerName = %q", cfg.ServerName)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", `colour = "blue"`},
		{"bad server name", `server_name = "exa mple.org"`},
		{"bad key id", `key_id = "ed25519"`},
		{"wrong algorithm", `key_id = "curve25519:a"`},
		{"bad seed", `signing_seed = "!!!"`},
		{"bad validity", `key_validity = "soon"`},
		{"negative validity", `key_validity = "-1h"`},
		{"bad device user", "[[devices]]\nuser = \"alice\"\ndevice_id = \"ABC\""},
		{"empty device id", "[[devices]]\nuser = \"@alice:example.org\"\ndevice_id = \"\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadConfig(writeConfig(t, tt.content)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
