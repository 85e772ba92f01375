package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/broady/fedapi"
	"github.com/broady/fedapi/identifiers"
	"github.com/broady/fedapi/signing"
	"github.com/joeshaw/envdecode"
	"golang.org/x/time/rate"
)

// Config is the resolved configuration of the reference server.
type Config struct {
	Listen      string
	ServerName  identifiers.ServerName
	KeyID       identifiers.KeyID
	SigningSeed []byte
	KeyValidity time.Duration
	RateLimit   rate.Limit
	RateBurst   int
	MaxBodySize int64
	// Resolve maps server names to base URLs.
	Resolve map[string]string
	Devices []DeviceConfig
}

// DeviceConfig is one entry of the static device list.
type DeviceConfig struct {
	User        string `toml:"user"`
	DeviceID    string `toml:"device_id"`
	DisplayName string `toml:"display_name"`
}

type fileConfig struct {
	Listen      string            `toml:"listen"`
	ServerName  string            `toml:"server_name"`
	KeyID       string            `toml:"key_id"`
	SigningSeed string            `toml:"signing_seed"`
	KeyValidity string            `toml:"key_validity"`
	RateLimit   float64           `toml:"rate_limit"`
	RateBurst   int               `toml:"rate_burst"`
	MaxBodySize int64             `toml:"max_body_size"`
	Resolve     map[string]string `toml:"resolve"`
	Devices     []DeviceConfig    `toml:"devices"`
}

// envConfig overrides the file. Unset variables leave the file value.
type envConfig struct {
	Listen      string `env:"FEDAPI_LISTEN"`
	ServerName  string `env:"FEDAPI_SERVER_NAME"`
	SigningSeed string `env:"FEDAPI_SIGNING_SEED"`
	KeyID       string `env:"FEDAPI_KEY_ID"`
}

func defaultConfig() fileConfig {
	return fileConfig{
		Listen:      ":8448",
		ServerName:  "localhost",
		KeyID:       "ed25519:auto",
		KeyValidity: "24h",
		RateLimit:   10,
		RateBurst:   20,
		MaxBodySize: fedapi.DefaultMaxBodySize,
	}
}

// loadConfig layers the TOML file at path (if any) and the environment over
// the defaults.
func loadConfig(path string) (Config, error) {
	raw := defaultConfig()
	if path != "" {
		var file fileConfig
		meta, err := toml.DecodeFile(path, &file)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("load config: unknown key %s", undecoded[0])
		}
		mergeFile(&raw, file, meta)
	}

	var env envConfig
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}
	mergeEnv(&raw, env)

	return raw.resolve()
}

func mergeFile(dst *fileConfig, src fileConfig, meta toml.MetaData) {
	if meta.IsDefined("listen") {
		dst.Listen = strings.TrimSpace(src.Listen)
	}
	if meta.IsDefined("server_name") {
		dst.ServerName = strings.TrimSpace(src.ServerName)
	}
	if meta.IsDefined("key_id") {
		dst.KeyID = strings.TrimSpace(src.KeyID)
	}
	if meta.IsDefined("signing_seed") {
		dst.SigningSeed = strings.TrimSpace(src.SigningSeed)
	}
	if meta.IsDefined("key_validity") {
		dst.KeyValidity = strings.TrimSpace(src.KeyValidity)
	}
	if meta.IsDefined("rate_limit") {
		dst.RateLimit = src.RateLimit
	}
	if meta.IsDefined("rate_burst") {
		dst.RateBurst = src.RateBurst
	}
	if meta.IsDefined("max_body_size") {
		dst.MaxBodySize = src.MaxBodySize
	}
	if meta.IsDefined("resolve") {
		dst.Resolve = src.Resolve
	}
	if meta.IsDefined("devices") {
		dst.Devices = src.Devices
	}
}

func mergeEnv(dst *fileConfig, env envConfig) {
	if env.Listen != "" {
		dst.Listen = env.Listen
	}
	if env.ServerName != "" {
		dst.ServerName = env.ServerName
	}
	if env.SigningSeed != "" {
		dst.SigningSeed = env.SigningSeed
	}
	if env.KeyID != "" {
		dst.KeyID = env.KeyID
	}
}

func (raw fileConfig) resolve() (Config, error) {
	cfg := Config{
		Listen:      raw.Listen,
		RateLimit:   rate.Limit(raw.RateLimit),
		RateBurst:   raw.RateBurst,
		MaxBodySize: raw.MaxBodySize,
		Resolve:     raw.Resolve,
		Devices:     raw.Devices,
	}

	var err error
	if cfg.ServerName, err = identifiers.ParseServerName(raw.ServerName); err != nil {
		return Config{}, fmt.Errorf("server_name: %w", err)
	}
	if cfg.KeyID, err = identifiers.ParseKeyID(raw.KeyID); err != nil {
		return Config{}, fmt.Errorf("key_id: %w", err)
	}
	if identifiers.KeyAlgorithm(cfg.KeyID) != signing.Algorithm {
		return Config{}, fmt.Errorf("key_id: algorithm must be %s", signing.Algorithm)
	}
	if raw.SigningSeed != "" {
		if cfg.SigningSeed, err = signing.DecodeBase64(raw.SigningSeed); err != nil {
			return Config{}, fmt.Errorf("signing_seed: %w", err)
		}
	}
	if cfg.KeyValidity, err = time.ParseDuration(raw.KeyValidity); err != nil {
		return Config{}, fmt.Errorf("key_validity: %w", err)
	}
	if cfg.KeyValidity <= 0 {
		return Config{}, fmt.Errorf("key_validity must be positive")
	}
	for i, d := range cfg.Devices {
		if _, err := identifiers.ParseUserID(d.User); err != nil {
			return Config{}, fmt.Errorf("devices[%d].user: %w", i, err)
		}
		if _, err := identifiers.ParseDeviceID(d.DeviceID); err != nil {
			return Config{}, fmt.Errorf("devices[%d].device_id: %w", i, err)
		}
	}
	return cfg, nil
}

// signingKey returns the configured key, or a new random key when no seed
// is configured.
func (c Config) signingKey() (*signing.Key, bool, error) {
	if len(c.SigningSeed) == 0 {
		k, err := signing.GenerateKey(identifiers.KeyVersion(c.KeyID))
		return k, true, err
	}
	k, err := signing.NewKey(c.KeyID, c.SigningSeed)
	return k, false, err
}

// baseURL returns where requests for server are sent.
func (c Config) baseURL(server identifiers.ServerName) string {
	if u, ok := c.Resolve[server.String()]; ok {
		return u
	}
	return "https://" + server.String()
}
