package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"usvchain/crypto"
)

func TestMain(m *testing.M) {
	keystoreParams = crypto.LightScrypt
	os.Exit(m.Run())
}

func TestLoadCreatesDefault(t *testing.T) {
	t.Setenv(EnvKeystorePass, "pw")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthorityKeystorePath != filepath.Join(dir, "authority.keystore") {
		t.Fatalf("unexpected keystore path %q", cfg.AuthorityKeystorePath)
	}
	if _, err := crypto.LoadFromKeystore(cfg.AuthorityKeystorePath, "pw"); err != nil {
		t.Fatalf("keystore should decrypt with env passphrase: %v", err)
	}
	if cfg.ListenAddress == "" || cfg.RateLimit.TxPerMinute == 0 {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.AuthorityKeystorePath != cfg.AuthorityKeystorePath {
		t.Fatalf("reload changed keystore path")
	}
}

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	keystore := filepath.Join(dir, "keys", "auth.json")
	contents := fmt.Sprintf(`ListenAddress = "0.0.0.0:9000"
DataDir = "%s"
AuthorityKeystorePath = "%s"
ClaimBaseURL = "https://claim.example/r"

[rate_limit]
TxPerMinute = 30
TxBurst = 5

[webhook]
URL = "https://hooks.example/usv"
SecretEnv = "TEST_WEBHOOK_SECRET"

[index]
Enabled = true
ListenAddress = "127.0.0.1:9100"
Driver = "postgres"
DSN = "postgres://usv@localhost/usv"
`, filepath.Join(dir, "data"), keystore)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvEnvironment, "staging")
	t.Setenv("TEST_WEBHOOK_SECRET", "hook")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "0.0.0.0:9000" || cfg.RateLimit.TxPerMinute != 30 || cfg.RateLimit.TxBurst != 5 {
		t.Fatalf("unexpected parsed values: %+v", cfg)
	}
	if cfg.RateLimit.QueryPerMinute != 600 {
		t.Fatalf("expected default query limit, got %v", cfg.RateLimit.QueryPerMinute)
	}
	if cfg.Environment != "staging" {
		t.Fatalf("expected env override, got %q", cfg.Environment)
	}
	if cfg.Index.Driver != "postgres" || cfg.Index.DSN != "postgres://usv@localhost/usv" {
		t.Fatalf("unexpected index config: %+v", cfg.Index)
	}
	if !crypto.KeystoreExists(keystore) {
		t.Fatalf("expected keystore to be created at configured path")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("ListenAdress = \"typo\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "ListenAdress") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{ListenAddress: "127.0.0.1:8547", DataDir: "data"}
		applyDefaults(cfg)
		return cfg
	}
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad listen", func(c *Config) { c.ListenAddress = "nope" }, "ListenAddress"},
		{"negative rate", func(c *Config) { c.RateLimit.TxPerMinute = -1 }, "rate limits"},
		{"auth without secret", func(c *Config) { c.RPCAuth = RPCAuthConfig{Enabled: true, HMACSecretEnv: "UNSET_TEST_SECRET"} }, "rpc_auth"},
		{"webhook without secret", func(c *Config) { c.Webhook.URL = "https://hooks.example" }, "secret env"},
		{"webhook bad url", func(c *Config) { c.Webhook.URL = "ftp://hooks.example" }, "webhook URL"},
		{"index driver", func(c *Config) {
			c.Index = IndexConfig{Enabled: true, Driver: "mysql", DSN: "x", ListenAddress: "127.0.0.1:1"}
		}, "index driver"},
		{"claim url", func(c *Config) { c.ClaimBaseURL = "claim" }, "ClaimBaseURL"},
		{"missing genesis", func(c *Config) { c.GenesisFile = "/nonexistent/genesis.json" }, "GenesisFile"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base config must validate: %v", err)
	}
}

func TestLoadUsesPassphraseSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path, WithKeystorePassphraseSource(func() (string, error) { return "from-source", nil }))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := crypto.LoadFromKeystore(cfg.AuthorityKeystorePath, "from-source"); err != nil {
		t.Fatalf("keystore should decrypt with sourced passphrase: %v", err)
	}
}
