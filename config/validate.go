package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
)

// Validate rejects inconsistent settings before the node starts.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("config: invalid ListenAddress %q: %w", c.ListenAddress, err)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if genesis := strings.TrimSpace(c.GenesisFile); genesis != "" {
		if info, err := os.Stat(genesis); err != nil || info.IsDir() {
			return fmt.Errorf("config: GenesisFile %q is not a readable file", genesis)
		}
	}
	if c.RateLimit.TxPerMinute < 0 || c.RateLimit.QueryPerMinute < 0 {
		return fmt.Errorf("config: rate limits must not be negative")
	}
	if c.RateLimit.TxBurst < 0 || c.RateLimit.QueryBurst < 0 {
		return fmt.Errorf("config: rate limit bursts must not be negative")
	}
	if c.RPCAuth.Enabled && SecretFromEnv(c.RPCAuth.HMACSecretEnv) == "" {
		return fmt.Errorf("config: rpc_auth enabled but %q is empty", c.RPCAuth.HMACSecretEnv)
	}
	if webhook := strings.TrimSpace(c.Webhook.URL); webhook != "" {
		u, err := url.Parse(webhook)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config: invalid webhook URL %q", webhook)
		}
		if SecretFromEnv(c.Webhook.SecretEnv) == "" {
			return fmt.Errorf("config: webhook URL set but secret env %q is empty", c.Webhook.SecretEnv)
		}
		if c.Webhook.MaxAttempts < 1 {
			return fmt.Errorf("config: webhook MaxAttempts must be positive")
		}
	}
	if c.Index.Enabled {
		switch strings.ToLower(c.Index.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("config: unsupported index driver %q", c.Index.Driver)
		}
		if strings.TrimSpace(c.Index.DSN) == "" {
			return fmt.Errorf("config: index DSN required")
		}
		if _, _, err := net.SplitHostPort(c.Index.ListenAddress); err != nil {
			return fmt.Errorf("config: invalid index ListenAddress %q: %w", c.Index.ListenAddress, err)
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: telemetry SampleRatio must be within [0,1]")
	}
	if base := strings.TrimSpace(c.ClaimBaseURL); base != "" {
		if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: invalid ClaimBaseURL %q", base)
		}
	}
	return nil
}
