package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"usvchain/crypto"
)

const (
	// EnvEnvironment overrides Config.Environment.
	EnvEnvironment = "USV_ENV"
	// EnvKeystorePass supplies the authority keystore passphrase.
	EnvKeystorePass = "USV_KEYSTORE_PASS"
)

// keystoreParams is the scrypt cost used for keystores created by Load.
var keystoreParams = crypto.StandardScrypt

type Config struct {
	ListenAddress         string `toml:"ListenAddress"`
	DataDir               string `toml:"DataDir"`
	Environment           string `toml:"Environment"`
	LogLevel              string `toml:"LogLevel"`
	LogFile               string `toml:"LogFile"`
	GenesisFile           string `toml:"GenesisFile"`
	AuthorityKeystorePath string `toml:"AuthorityKeystorePath"`
	ClaimBaseURL          string   `toml:"ClaimBaseURL"`
	AllowedOrigins        []string `toml:"AllowedOrigins"`

	RateLimit RateLimitConfig `toml:"rate_limit"`
	RPCAuth   RPCAuthConfig   `toml:"rpc_auth"`
	Webhook   WebhookConfig   `toml:"webhook"`
	Index     IndexConfig     `toml:"index"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

type RateLimitConfig struct {
	TxPerMinute       float64 `toml:"TxPerMinute"`
	TxBurst           int     `toml:"TxBurst"`
	QueryPerMinute    float64 `toml:"QueryPerMinute"`
	QueryBurst        int     `toml:"QueryBurst"`
	TrustProxyHeaders bool    `toml:"TrustProxyHeaders"`
}

// RPCAuthConfig gates usv_sendTransaction behind an HS256 bearer token. The
// secret itself is read from the environment variable named by HMACSecretEnv.
type RPCAuthConfig struct {
	Enabled       bool   `toml:"Enabled"`
	HMACSecretEnv string `toml:"HMACSecretEnv"`
	Issuer        string `toml:"Issuer"`
	Audience      string `toml:"Audience"`
}

type WebhookConfig struct {
	URL         string `toml:"URL"`
	SecretEnv   string `toml:"SecretEnv"`
	MaxAttempts int    `toml:"MaxAttempts"`
}

type IndexConfig struct {
	Enabled           bool    `toml:"Enabled"`
	ListenAddress     string  `toml:"ListenAddress"`
	Driver            string  `toml:"Driver"`
	DSN               string  `toml:"DSN"`
	JWTSecretEnv      string  `toml:"JWTSecretEnv"`
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// TelemetryConfig overrides the OTEL_EXPORTER_OTLP_* environment when
// Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// LoadOption customises Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	passphrase func() (string, error)
}

// WithKeystorePassphraseSource sets the passphrase used when Load has to
// create the authority keystore. The default reads USV_KEYSTORE_PASS.
func WithKeystorePassphraseSource(fn func() (string, error)) LoadOption {
	return func(o *loadOptions) {
		if fn != nil {
			o.passphrase = fn
		}
	}
}

// Load loads the configuration from the given path, creating a default file
// and a fresh authority keystore when it does not exist.
func Load(path string, opts ...LoadOption) (*Config, error) {
	options := loadOptions{passphrase: func() (string, error) { return os.Getenv(EnvKeystorePass), nil }}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path, options.passphrase)
		if err != nil {
			return nil, err
		}
		applyEnv(cfg)
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}
	if err := ensureKeystore(path, cfg, options.passphrase); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = "127.0.0.1:8547"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./usv-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if cfg.RateLimit.TxPerMinute == 0 {
		cfg.RateLimit.TxPerMinute = 120
	}
	if cfg.RateLimit.TxBurst == 0 {
		cfg.RateLimit.TxBurst = 20
	}
	if cfg.RateLimit.QueryPerMinute == 0 {
		cfg.RateLimit.QueryPerMinute = 600
	}
	if cfg.RateLimit.QueryBurst == 0 {
		cfg.RateLimit.QueryBurst = 60
	}
	if cfg.Webhook.MaxAttempts == 0 {
		cfg.Webhook.MaxAttempts = 5
	}
	if strings.TrimSpace(cfg.Index.Driver) == "" {
		cfg.Index.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.Index.DSN) == "" && strings.EqualFold(cfg.Index.Driver, "sqlite") {
		cfg.Index.DSN = filepath.Join(cfg.DataDir, "codeindex.db")
	}
}

func applyEnv(cfg *Config) {
	if env := strings.TrimSpace(os.Getenv(EnvEnvironment)); env != "" {
		cfg.Environment = env
	}
}

func ensureKeystore(configPath string, cfg *Config, passphrase func() (string, error)) error {
	keystorePath := cfg.AuthorityKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		if err := createKeystore(keystorePath, passphrase); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.AuthorityKeystorePath != keystorePath {
		cfg.AuthorityKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string, passphrase func() (string, error)) (*Config, error) {
	keystorePath := defaultKeystorePath(path)
	if err := createKeystore(keystorePath, passphrase); err != nil {
		return nil, err
	}

	cfg := &Config{AuthorityKeystorePath: keystorePath}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createKeystore(path string, passphrase func() (string, error)) error {
	pass, err := passphrase()
	if err != nil {
		return fmt.Errorf("authority keystore passphrase: %w", err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	return crypto.SaveToKeystoreWithParams(path, key, pass, keystoreParams)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." {
		dir = ""
	}
	return filepath.Join(dir, "authority.keystore")
}

// SecretFromEnv returns the trimmed value of the named environment variable.
func SecretFromEnv(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}
