package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"usvchain/cmd/internal/passphrase"
	"usvchain/config"
	"usvchain/core"
	"usvchain/core/genesis"
	"usvchain/crypto"
	"usvchain/integrations/webhooks"
	"usvchain/native/rewards"
	"usvchain/observability/logging"
	telemetry "usvchain/observability/otel"
	"usvchain/rpc"
	"usvchain/rpc/middleware"
	"usvchain/services/codeindex"
	"usvchain/storage"
)

const authorityPassEnv = config.EnvKeystorePass

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	bootstrap := flag.Bool("bootstrap", false, "Initialize the program with the configured authority key when no program state exists")
	flag.Parse()

	if err := run(*configFile, *bootstrap); err != nil {
		fmt.Fprintf(os.Stderr, "usvd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string, bootstrap bool) error {
	passSource := passphrase.NewSource(authorityPassEnv, "authority keystore")

	cfg, err := config.Load(configFile, config.WithKeystorePassphraseSource(passSource.Get))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service: "usvd",
		Env:     cfg.Environment,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	spec, err := loadGenesis(cfg.GenesisFile)
	if err != nil {
		return err
	}
	params, err := spec.RewardsParams()
	if err != nil {
		return err
	}
	chainID := spec.ChainIDValue()

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	authorityKey, err := loadAuthorityKey(cfg, passSource.Get)
	if err != nil {
		return err
	}
	authority := authorityKey.PubKey().Address().Array()

	nodeOpts := []core.Option{
		core.WithChainID(chainID),
		core.WithLogger(logger),
	}

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	if endpoint := strings.TrimSpace(cfg.Webhook.URL); endpoint != "" {
		dispatcher, err := webhooks.NewDispatcher(endpoint, []byte(config.SecretFromEnv(cfg.Webhook.SecretEnv)),
			webhooks.WithLogger(logger),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0),
		)
		if err != nil {
			return fmt.Errorf("webhook dispatcher: %w", err)
		}
		closers = append(closers, closerFunc(dispatcher.Close))
		nodeOpts = append(nodeOpts, core.WithEmitter(dispatcher))
		logger.Info("webhook delivery enabled", slog.String("host", hostOf(endpoint)),
			logging.MaskField("secret", config.SecretFromEnv(cfg.Webhook.SecretEnv)))
	}

	var indexServer *http.Server
	if cfg.Index.Enabled {
		gdb, err := codeindex.Open(cfg.Index.Driver, cfg.Index.DSN)
		if err != nil {
			return fmt.Errorf("open code index: %w", err)
		}
		store := codeindex.NewStore(gdb)
		closers = append(closers, store)
		nodeOpts = append(nodeOpts, core.WithEmitter(codeindex.NewIndexer(store, params.RewardPerClaim.Dec(), logger)))

		jwtSecret := config.SecretFromEnv(cfg.Index.JWTSecretEnv)
		api := codeindex.NewServer(store, codeindex.ServerConfig{
			Auth: middleware.AuthConfig{
				Enabled:    jwtSecret != "",
				HMACSecret: jwtSecret,
				Issuer:     cfg.RPCAuth.Issuer,
				Audience:   cfg.RPCAuth.Audience,
			},
			RateLimit: middleware.RateLimit{
				RequestsPerMinute: cfg.Index.RequestsPerMinute,
				Burst:             cfg.Index.Burst,
			},
			TrustProxy: cfg.RateLimit.TrustProxyHeaders,
		}, logger)
		indexServer = &http.Server{
			Addr:              cfg.Index.ListenAddress,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	node, err := core.NewNode(db, params, nodeOpts...)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	if want, ok := spec.AuthorityAddress(); ok && want != authority && bootstrap {
		return fmt.Errorf("genesis authority %s does not match keystore %s",
			crypto.FormatAddress(want), crypto.FormatAddress(authority))
	}
	if err := checkProgram(ctx, node, authority, bootstrap, logger); err != nil {
		return err
	}

	rpcServer := rpc.NewServer(node, rpc.ServerConfig{
		Auth: middleware.AuthConfig{
			Enabled:    cfg.RPCAuth.Enabled,
			HMACSecret: config.SecretFromEnv(cfg.RPCAuth.HMACSecretEnv),
			Issuer:     cfg.RPCAuth.Issuer,
			Audience:   cfg.RPCAuth.Audience,
		},
		RateLimits: map[string]middleware.RateLimit{
			rpc.RouteTransactions: {RequestsPerMinute: cfg.RateLimit.TxPerMinute, Burst: cfg.RateLimit.TxBurst},
			rpc.RouteQueries:      {RequestsPerMinute: cfg.RateLimit.QueryPerMinute, Burst: cfg.RateLimit.QueryBurst},
		},
		TrustProxyHeaders: cfg.RateLimit.TrustProxyHeaders,
		AllowedOrigins:    cfg.AllowedOrigins,
	}, logger)

	errCh := make(chan error, 2)
	go func() {
		errCh <- rpcServer.Start(cfg.ListenAddress)
	}()
	if err := waitForStartup(cfg.ListenAddress, errCh, 5*time.Second); err != nil {
		return fmt.Errorf("rpc server failed to start: %w", err)
	}
	logger.Info("rpc server listening",
		slog.String("address", cfg.ListenAddress),
		slog.Uint64("chain_id", chainID),
		slog.String("authority", crypto.FormatAddress(authority)))

	if indexServer != nil {
		go func() {
			if err := indexServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("code index server: %w", err)
			}
		}()
		logger.Info("code index api listening", slog.String("address", cfg.Index.ListenAddress))
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server terminated", slog.Any("error", err))
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rpc shutdown failed", slog.Any("error", err))
	}
	if indexServer != nil {
		if err := indexServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("code index shutdown failed", slog.Any("error", err))
		}
	}
	return runErr
}

// checkProgram reports the program status at startup and, when asked,
// initializes it with the node's authority key.
func checkProgram(ctx context.Context, node *core.Node, authority [20]byte, bootstrap bool, logger *slog.Logger) error {
	ps, err := node.ProgramState()
	switch {
	case errors.Is(err, rewards.ErrNotInitialized):
		if !bootstrap {
			logger.Warn("rewards program not initialized; the authority must submit an initialize instruction or restart with -bootstrap")
			return nil
		}
		if _, err := node.Execute(ctx, authority, core.InitializeInstruction()); err != nil {
			return fmt.Errorf("bootstrap program: %w", err)
		}
		logger.Info("rewards program initialized", slog.String("authority", crypto.FormatAddress(authority)))
		return nil
	case err != nil:
		return fmt.Errorf("load program state: %w", err)
	}
	if ps.Authority != authority {
		logger.Warn("configured key is not the program authority",
			slog.String("authority", crypto.FormatAddress(ps.Authority)),
			slog.String("configured", crypto.FormatAddress(authority)))
	}
	logger.Info("rewards program loaded",
		slog.Uint64("total_qr_codes", ps.TotalQrCodes),
		slog.String("tokens_claimed", ps.TokensClaimed.Dec()),
		slog.Bool("paused", ps.Paused))
	return nil
}

// loadGenesis returns the deployment's genesis spec. Without a file the
// genesis defaults apply.
func loadGenesis(path string) (*genesis.GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return &genesis.GenesisSpec{}, nil
	}
	spec, err := genesis.LoadGenesisSpec(path)
	if err != nil {
		return nil, fmt.Errorf("load genesis %s: %w", path, err)
	}
	return spec, nil
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	tc := telemetry.ConfigFromEnv("usvd", cfg.Environment).
		WithEndpoint(cfg.Telemetry.Endpoint, cfg.Telemetry.Insecure, cfg.Telemetry.Traces, cfg.Telemetry.Metrics)
	if cfg.Telemetry.SampleRatio > 0 {
		tc.SampleRatio = cfg.Telemetry.SampleRatio
	}
	return tc
}

func loadAuthorityKey(cfg *config.Config, resolvePassphrase func() (string, error)) (*crypto.PrivateKey, error) {
	if cfg.AuthorityKeystorePath == "" {
		return nil, fmt.Errorf("authority keystore path not configured")
	}
	passphrase, err := resolvePassphrase()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain authority keystore passphrase: %w", err)
	}
	key, err := crypto.LoadFromKeystore(cfg.AuthorityKeystorePath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt keystore %s: %w", cfg.AuthorityKeystorePath, err)
	}
	return key, nil
}

func waitForStartup(addr string, errCh <-chan error, timeout time.Duration) error {
	dialAddr := dialAddressFor(addr)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		conn, err := net.DialTimeout("tcp", dialAddr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case err := <-errCh:
			if err != nil {
				return err
			}
			return fmt.Errorf("server exited before startup confirmation")
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for server to start on %s", addr)
		}
	}
}

func dialAddressFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// hostOf keeps credentials and paths out of logs.
func hostOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return u.Host
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
