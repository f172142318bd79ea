package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"livecart/internal/app"
)

type rootOptions struct {
	configPath string
	dbPath     string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "livecart: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "livecart",
		Short:         "Live shopping relay: WebRTC signaling, product highlights and moderated chat",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", envOrDefault("LIVECART_CONFIG", ""), "path to a YAML config file")
	flags.StringVar(&opts.dbPath, "db", envOrDefault("LIVECART_DB_PATH", ""), "sqlite database path")
	flags.StringVar(&opts.logLevel, "log-level", envOrDefault("LIVECART_LOG_LEVEL", ""), "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", envOrDefault("LIVECART_LOG_FORMAT", ""), "log format (text, json)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newUserCmd(opts),
		newProductCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

// loadConfig merges the config file (if any) with flags and environment.
// Flags win over the file.
func (opts *rootOptions) loadConfig() (app.ServerConfig, error) {
	var cfg app.ServerConfig
	if strings.TrimSpace(opts.configPath) != "" {
		loaded, err := app.LoadConfigFile(opts.configPath)
		if err != nil {
			return app.ServerConfig{}, err
		}
		cfg = loaded
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.LogFormat = opts.logFormat
	}
	if secret := os.Getenv("LIVECART_JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}
	return cfg.WithDefaults(), nil
}

func (opts *rootOptions) logger(cfg app.ServerConfig) *slog.Logger {
	return app.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr    string
		path    string
		origins []string
		proxies []string
		secure  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if overridden(cmd, "addr", "LIVECART_ADDR") || cfg.Addr == "" {
				cfg.Addr = addr
			}
			if overridden(cmd, "path", "LIVECART_WS_PATH") {
				cfg.Path = app.NormalizeJoinPath(path)
			}
			if len(origins) > 0 {
				cfg.AllowedOrigins = origins
			}
			if len(proxies) > 0 {
				cfg.TrustedProxies = proxies
			}
			if secure {
				cfg.SecureCookies = true
			}
			logger := opts.logger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handle, err := app.RunServer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return handle.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envOrDefault("LIVECART_ADDR", ":8080"), "listen address")
	cmd.Flags().StringVar(&path, "path", envOrDefault("LIVECART_WS_PATH", "/ws"), "websocket path")
	cmd.Flags().StringSliceVar(&origins, "allowed-origin", nil, "allowed websocket Origin (repeatable)")
	cmd.Flags().StringSliceVar(&proxies, "trusted-proxy", nil, "proxy address or CIDR whose X-Forwarded-For is trusted (repeatable)")
	cmd.Flags().BoolVar(&secure, "secure-cookies", os.Getenv("LIVECART_SECURE_COOKIES") == "true", "mark the session cookie Secure")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cmd.Context(), cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "database ready at %s\n", cfg.DBPath)
			return nil
		},
	}
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Mint a session token for an existing user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("jwt secret is required (config or LIVECART_JWT_SECRET)")
			}
			if ttl > 0 {
				cfg.TokenTTL = ttl
			}
			store, err := app.OpenStore(cmd.Context(), cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			token, err := app.MintToken(cmd.Context(), store, cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to the configured TTL)")
	return cmd
}

// overridden reports whether a flag was given explicitly or through its
// environment variable, either of which beats the config file.
func overridden(cmd *cobra.Command, flag, env string) bool {
	return cmd.Flags().Changed(flag) || strings.TrimSpace(os.Getenv(env)) != ""
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, 10*time.Second)
}
