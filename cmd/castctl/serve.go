package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"castctl/internal/observability/logging"
	"castctl/internal/observability/metrics"
	"castctl/internal/server"
	"castctl/internal/serverutil"
	"castctl/internal/session"
)

const (
	controllerMemory = "memory"
	controllerRedis  = "redis"
)

type serveOptions struct {
	addr            string
	logLevel        string
	logFormat       string
	controller      string
	devices         keyValueFlag
	redisAddr       string
	redisAddrs      string
	redisUsername   string
	redisPassword   string
	redisPrefix     string
	redisTimeout    time.Duration
	shutdownTimeout time.Duration
	tlsCert         string
	tlsKey          string
}

// serveConfig is serveOptions after environment fallbacks are applied.
type serveConfig struct {
	Addr            string
	LogLevel        string
	LogFormat       string
	Controller      string
	Devices         []session.Device
	Redis           session.RedisConfig
	ShutdownTimeout time.Duration
	TLS             serverutil.TLSConfig
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control surface",
		Long: `Run the HTTP control surface until interrupted.

Every flag falls back to a CASTCTL_ environment variable, for example
--redis-addr and CASTCTL_REDIS_ADDR.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", "", "HTTP listen address (default :6767)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format (json or text)")
	flags.StringVar(&opts.controller, "controller", "", "session controller (memory or redis)")
	flags.Var(&opts.devices, "device", "seed the memory controller with a device (id=name, repeatable)")
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "Redis address for the bridged controller")
	flags.StringVar(&opts.redisAddrs, "redis-addrs", "", "comma separated Redis addresses for the bridged controller")
	flags.StringVar(&opts.redisUsername, "redis-username", "", "Redis username")
	flags.StringVar(&opts.redisPassword, "redis-password", "", "Redis password")
	flags.StringVar(&opts.redisPrefix, "redis-prefix", "", "key prefix shared with the bridged controller")
	flags.DurationVar(&opts.redisTimeout, "redis-timeout", 0, "timeout for Redis operations")
	flags.DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	flags.StringVar(&opts.tlsCert, "tls-cert", "", "path to TLS certificate file")
	flags.StringVar(&opts.tlsKey, "tls-key", "", "path to TLS private key file")
	return cmd
}

func (o *serveOptions) resolve() (serveConfig, error) {
	cfg := serveConfig{
		Addr:            firstNonEmpty(o.addr, env("ADDR"), server.DefaultAddr),
		LogLevel:        firstNonEmpty(o.logLevel, env("LOG_LEVEL"), "info"),
		LogFormat:       firstNonEmpty(o.logFormat, env("LOG_FORMAT"), string(logging.FormatJSON)),
		Controller:      strings.ToLower(firstNonEmpty(o.controller, env("CONTROLLER"), controllerMemory)),
		ShutdownTimeout: resolveDuration(o.shutdownTimeout, "SHUTDOWN_TIMEOUT", serverutil.DefaultShutdownTimeout),
		TLS: serverutil.TLSConfig{
			CertFile: firstNonEmpty(o.tlsCert, env("TLS_CERT")),
			KeyFile:  firstNonEmpty(o.tlsKey, env("TLS_KEY")),
		},
	}
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return serveConfig{}, fmt.Errorf("both --tls-cert and --tls-key are required to enable TLS")
	}

	switch cfg.Controller {
	case controllerMemory:
		for _, id := range o.devices.sortedKeys() {
			cfg.Devices = append(cfg.Devices, session.Device{ID: id, Name: o.devices[id]})
		}
	case controllerRedis:
		cfg.Redis = session.RedisConfig{
			Addr:     firstNonEmpty(o.redisAddr, env("REDIS_ADDR")),
			Addrs:    splitAndTrim(firstNonEmpty(o.redisAddrs, env("REDIS_ADDRS"))),
			Username: firstNonEmpty(o.redisUsername, env("REDIS_USERNAME")),
			Password: firstNonEmpty(o.redisPassword, env("REDIS_PASSWORD")),
			Prefix:   firstNonEmpty(o.redisPrefix, env("REDIS_PREFIX")),
			Timeout:  resolveDuration(o.redisTimeout, "REDIS_TIMEOUT", 5*time.Second),
		}
		if cfg.Redis.Addr == "" && len(cfg.Redis.Addrs) == 0 {
			return serveConfig{}, fmt.Errorf("redis controller requires --redis-addr or --redis-addrs")
		}
		if len(o.devices) > 0 {
			return serveConfig{}, fmt.Errorf("--device only applies to the memory controller")
		}
	default:
		return serveConfig{}, fmt.Errorf("unknown controller %q, expected memory or redis", cfg.Controller)
	}
	return cfg, nil
}

type closer interface {
	Close() error
}

// buildController returns the single controller shared by every request and
// an optional closer for its resources.
func buildController(ctx context.Context, cfg serveConfig, logger *slog.Logger) (session.Controller, closer, error) {
	switch cfg.Controller {
	case controllerRedis:
		redisCfg := cfg.Redis
		redisCfg.Logger = logging.WithComponent(logger, "session")
		controller, err := session.NewRedis(ctx, redisCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect session controller: %w", err)
		}
		return controller, controller, nil
	default:
		return session.NewMemory(cfg.Devices...), nil, nil
	}
}

func runServe(ctx context.Context, cfg serveConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	controller, resources, err := buildController(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise session controller", "controller", cfg.Controller, "error", err)
		return err
	}
	if resources != nil {
		defer func() {
			if err := resources.Close(); err != nil {
				logger.Warn("failed to close session controller", "error", err)
			}
		}()
	}
	logger.Info("session controller ready", "controller", cfg.Controller, "devices", len(cfg.Devices))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = server.Serve(ctx, server.ServeConfig{
		Controller:      controller,
		Addr:            cfg.Addr,
		Logger:          logger,
		Metrics:         metrics.Default(),
		TLS:             cfg.TLS,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	if memory, ok := controller.(*session.Memory); ok && memory.Dropped() > 0 {
		logger.Info("commands for unknown devices were dropped", "count", memory.Dropped())
	}
	if err != nil {
		logger.Error("server error", "error", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}
