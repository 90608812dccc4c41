package main

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Standard-Labs/real-intent/internal/app"
	"github.com/Standard-Labs/real-intent/internal/config"
	"github.com/Standard-Labs/real-intent/internal/logging"
	"github.com/Standard-Labs/real-intent/internal/metrics"
)

type commandContext struct {
	configPath  string
	logLevel    string
	metricsAddr string

	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Recorder
	server  *http.Server
}

func newRootCommand() *cobra.Command {
	cc := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "leadfill",
		Short:         "Fill lead orders from intent data with tiered validation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return cc.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return cc.teardown()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cc.configPath, "config", "c", "", "Config file path (env overrides use the LEADFILL_ prefix)")
	flags.StringVar(&cc.logLevel, "log-level", "", "Log level override: debug, info, warn or error")
	flags.StringVar(&cc.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	rootCmd.AddCommand(newFulfillCommand(cc))
	rootCmd.AddCommand(newProcessCommand(cc))
	rootCmd.AddCommand(newCheckCommand(cc))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func (cc *commandContext) setup(ctx context.Context) error {
	cfg, err := config.Load(cc.configPath)
	if err != nil {
		return err
	}
	if v := strings.TrimSpace(cc.logLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(cc.metricsAddr); v != "" {
		cfg.Metrics.Addr = v
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	cc.cfg = cfg
	cc.logger = logger
	cc.metrics = metrics.New()

	if cfg.Metrics.Addr != "" {
		return cc.serveMetrics(ctx, cfg.Metrics.Addr)
	}
	return nil
}

func (cc *commandContext) serveMetrics(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen for metrics on %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", cc.metrics.Handler())
	cc.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	cc.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := cc.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cc.logger.Error("metrics server", zap.Error(err))
		}
	}()
	return nil
}

func (cc *commandContext) teardown() error {
	if cc.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cc.server.Shutdown(ctx); err != nil {
			cc.logger.Warn("shutdown metrics server", zap.Error(err))
		}
	}
	if cc.logger != nil {
		// Sync fails on stderr for some terminals; nothing to act on.
		_ = cc.logger.Sync()
	}
	return nil
}

func (cc *commandContext) runner() *app.Runner {
	return &app.Runner{Config: cc.cfg, Logger: cc.logger, Metrics: cc.metrics}
}
