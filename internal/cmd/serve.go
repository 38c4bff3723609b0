package cmd

import (
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/s3contents/internal/config"
	"github.com/3leaps/s3contents/internal/observability"
	"github.com/3leaps/s3contents/internal/server"
	"github.com/3leaps/s3contents/internal/server/handlers"
)

var (
	serveHost    string
	servePort    int
	serveMetrics bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the contents API over HTTP",
	Long: `Serve the Jupyter-style contents API on /api/contents, together with
/health, /health/live, /health/ready, /health/startup, /version and, when
metrics are enabled, /metrics.

Examples:
  s3contents serve --bucket notebooks --region eu-west-1
  s3contents serve --endpoint http://localhost:9000 --bucket dev --port 9999`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default from server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default from server.port)")
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", true, "Expose Prometheus metrics on /metrics")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := validConfig()
	if err != nil {
		return err
	}
	logger := observability.CLILogger

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	m, _, err := openManager(ctx, metrics)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("store", handlers.HealthCheckerFunc(m.Ping))
	if cfg.Storage.Backend == config.BackendREST || !cfg.UsesSDKCredentialChain() {
		creds, err := newCredentials(cfg, logger, nil)
		if err != nil {
			return exitError(ExitConfig, "Invalid credentials configuration", err)
		}
		health.RegisterChecker("credentials", credentialsChecker{provider: creds})
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithContents(m),
		server.WithMetrics(metrics),
		server.WithLogger(logger),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout, cfg.Server.ShutdownTimeout),
		server.WithVersionInfo(handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
			Backend:   cfg.Storage.Backend,
		}),
	)

	l, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return exitError(ExitUnavailable, fmt.Sprintf("Failed to listen on %s", srv.Addr()), err)
	}
	logger.Info("Starting contents server",
		zap.String("addr", l.Addr().String()),
		zap.String("bucket", cfg.Storage.Bucket),
		zap.String("prefix", cfg.Storage.Prefix),
		zap.String("backend", cfg.Storage.Backend),
		zap.Bool("metrics", metrics != nil))

	if err := srv.Run(ctx, l); err != nil {
		return exitError(ExitFailure, "Server stopped", err)
	}
	logger.Info("Server stopped")
	return nil
}
