// Package cmd implements the s3contents command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/s3contents/internal/config"
	"github.com/3leaps/s3contents/internal/observability"
	"github.com/3leaps/s3contents/pkg/output"
)

// versionInfo is set by main through SetVersionInfo.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version command and /version.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile      string
	logLevel     string
	logProfile   string
	outputFormat string

	storageBackend  string
	storageBucket   string
	storagePrefix   string
	storageRegion   string
	storageEndpoint string
	storageProfile  string

	// appConfig is loaded by the root PersistentPreRunE.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "s3contents",
	Short: "Browse and edit notebooks and files stored in S3",
	Long: `s3contents maps a hierarchical contents tree (directories, files and
notebooks with checkpoints) onto an S3 bucket or S3-compatible store.

Run "s3contents serve" for the HTTP contents API, or use the file commands
(ls, get, put, mkdir, rm, mv, cp, new, checkpoint) directly.

Configuration is read from --config, s3contents.yaml in the working or user
config directory, and S3CONTENTS_* environment variables. Flags win.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ./s3contents.yaml or $XDG_CONFIG_HOME/s3contents/s3contents.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&logProfile, "log-profile", "", "Log profile: structured or console")
	pf.StringVarP(&outputFormat, "output", "o", output.FormatTable, "Output format: table, json (JSONL) or yaml")

	pf.StringVar(&storageBackend, "backend", "", "Object-store client: rest or sdk")
	pf.StringVarP(&storageBucket, "bucket", "b", "", "Bucket name")
	pf.StringVar(&storagePrefix, "prefix", "", "Key prefix the root directory maps to")
	pf.StringVarP(&storageRegion, "region", "r", "", "AWS region")
	pf.StringVar(&storageEndpoint, "endpoint", "", "Custom S3 endpoint (implies path-style addressing)")
	pf.StringVarP(&storageProfile, "profile", "p", "", "AWS shared config profile (sdk backend)")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// flagOverrides returns config overrides for the flags the user set. Flags
// that cmd does not define are never reported as changed.
func flagOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	flags := cmd.Flags()
	set := func(flag, key string, value any) {
		if flags.Changed(flag) {
			overrides[key] = value
		}
	}
	set("log-level", "logging.level", logLevel)
	set("log-profile", "logging.profile", logProfile)
	set("backend", "storage.backend", storageBackend)
	set("bucket", "storage.bucket", storageBucket)
	set("prefix", "storage.prefix", storagePrefix)
	set("region", "storage.region", storageRegion)
	set("profile", "storage.profile", storageProfile)
	set("host", "server.host", serveHost)
	set("port", "server.port", servePort)
	set("metrics", "metrics.enabled", serveMetrics)
	if flags.Changed("endpoint") {
		overrides["storage.endpoint"] = storageEndpoint
		overrides["storage.force_path_style"] = true
	}
	return overrides
}

func loadConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFile(cmd.Context(), cfgFile, flagOverrides(cmd))
	if err != nil {
		return exitError(ExitConfig, "Failed to load configuration", err)
	}
	if err := observability.InitCLILogger(cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(ExitConfig, "Invalid logging configuration", err)
	}
	appConfig = cfg

	observability.CLILogger.Debug("Configuration loaded",
		zap.String("file", cfg.File),
		zap.String("backend", cfg.Storage.Backend),
		zap.String("bucket", cfg.Storage.Bucket),
		zap.String("prefix", cfg.Storage.Prefix))
	return nil
}

// validConfig returns the loaded configuration after validating it for
// commands that talk to the store.
func validConfig() (*config.Config, error) {
	if appConfig == nil {
		return nil, exitError(ExitConfig, "Configuration not loaded", fmt.Errorf("no configuration"))
	}
	if err := appConfig.Validate(); err != nil {
		return nil, exitError(ExitConfig, "Invalid configuration", err)
	}
	return appConfig, nil
}
