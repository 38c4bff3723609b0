package cmd

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/s3contents/internal/config"
	"github.com/3leaps/s3contents/internal/observability"
	"github.com/3leaps/s3contents/pkg/auth"
	"github.com/3leaps/s3contents/pkg/contents"
)

var doctorWrite bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the configuration, credentials and bucket, and
suggest fixes for common issues.

Examples:
  s3contents doctor                 # Read-only checks
  s3contents doctor --write         # Also save and delete a scratch file`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorWrite, "write", false, "Save and delete a scratch file under the prefix")
}

// doctorCheck is one diagnostic step. detail is printed after the check mark.
type doctorCheck struct {
	name string
	run  func(ctx context.Context) (detail string, err error)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := observability.CLILogger

	log.Info("=== s3contents doctor ===")
	log.Info("")

	var m *contents.Manager
	defer func() {
		if m != nil {
			_ = m.Close()
		}
	}()

	checks := []doctorCheck{
		{"environment", func(context.Context) (string, error) {
			return fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH), nil
		}},
		{"config file", func(context.Context) (string, error) {
			if appConfig.File == "" {
				return "none (defaults and environment)", nil
			}
			return appConfig.File, nil
		}},
		{"configuration", func(context.Context) (string, error) {
			if err := appConfig.Validate(); err != nil {
				return "", err
			}
			st := appConfig.Storage
			return fmt.Sprintf("%s backend, bucket %q, prefix %q", st.Backend, st.Bucket, st.Prefix), nil
		}},
		{"credentials", func(ctx context.Context) (string, error) {
			return checkCredentials(ctx, appConfig)
		}},
		{"bucket access", func(ctx context.Context) (string, error) {
			var err error
			m, _, err = openManager(ctx, nil)
			if err != nil {
				return "", err
			}
			if err := m.Ping(ctx); err != nil {
				return "", err
			}
			return "listing succeeded", nil
		}},
	}
	if doctorWrite {
		checks = append(checks, doctorCheck{"write access", func(ctx context.Context) (string, error) {
			if m == nil {
				return "", errors.New("skipped: bucket not reachable")
			}
			return writeCheck(ctx, m)
		}})
	}

	failed := 0
	for i, c := range checks {
		prefix := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		detail, err := c.run(ctx)
		if err != nil {
			failed++
			log.Error(prefix+" ❌ "+err.Error(), zap.String("check", c.name), zap.Error(err))
			if c.name == "credentials" {
				printCredentialsHelp()
			}
			// Later checks need a valid configuration.
			if c.name == "configuration" {
				break
			}
			continue
		}
		log.Info(prefix+" ✅ "+detail, zap.String("check", c.name))
	}

	log.Info("")
	if failed > 0 {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
		return exitError(ExitUnavailable, "doctor", fmt.Errorf("%d check(s) failed", failed))
	}
	log.Info("✅ All checks passed!")
	return nil
}

// checkCredentials retrieves signing credentials the way the selected
// backend will, and reports their masked key id and source.
func checkCredentials(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.UsesSDKCredentialChain() {
		opts := []func(*awsconfig.LoadOptions) error{}
		if cfg.Storage.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Storage.Region))
		}
		if cfg.Storage.Profile != "" {
			opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Storage.Profile))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return "", fmt.Errorf("load AWS config: %w", err)
		}
		creds, err := awsCfg.Credentials.Retrieve(ctx)
		if err != nil {
			return "", fmt.Errorf("retrieve credentials: %w", err)
		}
		source := creds.Source
		if source == "" {
			source = "unknown"
		}
		return fmt.Sprintf("%s via AWS default chain (%s)", auth.MaskAccessKey(creds.AccessKeyID), source), nil
	}

	p, err := newCredentials(cfg, observability.CLILogger, nil)
	if err != nil {
		return "", err
	}
	creds, err := p.Retrieve(ctx)
	if err != nil {
		return "", err
	}
	detail := fmt.Sprintf("%s via %s", auth.MaskAccessKey(creds.AccessKeyID), p.Describe())
	if creds.CanExpire {
		detail += fmt.Sprintf(", expires %s", creds.Expires.UTC().Format("2006-01-02T15:04:05Z"))
	}
	return detail, nil
}

// writeCheck saves and deletes a small file at the root.
func writeCheck(ctx context.Context, m *contents.Manager) (string, error) {
	name := ".s3contents-doctor-" + newOpID() + ".txt"
	if _, err := m.Save(ctx, name, contents.Model{Type: contents.TypeFile, Format: contents.FormatText, Content: "ok"}); err != nil {
		return "", fmt.Errorf("save scratch file: %w", err)
	}
	if _, err := m.Delete(ctx, name, contents.DeleteOptions{}); err != nil {
		return "", fmt.Errorf("delete scratch file %s: %w", name, err)
	}
	return "saved and deleted " + name, nil
}

func printCredentialsHelp() {
	log := observability.CLILogger
	log.Info("")
	log.Info("To configure credentials:")
	log.Info("  1. Set S3CONTENTS_ACCESS_KEY_ID and S3CONTENTS_SECRET_ACCESS_KEY, or")
	log.Info("  2. Set auth.strategy: role to use container or EC2 role credentials, or")
	log.Info("  3. Use --backend sdk to fall back to the AWS default credential chain")
	log.Info("")
	log.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set --endpoint.")
	log.Info("")
}
