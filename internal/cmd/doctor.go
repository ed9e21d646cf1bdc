package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/imagequeue/internal/config"
	errwrap "github.com/3leaps/imagequeue/internal/errors"
	"github.com/3leaps/imagequeue/internal/observability"
	"github.com/3leaps/imagequeue/internal/server/handlers"
)

const doctorCheckTimeout = 10 * time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks against the active configuration and suggest fixes
for common issues.

Checks the Go runtime, configuration, object store and queue. AWS credentials
are checked when S3, SQS or Secrets Manager is configured.

Examples:
  imagequeue doctor
  imagequeue doctor --config ./imagequeue.yaml`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// doctorReport numbers checks as they run and remembers whether any failed.
type doctorReport struct {
	logger *zap.Logger
	num    int
	total  int
	ok     bool
}

func (r *doctorReport) pass(name, detail string, fields ...zap.Field) {
	r.num++
	r.logger.Info(fmt.Sprintf("[%d/%d] Checking %s... ✅ %s", r.num, r.total, name, detail), fields...)
}

func (r *doctorReport) warn(name, detail string, fields ...zap.Field) {
	r.num++
	r.ok = false
	r.logger.Warn(fmt.Sprintf("[%d/%d] Checking %s... ⚠️  %s", r.num, r.total, name, detail), fields...)
}

func (r *doctorReport) fail(name, detail string, err error) {
	r.num++
	r.ok = false
	r.logger.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌ %s", r.num, r.total, name, detail), zap.Error(err))
}

func runDoctor(cmd *cobra.Command, args []string) error {
	logger := observability.CLILogger
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	logger.Info("=== " + bannerName + " ===")
	logger.Info("")
	logger.Info("Running diagnostic checks...")
	logger.Info("")

	r := &doctorReport{logger: logger, total: 5, ok: true}

	goVersion := runtime.Version()
	if goVersion >= "go1.25" {
		r.pass("Go version", goVersion, zap.String("go_version", goVersion))
	} else {
		r.warn("Go version", goVersion+" (recommended: go1.25+)", zap.String("go_version", goVersion))
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		r.fail("config directory", "Cannot find config directory", err)
	} else {
		r.pass("config directory", configDir, zap.String("config_dir", configDir))
	}

	cfg, err := config.Load(cmd.Context())
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		r.fail("configuration", "Invalid configuration", err)
		logger.Info("")
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	r.pass("configuration", fmt.Sprintf("storage=%s queue=%s generator=%s", cfg.Storage.Provider, cfg.Queue.Driver, cfg.Generator.Provider))

	if usesAWS(cfg) {
		r.total += 2
	}

	a, err := newApp(cmd.Context(), cfg, logger, appParts{queue: true})
	if err != nil {
		r.fail("storage and queue", "Cannot initialize", err)
		return exitError(exitServiceUnavailable, "Cannot initialize storage or queue",
			errwrap.WrapInternal(cmd.Context(), err, "initialize storage or queue"))
	}
	defer func() { _ = a.Close() }()

	runHealthCheck(cmd.Context(), r, "object store", a.checkers["storage"], cfg.Storage.Provider)
	if hc, ok := a.checkers["queue"]; ok {
		runHealthCheck(cmd.Context(), r, "queue", hc, cfg.Queue.Driver)
	} else {
		r.pass("queue", cfg.Queue.Driver+" (in-process)")
	}

	if usesAWS(cfg) {
		runAWSChecks(cmd.Context(), r)
	}

	logger.Info("")
	if r.ok {
		logger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		logger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	logger.Info("")
	logger.Info("=== End Diagnostics ===")

	if !r.ok {
		return exitError(exitServiceUnavailable, "Diagnostics failed", errwrap.NewExternalServiceError("one or more checks failed"))
	}
	return nil
}

func runHealthCheck(ctx context.Context, r *doctorReport, name string, hc handlers.HealthChecker, detail string) {
	ctx, cancel := context.WithTimeout(ctx, doctorCheckTimeout)
	defer cancel()
	if err := hc.CheckHealth(ctx); err != nil {
		r.fail(name, detail+" unreachable", err)
		return
	}
	r.pass(name, detail+" reachable")
}

func usesAWS(cfg *config.Config) bool {
	return cfg.Storage.Provider == config.StorageS3 ||
		cfg.Queue.Driver == config.QueueSQS ||
		(cfg.Generator.Provider == config.GeneratorOpenAI && cfg.Generator.APIKey == "")
}

// runAWSChecks confirms the default credential chain resolves.
func runAWSChecks(ctx context.Context, r *doctorReport) {
	r.logger.Info("")
	r.logger.Info("AWS Checks:")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		r.fail("AWS credentials", "Cannot load AWS config", err)
		printAWSCredentialsHelp()
		return
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		r.fail("AWS credentials", "Cannot retrieve credentials", err)
		printAWSCredentialsHelp()
		return
	}

	r.pass("AWS credentials", "Found credentials",
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", creds.Source))

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	r.pass("credential source", source, zap.String("credential_source", source))
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile, or")
	observability.CLILogger.Info("  3. Use an IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For local endpoints (moto, LocalStack, MinIO), also set:")
	observability.CLILogger.Info("  - storage.endpoint and queue.endpoint in imagequeue.yaml")
	observability.CLILogger.Info("")
}
