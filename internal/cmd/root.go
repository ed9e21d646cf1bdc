// Package cmd implements the imagequeue command line.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/imagequeue/internal/config"
	"github.com/3leaps/imagequeue/internal/observability"
	"github.com/3leaps/imagequeue/internal/server/handlers"
)

// Exit codes shared by all commands.
const (
	exitSuccess            = 0
	exitFailure            = 1
	exitInvalidArgument    = int(foundry.ExitInvalidArgument)
	exitFileNotFound       = int(foundry.ExitFileNotFound)
	exitFileReadError      = int(foundry.ExitFileReadError)
	exitServiceUnavailable = int(foundry.ExitExternalServiceUnavailable)
	exitSignalInterrupt    = int(foundry.ExitSignalInt)
)

type buildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var (
	versionInfo = buildInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

	appIdentity *config.AppIdentity

	cfgFile  string
	verbose  bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "imagequeue",
	Short: "Asynchronous image generation jobs backed by an object store",
	Long: `imagequeue accepts "generate an image from a prompt" requests, tracks each
job as a JSON manifest in an object store and writes the finished PNG next to it.

Front doors:
  serve    HTTP API (POST /images, GET /jobs/{jobId}) and push delivery endpoint
  worker   long-poll worker over SQS, Redis or the in-process queue
  lambda   AWS Lambda SQS batch handler`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	setDefaults()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./imagequeue.yaml, then ~/.config/imagequeue/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose CLI output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "server log level (debug, info, warn, error)")
}

// setDefaults registers config defaults on the global viper instance so flag
// help and config share one source.
func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

// SetVersionInfo records build metadata injected by main.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity set during startup, or nil.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

func initRuntime(cmd *cobra.Command, args []string) error {
	if appIdentity == nil {
		id := config.DefaultIdentity
		appIdentity = &id
	}
	config.SetAppIdentity(*appIdentity)
	config.SetConfigFile(cfgFile)
	observability.InitCLILogger(appIdentity.BinaryName, verbose)
	return nil
}

// loadConfig loads and validates configuration for commands that need it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var overrides []map[string]any
	if logLevel != "" {
		overrides = append(overrides, map[string]any{"logging": map[string]any{"level": logLevel}})
	}
	cfg, err := config.Load(cmd.Context(), overrides...)
	if err != nil {
		return nil, exitError(exitInvalidArgument, "Failed to load configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	return cfg, nil
}

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitWithCode logs the failure and terminates the process.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Error(message, zap.Int("exit_code", code), zap.Error(err))
	observability.Sync()
	os.Exit(code)
}

// Execute runs the root command and exits with the command's exit code.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		observability.Sync()
		os.Exit(exitSuccess)
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		ExitWithCode(observability.CLILogger, exitErr.Code, exitErr.Message, exitErr.Err)
		return
	}
	_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	ExitWithCode(observability.CLILogger, exitFailure, "Command failed", err)
}
