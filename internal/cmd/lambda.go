package cmd

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/3leaps/imagequeue/internal/lambdaworker"
	"github.com/3leaps/imagequeue/internal/observability"
)

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Run as an AWS Lambda SQS batch handler",
	Long: `Start the AWS Lambda runtime loop. Each invocation receives a batch of SQS
records and returns batchItemFailures for the records that must be redelivered.

The function's event source mapping must enable ReportBatchItemFailures.`,
	RunE: runLambda,
}

func init() {
	rootCmd.AddCommand(lambdaCmd)
}

func runLambda(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := observability.InitServerLogger(appIdentity.BinaryName, cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(exitInvalidArgument, "Invalid logging configuration", err)
	}
	logger := observability.ServerLogger
	defer observability.Sync()

	a, err := newApp(cmd.Context(), cfg, logger, appParts{generator: true, metrics: true})
	if err != nil {
		return exitError(exitServiceUnavailable, "Failed to initialize", err)
	}
	defer func() { _ = a.Close() }()

	h := lambdaworker.New(a.orchestrator, logger)
	lambda.Start(h.Handle)
	return nil
}
