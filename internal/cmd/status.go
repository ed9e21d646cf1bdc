package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/3leaps/imagequeue/internal/observability"
	"github.com/3leaps/imagequeue/pkg/jobstore"
	"github.com/3leaps/imagequeue/pkg/manifest"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a job",
	Long: `Read a job manifest from storage and print its client view as JSON.

The image URL is present only once the job is done.

Example:
  imagequeue status job_01927d3e-8f0a-7c3b-9e2d-4a5b6c7d8e9f`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	if !manifest.ValidJobID(jobID) {
		return exitError(exitInvalidArgument, "Invalid job id", fmt.Errorf("malformed job id %q", jobID))
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, observability.CLILogger, appParts{})
	if err != nil {
		return exitError(exitServiceUnavailable, "Failed to initialize", err)
	}
	defer func() { _ = a.Close() }()

	view, err := a.status.Get(cmd.Context(), jobID)
	if err != nil {
		if jobstore.IsNotFound(err) {
			return exitError(exitFileNotFound, "Job not found", err)
		}
		return exitError(exitServiceUnavailable, "Failed to read job", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
