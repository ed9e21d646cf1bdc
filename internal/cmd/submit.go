package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/imagequeue/internal/observability"
	"github.com/3leaps/imagequeue/pkg/gateway"
	"github.com/3leaps/imagequeue/pkg/manifest"
)

var (
	submitFile       string
	submitPrompt     string
	submitSize       string
	submitQuality    string
	submitBackground string
	submitImageURLs  []string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an image job",
	Long: `Submit one image generation job through the same gateway the HTTP API uses
and print the receipt as JSON.

The request comes from --file (YAML or JSON) or from flags. Flags override
fields read from the file.

Examples:
  imagequeue submit --prompt "a lighthouse at dusk"
  imagequeue submit --prompt "a logo" --background transparent --size 1024x1024
  imagequeue submit --file request.yaml`,
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "request file (.yaml, .yml or .json)")
	submitCmd.Flags().StringVarP(&submitPrompt, "prompt", "p", "", "prompt text")
	submitCmd.Flags().StringVar(&submitSize, "size", "", "1024x1024, 1536x1024, 1024x1536 or auto")
	submitCmd.Flags().StringVar(&submitQuality, "quality", "", "standard or high")
	submitCmd.Flags().StringVar(&submitBackground, "background", "", "transparent or opaque")
	submitCmd.Flags().StringSliceVar(&submitImageURLs, "reference-url", nil, "reference image URL (repeatable)")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	req, err := buildSubmitRequest()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, observability.CLILogger, appParts{queue: true})
	if err != nil {
		return exitError(exitServiceUnavailable, "Failed to initialize", err)
	}
	defer func() { _ = a.Close() }()

	receipt, err := a.gateway.Submit(cmd.Context(), req)
	if err != nil {
		if gateway.IsValidationError(err) {
			return exitError(exitInvalidArgument, "Invalid request", err)
		}
		return exitError(exitServiceUnavailable, "Submission failed", err)
	}

	observability.CLILogger.Debug("Submitted job", zap.String("job_id", receipt.JobID))
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(receipt)
}

func buildSubmitRequest() (manifest.Request, error) {
	var req manifest.Request
	if submitFile != "" {
		r, err := readRequestFile(submitFile)
		if err != nil {
			return manifest.Request{}, err
		}
		req = r
	}

	if submitPrompt != "" {
		req.Prompt = submitPrompt
	}
	if submitSize != "" {
		req.Size = manifest.Size(submitSize)
	}
	if submitQuality != "" {
		req.Quality = manifest.Quality(submitQuality)
	}
	if submitBackground != "" {
		req.Background = manifest.Background(submitBackground)
	}
	for _, u := range submitImageURLs {
		req.References = append(req.References, manifest.Reference{Type: manifest.ReferenceImageURL, URL: u})
	}

	if strings.TrimSpace(req.Prompt) == "" {
		return manifest.Request{}, exitError(exitInvalidArgument, "Invalid request", fmt.Errorf("prompt required: use --prompt or --file"))
	}
	return req, nil
}

func readRequestFile(path string) (manifest.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return manifest.Request{}, exitError(exitFileNotFound, "Request file not found", err)
		}
		return manifest.Request{}, exitError(exitFileReadError, "Failed to read request file", err)
	}

	var req manifest.Request
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &req)
	default:
		err = yaml.Unmarshal(data, &req)
	}
	if err != nil {
		return manifest.Request{}, exitError(exitInvalidArgument, "Invalid request file", err)
	}
	return req, nil
}
