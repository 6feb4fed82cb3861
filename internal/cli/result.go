package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/vamos-go/internal/client"
	"github.com/raphaelgruber/vamos-go/internal/models"
	"github.com/raphaelgruber/vamos-go/internal/presenter"
)

var resultOutput string

var resultCmd = &cobra.Command{
	Use:   "result <job-id>",
	Short: "Show where the original and masked video of a job are",
	Long: `Ask the backend for the result of a completed job. If the backend has no
result endpoint the masked video location is derived from the job ID.

Examples:
  vamos result 3f2a9c
  vamos result 3f2a9c -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runResult,
}

func init() {
	resultCmd.Flags().StringVarP(&resultOutput, "output", "o", "text", "output format: text, yaml, json")
}

func runResult(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	c, err := client.New(cfg, nil, logger, collector)
	if err != nil {
		return err
	}
	p := presenter.New(c, nil, logger)
	if err := p.Present(cmd.Context(), knownJob(cmd.Context(), jobID)); err != nil {
		return err
	}
	_, refs, _ := p.Refs()
	return writeResult(os.Stdout, resultOutput, jobID, refs)
}

type resultDoc struct {
	JobID  string            `json:"job_id" yaml:"job_id"`
	Result models.ResultRefs `json:"result" yaml:"result"`
}

func writeResult(w io.Writer, format, jobID string, refs models.ResultRefs) error {
	doc := resultDoc{JobID: jobID, Result: refs}
	switch format {
	case "text", "":
		printRefs(w, jobID, refs)
		return nil
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unknown output format %q (use text, yaml or json)", format)
	}
}
