package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/vamos-go/internal/db"
	"github.com/raphaelgruber/vamos-go/internal/models"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect jobs from the local history",
	Long: `List the jobs submitted from this machine or inspect one by ID.

Examples:
  vamos jobs             # List recent jobs
  vamos jobs --limit 50  # List more jobs
  vamos jobs 3f2a9c      # Show details for job 3f2a9c`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "maximum number of jobs to list (0 for all)")
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	h, err := openHistory(ctx)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		return showJob(ctx, h, args[0])
	}
	return listJobs(ctx, h)
}

func listJobs(ctx context.Context, h *db.Client) error {
	jobs, err := h.List(ctx, jobsLimit)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			job.StatusLabel(),
			progressCell(job),
			fileCell(job),
			job.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	fmt.Println(renderTable(
		[]string{"ID", "Status", "Progress", "File", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
	return nil
}

func showJob(ctx context.Context, h *db.Client, id string) error {
	job, err := h.Get(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("job not found: %s", id)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Status: %s\n", job.StatusLabel())
	if job.FilePath != "" {
		fmt.Printf("  File: %s\n", fileCell(*job))
	}
	if job.Status == models.StatusProcessing || job.Percent > 0 {
		fmt.Printf("  Progress: %d%% (%s)\n", job.Percent, job.Stage.Label())
	}
	if len(job.StageHistory) > 0 {
		stages := make([]string, len(job.StageHistory))
		for i, s := range job.StageHistory {
			stages[i] = string(s)
		}
		fmt.Printf("  Stages: %s\n", strings.Join(stages, " → "))
	}
	if job.Reconnects > 0 {
		fmt.Printf("  Reconnects: %d\n", job.Reconnects)
	}
	fmt.Printf("  Started: %s\n", job.StartedAt.Local().Format(time.RFC3339))
	fmt.Printf("  Updated: %s\n", job.UpdatedAt.Local().Format(time.RFC3339))
	if job.Result != nil {
		if job.Result.OriginalURL != "" {
			fmt.Printf("  Original: %s\n", job.Result.OriginalURL)
		}
		fmt.Printf("  Masked: %s\n", job.Result.MaskedURL)
	}
	if len(job.Frames) > 0 {
		fmt.Printf("  Frames: %d (see 'vamos result %s')\n", len(job.Frames), job.ID)
	}
	if job.Error != nil {
		fmt.Printf("  Error: %s (%s)\n", job.Error.Message, errorLabel(job.Error))
	}
	if job.Cancelled || job.Status == models.StatusProcessing {
		fmt.Printf("\nUse 'vamos watch %s' to follow it again.\n", job.ID)
	}
	return nil
}

func progressCell(job db.JobRecord) string {
	if job.Status == models.StatusIdle && job.Percent == 0 {
		return "-"
	}
	return strconv.Itoa(job.Percent) + "%"
}

func fileCell(job db.JobRecord) string {
	if job.FilePath == "" {
		return "-"
	}
	if job.FileSize > 0 {
		return fmt.Sprintf("%s (%s)", filepath.Base(job.FilePath), formatBytes(job.FileSize))
	}
	return filepath.Base(job.FilePath)
}

func errorLabel(e *models.JobError) string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + "/" + string(e.Reason)
}
