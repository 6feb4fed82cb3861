package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	submitPlay  bool
	submitStats bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <video>",
	Short: "Upload a video and follow its analysis",
	Long: `Upload a video, start the masking analysis and follow its progress.

When the analysis completes the result location is printed. With --play the
original and masked videos are opened side by side and can be paused
together.

Press q (or Ctrl+C) to stop following. The backend keeps processing the
job and 'vamos watch <job-id>' picks it up again.

Examples:
  vamos submit dashcam.mp4
  vamos submit dashcam.mp4 --play
  vamos submit dashcam.mp4 --plain --stats`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationTUI: "true"},
	RunE:        runSubmit,
}

func init() {
	submitCmd.Flags().BoolVar(&submitPlay, "play", false, "open the original and masked video when done")
	submitCmd.Flags().BoolVar(&submitStats, "stats", false, "print request statistics at the end")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	s, err := newSession(ctx, submitPlay)
	if err != nil {
		return err
	}
	// Reject bad input before the progress view takes over the terminal.
	if _, err := s.client.ValidateFile(path); err != nil {
		return err
	}
	if submitStats {
		defer func() { printStats(os.Stderr, collector.Snapshot()) }()
	}

	err = s.run(ctx, func(ctx context.Context) error {
		return s.orch.StartJob(ctx, path)
	})
	if err != nil {
		return fmt.Errorf("submit %s: %w", path, err)
	}
	return nil
}
