package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var (
	watchPlay  bool
	watchStats bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow the progress of a submitted job",
	Long: `Reconnect to the progress stream of a job that was submitted earlier,
for example after stopping 'vamos submit' or losing the connection.

Examples:
  vamos watch 3f2a9c
  vamos watch 3f2a9c --play`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationTUI: "true"},
	RunE:        runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchPlay, "play", false, "open the original and masked video when done")
	watchCmd.Flags().BoolVar(&watchStats, "stats", false, "print request statistics at the end")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jobID := args[0]

	s, err := newSession(ctx, watchPlay)
	if err != nil {
		return err
	}
	if watchStats {
		defer func() { printStats(os.Stderr, collector.Snapshot()) }()
	}

	job := knownJob(ctx, jobID)
	return s.run(ctx, func(context.Context) error {
		return s.orch.Resume(jobID, job.FilePath)
	})
}
