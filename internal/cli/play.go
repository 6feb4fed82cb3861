package cli

import (
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/vamos-go/internal/client"
	"github.com/raphaelgruber/vamos-go/internal/presenter"
)

var playCmd = &cobra.Command{
	Use:   "play <job-id>",
	Short: "Play the original and masked video of a completed job",
	Long: `Open the original and masked video of a completed job side by side.
Space pauses and resumes both players together.

The player is configured with VAMOS_PLAYER and VAMOS_PLAYER_ARGS
(default: mpv --force-window=yes {url}).

Examples:
  vamos play 3f2a9c
  VAMOS_PLAYER=vlc VAMOS_PLAYER_ARGS="{url}" vamos play 3f2a9c`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationTUI: "true"},
	RunE:        runPlay,
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jobID := args[0]

	c, err := client.New(cfg, nil, logger, collector)
	if err != nil {
		return err
	}
	p := presenter.New(c, presenter.ProcessOpener(cfg.PlayerCommand, cfg.PlayerArgs, logger), logger)
	defer p.Close()

	if err := p.Present(ctx, knownJob(ctx, jobID)); err != nil {
		return err
	}
	_, refs, _ := p.Refs()
	return playUntilDone(ctx, p, jobID, refs)
}
