package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/vamos-go/internal/db"
)

var (
	deleteForce bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Remove a job from the local history",
	Long: `Remove a job from the local history.

Only the local record is removed. Videos stored by the backend are not
touched. Requires confirmation unless --force is used.

Examples:
  vamos delete 3f2a9c
  vamos delete 3f2a9c --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx := cmd.Context()

	h, err := openHistory(ctx)
	if err != nil {
		return err
	}

	job, err := h.Get(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("job not found: %s", id)
	}
	if err != nil {
		return err
	}

	// Confirm deletion
	if !deleteForce {
		fmt.Printf("About to delete: %s (%s, %s)\n", job.ID, job.StatusLabel(), fileCell(*job))
		fmt.Print("\nContinue? [y/N]: ")

		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))

		if response != "y" && response != "yes" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := h.Delete(ctx, job.ID); err != nil {
		return err
	}

	fmt.Printf("Deleted: %s\n", job.ID)
	return nil
}
