package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/photosync/photosync/internal/clock"
	"github.com/photosync/photosync/internal/repo"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <photo-id> <conflict-index>",
	Short: "Mark one of a photo's conflicts as resolved",
	Long: `Flip the resolution flag on a single conflict. The conflict stays in the
photo's history; resolution is the only mutation conflicts ever receive.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("conflict index must be a number: %q", args[1])
		}
		return runResolve(cmd.Context(), args[0], index)
	},
}

func runResolve(ctx context.Context, photoID string, index int) error {
	logger := setupLogger()
	root, err := resolveRepoPath()
	if err != nil {
		return err
	}

	r := repo.New(root, clock.System(), logger)
	if err := r.LoadSchema(""); err != nil {
		return err
	}

	photo, err := r.Load(ctx, photoID)
	if err != nil {
		return err
	}
	if err := photo.ResolveConflict(index); err != nil {
		return err
	}
	if err := r.Save(ctx, photo, true); err != nil {
		return err
	}

	remaining := 0
	for _, c := range photo.Conflicts {
		if c.ResolutionRequired {
			remaining++
		}
	}
	fmt.Printf("Resolved conflict %d on %s (%d unresolved remaining)\n", index, photoID, remaining)
	return nil
}
