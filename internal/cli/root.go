// Package cli implements the PhotoSync command-line interface.
// Commands operate on a metadata repository: a directory tree holding one
// JSON document per photo plus configuration and sync-state.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose  bool
	repoPath string
)

// rootCmd is the base command for PhotoSync.
var rootCmd = &cobra.Command{
	Use:   "photosync",
	Short: "Personal photo synchronization and preservation system",
	Long: `PhotoSync maintains a canonical metadata record for every photo you own
across remote photo services.

It provides:
  • One human-readable JSON record per photo
  • Incremental per-service discovery with persisted checkpoints
  • Exact duplicate detection by content hash
  • Visibility discrepancy reporting across services

The metadata repository is the source of truth; remote services are
replicas to be reconciled against it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&repoPath, "metadata-repo", "", "Path to metadata repository (auto-detected if not set)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(resolveCmd)
}

// setupLogger configures the process logger. Verbose switches to debug
// level.
func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// resolveRepoPath finds the metadata repository: the explicit flag wins,
// otherwise the current directory must look like one (config/ and photos/
// both present).
func resolveRepoPath() (string, error) {
	if repoPath != "" {
		abs, err := filepath.Abs(repoPath)
		if err != nil {
			return "", err
		}
		return abs, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if isMetadataRepo(cwd) {
		return cwd, nil
	}
	return "", fmt.Errorf("no metadata repository found: run 'photosync init' or pass --metadata-repo")
}

func isMetadataRepo(dir string) bool {
	for _, sub := range []string{"config", "photos"} {
		if info, err := os.Stat(filepath.Join(dir, sub)); err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}
