package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/photosync/photosync/internal/config"
	"github.com/photosync/photosync/internal/repo"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Initialize a new metadata repository",
	Long:  `Create the metadata repository directory structure and starter configuration at the given path (default: current directory).`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) > 0 {
			path = args[0]
		}
		return runInit(path)
	},
}

const gitignoreContent = `# Photo blobs are too large for version control
blobs/**/*.jpg
blobs/**/*.jpeg
blobs/**/*.png
blobs/**/*.tiff
blobs/**/*.raw

# Logs
logs/*.log

# Service credentials
config/services.toml
config/*token*.json

# Keep directory structure
!blobs/.gitkeep
!logs/.gitkeep
`

func runInit(path string) error {
	root, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	fmt.Printf("Initializing metadata repository at: %s\n", root)

	for _, dir := range []string{"photos", "blobs", "config", "logs"} {
		full := filepath.Join(root, dir)
		if err := os.MkdirAll(full, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		fmt.Printf("  Created: %s\n", dir)
	}
	for _, dir := range []string{"blobs", "logs"} {
		keep := filepath.Join(root, dir, ".gitkeep")
		if err := os.WriteFile(keep, nil, 0o644); err != nil {
			return err
		}
	}

	samplePath := filepath.Join(root, "config", "services.toml.sample")
	if err := config.WriteSample(samplePath); err == nil {
		fmt.Println("  Created: config/services.toml.sample")
	}

	statePath := repo.SyncStatePath(root)
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		if err := repo.NewSyncState().Save(root); err != nil {
			return err
		}
		fmt.Println("  Created: config/" + repo.SyncStateFileName)
	}

	gitignore := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(gitignore); os.IsNotExist(err) {
		if err := os.WriteFile(gitignore, []byte(gitignoreContent), 0o644); err != nil {
			return err
		}
		fmt.Println("  Created: .gitignore")
	}

	fmt.Println("\nMetadata repository initialized.")
	fmt.Println("Next steps:")
	fmt.Println("  1. Copy config/services.toml.sample to config/services.toml and add credentials")
	fmt.Println("  2. Run: photosync status")
	return nil
}
