package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/photosync/photosync/internal/clock"
	"github.com/photosync/photosync/internal/config"
	"github.com/photosync/photosync/internal/model"
	"github.com/photosync/photosync/internal/repo"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show repository configuration, statistics, and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context())
	},
}

func runStatus(ctx context.Context) error {
	logger := setupLogger()
	root, err := resolveRepoPath()
	if err != nil {
		return err
	}
	fmt.Printf("Metadata repository: %s\n\n", root)

	// Configuration
	fmt.Println("Configuration:")
	cfg, err := config.Load(config.DefaultPath(root))
	switch {
	case os.IsNotExist(err):
		fmt.Println("  services.toml not found (copy from config/services.toml.sample)")
	case err != nil:
		fmt.Printf("  error reading services.toml: %v\n", err)
	default:
		enabled := cfg.EnabledServices()
		if len(enabled) == 0 {
			fmt.Println("  services.toml present, no services enabled")
		} else {
			fmt.Printf("  enabled services: %v\n", enabled)
		}
	}

	// Photo statistics
	r := repo.New(root, clock.System(), logger)
	stats, err := r.Statistics(ctx)
	if err != nil {
		return err
	}
	fmt.Println("\nPhoto statistics:")
	rows := [][]string{
		{"Total photos", strconv.Itoa(stats.TotalPhotos)},
		{"With unresolved conflicts", strconv.Itoa(stats.WithConflicts)},
		{"With location data", strconv.Itoa(stats.WithLocation)},
	}
	for _, state := range model.ProcessingStates {
		rows = append(rows, []string{"State: " + string(state), strconv.Itoa(stats.ByState[state])})
	}
	for _, year := range sortedYears(stats) {
		rows = append(rows, []string{"Year: " + strconv.Itoa(year), strconv.Itoa(stats.ByYear[year])})
	}
	for _, svc := range sortedServices(stats) {
		rows = append(rows, []string{"Service: " + svc, strconv.Itoa(stats.ByService[svc])})
	}
	fmt.Println(renderTable([]string{"Metric", "Count"}, rows))

	// Sync state
	state, err := repo.LoadSyncState(root)
	if err != nil {
		return err
	}
	fmt.Println("\nSync state:")
	fmt.Println(renderTable([]string{"Field", "Value"}, syncRows(state)))
	return nil
}

func syncRows(state *repo.SyncState) [][]string {
	rows := [][]string{
		{"Last sync", formatTime(state.LastSync)},
		{"Last discovery", formatTime(state.LastDiscovery)},
		{"Pending conflicts", strconv.Itoa(state.PendingConflicts)},
	}
	services := make([]string, 0, len(state.Services))
	for svc := range state.Services {
		services = append(services, svc)
	}
	sort.Strings(services)
	for _, svc := range services {
		sync := state.Services[svc]
		rows = append(rows, []string{
			svc,
			fmt.Sprintf("%s (%d items)", formatTime(sync.LastDiscovery), sync.LastDiscoveredCount),
		})
	}
	return rows
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func sortedYears(stats *repo.Statistics) []int {
	years := make([]int, 0, len(stats.ByYear))
	for y := range stats.ByYear {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

func sortedServices(stats *repo.Statistics) []string {
	services := make([]string, 0, len(stats.ByService))
	for svc := range stats.ByService {
		services = append(services, svc)
	}
	sort.Strings(services)
	return services
}
