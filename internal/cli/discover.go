package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/photosync/photosync/internal/clock"
	"github.com/photosync/photosync/internal/config"
	"github.com/photosync/photosync/internal/detect"
	"github.com/photosync/photosync/internal/discovery"
	"github.com/photosync/photosync/internal/repo"
	"github.com/photosync/photosync/internal/service"
	"github.com/photosync/photosync/internal/service/googlephotos"
)

var (
	discoverService string
	discoverSince   string
	discoverFull    bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Scan services for new photos and update the metadata repository",
	Long: `Run one discovery pass over the enabled services (or one named service).
Each service resumes from its persisted checkpoint unless --since or
--full-scan overrides the window. --full-scan takes precedence over --since.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDiscover(cmd.Context())
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverService, "service", "", "Scan only the named service")
	discoverCmd.Flags().StringVar(&discoverSince, "since", "", "Scan window start: a date (2006-01-02), 'today', 'yesterday', or 'last-week'")
	discoverCmd.Flags().BoolVar(&discoverFull, "full-scan", false, "Ignore checkpoints and scan entire service histories")
}

func runDiscover(ctx context.Context) error {
	logger := setupLogger()
	root, err := resolveRepoPath()
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.DefaultPath(root))
	if err != nil {
		return err
	}

	clk := clock.System()
	opts := discovery.Options{Service: discoverService, FullScan: discoverFull}
	if discoverSince != "" && !discoverFull {
		since, err := parseSince(discoverSince, clk.Now())
		if err != nil {
			return err
		}
		opts.Since = &since
	}

	r := repo.New(root, clk, logger)
	if err := r.LoadSchema(""); err != nil {
		return err
	}

	registry, err := buildRegistry(cfg, root, clk, logger)
	if err != nil {
		return err
	}

	orch := discovery.New(r, registry, cfg, clk, logger)
	result, err := orch.Run(ctx, opts)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(result.Services))
	for _, sr := range result.Services {
		outcome := "ok"
		if sr.Err != nil {
			outcome = "failed: " + sr.Err.Error()
		}
		rows = append(rows, []string{
			sr.Service,
			strconv.Itoa(sr.Discovered),
			strconv.Itoa(sr.Updated),
			strconv.Itoa(sr.Failed),
			outcome,
		})
	}
	fmt.Println(renderTable([]string{"Service", "New", "Updated", "Failed", "Result"}, rows))

	return reportFindings(ctx, r, clk)
}

// reportFindings runs the detector over the full collection after discovery
// and prints what needs manual attention. The detector only reports; nothing
// is written here.
func reportFindings(ctx context.Context, r *repo.Repository, clk clock.Clock) error {
	photos, err := r.LoadAll(ctx, true)
	if err != nil {
		return err
	}
	report := detect.Scan(photos, clk.Now())
	if len(report.Findings) == 0 {
		fmt.Println("No conflicts or duplicates detected.")
		return nil
	}
	fmt.Printf("%d findings need attention:\n", len(report.Findings))
	for _, f := range report.Findings {
		fmt.Printf("  [%s/%s] %s\n", f.Severity, f.Category, f.Description)
	}
	return nil
}

// buildRegistry instantiates an adapter for every enabled service with a
// known implementation. Unknown services are skipped here; the orchestrator
// hard-fails only when the caller names one explicitly.
func buildRegistry(cfg *config.Config, root string, clk clock.Clock, logger *slog.Logger) (*service.Registry, error) {
	registry := service.NewRegistry()
	for _, name := range cfg.EnabledServices() {
		svc, _ := cfg.Service(name)
		switch name {
		case googlephotos.Name:
			adapter, err := googlephotos.New(svc, root, clk, logger)
			if err != nil {
				return nil, fmt.Errorf("configure %s: %w", name, err)
			}
			if err := registry.Register(adapter); err != nil {
				return nil, err
			}
		default:
			logger.Warn("no adapter implementation for service", "service", name)
		}
	}
	return registry, nil
}

// parseSince turns the --since argument into a timestamp. Keywords resolve
// relative to now; anything else must be a 2006-01-02 date.
func parseSince(s string, now time.Time) (time.Time, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch s {
	case "today":
		return midnight, nil
	case "yesterday":
		return midnight.AddDate(0, 0, -1), nil
	case "last-week":
		return midnight.AddDate(0, 0, -7), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since value %q (want a date, 'today', 'yesterday', or 'last-week')", s)
	}
	return t.UTC(), nil
}
