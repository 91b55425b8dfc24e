// Package discovery implements the per-service incremental scan
// orchestrator. One Run processes each selected service sequentially:
// resolve the effective since window, drain the adapter's sequence, persist
// every yielded photo, then checkpoint the service. A service whose scan
// fails keeps its old checkpoint so the next run retries the same window.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/photosync/photosync/internal/clock"
	"github.com/photosync/photosync/internal/config"
	"github.com/photosync/photosync/internal/model"
	"github.com/photosync/photosync/internal/repo"
	"github.com/photosync/photosync/internal/service"
)

var (
	// ErrServiceNotConfigured means a service named explicitly by the caller
	// has no configuration or no registered adapter. Hard stop, no fallback.
	ErrServiceNotConfigured = errors.New("service not configured")

	// ErrServiceDisabled means an explicitly named service is configured but
	// disabled.
	ErrServiceDisabled = errors.New("service disabled")

	// ErrAlreadyRunning means another discovery run holds the repository
	// lock.
	ErrAlreadyRunning = errors.New("another discovery run is in progress")
)

// LockFileName is the discovery lock location under config/.
const LockFileName = "discover.lock"

// Orchestrator coordinates discovery runs over a repository.
type Orchestrator struct {
	repo     *repo.Repository
	registry *service.Registry
	cfg      *config.Config
	clk      clock.Clock
	logger   *slog.Logger
}

// New creates an orchestrator. The registry must already hold an adapter for
// every service the configuration enables.
func New(r *repo.Repository, reg *service.Registry, cfg *config.Config, clk clock.Clock, logger *slog.Logger) *Orchestrator {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{repo: r, registry: reg, cfg: cfg, clk: clk, logger: logger}
}

// Options selects what one Run covers. Since and FullScan are mutually
// exclusive in effect: an explicit Since wins, FullScan forces the whole
// history, otherwise the persisted checkpoint is used.
type Options struct {
	Service  string     // empty means every enabled service
	Since    *time.Time // explicit window override
	FullScan bool       // ignore checkpoints
}

// ServiceResult is the outcome of one service's scan.
type ServiceResult struct {
	Service    string
	Discovered int   // new photos persisted
	Updated    int   // known photos refreshed via canonical_source match
	Failed     int   // individual records that could not be persisted
	Err        error // terminal adapter error; checkpoint not advanced
}

// Completed reports whether the scan ran to the end of its sequence.
func (sr ServiceResult) Completed() bool {
	return sr.Err == nil
}

// Result is the outcome of one Run.
type Result struct {
	StartedAt time.Time
	Services  []ServiceResult
}

// Run executes one discovery invocation. A terminal failure in one service
// does not affect the others; sync-state is written only if at least one
// service completed.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	lock, err := o.acquireLock()
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	state, err := repo.LoadSyncState(o.repo.Root())
	if err != nil {
		return nil, err
	}

	services, err := o.selectServices(opts)
	if err != nil {
		return nil, err
	}

	result := &Result{StartedAt: o.clk.Now()}
	for _, name := range services {
		if err := ctx.Err(); err != nil {
			// Cooperative cancellation between service scans; completed
			// services keep their new checkpoints.
			break
		}
		result.Services = append(result.Services, o.runService(ctx, name, state, opts))
	}

	completed := 0
	for _, sr := range result.Services {
		if sr.Completed() {
			completed++
		}
	}
	if completed == 0 {
		// Nothing finished; leave all sync-state untouched.
		return result, ctx.Err()
	}

	now := o.clk.Now()
	state.LastDiscovery = &now
	state.LastSync = &now
	if stats, serr := o.repo.Statistics(ctx); serr == nil {
		state.TotalPhotos = stats.TotalPhotos
		state.PendingConflicts = stats.WithConflicts
	} else {
		o.logger.Error("statistics after discovery failed", "error", serr)
	}
	if err := state.Save(o.repo.Root()); err != nil {
		return result, err
	}
	return result, ctx.Err()
}

func (o *Orchestrator) acquireLock() (*flock.Flock, error) {
	dir := filepath.Join(o.repo.Root(), "config")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(dir, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire discovery lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return lock, nil
}

// selectServices resolves which services this run covers. An explicitly
// named service must be configured, enabled, and registered; otherwise the
// run covers every enabled service with an adapter, skipping (with a log)
// enabled services nothing is registered for.
func (o *Orchestrator) selectServices(opts Options) ([]string, error) {
	if opts.Service != "" {
		svc, ok := o.cfg.Service(opts.Service)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrServiceNotConfigured, opts.Service)
		}
		if !svc.Enabled {
			return nil, fmt.Errorf("%w: %s", ErrServiceDisabled, opts.Service)
		}
		if _, ok := o.registry.Get(opts.Service); !ok {
			return nil, fmt.Errorf("%w: no adapter for %s", ErrServiceNotConfigured, opts.Service)
		}
		return []string{opts.Service}, nil
	}

	var names []string
	for _, name := range o.cfg.EnabledServices() {
		if _, ok := o.registry.Get(name); !ok {
			o.logger.Warn("enabled service has no adapter, skipping", "service", name)
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// effectiveSince resolves the scan window with the documented precedence:
// explicit caller timestamp, then full-scan override, then the persisted
// checkpoint, then nil for a first-ever scan.
func effectiveSince(opts Options, state *repo.SyncState, name string) *time.Time {
	if opts.Since != nil {
		return opts.Since
	}
	if opts.FullScan {
		return nil
	}
	return state.ServiceCheckpoint(name)
}

func (o *Orchestrator) runService(ctx context.Context, name string, state *repo.SyncState, opts Options) ServiceResult {
	result := ServiceResult{Service: name}
	adapter, ok := o.registry.Get(name)
	if !ok {
		result.Err = fmt.Errorf("%w: no adapter for %s", ErrServiceNotConfigured, name)
		return result
	}

	since := effectiveSince(opts, state, name)
	if since != nil {
		o.logger.Info("starting incremental discovery", "service", name, "since", *since)
	} else {
		o.logger.Info("starting full discovery", "service", name)
	}

	it, err := adapter.Discover(ctx, since)
	if err != nil {
		o.logger.Error("discovery failed to start", "service", name, "error", err)
		result.Err = err
		return result
	}

	for {
		p, err := it.Next(ctx)
		if errors.Is(err, service.ErrEnd) {
			break
		}
		if err != nil {
			// Terminal adapter error: this service's scan failed this run.
			// Its checkpoint stays where it was so the next run retries.
			o.logger.Error("discovery aborted", "service", name, "error", err)
			result.Err = err
			return result
		}
		o.persist(ctx, name, p, &result)
	}

	now := o.clk.Now()
	state.RecordDiscovery(name, now, result.Discovered+result.Updated)
	o.logger.Info("discovery complete", "service", name,
		"discovered", result.Discovered, "updated", result.Updated, "failed", result.Failed)
	return result
}

// persist saves one discovered photo. A record whose canonical_source is
// already known updates the existing photo in place instead of minting a new
// identity; individual save failures are logged and counted, never fatal to
// the scan.
func (o *Orchestrator) persist(ctx context.Context, name string, p *model.Photo, result *ServiceResult) {
	existing, err := o.repo.FindByCanonicalSource(ctx, p.CanonicalSource)
	switch {
	case err == nil:
		oldPath := existing.MetadataFilePath(o.repo.Root())
		mergePhoto(existing, p)
		if err := o.repo.Save(ctx, existing, true); err != nil {
			o.logger.Error("failed to update photo", "service", name,
				"photo_id", existing.PhotoID, "error", err)
			// The merge mutated the in-memory record but nothing reached
			// disk; drop the cache so reads reflect durable storage.
			o.repo.InvalidateCache()
			result.Failed++
			return
		}
		if newPath := existing.MetadataFilePath(o.repo.Root()); newPath != oldPath {
			// The repository never moves files; the old location is cleared
			// only once the new one is durably written.
			if derr := o.repo.RemoveFile(oldPath); derr != nil {
				o.logger.Warn("could not remove old metadata file",
					"photo_id", existing.PhotoID, "path", oldPath, "error", derr)
			}
		}
		result.Updated++
	case errors.Is(err, repo.ErrNotFound):
		if err := o.repo.Save(ctx, p, true); err != nil {
			o.logger.Error("failed to save photo", "service", name,
				"photo_id", p.PhotoID, "error", err)
			result.Failed++
			return
		}
		result.Discovered++
	default:
		o.logger.Error("canonical source lookup failed", "service", name,
			"canonical_source", p.CanonicalSource, "error", err)
		result.Failed++
	}
}

// mergePhoto refreshes a known record from a newly discovered one: service
// instances are replaced in place, and metadata fields the service
// re-reported overwrite the stored values. Identity (photo_id, created_at),
// conflicts, and processing state are untouched.
func mergePhoto(existing, incoming *model.Photo) {
	for svc, inst := range incoming.Instances {
		existing.AddServiceInstance(svc, inst)
	}
	if incoming.ContentHash != "" {
		existing.ContentHash = incoming.ContentHash
	}
	if incoming.SourceOfTruthPath != "" {
		existing.SourceOfTruthPath = incoming.SourceOfTruthPath
	}

	m := &existing.Metadata
	in := incoming.Metadata
	if in.TakenDate != nil {
		m.TakenDate = in.TakenDate
	}
	if in.Filename != "" {
		m.Filename = in.Filename
	}
	if in.Caption != "" {
		m.Caption = in.Caption
	}
	if in.Location != nil {
		m.Location = in.Location
	}
	if len(in.Tags) > 0 {
		m.Tags = in.Tags
	}
	if in.CameraInfo != nil {
		m.CameraInfo = in.CameraInfo
	}
	if in.Dimensions != nil {
		m.Dimensions = in.Dimensions
	}
	if in.FileSize != nil {
		m.FileSize = in.FileSize
	}
	for svc, lvl := range incoming.Visibility.PerService {
		existing.Visibility.PerService[svc] = lvl
	}
}
