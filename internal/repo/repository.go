// Package repo implements the metadata repository: durable storage of the
// photo collection as one JSON document per photo, plus the per-service
// sync-state file. The on-disk tree is the source of truth; the in-memory
// cache is only an accelerator and can always be rebuilt with
// LoadAll(ctx, false).
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/photosync/photosync/internal/clock"
	"github.com/photosync/photosync/internal/model"
)

var (
	// ErrNotFound is returned by Load and Delete for unknown photo IDs.
	ErrNotFound = errors.New("photo not found")

	// ErrValidation is returned by Save when the serialized photo does not
	// satisfy the configured schema. Nothing is written in that case.
	ErrValidation = errors.New("photo failed schema validation")
)

// SchemaFileName is the schema location probed when none is configured.
const SchemaFileName = "photo-metadata.schema.json"

// Repository stores and indexes the photo collection under a metadata
// repository root.
type Repository struct {
	root      string
	photosDir string
	clk       clock.Clock
	logger    *slog.Logger

	schema *jsonschema.Schema // nil means validation disabled

	mu    sync.RWMutex
	cache map[string]*model.Photo
}

// New creates a repository over root. No I/O happens until the first
// operation.
func New(root string, clk clock.Clock, logger *slog.Logger) *Repository {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		root:      root,
		photosDir: filepath.Join(root, "photos"),
		clk:       clk,
		logger:    logger,
		cache:     make(map[string]*model.Photo),
	}
}

// Root returns the metadata repository root.
func (r *Repository) Root() string {
	return r.root
}

// LoadSchema configures schema validation. With an empty path the default
// location under the repository is probed; if no schema file exists there,
// validation stays disabled. That is an explicit mode, not a failure.
func (r *Repository) LoadSchema(path string) error {
	if path == "" {
		path = filepath.Join(r.root, "schemas", SchemaFileName)
		if _, err := os.Stat(path); err != nil {
			r.logger.Warn("photo metadata schema not found, validation disabled", "path", path)
			return nil
		}
	}
	sch, err := jsonschema.Compile(path)
	if err != nil {
		return fmt.Errorf("compile schema %s: %w", path, err)
	}
	r.schema = sch
	r.logger.Info("loaded photo metadata schema", "path", path)
	return nil
}

// ValidationEnabled reports whether a schema is loaded.
func (r *Repository) ValidationEnabled() bool {
	return r.schema != nil
}

// Validate checks the photo's serialized form against the schema and returns
// one message per violation. An empty result means valid, or validation
// disabled.
func (r *Repository) Validate(p *model.Photo) []string {
	if r.schema == nil {
		return nil
	}
	data, err := p.EncodeJSON()
	if err != nil {
		return []string{fmt.Sprintf("serialize: %v", err)}
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return []string{fmt.Sprintf("reparse: %v", err)}
	}
	err = r.schema.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		var msgs []string
		for _, e := range verr.BasicOutput().Errors {
			if e.Error == "" {
				continue
			}
			msgs = append(msgs, fmt.Sprintf("%s: %s", e.InstanceLocation, e.Error))
		}
		if len(msgs) > 0 {
			return msgs
		}
	}
	return []string{err.Error()}
}

// Save writes the photo's metadata file at its computed path and refreshes
// the cache entry. With validate true and a schema loaded, an invalid photo
// is rejected before anything touches disk.
//
// Known limitation: if a saved photo's taken_date later changes so that its
// computed path changes, the old file is orphaned; the repository does not
// move files.
func (r *Repository) Save(ctx context.Context, p *model.Photo, validate bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if validate {
		if errs := r.Validate(p); len(errs) > 0 {
			return fmt.Errorf("%w: %s", ErrValidation, strings.Join(errs, "; "))
		}
	}
	data, err := p.EncodeJSON()
	if err != nil {
		return fmt.Errorf("serialize photo %s: %w", p.PhotoID, err)
	}
	path := p.MetadataFilePath(r.root)
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write photo %s: %w", p.PhotoID, err)
	}

	r.mu.Lock()
	r.cache[p.PhotoID] = p
	r.mu.Unlock()
	return nil
}

// writeFileAtomic writes via a temp file in the target directory and renames
// into place, so a crash mid-write never leaves a half-written record.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".photosync-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Load returns the photo with the given ID, from cache when possible.
func (r *Repository) Load(ctx context.Context, photoID string) (*model.Photo, error) {
	r.mu.RLock()
	p, ok := r.cache[photoID]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	path, err := r.findFile(ctx, photoID)
	if err != nil {
		return nil, err
	}
	p, err = r.readPhoto(path)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cache[photoID] = p
	r.mu.Unlock()
	return p, nil
}

// findFile scans the photos tree for <photoID>.json.
func (r *Repository) findFile(ctx context.Context, photoID string) (string, error) {
	want := photoID + ".json"
	var found string
	err := filepath.WalkDir(r.photosDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, keep going
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if !d.IsDir() && d.Name() == want {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, photoID)
	}
	return found, nil
}

func (r *Repository) readPhoto(path string) (*model.Photo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	p, err := model.FromJSON(data, r.clk)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// LoadAll returns the full collection. With useCache true a warm cache is
// returned as-is; otherwise the photos tree is rescanned and the cache
// rebuilt. Corrupt or unreadable files are logged and skipped, never fatal.
func (r *Repository) LoadAll(ctx context.Context, useCache bool) ([]*model.Photo, error) {
	if useCache {
		r.mu.RLock()
		if len(r.cache) > 0 {
			photos := make([]*model.Photo, 0, len(r.cache))
			for _, p := range r.cache {
				photos = append(photos, p)
			}
			r.mu.RUnlock()
			sortPhotos(photos)
			return photos, nil
		}
		r.mu.RUnlock()
	}

	var photos []*model.Photo
	fresh := make(map[string]*model.Photo)
	err := filepath.WalkDir(r.photosDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return fs.SkipAll
			}
			r.logger.Warn("skipping unreadable path during scan", "path", path, "error", err)
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		p, rerr := r.readPhoto(path)
		if rerr != nil {
			r.logger.Error("skipping corrupt photo record", "path", path, "error", rerr)
			return nil
		}
		photos = append(photos, p)
		fresh[p.PhotoID] = p
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	r.mu.Lock()
	r.cache = fresh
	r.mu.Unlock()

	sortPhotos(photos)
	r.logger.Info("loaded photo collection", "count", len(photos))
	return photos, nil
}

func sortPhotos(photos []*model.Photo) {
	sort.Slice(photos, func(i, j int) bool { return photos[i].PhotoID < photos[j].PhotoID })
}

// InvalidateCache drops the in-memory cache. The next LoadAll reflects only
// durable storage.
func (r *Repository) InvalidateCache() {
	r.mu.Lock()
	r.cache = make(map[string]*model.Photo)
	r.mu.Unlock()
}

// PhotosByState returns all photos in the given processing state.
func (r *Repository) PhotosByState(ctx context.Context, state model.ProcessingState) ([]*model.Photo, error) {
	return r.filter(ctx, func(p *model.Photo) bool { return p.ProcessingState == state })
}

// PhotosWithConflicts returns all photos with at least one unresolved
// conflict.
func (r *Repository) PhotosWithConflicts(ctx context.Context) ([]*model.Photo, error) {
	return r.filter(ctx, func(p *model.Photo) bool { return p.HasUnresolvedConflicts() })
}

// PhotosByService returns all photos with an instance on the named service.
func (r *Repository) PhotosByService(ctx context.Context, service string) ([]*model.Photo, error) {
	return r.filter(ctx, func(p *model.Photo) bool {
		_, ok := p.Instances[service]
		return ok
	})
}

// PhotosByHash returns all photos with the given content hash.
func (r *Repository) PhotosByHash(ctx context.Context, contentHash string) ([]*model.Photo, error) {
	return r.filter(ctx, func(p *model.Photo) bool {
		return p.ContentHash != "" && p.ContentHash == contentHash
	})
}

// PhotosByDateRange returns photos whose organization date falls within
// [start, end], bounds inclusive.
func (r *Repository) PhotosByDateRange(ctx context.Context, start, end time.Time) ([]*model.Photo, error) {
	return r.filter(ctx, func(p *model.Photo) bool {
		d := p.OrganizationDate()
		return !d.Before(start) && !d.After(end)
	})
}

// FindByCanonicalSource returns the photo whose canonical_source matches, or
// ErrNotFound. Used by discovery to update known records instead of minting
// duplicates.
func (r *Repository) FindByCanonicalSource(ctx context.Context, source string) (*model.Photo, error) {
	if source == "" {
		return nil, fmt.Errorf("%w: empty canonical source", ErrNotFound)
	}
	matches, err := r.filter(ctx, func(p *model.Photo) bool { return p.CanonicalSource == source })
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: canonical source %s", ErrNotFound, source)
	}
	return matches[0], nil
}

func (r *Repository) filter(ctx context.Context, keep func(*model.Photo) bool) ([]*model.Photo, error) {
	photos, err := r.LoadAll(ctx, true)
	if err != nil {
		return nil, err
	}
	var out []*model.Photo
	for _, p := range photos {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// FindDuplicates groups photos by content hash and returns only groups with
// more than one member. Photos without a hash are never grouped.
func (r *Repository) FindDuplicates(ctx context.Context) (map[string][]*model.Photo, error) {
	photos, err := r.LoadAll(ctx, true)
	if err != nil {
		return nil, err
	}
	byHash := make(map[string][]*model.Photo)
	for _, p := range photos {
		if p.ContentHash == "" {
			continue
		}
		byHash[p.ContentHash] = append(byHash[p.ContentHash], p)
	}
	for hash, group := range byHash {
		if len(group) < 2 {
			delete(byHash, hash)
		}
	}
	return byHash, nil
}

// Delete removes the photo's metadata file and cache entry. Deleting an
// unknown photo returns ErrNotFound.
func (r *Repository) Delete(ctx context.Context, photoID string) error {
	path, err := r.findFile(ctx, photoID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete photo %s: %w", photoID, err)
	}
	r.mu.Lock()
	delete(r.cache, photoID)
	r.mu.Unlock()
	r.logger.Info("deleted photo metadata", "photo_id", photoID, "path", path)
	return nil
}

// RemoveFile deletes one metadata file by its exact path, tolerating a file
// that is already gone. Discovery uses it to clear a photo's old location
// after the record has been re-saved at a new computed path; the cache is
// not consulted.
func (r *Repository) RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Statistics is a read-only aggregate snapshot of the collection.
type Statistics struct {
	TotalPhotos   int                           `json:"total_photos"`
	ByState       map[model.ProcessingState]int `json:"by_state"`
	ByService     map[string]int                `json:"by_service"`
	ByYear        map[int]int                   `json:"by_year"`
	WithConflicts int                           `json:"with_conflicts"`
	WithLocation  int                           `json:"with_location"`
}

// Statistics computes collection counts by state, service, and year.
func (r *Repository) Statistics(ctx context.Context) (*Statistics, error) {
	photos, err := r.LoadAll(ctx, true)
	if err != nil {
		return nil, err
	}
	stats := &Statistics{
		TotalPhotos: len(photos),
		ByState:     make(map[model.ProcessingState]int),
		ByService:   make(map[string]int),
		ByYear:      make(map[int]int),
	}
	for _, state := range model.ProcessingStates {
		stats.ByState[state] = 0
	}
	for _, p := range photos {
		stats.ByState[p.ProcessingState]++
		for svc := range p.Instances {
			stats.ByService[svc]++
		}
		if p.HasUnresolvedConflicts() {
			stats.WithConflicts++
		}
		if p.Metadata.Location != nil {
			stats.WithLocation++
		}
		stats.ByYear[p.OrganizationDate().Year()]++
	}
	return stats, nil
}
