// Package model defines the canonical photo entity and its sub-structures.
// A Photo is the single service-agnostic record for one logical photo; every
// remote copy of it is a ServiceInstance keyed by service name.
package model

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/photosync/photosync/internal/clock"
)

// ServiceInstance is one service's copy of a photo.
type ServiceInstance struct {
	ID       string     `json:"id"`
	Quality  Quality    `json:"quality"`
	LastSync *time.Time `json:"last_sync"`
	URL      string     `json:"url"`
}

// Location is a geographic position with an optional free-text address.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

// CameraInfo describes the capturing device.
type CameraInfo struct {
	Make     string         `json:"make"`
	Model    string         `json:"model"`
	Settings map[string]any `json:"settings"`
}

// Dimensions are pixel dimensions.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Metadata holds descriptive facts about a photo. Every field is
// independently optional; a nil pointer or empty string means "unknown",
// not "empty".
type Metadata struct {
	TakenDate  *time.Time  `json:"taken_date"`
	Filename   string      `json:"filename"`
	Location   *Location   `json:"location"`
	Tags       []string    `json:"tags"`
	Caption    string      `json:"caption"`
	CameraInfo *CameraInfo `json:"camera_info"`
	Dimensions *Dimensions `json:"dimensions"`
	FileSize   *int64      `json:"file_size"`
}

// VisibilityDiscrepancy records one service whose visibility did not match
// the canonical level at the time the discrepancy was computed.
type VisibilityDiscrepancy struct {
	Service   string          `json:"service"`
	Current   VisibilityLevel `json:"current"`
	Canonical VisibilityLevel `json:"canonical"`
}

// Visibility is the canonical visibility plus what each service reports.
// Discrepancies are a snapshot; they are only regenerated on request, never
// on load.
type Visibility struct {
	Canonical     VisibilityLevel            `json:"canonical"`
	PerService    map[string]VisibilityLevel `json:"per_service"`
	Discrepancies []VisibilityDiscrepancy    `json:"discrepancies"`
}

// Conflict is a detected problem requiring manual resolution. Conflicts are
// append-only; resolution flips ResolutionRequired and nothing else.
type Conflict struct {
	Type               string         `json:"type"`
	Description        string         `json:"description"`
	Services           []string       `json:"services"`
	ResolutionRequired bool           `json:"resolution_required"`
	Details            map[string]any `json:"details"`
}

// Conflict type tags used by the core.
const (
	ConflictMetadataMismatch  = "metadata_mismatch"
	ConflictVisibility        = "visibility_conflict"
	ConflictDuplicateDetected = "duplicate_detected"
)

// Photo is the canonical record for one logical photo across all services.
// PhotoID never changes after creation; UpdatedAt moves on every mutation to
// instances, conflicts, or processing state.
type Photo struct {
	PhotoID           string                     `json:"photo_id"`
	ContentHash       string                     `json:"content_hash"`
	CanonicalSource   string                     `json:"canonical_source"`
	SourceOfTruthPath string                     `json:"source_of_truth_path"`
	Instances         map[string]ServiceInstance `json:"instances"`
	Metadata          Metadata                   `json:"metadata"`
	Visibility        Visibility                 `json:"visibility"`
	ProcessingState   ProcessingState            `json:"processing_state"`
	Conflicts         []Conflict                 `json:"conflicts"`
	CreatedAt         time.Time                  `json:"created_at"`
	UpdatedAt         time.Time                  `json:"updated_at"`

	clk clock.Clock
}

// New creates a Photo in state discovered with a fresh photo_id.
func New(clk clock.Clock) *Photo {
	return NewWithID(clk, uuid.NewString())
}

// NewWithID creates a Photo with the caller's photo_id. Used when rebuilding
// a record whose identity already exists.
func NewWithID(clk clock.Clock, photoID string) *Photo {
	if clk == nil {
		clk = clock.System()
	}
	now := clk.Now()
	return &Photo{
		PhotoID:   photoID,
		Instances: make(map[string]ServiceInstance),
		Visibility: Visibility{
			Canonical:  VisibilityPrivate,
			PerService: make(map[string]VisibilityLevel),
		},
		ProcessingState: StateDiscovered,
		CreatedAt:       now,
		UpdatedAt:       now,
		clk:             clk,
	}
}

func (p *Photo) now() time.Time {
	if p.clk == nil {
		p.clk = clock.System()
	}
	return p.clk.Now()
}

func (p *Photo) touch() {
	p.UpdatedAt = p.now()
	if p.UpdatedAt.Before(p.CreatedAt) {
		p.UpdatedAt = p.CreatedAt
	}
}

// AddServiceInstance adds or replaces the instance for a service.
func (p *Photo) AddServiceInstance(service string, inst ServiceInstance) {
	if p.Instances == nil {
		p.Instances = make(map[string]ServiceInstance)
	}
	if inst.Quality == "" {
		inst.Quality = QualityOriginal
	}
	p.Instances[service] = inst
	p.touch()
}

// RemoveServiceInstance drops a service's instance if present.
func (p *Photo) RemoveServiceInstance(service string) {
	if _, ok := p.Instances[service]; !ok {
		return
	}
	delete(p.Instances, service)
	p.touch()
}

// AddConflict appends a conflict. Conflicts are never removed.
func (p *Photo) AddConflict(c Conflict) {
	p.Conflicts = append(p.Conflicts, c)
	p.touch()
}

// ResolveConflict marks the conflict at index as no longer requiring
// resolution. The conflict stays in the list as history.
func (p *Photo) ResolveConflict(index int) error {
	if index < 0 || index >= len(p.Conflicts) {
		return fmt.Errorf("conflict index %d out of range (photo has %d)", index, len(p.Conflicts))
	}
	p.Conflicts[index].ResolutionRequired = false
	p.touch()
	return nil
}

// HasUnresolvedConflicts reports whether any conflict still requires
// resolution.
func (p *Photo) HasUnresolvedConflicts() bool {
	for _, c := range p.Conflicts {
		if c.ResolutionRequired {
			return true
		}
	}
	return false
}

// SetProcessingState advances the lifecycle. Backwards transitions are
// rejected; setting the current state again is a no-op that still refreshes
// UpdatedAt.
func (p *Photo) SetProcessingState(s ProcessingState) error {
	if s.rank() < 0 {
		return fmt.Errorf("unknown processing state %q", s)
	}
	if s.rank() < p.ProcessingState.rank() {
		return fmt.Errorf("cannot move processing state backwards: %s -> %s", p.ProcessingState, s)
	}
	p.ProcessingState = s
	p.touch()
	return nil
}

// OrganizationDate is the timestamp used for chronological layout:
// taken_date when known, created_at otherwise.
func (p *Photo) OrganizationDate() time.Time {
	if p.Metadata.TakenDate != nil {
		return *p.Metadata.TakenDate
	}
	return p.CreatedAt
}

// MetadataFilePath computes where this photo's metadata file lives under
// base. The path is a pure function of the organization date and photo_id:
// base/photos/<year>/<month>/<photo_id>.json. Changing taken_date after a
// save therefore changes the path; moving the old file is the repository
// caller's problem, not the entity's.
func (p *Photo) MetadataFilePath(base string) string {
	d := p.OrganizationDate()
	return filepath.Join(base, "photos",
		fmt.Sprintf("%04d", d.Year()),
		fmt.Sprintf("%02d", int(d.Month())),
		p.PhotoID+".json")
}

// EncodeJSON serializes the photo as indented UTF-8 JSON. Absent optional
// fields serialize as explicit nulls so a reload cannot change meaning.
func (p *Photo) EncodeJSON() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// FromJSON decodes a serialized photo and validates its closed enum fields.
// Missing enum values fall back to the same defaults the writer would have
// used (quality original, visibility private, state discovered).
func FromJSON(data []byte, clk clock.Clock) (*Photo, error) {
	var p Photo
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode photo: %w", err)
	}
	if err := p.normalize(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.System()
	}
	p.clk = clk
	return &p, nil
}

// normalize fills enum defaults and rejects values outside the closed sets.
func (p *Photo) normalize() error {
	if p.PhotoID == "" {
		return fmt.Errorf("photo record has no photo_id")
	}
	if p.ProcessingState == "" {
		p.ProcessingState = StateDiscovered
	} else if _, err := ParseProcessingState(string(p.ProcessingState)); err != nil {
		return err
	}
	if p.Visibility.Canonical == "" {
		p.Visibility.Canonical = VisibilityPrivate
	} else if _, err := ParseVisibilityLevel(string(p.Visibility.Canonical)); err != nil {
		return err
	}
	for svc, lvl := range p.Visibility.PerService {
		if _, err := ParseVisibilityLevel(string(lvl)); err != nil {
			return fmt.Errorf("service %s: %w", svc, err)
		}
	}
	for _, d := range p.Visibility.Discrepancies {
		if _, err := ParseVisibilityLevel(string(d.Current)); err != nil {
			return fmt.Errorf("discrepancy for %s: %w", d.Service, err)
		}
		if _, err := ParseVisibilityLevel(string(d.Canonical)); err != nil {
			return fmt.Errorf("discrepancy for %s: %w", d.Service, err)
		}
	}
	if p.Instances == nil {
		p.Instances = make(map[string]ServiceInstance)
	}
	for svc, inst := range p.Instances {
		if inst.Quality == "" {
			inst.Quality = QualityOriginal
			p.Instances[svc] = inst
		} else if _, err := ParseQuality(string(inst.Quality)); err != nil {
			return fmt.Errorf("service %s: %w", svc, err)
		}
	}
	if p.Visibility.PerService == nil {
		p.Visibility.PerService = make(map[string]VisibilityLevel)
	}
	if p.UpdatedAt.Before(p.CreatedAt) {
		return fmt.Errorf("photo %s: updated_at precedes created_at", p.PhotoID)
	}
	return nil
}

func (p *Photo) String() string {
	name := p.Metadata.Filename
	if name == "" {
		name = "unknown"
	}
	services := make([]string, 0, len(p.Instances))
	for svc := range p.Instances {
		services = append(services, svc)
	}
	id := p.PhotoID
	if len(id) > 8 {
		id = id[:8] + "..."
	}
	return fmt.Sprintf("Photo(%s): %s on %v", id, name, services)
}
