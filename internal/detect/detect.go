// Package detect implements the conflict and duplicate detector.
//
// INVARIANTS:
// - All functions are pure and read-only
// - No stored photo is ever mutated here
// - Findings are reports; acting on them is the caller's job
package detect

import (
	"fmt"
	"sort"
	"time"

	"github.com/photosync/photosync/internal/model"
)

// Finding is an individual detector result.
type Finding struct {
	Severity    string   `json:"severity"` // "info", "warning"
	Category    string   `json:"category"` // "duplicate", "visibility"
	Description string   `json:"description"`
	PhotoIDs    []string `json:"photo_ids,omitempty"`
	Services    []string `json:"services,omitempty"`
}

// Report is one detector pass over the full collection.
type Report struct {
	GeneratedAt time.Time                 `json:"generated_at"`
	TotalPhotos int                       `json:"total_photos"`
	Duplicates  map[string][]*model.Photo `json:"-"`
	Findings    []Finding                 `json:"findings"`
}

// Duplicates groups photos by content hash, returning only groups with more
// than one member. Photos without a hash are excluded entirely.
func Duplicates(photos []*model.Photo) map[string][]*model.Photo {
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
	return byHash
}

// VisibilityDiscrepancies compares each service's observed visibility
// against the canonical level and materializes one discrepancy per mismatch.
// The computation is idempotent: identical input yields an identical list.
func VisibilityDiscrepancies(p *model.Photo) []model.VisibilityDiscrepancy {
	services := make([]string, 0, len(p.Visibility.PerService))
	for svc := range p.Visibility.PerService {
		services = append(services, svc)
	}
	sort.Strings(services)

	var out []model.VisibilityDiscrepancy
	for _, svc := range services {
		current := p.Visibility.PerService[svc]
		if current != p.Visibility.Canonical {
			out = append(out, model.VisibilityDiscrepancy{
				Service:   svc,
				Current:   current,
				Canonical: p.Visibility.Canonical,
			})
		}
	}
	return out
}

// Scan runs the full detector pass and produces a report of everything that
// needs attention: duplicate groups and per-photo visibility mismatches.
func Scan(photos []*model.Photo, at time.Time) *Report {
	report := &Report{
		GeneratedAt: at,
		TotalPhotos: len(photos),
		Duplicates:  Duplicates(photos),
	}

	hashes := make([]string, 0, len(report.Duplicates))
	for hash := range report.Duplicates {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)
	for _, hash := range hashes {
		group := report.Duplicates[hash]
		ids := make([]string, 0, len(group))
		svcSet := make(map[string]struct{})
		for _, p := range group {
			ids = append(ids, p.PhotoID)
			for svc := range p.Instances {
				svcSet[svc] = struct{}{}
			}
		}
		sort.Strings(ids)
		report.Findings = append(report.Findings, Finding{
			Severity:    "warning",
			Category:    "duplicate",
			Description: fmt.Sprintf("%d photos share content hash %s", len(group), hash),
			PhotoIDs:    ids,
			Services:    sortedKeys(svcSet),
		})
	}

	for _, p := range photos {
		for _, d := range VisibilityDiscrepancies(p) {
			report.Findings = append(report.Findings, Finding{
				Severity: "warning",
				Category: "visibility",
				Description: fmt.Sprintf("%s shows %s visibility on %s, canonical is %s",
					p.PhotoID, d.Current, d.Service, d.Canonical),
				PhotoIDs: []string{p.PhotoID},
				Services: []string{d.Service},
			})
		}
	}

	return report
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DuplicateConflict builds the conflict record for one duplicate group.
// Attaching it to photos is a caller decision; the detector never writes.
func DuplicateConflict(contentHash string, group []*model.Photo) model.Conflict {
	ids := make([]string, 0, len(group))
	svcSet := make(map[string]struct{})
	for _, p := range group {
		ids = append(ids, p.PhotoID)
		for svc := range p.Instances {
			svcSet[svc] = struct{}{}
		}
	}
	sort.Strings(ids)
	return model.Conflict{
		Type:               model.ConflictDuplicateDetected,
		Description:        fmt.Sprintf("content hash %s appears on %d photos", contentHash, len(group)),
		Services:           sortedKeys(svcSet),
		ResolutionRequired: true,
		Details: map[string]any{
			"content_hash": contentHash,
			"photo_ids":    ids,
		},
	}
}

// VisibilityConflict builds the conflict record for one visibility
// discrepancy.
func VisibilityConflict(d model.VisibilityDiscrepancy) model.Conflict {
	return model.Conflict{
		Type:               model.ConflictVisibility,
		Description:        fmt.Sprintf("%s reports %s, canonical is %s", d.Service, d.Current, d.Canonical),
		Services:           []string{d.Service},
		ResolutionRequired: true,
		Details: map[string]any{
			"service":   d.Service,
			"current":   string(d.Current),
			"canonical": string(d.Canonical),
		},
	}
}
