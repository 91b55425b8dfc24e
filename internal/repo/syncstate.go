package repo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SyncStateFileName is the sync-state location under config/.
const SyncStateFileName = "sync-state.json"

// ServiceSync is one service's discovery checkpoint.
type ServiceSync struct {
	LastDiscovery       *time.Time `json:"last_discovery"`
	LastDiscoveredCount int        `json:"last_discovered_count"`
}

// SyncState is the only persisted cross-cutting state: per-service discovery
// checkpoints plus repository-wide counters. It is read at the start of a
// discovery run and written at the end.
type SyncState struct {
	LastSync         *time.Time             `json:"last_sync"`
	TotalPhotos      int                    `json:"total_photos"`
	Services         map[string]ServiceSync `json:"services"`
	LastDiscovery    *time.Time             `json:"last_discovery"`
	PendingConflicts int                    `json:"pending_conflicts"`
}

// NewSyncState returns an empty sync state (never-synced repository).
func NewSyncState() *SyncState {
	return &SyncState{Services: make(map[string]ServiceSync)}
}

// SyncStatePath returns the sync-state file location under a repository root.
func SyncStatePath(root string) string {
	return filepath.Join(root, "config", SyncStateFileName)
}

// LoadSyncState reads the sync-state file. A missing file yields the empty
// state; a malformed one is an error, since silently resetting checkpoints
// would re-scan full service histories.
func LoadSyncState(root string) (*SyncState, error) {
	data, err := os.ReadFile(SyncStatePath(root))
	if os.IsNotExist(err) {
		return NewSyncState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sync state: %w", err)
	}
	var st SyncState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse sync state: %w", err)
	}
	if st.Services == nil {
		st.Services = make(map[string]ServiceSync)
	}
	return &st, nil
}

// Save writes the sync-state file atomically.
func (s *SyncState) Save(root string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize sync state: %w", err)
	}
	if err := writeFileAtomic(SyncStatePath(root), data); err != nil {
		return fmt.Errorf("write sync state: %w", err)
	}
	return nil
}

// ServiceCheckpoint returns the named service's last completed discovery
// time, or nil for a first-ever scan.
func (s *SyncState) ServiceCheckpoint(service string) *time.Time {
	if sync, ok := s.Services[service]; ok {
		return sync.LastDiscovery
	}
	return nil
}

// RecordDiscovery checkpoints a completed scan for one service.
func (s *SyncState) RecordDiscovery(service string, at time.Time, count int) {
	if s.Services == nil {
		s.Services = make(map[string]ServiceSync)
	}
	s.Services[service] = ServiceSync{LastDiscovery: &at, LastDiscoveredCount: count}
}
