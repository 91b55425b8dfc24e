package model

import (
	"strings"
	"testing"
	"time"

	"github.com/photosync/photosync/internal/clock"
)

func fixedClock(t *testing.T) *clock.Fixed {
	t.Helper()
	return clock.NewFixed(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
}

func TestNewPhoto_Defaults(t *testing.T) {
	clk := fixedClock(t)
	p := New(clk)

	if p.PhotoID == "" {
		t.Fatal("photo_id should be generated")
	}
	if p.ProcessingState != StateDiscovered {
		t.Errorf("expected state discovered, got %s", p.ProcessingState)
	}
	if p.Visibility.Canonical != VisibilityPrivate {
		t.Errorf("expected private visibility, got %s", p.Visibility.Canonical)
	}
	if !p.CreatedAt.Equal(p.UpdatedAt) {
		t.Errorf("created_at and updated_at should match at creation")
	}

	q := New(clk)
	if q.PhotoID == p.PhotoID {
		t.Error("two photos should not share a photo_id")
	}
}

func TestRoundTrip_AllFieldsAbsent(t *testing.T) {
	clk := fixedClock(t)
	p := New(clk)

	data, err := p.EncodeJSON()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := FromJSON(data, clk)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	assertPhotosEqual(t, p, got)
}

func TestRoundTrip_AllFieldsPresent(t *testing.T) {
	clk := fixedClock(t)
	p := New(clk)
	p.ContentHash = "deadbeef"
	p.CanonicalSource = "google-photos:remote-1"
	p.SourceOfTruthPath = "/blobs/2024/photo.jpg"

	lastSync := clk.Now().Add(-time.Hour)
	p.AddServiceInstance("google-photos", ServiceInstance{
		ID:       "remote-1",
		Quality:  QualityHigh,
		LastSync: &lastSync,
		URL:      "https://photos.example/remote-1",
	})

	taken := time.Date(2023, 11, 5, 9, 30, 0, 0, time.UTC)
	size := int64(2048)
	p.Metadata = Metadata{
		TakenDate:  &taken,
		Filename:   "IMG_0001.jpg",
		Location:   &Location{Lat: 47.6, Lng: -122.3, Address: "Seattle, WA"},
		Tags:       []string{"vacation", "family", "vacation"},
		Caption:    "first snow",
		CameraInfo: &CameraInfo{Make: "Canon", Model: "R5", Settings: map[string]any{"iso": "400"}},
		Dimensions: &Dimensions{Width: 1920, Height: 1080},
		FileSize:   &size,
	}
	p.Visibility.Canonical = VisibilityFriends
	p.Visibility.PerService["google-photos"] = VisibilityPublic
	p.Visibility.Discrepancies = []VisibilityDiscrepancy{
		{Service: "google-photos", Current: VisibilityPublic, Canonical: VisibilityFriends},
	}
	p.AddConflict(Conflict{
		Type:               ConflictVisibility,
		Description:        "google-photos reports public",
		Services:           []string{"google-photos"},
		ResolutionRequired: true,
		Details:            map[string]any{"canonical": "friends"},
	})
	if err := p.SetProcessingState(StateResolved); err != nil {
		t.Fatalf("set state: %v", err)
	}

	data, err := p.EncodeJSON()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := FromJSON(data, clk)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	assertPhotosEqual(t, p, got)

	inst := got.Instances["google-photos"]
	if inst.LastSync == nil || !inst.LastSync.Equal(lastSync) {
		t.Errorf("last_sync did not round-trip: %v", inst.LastSync)
	}
	if got.Metadata.TakenDate == nil || !got.Metadata.TakenDate.Equal(taken) {
		t.Errorf("taken_date did not round-trip: %v", got.Metadata.TakenDate)
	}
	if len(got.Metadata.Tags) != 3 {
		t.Errorf("tags should keep duplicates and order, got %v", got.Metadata.Tags)
	}
}

func assertPhotosEqual(t *testing.T, want, got *Photo) {
	t.Helper()
	if got.PhotoID != want.PhotoID {
		t.Errorf("photo_id: want %s, got %s", want.PhotoID, got.PhotoID)
	}
	if got.ContentHash != want.ContentHash {
		t.Errorf("content_hash: want %q, got %q", want.ContentHash, got.ContentHash)
	}
	if got.CanonicalSource != want.CanonicalSource {
		t.Errorf("canonical_source: want %q, got %q", want.CanonicalSource, got.CanonicalSource)
	}
	if got.SourceOfTruthPath != want.SourceOfTruthPath {
		t.Errorf("source_of_truth_path: want %q, got %q", want.SourceOfTruthPath, got.SourceOfTruthPath)
	}
	if got.ProcessingState != want.ProcessingState {
		t.Errorf("processing_state: want %s, got %s", want.ProcessingState, got.ProcessingState)
	}
	if len(got.Instances) != len(want.Instances) {
		t.Errorf("instances: want %d, got %d", len(want.Instances), len(got.Instances))
	}
	if len(got.Conflicts) != len(want.Conflicts) {
		t.Errorf("conflicts: want %d, got %d", len(want.Conflicts), len(got.Conflicts))
	}
	if got.Visibility.Canonical != want.Visibility.Canonical {
		t.Errorf("visibility: want %s, got %s", want.Visibility.Canonical, got.Visibility.Canonical)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("created_at: want %v, got %v", want.CreatedAt, got.CreatedAt)
	}
	if !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("updated_at: want %v, got %v", want.UpdatedAt, got.UpdatedAt)
	}
}

func TestMutatorsRefreshUpdatedAt(t *testing.T) {
	clk := fixedClock(t)
	p := New(clk)
	created := p.CreatedAt

	clk.Advance(time.Minute)
	p.AddServiceInstance("flickr", ServiceInstance{ID: "f-1"})
	if !p.UpdatedAt.After(created) {
		t.Error("AddServiceInstance should refresh updated_at")
	}

	clk.Advance(time.Minute)
	before := p.UpdatedAt
	p.RemoveServiceInstance("flickr")
	if !p.UpdatedAt.After(before) {
		t.Error("RemoveServiceInstance should refresh updated_at")
	}

	// Removing an absent instance is a no-op.
	before = p.UpdatedAt
	clk.Advance(time.Minute)
	p.RemoveServiceInstance("flickr")
	if !p.UpdatedAt.Equal(before) {
		t.Error("removing a missing instance should not touch updated_at")
	}
}

func TestConflictResolution(t *testing.T) {
	clk := fixedClock(t)
	p := New(clk)

	if p.HasUnresolvedConflicts() {
		t.Error("new photo should have no conflicts")
	}

	p.AddConflict(Conflict{Type: ConflictDuplicateDetected, Description: "dup", ResolutionRequired: true})
	p.AddConflict(Conflict{Type: ConflictMetadataMismatch, Description: "meta", ResolutionRequired: true})
	if !p.HasUnresolvedConflicts() {
		t.Error("expected unresolved conflicts")
	}

	if err := p.ResolveConflict(0); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Conflicts[0].ResolutionRequired {
		t.Error("conflict 0 should be resolved")
	}
	if !p.Conflicts[1].ResolutionRequired {
		t.Error("conflict 1 should be untouched")
	}
	if !p.HasUnresolvedConflicts() {
		t.Error("one conflict still unresolved")
	}

	if err := p.ResolveConflict(1); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.HasUnresolvedConflicts() {
		t.Error("all conflicts resolved")
	}
	if len(p.Conflicts) != 2 {
		t.Error("resolution must not delete conflicts")
	}

	if err := p.ResolveConflict(5); err == nil {
		t.Error("out-of-range index should error")
	}
	if err := p.ResolveConflict(-1); err == nil {
		t.Error("negative index should error")
	}
}

func TestProcessingStateTransitions(t *testing.T) {
	clk := fixedClock(t)
	p := New(clk)

	if err := p.SetProcessingState(StateResolved); err != nil {
		t.Fatalf("discovered -> resolved: %v", err)
	}
	if err := p.SetProcessingState(StateReplicated); err != nil {
		t.Fatalf("resolved -> replicated: %v", err)
	}
	if err := p.SetProcessingState(StateDiscovered); err == nil {
		t.Error("backwards transition should be rejected")
	}
	if p.ProcessingState != StateReplicated {
		t.Errorf("state should be unchanged after rejected transition, got %s", p.ProcessingState)
	}
	if err := p.SetProcessingState("bogus"); err == nil {
		t.Error("unknown state should be rejected")
	}
}

func TestMetadataFilePath(t *testing.T) {
	clk := fixedClock(t)
	p := NewWithID(clk, "abc123")

	taken := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	p.Metadata.TakenDate = &taken

	got := p.MetadataFilePath("/repo")
	want := "/repo/photos/2024/03/abc123.json"
	if got != want {
		t.Errorf("want %s, got %s", want, got)
	}

	// Same year/month, different photo_id: same directory, different file.
	q := NewWithID(clk, "def456")
	q.Metadata.TakenDate = &taken
	other := q.MetadataFilePath("/repo")
	if other == got {
		t.Error("different photo_id must give a different filename")
	}
	if !strings.HasPrefix(other, "/repo/photos/2024/03/") {
		t.Errorf("same taken month should share a directory, got %s", other)
	}

	// Without taken_date the path falls back to created_at (2024-06).
	r := NewWithID(clk, "ghi789")
	if want := "/repo/photos/2024/06/ghi789.json"; r.MetadataFilePath("/repo") != want {
		t.Errorf("created_at fallback: want %s, got %s", want, r.MetadataFilePath("/repo"))
	}
}

func TestFromJSON_Normalization(t *testing.T) {
	clk := fixedClock(t)

	// Missing enum values fall back to writer defaults.
	data := []byte(`{
		"photo_id": "p1",
		"instances": {"flickr": {"id": "f-1"}},
		"created_at": "2024-06-01T12:00:00Z",
		"updated_at": "2024-06-01T12:00:00Z"
	}`)
	p, err := FromJSON(data, clk)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.ProcessingState != StateDiscovered {
		t.Errorf("missing state should default to discovered, got %s", p.ProcessingState)
	}
	if p.Instances["flickr"].Quality != QualityOriginal {
		t.Errorf("missing quality should default to original, got %s", p.Instances["flickr"].Quality)
	}
	if p.Visibility.Canonical != VisibilityPrivate {
		t.Errorf("missing visibility should default to private, got %s", p.Visibility.Canonical)
	}

	// Values outside the closed sets are rejected.
	bad := []byte(`{"photo_id": "p2", "processing_state": "exploded",
		"created_at": "2024-06-01T12:00:00Z", "updated_at": "2024-06-01T12:00:00Z"}`)
	if _, err := FromJSON(bad, clk); err == nil {
		t.Error("unknown processing state should be rejected")
	}

	if _, err := FromJSON([]byte(`{"created_at": "2024-06-01T12:00:00Z"}`), clk); err == nil {
		t.Error("record without photo_id should be rejected")
	}
}

func TestParseEnums(t *testing.T) {
	for _, tc := range []string{"discovered", "resolved", "replicated"} {
		if _, err := ParseProcessingState(tc); err != nil {
			t.Errorf("ParseProcessingState(%q): %v", tc, err)
		}
	}
	if _, err := ParseProcessingState("pending"); err == nil {
		t.Error("ParseProcessingState should reject unknown tags")
	}
	if _, err := ParseVisibilityLevel("unlisted"); err == nil {
		t.Error("ParseVisibilityLevel should reject unknown tags")
	}
	if _, err := ParseQuality("thumbnail"); err == nil {
		t.Error("ParseQuality should reject unknown tags")
	}
}
