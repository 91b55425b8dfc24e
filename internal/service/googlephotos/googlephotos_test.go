package googlephotos

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/photosync/photosync/internal/clock"
	"github.com/photosync/photosync/internal/config"
	"github.com/photosync/photosync/internal/model"
	"github.com/photosync/photosync/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Service {
	return config.Service{
		Enabled: true,
		Credentials: map[string]string{
			"client_id":     "id",
			"client_secret": "secret",
		},
	}
}

func writeToken(t *testing.T, root string) {
	t.Helper()
	dir := filepath.Join(root, "config")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	tok := `{"access_token": "test-token", "refresh_token": "r", "expiry": ""}`
	if err := os.WriteFile(filepath.Join(dir, defaultTokenFile), []byte(tok), 0o600); err != nil {
		t.Fatalf("write token: %v", err)
	}
}

func newTestAdapter(t *testing.T, root string) *Adapter {
	t.Helper()
	clk := clock.NewFixed(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	a, err := New(testConfig(), root, clk, testLogger())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return a
}

func TestNewRequiresCredentials(t *testing.T) {
	cfg := config.Service{Enabled: true, Credentials: map[string]string{"client_id": "id"}}
	if _, err := New(cfg, t.TempDir(), nil, nil); err == nil {
		t.Fatal("missing client_secret should be a configuration error")
	}
	if _, err := New(config.Service{Enabled: true}, t.TempDir(), nil, nil); err == nil {
		t.Fatal("missing credentials should be a configuration error")
	}
}

func TestDiscoverRequiresToken(t *testing.T) {
	a := newTestAdapter(t, t.TempDir())
	if _, err := a.Discover(context.Background(), nil); err == nil {
		t.Fatal("missing token file should fail the scan before it starts")
	}
}

func TestParseItem(t *testing.T) {
	root := t.TempDir()
	a := newTestAdapter(t, root)
	it := &iterator{adapter: a}

	raw := `{
		"id": "remote-abc",
		"productUrl": "https://photos.google.com/lr/photo/remote-abc",
		"filename": "IMG_0042.jpg",
		"description": "sunset at the pier",
		"mediaMetadata": {
			"creationTime": "2023-08-14T18:22:05Z",
			"width": "4032",
			"height": "3024",
			"photo": {"cameraMake": "Apple", "cameraModel": "iPhone 14"}
		}
	}`
	var item mediaItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	p, err := it.parseItem(item)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.CanonicalSource != "google-photos:remote-abc" {
		t.Errorf("canonical_source: %q", p.CanonicalSource)
	}
	inst, ok := p.Instances[Name]
	if !ok {
		t.Fatal("photo should carry a google-photos instance")
	}
	if inst.ID != "remote-abc" || inst.Quality != model.QualityOriginal {
		t.Errorf("instance: %+v", inst)
	}
	if inst.URL != "https://photos.google.com/lr/photo/remote-abc" {
		t.Errorf("instance url: %q", inst.URL)
	}

	wantTaken := time.Date(2023, 8, 14, 18, 22, 5, 0, time.UTC)
	if p.Metadata.TakenDate == nil || !p.Metadata.TakenDate.Equal(wantTaken) {
		t.Errorf("taken_date: %v", p.Metadata.TakenDate)
	}
	if p.Metadata.Filename != "IMG_0042.jpg" {
		t.Errorf("filename: %q", p.Metadata.Filename)
	}
	if p.Metadata.Caption != "sunset at the pier" {
		t.Errorf("caption: %q", p.Metadata.Caption)
	}
	if p.Metadata.Dimensions == nil || p.Metadata.Dimensions.Width != 4032 || p.Metadata.Dimensions.Height != 3024 {
		t.Errorf("dimensions: %+v", p.Metadata.Dimensions)
	}
	if p.Metadata.CameraInfo == nil || p.Metadata.CameraInfo.Make != "Apple" || p.Metadata.CameraInfo.Model != "iPhone 14" {
		t.Errorf("camera_info: %+v", p.Metadata.CameraInfo)
	}
}

func TestParseItemMinimal(t *testing.T) {
	a := newTestAdapter(t, t.TempDir())
	it := &iterator{adapter: a}

	p, err := it.parseItem(mediaItem{ID: "bare"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Metadata.TakenDate != nil || p.Metadata.Dimensions != nil || p.Metadata.CameraInfo != nil {
		t.Errorf("absent metadata should stay absent: %+v", p.Metadata)
	}

	if _, err := it.parseItem(mediaItem{}); err == nil {
		t.Error("item without id should be rejected")
	}
	bad := mediaItem{ID: "x"}
	bad.MediaMetadata.CreationTime = "not-a-time"
	if _, err := it.parseItem(bad); err == nil {
		t.Error("unparseable creationTime should be rejected")
	}
}

func TestDiscoverPagesAndEnds(t *testing.T) {
	root := t.TempDir()
	writeToken(t, root)

	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization header: %q", got)
		}
		requests = append(requests, r.URL.String())
		page := map[string]any{
			"mediaItems": []map[string]any{
				{"id": "item-" + r.URL.Query().Get("pageToken")},
			},
		}
		if r.URL.Query().Get("pageToken") == "" {
			page["nextPageToken"] = "p2"
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	a := newTestAdapter(t, root)
	a.baseURL = server.URL

	it, err := a.Discover(context.Background(), nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	var got []*model.Photo
	for {
		p, err := it.Next(context.Background())
		if errors.Is(err, service.ErrEnd) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, p)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 photos across 2 pages, got %d", len(got))
	}
	if got[0].CanonicalSource != "google-photos:item-" || got[1].CanonicalSource != "google-photos:item-p2" {
		t.Errorf("canonical sources: %s, %s", got[0].CanonicalSource, got[1].CanonicalSource)
	}
	if len(requests) != 2 {
		t.Errorf("want 2 API requests, got %d: %v", len(requests), requests)
	}

	// The sequence stays ended.
	if _, err := it.Next(context.Background()); !errors.Is(err, service.ErrEnd) {
		t.Errorf("exhausted iterator should keep returning ErrEnd, got %v", err)
	}
}

func TestDiscoverUnauthorizedIsTerminal(t *testing.T) {
	root := t.TempDir()
	writeToken(t, root)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	a := newTestAdapter(t, root)
	a.baseURL = server.URL

	it, err := a.Discover(context.Background(), nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if _, err := it.Next(context.Background()); err == nil || errors.Is(err, service.ErrEnd) {
		t.Fatalf("401 should be a terminal error, got %v", err)
	}
}

func TestDiscoverWithSinceSearches(t *testing.T) {
	root := t.TempDir()
	writeToken(t, root)

	var method, path string
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{"mediaItems": []map[string]any{}})
	}))
	defer server.Close()

	a := newTestAdapter(t, root)
	a.baseURL = server.URL

	since := time.Date(2024, 2, 10, 23, 59, 0, 0, time.UTC)
	it, err := a.Discover(context.Background(), &since)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if _, err := it.Next(context.Background()); !errors.Is(err, service.ErrEnd) {
		t.Fatalf("empty result should end cleanly, got %v", err)
	}

	if method != http.MethodPost || path != "/mediaItems:search" {
		t.Errorf("incremental scan should POST mediaItems:search, got %s %s", method, path)
	}
	filters, _ := body["filters"].(map[string]any)
	if filters == nil {
		t.Fatalf("search body should carry a date filter: %v", body)
	}
	df, _ := filters["dateFilter"].(map[string]any)
	ranges, _ := df["ranges"].([]any)
	if len(ranges) != 1 {
		t.Fatalf("want one date range: %v", df)
	}
	start, _ := ranges[0].(map[string]any)["startDate"].(map[string]any)
	if start["year"] != float64(2024) || start["month"] != float64(2) || start["day"] != float64(10) {
		t.Errorf("window should start on the checkpoint's day: %v", start)
	}
}
