// Package googlephotos implements the photo service adapter for the Google
// Photos Library API. It is the reference adapter implementation: it owns
// parsing provider records into canonical Photos and paging the API, and it
// skips bad items instead of failing the scan.
//
// The interactive OAuth consent flow is out of scope; the adapter expects a
// previously stored token file under config/ and treats an expired token as
// a terminal scan error.
package googlephotos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/photosync/photosync/internal/clock"
	"github.com/photosync/photosync/internal/config"
	"github.com/photosync/photosync/internal/model"
	"github.com/photosync/photosync/internal/service"
)

// Name is the service name used in configuration and canonical_source tags.
const Name = "google-photos"

const (
	apiBase          = "https://photoslibrary.googleapis.com/v1"
	defaultTokenFile = "google_auth_token.json"
	pageSize         = 100
)

// Adapter talks to the Google Photos Library API.
type Adapter struct {
	tokenPath string
	baseURL   string
	client    *http.Client
	clk       clock.Clock
	logger    *slog.Logger
}

// New builds the adapter from a service configuration and the metadata
// repository root. Missing credentials are a configuration error.
func New(cfg config.Service, root string, clk clock.Clock, logger *slog.Logger) (*Adapter, error) {
	if cfg.Credentials["client_id"] == "" || cfg.Credentials["client_secret"] == "" {
		return nil, fmt.Errorf("client_id and client_secret must be configured for %s", Name)
	}
	tokenFile := cfg.TokenFile
	if tokenFile == "" {
		tokenFile = defaultTokenFile
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		tokenPath: filepath.Join(root, "config", tokenFile),
		baseURL:   apiBase,
		client:    &http.Client{Timeout: 30 * time.Second},
		clk:       clk,
		logger:    logger,
	}, nil
}

// Name returns the service name.
func (a *Adapter) Name() string {
	return Name
}

// Discover starts a scan of the library. With a since timestamp the API is
// searched by creation date from that day forward; without one the whole
// library is listed, which can take a long time.
func (a *Adapter) Discover(ctx context.Context, since *time.Time) (service.Iterator, error) {
	token, err := a.loadToken()
	if err != nil {
		return nil, err
	}
	if since == nil {
		a.logger.Warn("no checkpoint for google-photos, listing entire library")
	}
	return &iterator{adapter: a, token: token, since: since}, nil
}

type storedToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Expiry       string `json:"expiry"`
}

func (a *Adapter) loadToken() (string, error) {
	data, err := os.ReadFile(a.tokenPath)
	if err != nil {
		return "", fmt.Errorf("read google-photos token (run authentication first): %w", err)
	}
	var tok storedToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return "", fmt.Errorf("parse token file %s: %w", a.tokenPath, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token file %s has no access_token", a.tokenPath)
	}
	return tok.AccessToken, nil
}

// iterator pages the mediaItems endpoints lazily, one API page per fetch.
type iterator struct {
	adapter *Adapter
	token   string
	since   *time.Time

	buffer    []*model.Photo
	pageToken string
	done      bool
}

// Next returns the next discovered photo, fetching API pages on demand.
func (it *iterator) Next(ctx context.Context) (*model.Photo, error) {
	for len(it.buffer) == 0 {
		if it.done {
			return nil, service.ErrEnd
		}
		if err := it.fetchPage(ctx); err != nil {
			it.done = true
			return nil, err
		}
	}
	p := it.buffer[0]
	it.buffer = it.buffer[1:]
	return p, nil
}

type mediaItem struct {
	ID            string `json:"id"`
	ProductURL    string `json:"productUrl"`
	Filename      string `json:"filename"`
	Description   string `json:"description"`
	MediaMetadata struct {
		CreationTime string `json:"creationTime"`
		Width        string `json:"width"`
		Height       string `json:"height"`
		Photo        struct {
			CameraMake  string `json:"cameraMake"`
			CameraModel string `json:"cameraModel"`
		} `json:"photo"`
	} `json:"mediaMetadata"`
}

type mediaItemsPage struct {
	MediaItems    []mediaItem `json:"mediaItems"`
	NextPageToken string      `json:"nextPageToken"`
}

func (it *iterator) fetchPage(ctx context.Context) error {
	req, err := it.buildRequest(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+it.token)

	resp, err := it.adapter.client.Do(req)
	if err != nil {
		return fmt.Errorf("google-photos request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("google-photos token rejected (%s), re-authenticate", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("google-photos API error: %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	var page mediaItemsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return fmt.Errorf("parse google-photos response: %w", err)
	}

	for _, item := range page.MediaItems {
		p, perr := it.parseItem(item)
		if perr != nil {
			// Item-level problem: skip and log, never abort the scan.
			it.adapter.logger.Warn("skipping google-photos item", "item_id", item.ID, "error", perr)
			continue
		}
		it.buffer = append(it.buffer, p)
	}

	it.pageToken = page.NextPageToken
	if it.pageToken == "" {
		it.done = true
	}
	return nil
}

func (it *iterator) buildRequest(ctx context.Context) (*http.Request, error) {
	if it.since == nil {
		url := fmt.Sprintf("%s/mediaItems?pageSize=%d", it.adapter.baseURL, pageSize)
		if it.pageToken != "" {
			url += "&pageToken=" + it.pageToken
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}

	// The API filters by creation date at day granularity, so the window
	// starts on the checkpoint's day and the since comparison stays
	// inclusive.
	now := it.adapter.clk.Now()
	body := map[string]any{
		"pageSize": pageSize,
		"filters": map[string]any{
			"dateFilter": map[string]any{
				"ranges": []map[string]any{{
					"startDate": dateParts(*it.since),
					"endDate":   dateParts(now),
				}},
			},
		},
	}
	if it.pageToken != "" {
		body["pageToken"] = it.pageToken
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.adapter.baseURL+"/mediaItems:search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func dateParts(t time.Time) map[string]int {
	t = t.UTC()
	return map[string]int{"year": t.Year(), "month": int(t.Month()), "day": t.Day()}
}

// parseItem converts one Google Photos media item into a canonical Photo.
func (it *iterator) parseItem(item mediaItem) (*model.Photo, error) {
	if item.ID == "" {
		return nil, fmt.Errorf("media item has no id")
	}

	p := model.New(it.adapter.clk)
	p.CanonicalSource = fmt.Sprintf("%s:%s", Name, item.ID)
	p.AddServiceInstance(Name, model.ServiceInstance{
		ID:      item.ID,
		Quality: model.QualityOriginal,
		URL:     item.ProductURL,
	})

	if ct := item.MediaMetadata.CreationTime; ct != "" {
		taken, err := time.Parse(time.RFC3339, ct)
		if err != nil {
			return nil, fmt.Errorf("bad creationTime %q: %w", ct, err)
		}
		taken = taken.UTC()
		p.Metadata.TakenDate = &taken
	}
	p.Metadata.Filename = item.Filename
	// Google Photos calls the caption "description".
	p.Metadata.Caption = item.Description

	if item.MediaMetadata.Width != "" && item.MediaMetadata.Height != "" {
		w, werr := strconv.Atoi(item.MediaMetadata.Width)
		h, herr := strconv.Atoi(item.MediaMetadata.Height)
		if werr == nil && herr == nil {
			p.Metadata.Dimensions = &model.Dimensions{Width: w, Height: h}
		}
	}

	// The API withholds most EXIF (GPS, settings) for privacy; capture what
	// is directly available.
	if camMake, camModel := item.MediaMetadata.Photo.CameraMake, item.MediaMetadata.Photo.CameraModel; camMake != "" || camModel != "" {
		p.Metadata.CameraInfo = &model.CameraInfo{Make: camMake, Model: camModel}
	}

	return p, nil
}
