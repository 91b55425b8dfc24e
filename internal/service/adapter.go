// Package service defines the photo service adapter boundary and its
// registry. Adapters are plugins; no service-specific logic lives in the
// core.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/photosync/photosync/internal/model"
)

// ErrEnd is returned by Iterator.Next when the discovery sequence is
// exhausted.
var ErrEnd = errors.New("end of discovery sequence")

// Iterator is a single-pass, finite sequence of discovered photos.
// Next may block on network I/O. Any error other than ErrEnd is terminal for
// the whole scan; item-level problems are the adapter's to skip and log.
// Iterators are not restartable mid-stream.
type Iterator interface {
	Next(ctx context.Context) (*model.Photo, error)
}

// Adapter is a remote photo service integration. Discover produces canonical
// Photo records already adapted into the model; the since timestamp narrows
// the scan to items created after it, and nil requests the full history.
type Adapter interface {
	// Name returns the service name used in configuration, instance maps,
	// and canonical_source tags (e.g. "google-photos").
	Name() string

	// Discover starts a scan and returns its item sequence. A returned error
	// means the scan could not start at all.
	Discover(ctx context.Context, since *time.Time) (Iterator, error)
}

// PhotoSliceIterator adapts an in-memory slice to the Iterator contract.
// Adapters that buffer a page of results, and tests, use it directly.
type PhotoSliceIterator struct {
	photos []*model.Photo
	next   int
}

// NewPhotoSliceIterator wraps photos in a single-pass iterator.
func NewPhotoSliceIterator(photos []*model.Photo) *PhotoSliceIterator {
	return &PhotoSliceIterator{photos: photos}
}

// Next returns the next photo or ErrEnd.
func (it *PhotoSliceIterator) Next(ctx context.Context) (*model.Photo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.next >= len(it.photos) {
		return nil, ErrEnd
	}
	p := it.photos[it.next]
	it.next++
	return p, nil
}
