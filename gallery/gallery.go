// Package gallery - Per-image operations on stored uploads and their cutouts.
package gallery

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-rembg/compositor"
	"github.com/nvr-ai/go-rembg/events"
	"github.com/nvr-ai/go-rembg/export"
	"github.com/nvr-ai/go-rembg/store"
)

// ErrNotProcessed is returned for operations that need a processed file the record does not have.
var ErrNotProcessed = errors.New("image has not been processed")

// ThumbnailSize is the bounding box of gallery previews.
const ThumbnailSize = 256

// Item is the listing view of a record.
type Item struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	MimeType  string       `json:"mime_type"`
	Kind      store.Kind   `json:"kind"`
	Status    store.Status `json:"status"`
	Failure   string       `json:"failure,omitempty"`
	Processed string       `json:"processed_name,omitempty"`
}

func newItem(r store.Record) Item {
	item := Item{
		ID:       r.ID,
		Name:     r.File.Name,
		MimeType: r.File.MimeType,
		Kind:     r.File.Kind,
		Status:   r.Status(),
		Failure:  r.Failure,
	}
	if r.Processed != nil {
		item.Processed = r.Processed.Name
	}
	return item
}

// Service exposes the gallery operations.
type Service struct {
	store     store.Store
	publisher events.Publisher
	host      export.HostDocument
	log       logrus.FieldLogger
}

// New creates a gallery service. host may be nil, in which case insertion always falls back.
func New(st store.Store, pub events.Publisher, host export.HostDocument, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{store: st, publisher: pub, host: host, log: log.WithField("component", "gallery")}
}

// List returns every record ordered by id.
func (s *Service) List(ctx context.Context) ([]Item, error) {
	records, err := s.store.ToArray(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(records))
	for _, r := range records {
		items = append(items, newItem(r))
	}
	return items, nil
}

// Get returns the listing view of one record.
func (s *Service) Get(ctx context.Context, id int64) (Item, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	return newItem(*r), nil
}

// Original returns the uploaded file.
func (s *Service) Original(ctx context.Context, id int64) (store.File, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return store.File{}, err
	}
	return r.File, nil
}

// Processed returns the processed cutout.
func (s *Service) Processed(ctx context.Context, id int64) (store.File, error) {
	r, err := s.processed(ctx, id)
	if err != nil {
		return store.File{}, err
	}
	return *r.Processed, nil
}

// Thumbnail returns a PNG preview of the cutout, bounded by ThumbnailSize.
func (s *Service) Thumbnail(ctx context.Context, id int64) ([]byte, error) {
	r, err := s.processed(ctx, id)
	if err != nil {
		return nil, err
	}
	return compositor.Preview(r.Processed.Data, ThumbnailSize)
}

func (s *Service) processed(ctx context.Context, id int64) (*store.Record, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Processed == nil {
		return nil, errors.Wrapf(ErrNotProcessed, "image %d is %s", id, r.Status())
	}
	return r, nil
}

// Delete removes a record.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.WithField("image_id", id).Info("image deleted")
	events.Emit(ctx, s.publisher, s.log, events.ForImage(events.ImageDeleted, id))
	return nil
}

// Clear removes every record.
func (s *Service) Clear(ctx context.Context) error {
	records, err := s.store.ToArray(ctx)
	if err != nil {
		return err
	}
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	for _, r := range records {
		events.Emit(ctx, s.publisher, s.log, events.ForImage(events.ImageDeleted, r.ID))
	}
	s.log.WithField("count", len(records)).Info("gallery cleared")
	return nil
}

// Render composites the cutout of id with params.
//
// Arguments:
//   - ctx: The request context.
//   - id: The record id.
//   - params: The compositing parameters.
//
// Returns:
//   - *compositor.Artifact: The rendered image.
//   - error: store.ErrNotFound, ErrNotProcessed or a compositor error.
func (s *Service) Render(ctx context.Context, id int64, params compositor.Params) (*compositor.Artifact, error) {
	r, err := s.processed(ctx, id)
	if err != nil {
		return nil, err
	}
	return compositor.RenderBytes(r.Processed.Data, params)
}

// Zip writes every processed cutout to w as a ZIP archive.
func (s *Service) Zip(ctx context.Context, w io.Writer) (int, error) {
	records, err := s.store.Filter(ctx, store.HasProcessed)
	if err != nil {
		return 0, err
	}
	return export.WriteZip(w, records)
}

// Insert renders the cutout of id and hands it to the host document.
func (s *Service) Insert(ctx context.Context, id int64, params compositor.Params) (export.InsertResult, error) {
	r, err := s.processed(ctx, id)
	if err != nil {
		return export.InsertResult{}, err
	}
	art, err := compositor.RenderBytes(r.Processed.Data, params)
	if err != nil {
		return export.InsertResult{}, err
	}

	res := export.Insert(ctx, s.host, art.DataURL(), r.File.Name)
	if !res.Inserted {
		s.log.WithField("image_id", id).WithField("reason", res.Reason).Info("insert fell back to data url")
	}
	return res, nil
}
