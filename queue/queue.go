// Package queue - Intake of uploaded files and sequential background removal of pending entries.
package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-rembg/events"
	"github.com/nvr-ai/go-rembg/images"
	"github.com/nvr-ai/go-rembg/loader"
	"github.com/nvr-ai/go-rembg/processor"
	"github.com/nvr-ai/go-rembg/store"
)

var (
	// ErrUnsupportedMedia is returned for files that are neither images nor videos.
	ErrUnsupportedMedia = errors.New("unsupported media type")
	// ErrNotImage is returned when a non-image record is retried.
	ErrNotImage = errors.New("record is not an image")
)

var imageTypes = []string{"image/png", "image/jpeg", "image/webp", "image/x-tga", "image/tga"}

var videoTypes = []string{"video/mp4", "video/webm", "video/quicktime"}

// Processor removes the background of one image.
type Processor interface {
	Process(ctx context.Context, src processor.Source) (*processor.Result, error)
}

// Upload is a file offered for intake.
type Upload struct {
	Name     string
	MimeType string
	Data     []byte
}

// Rejection explains why an upload was not stored.
type Rejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// SubmitResult lists the outcome of a batch of uploads.
type SubmitResult struct {
	Accepted []int64     `json:"accepted"`
	Rejected []Rejection `json:"rejected"`
}

// Failure is a per-image processing error.
type Failure struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

// Report summarizes one processing run.
type Report struct {
	Succeeded []int64       `json:"succeeded"`
	Failed    []Failure     `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Queue stores uploads and drives the processor over pending records.
type Queue struct {
	store     store.Store
	processor Processor
	publisher events.Publisher
	log       logrus.FieldLogger

	// mu serializes processing runs so at most one inference request is in flight.
	mu   sync.Mutex
	kick chan struct{}
}

// New creates a queue.
func New(st store.Store, proc Processor, pub events.Publisher, log logrus.FieldLogger) *Queue {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Queue{
		store:     st,
		processor: proc,
		publisher: pub,
		log:       log.WithField("component", "queue"),
		kick:      make(chan struct{}, 1),
	}
}

// Classify determines the media type and kind of an upload. The content is sniffed first; the
// declared type is used only when sniffing finds nothing specific.
//
// Arguments:
//   - u: The upload.
//
// Returns:
//   - string: The media type.
//   - store.Kind: Image or video.
//   - error: ErrUnsupportedMedia for anything else.
func Classify(u Upload) (string, store.Kind, error) {
	detected := mimetype.Detect(u.Data)
	candidates := []string{detected.String()}
	if detected.Is("application/octet-stream") && u.MimeType != "" {
		candidates = append(candidates, u.MimeType)
	}

	for _, c := range candidates {
		mt := strings.ToLower(strings.TrimSpace(strings.SplitN(c, ";", 2)[0]))
		if contains(imageTypes, mt) {
			return mt, store.KindImage, nil
		}
		if contains(videoTypes, mt) {
			return mt, store.KindVideo, nil
		}
	}

	// TGA has no magic bytes; accept it when its header parses.
	if _, format, err := images.DecodeConfig(u.Data); err == nil && format == images.FormatTGA {
		return images.FormatTGA.MimeType(), store.KindImage, nil
	}

	return "", "", errors.Wrapf(ErrUnsupportedMedia, "%s (%s)", u.Name, detected.String())
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Submit classifies and stores a batch of uploads. Unsupported files are rejected individually.
// Processing is triggered when at least one image was accepted.
func (q *Queue) Submit(ctx context.Context, uploads []Upload) (SubmitResult, error) {
	res := SubmitResult{Accepted: []int64{}, Rejected: []Rejection{}}
	accepted := 0

	for _, u := range uploads {
		mt, kind, err := Classify(u)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Name: u.Name, Reason: err.Error()})
			continue
		}

		id, err := q.store.Add(ctx, store.File{Name: u.Name, MimeType: mt, Kind: kind, Data: u.Data})
		if err != nil {
			return res, errors.Wrapf(err, "store %s", u.Name)
		}
		res.Accepted = append(res.Accepted, id)
		if kind == store.KindImage {
			accepted++
		}

		q.log.WithFields(logrus.Fields{"image_id": id, "name": u.Name, "mime_type": mt}).Info("file accepted")
		events.Emit(ctx, q.publisher, q.log, events.ForImage(events.ImageAdded, id))
	}

	if accepted > 0 {
		q.Kick()
	}
	return res, nil
}

// Kick requests an asynchronous processing run. Requests made while a run is queued coalesce.
func (q *Queue) Kick() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Run processes pending records each time Kick is called until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	q.log.Info("queue worker started")
	for {
		select {
		case <-ctx.Done():
			q.log.Info("queue worker stopped")
			return
		case <-q.kick:
			if _, err := q.ProcessPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
				q.log.WithError(err).Warn("processing run stopped")
			}
		}
	}
}

// ProcessPending processes every pending image sequentially. A failed image is recorded on its
// record and does not stop the run.
//
// Arguments:
//   - ctx: Cancels the run between images.
//
// Returns:
//   - Report: The images processed and failed so far.
//   - error: loader.ErrModelNotInitialized when no model is active, a store error, or ctx.Err().
func (q *Queue) ProcessPending(ctx context.Context) (report Report, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	start := time.Now()
	report = Report{Succeeded: []int64{}, Failed: []Failure{}}
	defer func() { report.Duration = time.Since(start) }()

	pending, err := q.store.Filter(ctx, store.Pending)
	if err != nil {
		return report, errors.Wrap(err, "list pending")
	}

	for _, r := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		log := q.log.WithField("image_id", r.ID)
		res, err := q.processor.Process(ctx, processor.Source{ID: r.ID, Name: r.File.Name, Data: r.File.Data})
		if errors.Is(err, loader.ErrModelNotInitialized) {
			return report, err
		}
		if err != nil {
			log.WithError(err).Warn("image failed")
			report.Failed = append(report.Failed, Failure{ID: r.ID, Error: err.Error()})
			if uerr := q.store.Update(ctx, r.ID, store.Update{Failure: err.Error()}); uerr != nil &&
				!errors.Is(uerr, store.ErrNotFound) {
				return report, errors.Wrapf(uerr, "record failure of %d", r.ID)
			}
			e := events.ForImage(events.ImageFailed, r.ID)
			e.Error = err.Error()
			events.Emit(ctx, q.publisher, q.log, e)
			continue
		}

		processed := &store.File{Name: res.Name, MimeType: "image/png", Kind: store.KindImage, Data: res.Data}
		err = q.store.Update(ctx, r.ID, store.Update{Processed: processed})
		if errors.Is(err, store.ErrNotFound) {
			log.Debug("image deleted while processing")
			continue
		}
		if err != nil {
			return report, errors.Wrapf(err, "store result of %d", r.ID)
		}

		report.Succeeded = append(report.Succeeded, r.ID)
		e := events.ForImage(events.ImageProcessed, r.ID)
		e.ModelID = string(res.ModelID)
		events.Emit(ctx, q.publisher, q.log, e)
	}

	if len(pending) > 0 {
		q.log.WithFields(logrus.Fields{
			"succeeded": len(report.Succeeded),
			"failed":    len(report.Failed),
			"duration":  time.Since(start),
		}).Info("processing run finished")
	}
	return report, nil
}

// Retry discards the processed file and recorded failure of an image so it is processed again.
func (q *Queue) Retry(ctx context.Context, id int64) error {
	r, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.File.Kind != store.KindImage {
		return errors.Wrapf(ErrNotImage, "record %d", id)
	}
	if err := q.store.Update(ctx, id, store.Update{}); err != nil {
		return err
	}
	q.Kick()
	return nil
}
