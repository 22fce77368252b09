// Package store - Record store for uploaded images and their processed cutouts.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("record not found")

// Kind classifies an uploaded file.
type Kind string

const (
	// KindImage files are processed by the segmentation model.
	KindImage Kind = "image"
	// KindVideo files are stored and listed but never processed.
	KindVideo Kind = "video"
)

// Status is the processing state of a record.
type Status string

const (
	// StatusPending records wait for the processor.
	StatusPending Status = "pending"
	// StatusProcessed records carry a processed file.
	StatusProcessed Status = "processed"
	// StatusFailed records failed processing and keep the failure message.
	StatusFailed Status = "failed"
	// StatusSkipped records are never processed (videos).
	StatusSkipped Status = "skipped"
)

// File is an uploaded or generated file.
type File struct {
	// Name is the file name.
	Name string `json:"name"`
	// MimeType is the media type of Data.
	MimeType string `json:"mime_type"`
	// Kind classifies the file.
	Kind Kind `json:"kind"`
	// Data holds the raw file bytes.
	Data []byte `json:"data"`
}

// Record is one stored upload.
type Record struct {
	ID        int64     `json:"id"`
	File      File      `json:"file"`
	Processed *File     `json:"processed_file,omitempty"`
	Failure   string    `json:"failure,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status derives the processing state.
func (r Record) Status() Status {
	switch {
	case r.File.Kind == KindVideo:
		return StatusSkipped
	case r.Processed != nil:
		return StatusProcessed
	case r.Failure != "":
		return StatusFailed
	default:
		return StatusPending
	}
}

// Pending reports whether the record still needs processing.
func Pending(r Record) bool {
	return r.Status() == StatusPending
}

// HasProcessed reports whether the record carries a processed file.
func HasProcessed(r Record) bool {
	return r.Processed != nil
}

// Update replaces the mutable fields of a record.
type Update struct {
	// Processed is the processed file, nil to clear it.
	Processed *File
	// Failure is the last processing error, empty to clear it.
	Failure string
}

// Filter selects records.
type Filter func(Record) bool

// Store persists records keyed by an auto-increment id.
type Store interface {
	// Add stores file as a new record and returns its id.
	Add(ctx context.Context, file File) (int64, error)
	// Get returns the record with id.
	Get(ctx context.Context, id int64) (*Record, error)
	// Update replaces the processed file and failure of the record with id.
	Update(ctx context.Context, id int64, update Update) error
	// Delete removes the record with id.
	Delete(ctx context.Context, id int64) error
	// Clear removes every record.
	Clear(ctx context.Context) error
	// Filter returns the records accepted by fn, ordered by id.
	Filter(ctx context.Context, fn Filter) ([]Record, error)
	// ToArray returns every record ordered by id.
	ToArray(ctx context.Context) ([]Record, error)
	// Close releases the backend connection.
	Close() error
}

func filter(records []Record, fn Filter) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if fn == nil || fn(r) {
			out = append(out, r)
		}
	}
	return out
}
