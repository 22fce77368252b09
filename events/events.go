// Package events - Publishes image lifecycle and model events.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Type is the kind of event.
type Type string

// Event types.
const (
	ImageAdded     Type = "image.added"
	ImageProcessed Type = "image.processed"
	ImageFailed    Type = "image.failed"
	ImageDeleted   Type = "image.deleted"
	ModelActivated Type = "model.activated"
)

// Event is one published message.
type Event struct {
	ID      string    `json:"id"`
	Type    Type      `json:"type"`
	ImageID int64     `json:"image_id,omitempty"`
	ModelID string    `json:"model_id,omitempty"`
	Backend string    `json:"backend,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// New returns an event of type t with a fresh id.
func New(t Type) Event {
	return Event{ID: uuid.NewString(), Type: t, Time: time.Now().UTC()}
}

// ForImage returns an event of type t about image id.
func ForImage(t Type, id int64) Event {
	e := New(t)
	e.ImageID = id
	return e
}

// Key returns the partition key of the event.
func (e Event) Key() string {
	if e.ImageID != 0 {
		return "image-" + itoa(e.ImageID)
	}
	return string(e.Type)
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Emit publishes e and logs a failure instead of returning it.
func Emit(ctx context.Context, p Publisher, log logrus.FieldLogger, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		log.WithError(err).WithField("event", e.Type).Warn("publish event")
	}
}

// LogPublisher writes events to a logger.
type LogPublisher struct {
	log logrus.FieldLogger
}

// NewLogPublisher creates a publisher that logs every event at info level.
func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogPublisher{log: log}
}

// Publish logs e.
func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	fields := logrus.Fields{"event_id": e.ID, "event": e.Type}
	if e.ImageID != 0 {
		fields["image_id"] = e.ImageID
	}
	if e.ModelID != "" {
		fields["model_id"] = e.ModelID
		fields["backend"] = e.Backend
	}
	if e.Error != "" {
		fields["error"] = e.Error
	}
	p.log.WithFields(fields).Info("event")
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error {
	return nil
}
