package transport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-rembg/compositor"
	"github.com/nvr-ai/go-rembg/export"
	"github.com/nvr-ai/go-rembg/gallery"
	"github.com/nvr-ai/go-rembg/images"
	"github.com/nvr-ai/go-rembg/loader"
	"github.com/nvr-ai/go-rembg/models"
	"github.com/nvr-ai/go-rembg/queue"
	"github.com/nvr-ai/go-rembg/store"
)

// errBadRequest marks malformed request input.
var errBadRequest = errors.New("bad request")

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, compositor.ErrInvalidParams),
		errors.Is(err, compositor.ErrUnsupportedBackground),
		errors.Is(err, images.ErrUnsupportedFormat),
		errors.Is(err, models.ErrUnknownModel),
		errors.Is(err, queue.ErrNotImage):
		return http.StatusBadRequest
	case errors.Is(err, gallery.ErrNotProcessed),
		errors.Is(err, export.ErrNothingToExport):
		return http.StatusConflict
	case errors.Is(err, loader.ErrModelNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// abort writes err as a JSON error response.
func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}
