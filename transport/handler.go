package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-rembg/compositor"
	"github.com/nvr-ai/go-rembg/export"
	"github.com/nvr-ai/go-rembg/gallery"
	"github.com/nvr-ai/go-rembg/images"
	"github.com/nvr-ai/go-rembg/loader"
	"github.com/nvr-ai/go-rembg/models"
	"github.com/nvr-ai/go-rembg/profiler"
	"github.com/nvr-ai/go-rembg/queue"
)

// ModelManager switches and reports the active model.
type ModelManager interface {
	Initialize(ctx context.Context, preferred models.ID) (loader.Info, error)
	Active() loader.Info
}

// StatsSource reports processing timings.
type StatsSource interface {
	Stats() profiler.Stats
}

// Handler serves the API.
type Handler struct {
	models  ModelManager
	queue   *queue.Queue
	gallery *gallery.Service
	stats   StatsSource
}

// NewHandler creates the API handlers. stats may be nil.
func NewHandler(m ModelManager, q *queue.Queue, g *gallery.Service, stats StatsSource) *Handler {
	return &Handler{models: m, queue: q, gallery: g, stats: stats}
}

type switchModelRequest struct {
	ModelID string `json:"model_id" binding:"required"`
}

type modelResponse struct {
	Active    loader.Info   `json:"active"`
	Available []models.Spec `json:"available"`
}

type renderResponse struct {
	DataURL string        `json:"data_url"`
	Format  images.Format `json:"format"`
	Width   int           `json:"width"`
	Height  int           `json:"height"`
}

// Health reports liveness and whether a model is ready.
func (h *Handler) Health(c *gin.Context) {
	info := h.models.Active()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"service":     "rembg",
		"model_ready": info.Ready,
	})
}

// Palette lists the predefined background colors.
func (h *Handler) Palette(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"colors": compositor.Palette})
}

// Stats returns runtime and per-stage processing timings.
func (h *Handler) Stats(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusOK, profiler.Stats{Operations: []profiler.Operation{}})
		return
	}
	c.JSON(http.StatusOK, h.stats.Stats())
}

// GetModel returns the active model and the registry.
func (h *Handler) GetModel(c *gin.Context) {
	c.JSON(http.StatusOK, modelResponse{Active: h.models.Active(), Available: models.All()})
}

// SwitchModel activates the requested model and resumes processing on success.
func (h *Handler) SwitchModel(c *gin.Context) {
	var req switchModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errors.Wrap(errBadRequest, err.Error()))
		return
	}

	info, err := h.models.Initialize(c.Request.Context(), models.ID(req.ModelID))
	if err != nil {
		abort(c, err)
		return
	}
	h.queue.Kick()
	c.JSON(http.StatusOK, info)
}

// Upload stores the multipart "files" and triggers processing.
func (h *Handler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		abort(c, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		abort(c, errors.Wrap(errBadRequest, "no files provided"))
		return
	}

	uploads := make([]queue.Upload, 0, len(files))
	for _, fh := range files {
		data, err := readFile(fh)
		if err != nil {
			abort(c, errors.Wrap(errBadRequest, err.Error()))
			return
		}
		uploads = append(uploads, queue.Upload{
			Name:     fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Data:     data,
		})
	}

	res, err := h.queue.Submit(c.Request.Context(), uploads)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// ProcessPending runs the processor over pending images and returns the report.
func (h *Handler) ProcessPending(c *gin.Context) {
	report, err := h.queue.ProcessPending(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListImages returns every stored upload.
func (h *Handler) ListImages(c *gin.Context) {
	items, err := h.gallery.List(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": items})
}

// GetImage returns one upload.
func (h *Handler) GetImage(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}
	item, err := h.gallery.Get(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// DeleteImage removes one upload.
func (h *Handler) DeleteImage(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}
	if err := h.gallery.Delete(c.Request.Context(), id); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearImages removes every upload.
func (h *Handler) ClearImages(c *gin.Context) {
	if err := h.gallery.Clear(c.Request.Context()); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Original returns the uploaded file inline.
func (h *Handler) Original(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}
	f, err := h.gallery.Original(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", f.Name))
	c.Data(http.StatusOK, f.MimeType, f.Data)
}

// Processed downloads the cutout as processed-<id>.png.
func (h *Handler) Processed(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}
	f, err := h.gallery.Processed(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.DownloadName(id)))
	c.Data(http.StatusOK, f.MimeType, f.Data)
}

// Thumbnail returns a PNG preview of the cutout.
func (h *Handler) Thumbnail(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}
	data, err := h.gallery.Thumbnail(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return
	}
	c.Data(http.StatusOK, images.FormatPNG.MimeType(), data)
}

// Retry makes a failed or processed image pending again.
func (h *Handler) Retry(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}
	if err := h.queue.Retry(c.Request.Context(), id); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// Render composites the cutout with the posted parameters. With ?as=dataurl the render is
// returned as JSON, otherwise as the encoded image.
func (h *Handler) Render(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}
	params, err := parseParams(c)
	if err != nil {
		abort(c, err)
		return
	}

	art, err := h.gallery.Render(c.Request.Context(), id, params)
	if err != nil {
		abort(c, err)
		return
	}

	if c.Query("as") == "dataurl" {
		c.JSON(http.StatusOK, renderResponse{
			DataURL: art.DataURL(),
			Format:  art.Format,
			Width:   art.Width,
			Height:  art.Height,
		})
		return
	}
	c.Data(http.StatusOK, art.Format.MimeType(), art.Data)
}

// Insert renders the cutout and pastes it into the host document.
func (h *Handler) Insert(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}
	params, err := parseParams(c)
	if err != nil {
		abort(c, err)
		return
	}

	res, err := h.gallery.Insert(c.Request.Context(), id, params)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ExportZip downloads every processed cutout as a ZIP archive.
func (h *Handler) ExportZip(c *gin.Context) {
	var buf bytes.Buffer
	if _, err := h.gallery.Zip(c.Request.Context(), &buf); err != nil {
		abort(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.ArchiveName))
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

func imageID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abort(c, errors.Wrapf(errBadRequest, "invalid image id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

// parseParams reads compositing parameters from form fields. Missing fields keep their defaults.
func parseParams(c *gin.Context) (compositor.Params, error) {
	p := compositor.DefaultParams()

	if v := c.PostForm("background"); v != "" {
		p.Background = compositor.Background(v)
	}
	if v := c.PostForm("color"); v != "" {
		col, err := compositor.ParseColor(v)
		if err != nil {
			return p, err
		}
		p.Color = col
	}
	if v := c.PostForm("effect"); v != "" {
		p.Effect = compositor.Effect(v)
	}
	if v := c.PostForm("intensity"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, errors.Wrapf(compositor.ErrInvalidParams, "intensity %q", v)
		}
		p.Intensity = n
	}
	if v := c.PostForm("format"); v != "" {
		f, err := images.ParseFormat(v)
		if err != nil {
			return p, err
		}
		p.Format = f
	}
	if fh, err := c.FormFile("background_image"); err == nil {
		data, err := readFile(fh)
		if err != nil {
			return p, errors.Wrap(errBadRequest, err.Error())
		}
		p.Image = data
	}

	return p, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", fh.Filename)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", fh.Filename)
	}
	return data, nil
}
