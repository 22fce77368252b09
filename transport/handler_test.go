package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-rembg/events"
	"github.com/nvr-ai/go-rembg/gallery"
	"github.com/nvr-ai/go-rembg/inference"
	"github.com/nvr-ai/go-rembg/inference/providers"
	"github.com/nvr-ai/go-rembg/loader"
	"github.com/nvr-ai/go-rembg/models"
	"github.com/nvr-ai/go-rembg/models/preprocess"
	"github.com/nvr-ai/go-rembg/processor"
	"github.com/nvr-ai/go-rembg/profiler"
	"github.com/nvr-ai/go-rembg/queue"
	"github.com/nvr-ai/go-rembg/store"
)

// opaqueModel predicts full foreground for every pixel.
type opaqueModel struct{}

func (opaqueModel) Infer(context.Context, *preprocess.Tensor) (*inference.Mask, error) {
	return inference.NewMask([]float32{1, 1, 1, 1}, 2, 2)
}

func (opaqueModel) Close() error { return nil }

type stubRuntime struct{}

func (stubRuntime) Load(context.Context, models.Spec, providers.ExecutionProvider) (inference.Model, error) {
	return opaqueModel{}, nil
}

type api struct {
	router *gin.Engine
	store  store.Store
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()

	st := store.NewMemory()
	pub := events.NewLogPublisher(log)
	ldr := loader.New(stubRuntime{}, providers.Capabilities{Backend: providers.CPUProviderBackend}, loader.WithLogger(log))
	prof := profiler.New(profiler.Options{}, log)
	q := queue.New(st, processor.New(ldr, log, processor.WithTimer(prof)), pub, log)
	g := gallery.New(st, pub, nil, log)

	return &api{router: InitRoutes(NewHandler(ldr, q, g, prof), log, 8<<20), store: st}
}

func (a *api) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *api) json(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return a.do(t, req)
}

type part struct {
	field, name, mime string
	data              []byte
}

func multipartRequest(t *testing.T, method, path string, fields map[string]string, parts ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.name+`"`)
		h.Set("Content-Type", p.mime)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func photo(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 10), G: 100, B: uint8(y * 10), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealthAndPalette(t *testing.T) {
	a := newAPI(t)

	w := a.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	decodeJSON(t, w, &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, false, health["model_ready"])

	w = a.do(t, httptest.NewRequest(http.MethodGet, "/palette", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "#c0c0c0")
}

func TestModelSwitch(t *testing.T) {
	a := newAPI(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "malformed", body: `{`, status: http.StatusBadRequest},
		{name: "missing id", body: `{}`, status: http.StatusBadRequest},
		{name: "unknown model", body: `{"model_id":"acme/unet"}`, status: http.StatusBadRequest},
		{name: "fallback model", body: `{"model_id":"briaai/RMBG-1.4"}`, status: http.StatusOK},
		{name: "accelerated model without accelerator", body: `{"model_id":"Xenova/modnet"}`, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.json(t, http.MethodPut, "/model", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	w := a.do(t, httptest.NewRequest(http.MethodGet, "/model", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Active    loader.Info   `json:"active"`
		Available []models.Spec `json:"available"`
	}
	decodeJSON(t, w, &resp)
	assert.Equal(t, models.RMBG14, resp.Active.ModelID)
	assert.True(t, resp.Active.FallbackUsed)
	assert.Len(t, resp.Available, 2)
}

func TestImageLifecycle(t *testing.T) {
	a := newAPI(t)

	// Upload one image, one video and one unsupported file.
	w := a.do(t, multipartRequest(t, http.MethodPost, "/images", nil,
		part{field: "files", name: "cat.png", mime: "image/png", data: photo(t, 12, 8)},
		part{field: "files", name: "clip.mp4", mime: "video/mp4", data: []byte{0x00, 0x9c, 0xfe, 0x01, 0x7f, 0x00}},
		part{field: "files", name: "notes.txt", mime: "text/plain", data: []byte("hello")},
	))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var submitted queue.SubmitResult
	decodeJSON(t, w, &submitted)
	assert.Equal(t, []int64{1, 2}, submitted.Accepted)
	require.Len(t, submitted.Rejected, 1)

	// Nothing is processed until a model is active.
	w = a.do(t, httptest.NewRequest(http.MethodPost, "/images/process", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = a.do(t, httptest.NewRequest(http.MethodGet, "/images/1/processed", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.json(t, http.MethodPut, "/model", `{"model_id":"briaai/RMBG-1.4"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, httptest.NewRequest(http.MethodPost, "/images/process", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report queue.Report
	decodeJSON(t, w, &report)
	assert.Equal(t, []int64{1}, report.Succeeded)
	assert.Empty(t, report.Failed)

	w = a.do(t, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var stats profiler.Stats
	decodeJSON(t, w, &stats)
	require.NotEmpty(t, stats.Operations)
	assert.Equal(t, "decode", stats.Operations[0].Name)

	w = a.do(t, httptest.NewRequest(http.MethodGet, "/images", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Images []gallery.Item `json:"images"`
	}
	decodeJSON(t, w, &listing)
	require.Len(t, listing.Images, 2)
	assert.Equal(t, store.StatusProcessed, listing.Images[0].Status)
	assert.Equal(t, store.StatusSkipped, listing.Images[1].Status)

	// The processed download keeps the source dimensions.
	w = a.do(t, httptest.NewRequest(http.MethodGet, "/images/1/processed", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="processed-1.png"`, w.Header().Get("Content-Disposition"))
	cfg, err := png.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Width)
	assert.Equal(t, 8, cfg.Height)

	w = a.do(t, httptest.NewRequest(http.MethodGet, "/images/1/original", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = a.do(t, httptest.NewRequest(http.MethodGet, "/images/1/thumbnail", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, httptest.NewRequest(http.MethodGet, "/export.zip", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "background-blasted.zip")

	w = a.do(t, httptest.NewRequest(http.MethodPost, "/images/2/retry", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code, "videos are never processed")

	w = a.do(t, httptest.NewRequest(http.MethodPost, "/images/1/retry", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = a.do(t, httptest.NewRequest(http.MethodGet, "/images/1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var item gallery.Item
	decodeJSON(t, w, &item)
	assert.Equal(t, store.StatusPending, item.Status)

	w = a.do(t, httptest.NewRequest(http.MethodDelete, "/images/1", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = a.do(t, httptest.NewRequest(http.MethodGet, "/images/1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, httptest.NewRequest(http.MethodGet, "/export.zip", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, httptest.NewRequest(http.MethodDelete, "/images", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	records, err := a.store.ToArray(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestUploadRequiresFiles(t *testing.T) {
	a := newAPI(t)

	w := a.do(t, multipartRequest(t, http.MethodPost, "/images", map[string]string{"note": "x"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.json(t, http.MethodPost, "/images", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRender(t *testing.T) {
	a := newAPI(t)
	ctx := context.Background()

	id, err := a.store.Add(ctx, store.File{Name: "cat.png", MimeType: "image/png", Kind: store.KindImage, Data: photo(t, 4, 4)})
	require.NoError(t, err)
	require.NoError(t, a.store.Update(ctx, id, store.Update{Processed: &store.File{
		Name: "cat-bg-blasted.png", MimeType: "image/png", Kind: store.KindImage, Data: photo(t, 4, 4),
	}}))
	pending, err := a.store.Add(ctx, store.File{Name: "dog.png", MimeType: "image/png", Kind: store.KindImage, Data: photo(t, 4, 4)})
	require.NoError(t, err)

	t.Run("png body", func(t *testing.T) {
		w := a.do(t, multipartRequest(t, http.MethodPost, "/images/1/render",
			map[string]string{"background": "color", "color": "#00ff00", "effect": "brightness", "intensity": "50"}))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		cfg, err := png.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Width)
	})

	t.Run("data url", func(t *testing.T) {
		w := a.do(t, multipartRequest(t, http.MethodPost, "/images/1/render?as=dataurl",
			map[string]string{"format": "webp"}))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp renderResponse
		decodeJSON(t, w, &resp)
		assert.True(t, strings.HasPrefix(resp.DataURL, "data:image/webp;base64,"))
		assert.Equal(t, 4, resp.Height)
	})

	t.Run("background image", func(t *testing.T) {
		w := a.do(t, multipartRequest(t, http.MethodPost, "/images/1/render",
			map[string]string{"background": "image"},
			part{field: "background_image", name: "beach.png", mime: "image/png", data: photo(t, 9, 3)}))
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	errorCases := []struct {
		name   string
		path   string
		fields map[string]string
		status int
	}{
		{name: "gradient", path: "/images/1/render", fields: map[string]string{"background": "gradient"}, status: http.StatusBadRequest},
		{name: "intensity out of range", path: "/images/1/render", fields: map[string]string{"effect": "contrast", "intensity": "150"}, status: http.StatusBadRequest},
		{name: "intensity not a number", path: "/images/1/render", fields: map[string]string{"intensity": "high"}, status: http.StatusBadRequest},
		{name: "bad color", path: "/images/1/render", fields: map[string]string{"background": "color", "color": "#zzz"}, status: http.StatusBadRequest},
		{name: "image mode without image", path: "/images/1/render", fields: map[string]string{"background": "image"}, status: http.StatusBadRequest},
		{name: "pending image", path: "/images/" + strconvI(pending) + "/render", status: http.StatusConflict},
		{name: "missing image", path: "/images/99/render", status: http.StatusNotFound},
		{name: "bad id", path: "/images/abc/render", status: http.StatusBadRequest},
	}

	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, multipartRequest(t, http.MethodPost, tt.path, tt.fields))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			var body map[string]string
			decodeJSON(t, w, &body)
			assert.NotEmpty(t, body["error"])
		})
	}

	t.Run("insert falls back without host", func(t *testing.T) {
		w := a.do(t, multipartRequest(t, http.MethodPost, "/images/1/insert", nil))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var body map[string]interface{}
		decodeJSON(t, w, &body)
		assert.Equal(t, false, body["inserted"])
		assert.True(t, strings.HasPrefix(body["fallback_url"].(string), "data:image/png;base64,"))
	})
}

func TestUnknownRoute(t *testing.T) {
	a := newAPI(t)
	w := a.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func strconvI(v int64) string {
	return strconv.FormatInt(v, 10)
}
