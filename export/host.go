// Package export - Host document integration.
package export

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var altEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// InsertHTML builds the HTML document pasted into a host document.
func InsertHTML(dataURL, alt string) string {
	img := `<img src="` + dataURL + `" alt="` + altEscaper.Replace(alt) +
		`" style="max-width:100%;height:auto;" />`
	return `<!DOCTYPE html><html><head><meta charset="utf-8"></head><body>` + img + `</body></html>`
}

// HostDocument accepts pasted HTML fragments.
type HostDocument interface {
	PasteHTML(ctx context.Context, html string) error
}

// InsertResult reports how an image was handed to the user.
type InsertResult struct {
	// Inserted is true when the host document accepted the fragment.
	Inserted bool `json:"inserted"`
	// FallbackURL is the data URL to open in a new tab when insertion was not possible.
	FallbackURL string `json:"fallback_url,omitempty"`
	// Reason explains why the fallback was used.
	Reason string `json:"reason,omitempty"`
}

// Insert pastes the image into host, falling back to returning the data URL for a new tab when
// no host is configured or the paste fails.
//
// Arguments:
//   - ctx: The request context.
//   - host: The host document, may be nil.
//   - dataURL: The rendered image as a data URL.
//   - alt: The alternative text of the image.
//
// Returns:
//   - InsertResult: The outcome. Failures never escape as errors.
func Insert(ctx context.Context, host HostDocument, dataURL, alt string) InsertResult {
	if host == nil {
		return InsertResult{FallbackURL: dataURL, Reason: "no host document"}
	}
	if err := host.PasteHTML(ctx, InsertHTML(dataURL, alt)); err != nil {
		return InsertResult{FallbackURL: dataURL, Reason: err.Error()}
	}
	return InsertResult{Inserted: true}
}

// WebhookHost posts fragments to an HTTP endpoint of the host application.
type WebhookHost struct {
	url    string
	client *http.Client
}

// NewWebhookHost creates a host that POSTs fragments to url.
func NewWebhookHost(url string, timeout time.Duration) *WebhookHost {
	return &WebhookHost{url: url, client: &http.Client{Timeout: timeout}}
}

// PasteHTML sends html as a text/html request body.
func (h *WebhookHost) PasteHTML(ctx context.Context, html string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, strings.NewReader(html))
	if err != nil {
		return errors.Wrap(err, "build paste request")
	}
	req.Header.Set("Content-Type", "text/html; charset=utf-8")

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "paste request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("host rejected paste: %s", resp.Status)
	}
	return nil
}
