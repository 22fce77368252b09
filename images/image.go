// Package images - Image containers, codecs and pixel helpers.
package images

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"sync"

	"github.com/HugoSmits86/nativewebp"
	"github.com/ftrvxmtrx/tga"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"golang.org/x/image/webp"
)

// Format represents supported image formats.
type Format string

// Format constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG Format = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP Format = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG Format = "png"
	// FormatTGA is the Truevision TGA image format (decode only).
	FormatTGA Format = "tga"
)

var (
	// ErrUnsupportedFormat is returned when an image cannot be decoded or encoded in the requested
	// format.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrTooLarge is returned for images whose header declares more than MaxPixels pixels.
	ErrTooLarge = errors.New("image too large")
)

// MaxPixels bounds the pixel count of a decoded image.
const MaxPixels = 1 << 26

// Image represents an image with a format, data, width, and height.
type Image struct {
	// The format of the image.
	Format Format `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// MimeType returns the media type of the format.
func (f Format) MimeType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	case FormatTGA:
		return "image/x-tga"
	default:
		return "image/png"
	}
}

// Extension returns the file extension of the format, including the leading dot.
func (f Format) Extension() string {
	if f == FormatJPEG {
		return ".jpg"
	}
	return "." + string(f)
}

// ParseFormat maps a user supplied format name to a Format. An empty name selects PNG.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "", "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedFormat, "%q", name)
	}
}

var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// codec decodes one format. The tga package registers itself with an empty magic string that
// matches any input, so formats are dispatched on the sniffed media type instead of through
// image.Decode.
type codec struct {
	format Format
	decode func(io.Reader) (image.Image, error)
	config func(io.Reader) (image.Config, error)
}

var codecs = map[string]codec{
	"image/png":  {format: FormatPNG, decode: png.Decode, config: png.DecodeConfig},
	"image/jpeg": {format: FormatJPEG, decode: jpeg.Decode, config: jpeg.DecodeConfig},
	"image/webp": {format: FormatWebP, decode: webp.Decode, config: webp.DecodeConfig},
}

// TGA has no magic bytes and is tried last.
var tgaCodec = codec{format: FormatTGA, decode: tga.Decode, config: tga.DecodeConfig}

// codecFor picks the codec from the sniffed media type. Anything unrecognized is left to the TGA
// header check.
func codecFor(data []byte) (codec, error) {
	if len(data) == 0 {
		return codec{}, errors.Wrap(ErrUnsupportedFormat, "empty image data")
	}
	if c, ok := codecs[mimetype.Detect(data).String()]; ok {
		return c, nil
	}
	// Uncompressed truecolor TGA headers also sniff as image/x-icon.
	return tgaCodec, nil
}

func header(data []byte) (codec, image.Config, error) {
	c, err := codecFor(data)
	if err != nil {
		return codec{}, image.Config{}, err
	}
	cfg, err := c.config(bytes.NewReader(data))
	if err != nil {
		return codec{}, image.Config{}, errors.Wrap(ErrUnsupportedFormat, err.Error())
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return codec{}, image.Config{}, errors.Wrapf(ErrUnsupportedFormat, "%s: %dx%d", c.format, cfg.Width, cfg.Height)
	}
	return c, cfg, nil
}

// DecodeConfig reads the format and dimensions of an encoded image without decoding its pixels.
//
// Arguments:
//   - data: The encoded image bytes.
//
// Returns:
//   - image.Config: The color model and dimensions.
//   - Format: The detected format.
//   - error: ErrUnsupportedFormat if no decoder accepts the header.
func DecodeConfig(data []byte) (image.Config, Format, error) {
	c, cfg, err := header(data)
	if err != nil {
		return image.Config{}, "", err
	}
	return cfg, c.format, nil
}

// Decode decodes raw file bytes into an image. The header is checked against MaxPixels before
// any pixel buffer is allocated.
//
// Arguments:
//   - data: The encoded image bytes.
//
// Returns:
//   - image.Image: The decoded image at its native resolution.
//   - Format: The detected format.
//   - error: ErrUnsupportedFormat if no decoder accepts the data, ErrTooLarge for oversized images.
func Decode(data []byte) (image.Image, Format, error) {
	c, cfg, err := header(data)
	if err != nil {
		return nil, "", err
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", errors.Wrapf(ErrTooLarge, "%dx%d exceeds %d pixels", cfg.Width, cfg.Height, MaxPixels)
	}

	img, err := c.decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", errors.Wrap(ErrUnsupportedFormat, err.Error())
	}
	return img, c.format, nil
}

// Load decodes the image and returns it together with its metadata.
func Load(data []byte) (image.Image, *Image, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, nil, err
	}

	b := img.Bounds()
	return img, &Image{Format: format, Data: data, Width: b.Dx(), Height: b.Dy()}, nil
}

// Encode writes img to w in the given format.
//
// Arguments:
//   - w: The destination writer.
//   - img: The image to encode.
//   - format: The target format. TGA is decode only.
//
// Returns:
//   - error: An error if encoding fails.
func Encode(w io.Writer, img image.Image, format Format) error {
	switch format {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 92})
	case FormatWebP:
		return nativewebp.Encode(w, img, nil)
	default:
		return errors.Wrapf(ErrUnsupportedFormat, "cannot encode %q", format)
	}
}

// EncodeImage encodes img into a new Image container.
func EncodeImage(img image.Image, format Format) (*Image, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	if err := Encode(buf, img, format); err != nil {
		return nil, err
	}

	b := img.Bounds()
	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())

	return &Image{Format: format, Data: data, Width: b.Dx(), Height: b.Dy()}, nil
}

// DataURL returns the image as a base64 data URL.
func (i *Image) DataURL() string {
	return DataURL(i.Format.MimeType(), i.Data)
}

// DataURL builds a base64 data URL for the given media type.
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
