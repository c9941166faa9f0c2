package intake

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"mime/multipart"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"

	"image-captioner/internal/metrics"
)

const DefaultMaxSize = 10 << 20 // 10MB

var (
	ErrNoFile          = errors.New("no file provided")
	ErrUnsupportedType = errors.New("only JPEG, PNG, GIF and WEBP images are allowed")
	ErrTooLarge        = errors.New("image exceeds maximum upload size")
	ErrUnreadableImage = errors.New("image could not be read")
)

// accepted maps media types to the decoder names reported by image.DecodeConfig.
var accepted = map[string]string{
	"image/jpeg": "jpeg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

var extensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// File is one file picked by the user.
type File interface {
	Name() string
	ContentType() string
	Size() int64
	Open() (io.ReadCloser, error)
}

type multipartFile struct {
	header *multipart.FileHeader
}

// FromMultipart adapts an uploaded multipart part to File.
func FromMultipart(h *multipart.FileHeader) File {
	return multipartFile{header: h}
}

func (f multipartFile) Name() string        { return f.header.Filename }
func (f multipartFile) ContentType() string { return f.header.Header.Get("Content-Type") }
func (f multipartFile) Size() int64         { return f.header.Size }

func (f multipartFile) Open() (io.ReadCloser, error) {
	return f.header.Open()
}

// Payload is the accepted image: raw content encoded as a data URI plus its metadata.
type Payload struct {
	Name      string
	MediaType string
	DataURI   string
	Size      int64
	Width     int
	Height    int
}

// MediaType resolves the declared media type of f. The Content-Type header wins when it names an
// accepted type, otherwise the extension decides.
func MediaType(f File) (string, bool) {
	if declared, _, err := mime.ParseMediaType(f.ContentType()); err == nil {
		declared = strings.ToLower(declared)
		if declared == "image/jpg" {
			declared = "image/jpeg"
		}
		if _, ok := accepted[declared]; ok {
			return declared, true
		}
	}
	if byExt, ok := extensions[strings.ToLower(filepath.Ext(f.Name()))]; ok {
		return byExt, true
	}
	return "", false
}

// Select keeps the first file of a gesture and rejects it if it is not an accepted image type.
func Select(files []File) (File, error) {
	if len(files) == 0 || files[0] == nil {
		metrics.IntakeRejections.WithLabelValues("empty").Inc()
		return nil, ErrNoFile
	}
	f := files[0]
	if _, ok := MediaType(f); !ok {
		metrics.IntakeRejections.WithLabelValues("type").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, f.Name())
	}
	return f, nil
}

type Intake struct {
	maxSize int64
	logger  zerolog.Logger
}

func New(maxSize int64, logger zerolog.Logger) *Intake {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Intake{maxSize: maxSize, logger: logger}
}

// Submit reads f and turns it into a Payload. Read and decode failures wrap ErrUnreadableImage.
func (in *Intake) Submit(ctx context.Context, f File) (*Payload, error) {
	mediaType, ok := MediaType(f)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, f.Name())
	}

	src, err := f.Open()
	if err != nil {
		in.reject("open")
		return nil, fmt.Errorf("%w: failed to open %s: %v", ErrUnreadableImage, f.Name(), err)
	}
	defer src.Close()

	limited := &io.LimitedReader{R: src, N: in.maxSize + 1}
	raw, err := io.ReadAll(limited)
	if err != nil {
		in.reject("read")
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrUnreadableImage, f.Name(), err)
	}
	if int64(len(raw)) > in.maxSize {
		in.reject("size")
		return nil, fmt.Errorf("%w: %d bytes max", ErrTooLarge, in.maxSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	width, height, format, err := in.decode(raw, mediaType)
	if err != nil {
		in.reject("decode")
		in.logger.Warn().Err(err).Str("file", f.Name()).Str("media_type", mediaType).Msg("rejected unreadable image")
		return nil, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}

	// The decoded format wins over the declared type so the data URI and upload match the content.
	if sniffed := formatMediaType(format); sniffed != mediaType {
		in.logger.Debug().Str("file", f.Name()).Str("declared", mediaType).Str("detected", sniffed).Msg("media type corrected")
		mediaType = sniffed
	}

	in.logger.Debug().Str("file", f.Name()).Str("media_type", mediaType).Int("bytes", len(raw)).
		Int("width", width).Int("height", height).Msg("image accepted")

	return &Payload{
		Name:      f.Name(),
		MediaType: mediaType,
		DataURI:   EncodeDataURI(mediaType, raw),
		Size:      int64(len(raw)),
		Width:     width,
		Height:    height,
	}, nil
}

// decode checks that raw is a complete image in one of the accepted formats and returns its
// dimensions and decoder format name.
func (in *Intake) decode(raw []byte, mediaType string) (int, int, string, error) {
	if len(raw) == 0 {
		return 0, 0, "", errors.New("empty image payload")
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return 0, 0, "", fmt.Errorf("decode image config: %w", err)
	}
	if formatMediaType(format) == "" {
		return 0, 0, "", fmt.Errorf("unsupported image format %q declared as %s", format, mediaType)
	}
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return 0, 0, "", fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	return bounds.Dx(), bounds.Dy(), format, nil
}

func (in *Intake) reject(reason string) {
	metrics.IntakeRejections.WithLabelValues(reason).Inc()
}

// formatMediaType maps a decoder format name to its media type, or "" if it is not accepted.
func formatMediaType(format string) string {
	for mediaType, name := range accepted {
		if name == format {
			return mediaType
		}
	}
	return ""
}

// EncodeDataURI renders raw as a base64 data URI usable directly as an image source.
func EncodeDataURI(mediaType string, raw []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(raw)
}

// DecodeDataURI reverses EncodeDataURI and returns the raw bytes and media type.
func DecodeDataURI(uri string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, "", errors.New("not a data URI")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", errors.New("malformed data URI")
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, "", errors.New("data URI is not base64 encoded")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, "", fmt.Errorf("decode base64: %w", err)
	}
	return raw, mediaType, nil
}
