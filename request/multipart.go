package request

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultChunkSize bounds the buffer used when streaming file-backed parts.
const DefaultChunkSize = 1 << 20

const (
	contentTypeText   = "text/plain; charset=utf-8"
	contentTypeBinary = "application/octet-stream"
)

// MediaKind identifies the media type of a typed media part.
type MediaKind int

// Supported media kinds.
const (
	MediaJPEG MediaKind = iota
	MediaPNG
	MediaGIF
	MediaMP4
	MediaQuickTime
	MediaMP3
	MediaPDF
)

// ContentType returns the MIME type of the media kind.
func (k MediaKind) ContentType() string {
	switch k {
	case MediaJPEG:
		return "image/jpeg"
	case MediaPNG:
		return "image/png"
	case MediaGIF:
		return "image/gif"
	case MediaMP4:
		return "video/mp4"
	case MediaQuickTime:
		return "video/quicktime"
	case MediaMP3:
		return "audio/mpeg"
	case MediaPDF:
		return "application/pdf"
	default:
		return contentTypeBinary
	}
}

// Extension returns the conventional file extension, including the dot.
func (k MediaKind) Extension() string {
	switch k {
	case MediaJPEG:
		return ".jpg"
	case MediaPNG:
		return ".png"
	case MediaGIF:
		return ".gif"
	case MediaMP4:
		return ".mp4"
	case MediaQuickTime:
		return ".mov"
	case MediaMP3:
		return ".mp3"
	case MediaPDF:
		return ".pdf"
	default:
		return ".bin"
	}
}

// Part is one named section of a multipart body.
//
// A part is either inline (bytes or text held in memory) or file-backed
// (read from a local path when the body is encoded). Construct parts with
// DataPart, TextPart, FilePart, MediaPart or MediaFilePart.
type Part struct {
	// Name is the form field name.
	Name string

	// FileName is sent in Content-Disposition when non-empty.
	FileName string

	// ContentType is the part's Content-Type header.
	ContentType string

	data []byte
	path string
}

// DataPart returns an inline part with raw bytes. An empty contentType
// defaults to application/octet-stream.
func DataPart(name, fileName string, data []byte, contentType string) Part {
	if contentType == "" {
		contentType = contentTypeBinary
	}
	return Part{
		Name:        name,
		FileName:    fileName,
		ContentType: contentType,
		data:        append([]byte(nil), data...),
	}
}

// TextPart returns an inline text field.
func TextPart(name, value string) Part {
	return Part{
		Name:        name,
		ContentType: contentTypeText,
		data:        []byte(value),
	}
}

// FilePart returns a part streamed from the file at path. The file name is
// the path's base name and the content type is derived from its extension.
//
// The file is opened only when the body is encoded; a missing or unreadable
// file then fails with an EncodingError.
func FilePart(name, path string) Part {
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = contentTypeBinary
	}
	return Part{
		Name:        name,
		FileName:    filepath.Base(path),
		ContentType: contentType,
		path:        path,
	}
}

// MediaPart returns an inline part of a typed media kind. An empty fileName
// is derived from the part name and the kind's extension.
func MediaPart(name string, kind MediaKind, fileName string, data []byte) Part {
	if fileName == "" {
		fileName = name + kind.Extension()
	}
	return Part{
		Name:        name,
		FileName:    fileName,
		ContentType: kind.ContentType(),
		data:        append([]byte(nil), data...),
	}
}

// MediaFilePart returns a file-backed part of a typed media kind.
func MediaFilePart(name string, kind MediaKind, path string) Part {
	return Part{
		Name:        name,
		FileName:    filepath.Base(path),
		ContentType: kind.ContentType(),
		path:        path,
	}
}

// IsFile reports whether the part is read from a local path.
func (p Part) IsFile() bool {
	return p.path != ""
}

// Data returns the content of an inline part. It is nil for file-backed
// parts.
func (p Part) Data() []byte {
	return p.data
}

// Path returns the source path of a file-backed part.
func (p Part) Path() string {
	return p.path
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func (p Part) header() textproto.MIMEHeader {
	disposition := fmt.Sprintf(`form-data; name="%s"`, quoteEscaper.Replace(p.Name))
	if p.FileName != "" {
		disposition += fmt.Sprintf(`; filename="%s"`, quoteEscaper.Replace(p.FileName))
	}
	h := make(textproto.MIMEHeader, 2)
	h.Set("Content-Disposition", disposition)
	h.Set("Content-Type", p.ContentType)
	return h
}

// MultipartBody is a multipart/form-data body.
//
// Each body carries its own boundary token, generated on construction.
// Encoding is deterministic for a fixed boundary and part sequence.
type MultipartBody struct {
	boundary  string
	parts     []Part
	chunkSize int
}

// Multipart returns a multipart body over parts with a fresh boundary.
func Multipart(parts ...Part) *MultipartBody {
	return &MultipartBody{
		boundary:  newBoundary(),
		parts:     append([]Part(nil), parts...),
		chunkSize: DefaultChunkSize,
	}
}

func newBoundary() string {
	return "sentinel" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// WithBoundary returns a copy using the given boundary token.
func (b *MultipartBody) WithBoundary(boundary string) *MultipartBody {
	next := *b
	next.boundary = boundary
	return &next
}

// WithChunkSize returns a copy streaming file parts with buffers of n bytes.
// Non-positive values select DefaultChunkSize.
func (b *MultipartBody) WithChunkSize(n int) *MultipartBody {
	if n <= 0 {
		n = DefaultChunkSize
	}
	next := *b
	next.chunkSize = n
	return &next
}

// Append returns a copy with additional parts.
func (b *MultipartBody) Append(parts ...Part) *MultipartBody {
	next := *b
	next.parts = append(append([]Part(nil), b.parts...), parts...)
	return &next
}

// Boundary returns the boundary token.
func (b *MultipartBody) Boundary() string {
	return b.boundary
}

// Parts returns a copy of the part sequence.
func (b *MultipartBody) Parts() []Part {
	return append([]Part(nil), b.parts...)
}

// IsEmpty reports whether the body has no parts.
func (b *MultipartBody) IsEmpty() bool {
	return len(b.parts) == 0
}

// ContentType returns the multipart/form-data content type with boundary.
func (b *MultipartBody) ContentType() string {
	w := multipart.NewWriter(io.Discard)
	if err := w.SetBoundary(b.boundary); err != nil {
		return "multipart/form-data; boundary=" + b.boundary
	}
	return w.FormDataContentType()
}

// Headers returns the Content-Type header.
func (b *MultipartBody) Headers() map[string]string {
	return map[string]string{"Content-Type": b.ContentType()}
}

// Encode renders the whole body in memory.
//
// Prefer MaterializeToFile for bodies with large file-backed parts.
func (b *MultipartBody) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.Stream(context.Background(), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Stream writes the encoded body to w. Inline parts are written from
// memory; file-backed parts are copied in chunks of at most the configured
// chunk size. Cancellation of ctx is observed between parts and chunks.
func (b *MultipartBody) Stream(ctx context.Context, w io.Writer) error {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(b.boundary); err != nil {
		return &EncodingError{Err: err}
	}

	size := b.chunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	buf := make([]byte, size)

	for _, p := range b.parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writePart(ctx, mw, p, buf); err != nil {
			return err
		}
	}

	if err := mw.Close(); err != nil {
		return &EncodingError{Err: err}
	}
	return nil
}

func writePart(ctx context.Context, mw *multipart.Writer, p Part, buf []byte) error {
	var src io.Reader
	if p.IsFile() {
		f, err := os.Open(p.path)
		if err != nil {
			return &EncodingError{Part: p.Name, Err: err}
		}
		defer f.Close()
		src = &chunkReader{ctx: ctx, r: f}
	} else {
		src = bytes.NewReader(p.data)
	}

	w, err := mw.CreatePart(p.header())
	if err != nil {
		return &EncodingError{Part: p.Name, Err: err}
	}

	if _, err := io.CopyBuffer(w, src, buf); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &EncodingError{Part: p.Name, Err: err}
	}
	return nil
}

// chunkReader hides io.WriterTo on the underlying file so io.CopyBuffer
// uses the bounded buffer, and checks ctx before every chunk.
type chunkReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// MaterializeToFile streams the encoded body into a temporary file created
// by sink and returns it rewound to the start, together with its size.
//
// On failure the partially written file is closed and discarded.
func (b *MultipartBody) MaterializeToFile(ctx context.Context, sink TempFileSink) (TempFile, int64, error) {
	f, err := sink.Create()
	if err != nil {
		return nil, 0, fmt.Errorf("request: create temp file: %w", err)
	}

	if err := b.Stream(ctx, f); err != nil {
		DiscardTempFile(f)
		return nil, 0, err
	}

	size, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		DiscardTempFile(f)
		return nil, 0, fmt.Errorf("request: measure temp file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		DiscardTempFile(f)
		return nil, 0, fmt.Errorf("request: rewind temp file: %w", err)
	}
	return f, size, nil
}
