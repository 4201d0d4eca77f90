package request

import (
	"io"
	"os"
)

// TempFile is a writable, rewindable handle used to stage upload bodies.
type TempFile interface {
	io.ReadWriteSeeker
	io.Closer

	// Name returns the file path, or "" when the handle is not backed by
	// the filesystem.
	Name() string
}

// TempFileSink creates temporary files for multipart upload staging.
type TempFileSink interface {
	Create() (TempFile, error)
}

// OSTempFileSink creates files with os.CreateTemp.
//
// Dir defaults to os.TempDir and Pattern to "sentinel-upload-*".
type OSTempFileSink struct {
	Dir     string
	Pattern string
}

// Create implements TempFileSink.
func (s OSTempFileSink) Create() (TempFile, error) {
	pattern := s.Pattern
	if pattern == "" {
		pattern = "sentinel-upload-*"
	}
	f, err := os.CreateTemp(s.Dir, pattern)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// DiscardTempFile closes f and removes it from disk when it has a name.
func DiscardTempFile(f TempFile) {
	if f == nil {
		return
	}
	_ = f.Close()
	if name := f.Name(); name != "" {
		_ = os.Remove(name)
	}
}
