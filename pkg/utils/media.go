package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".ogg": true, ".oga": true, ".opus": true,
	".m4a": true, ".aac": true, ".flac": true, ".webm": true,
}

// IsAudioFile reports whether filename or contentType looks like audio.
func IsAudioFile(filename, contentType string) bool {
	if strings.HasPrefix(strings.ToLower(contentType), "audio/") {
		return true
	}
	return audioExtensions[strings.ToLower(filepath.Ext(filename))]
}

// ExtensionForContentType picks a file extension for outgoing audio.
func ExtensionForContentType(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ".mp3"
	}
}

// WithTempFile writes data to a fresh temp file, calls fn with its path and
// removes the file afterwards, whether fn returns an error or panics.
func WithTempFile(pattern string, data []byte, fn func(path string) error) (err error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = fmt.Errorf("remove temp file: %w", rmErr)
		}
	}()

	if _, werr := f.Write(data); werr != nil {
		_ = f.Close()
		return fmt.Errorf("write temp file: %w", werr)
	}
	if cerr := f.Close(); cerr != nil {
		return fmt.Errorf("close temp file: %w", cerr)
	}
	return fn(path)
}
