package upload

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/studyforge/core/internal/models"
)

var (
	errUnsupportedType = errors.New("unsupported file type")
	errTooLarge        = errors.New("file too large")

	// ErrNotFound is returned for uploads that do not exist or belong to
	// someone else. The study module maps it onto its own error surface.
	ErrNotFound = errors.New("upload not found")
)

// kindByExt maps a lowercase file extension to its material kind and media type.
var kindByExt = map[string]struct {
	kind      models.UploadKind
	mediaType string
}{
	".mp3":  {models.UploadAudio, "audio/mpeg"},
	".wav":  {models.UploadAudio, "audio/wav"},
	".m4a":  {models.UploadAudio, "audio/mp4"},
	".ogg":  {models.UploadAudio, "audio/ogg"},
	".flac": {models.UploadAudio, "audio/flac"},
	".pdf":  {models.UploadPDF, "application/pdf"},
	".txt":  {models.UploadText, "text/plain"},
	".md":   {models.UploadText, "text/markdown"},
}

func classify(filename string) (models.UploadKind, string, bool) {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	entry, ok := kindByExt[ext]
	if !ok {
		return "", "", false
	}
	return entry.kind, entry.mediaType, true
}

type uploadResponse struct {
	ID        string            `json:"id"`
	FileName  string            `json:"file_name"`
	Kind      models.UploadKind `json:"kind"`
	MediaType string            `json:"media_type"`
	Size      int64             `json:"size"`
	RemoteURL string            `json:"remote_url,omitempty"`
}
