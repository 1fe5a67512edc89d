package models

// UploadKind classifies source material by how the pipeline attaches it.
type UploadKind string

const (
	UploadAudio UploadKind = "audio"
	UploadPDF   UploadKind = "pdf"
	UploadText  UploadKind = "text"
)

// UploadModel is an uploaded lecture material file (audio recording, PDF slides,
// or a plain-text transcript).
type UploadModel struct {
	Base
	UserID    string     `json:"user_id"    gorm:"index;not null"`
	FileName  string     `json:"file_name"  gorm:"not null"`
	Path      string     `json:"-"          gorm:"not null"`
	RemoteURL string     `json:"remote_url"`
	MediaType string     `json:"media_type"`
	Kind      UploadKind `json:"kind"       gorm:"index"`
	Size      int64      `json:"size"`
}

func (UploadModel) TableName() string { return "uploads" }
