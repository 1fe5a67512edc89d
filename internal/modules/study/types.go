package study

import (
	"context"
	"errors"

	"github.com/studyforge/core/internal/config"
	"github.com/studyforge/core/internal/models"
)

// User-visible pipeline failure messages. Details stay in the logs.
const (
	msgNoMaterials  = "NO MATERIALS PROVIDED"
	msgMapperFailed = "ANALYSIS FAILED"
	msgInterrupted  = "GENERATION INTERRUPTED"
	msgSyncFailed   = "SYNC FAILED"
)

var (
	ErrNoMaterials = errors.New("no materials provided")
	ErrRunActive   = errors.New("a run is already active for this user")
	errRunNotFound = errors.New("run not found")
)

// Attachment is one uploaded material inlined into a generation request.
type Attachment struct {
	FileName  string
	MediaType string
	Kind      models.UploadKind
	Data      []byte
}

// hasAudio reports whether any attachment is an audio recording.
func hasAudio(atts []Attachment) bool {
	for _, a := range atts {
		if a.Kind == models.UploadAudio {
			return true
		}
	}
	return false
}

// callRequest is a single generation request against one resolved model.
type callRequest struct {
	System      string
	Prompt      string
	Attachments []Attachment
	// JSONSchema, when set, constrains the output to the named schema
	// (structured-output mapper call).
	JSONSchema map[string]interface{}
	SchemaName string
	MaxTokens  int
}

// modelCaller issues generation requests. The production implementation
// talks to the configured providers; tests substitute fakes.
type modelCaller interface {
	Call(ctx context.Context, assignment config.AIModelAssignment, req callRequest) (string, error)
}

// sectionDescriptor is the mapper's per-section output.
type sectionDescriptor struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	HasAudio    bool   `json:"hasAudio"`
}

type createRunDTO struct {
	Depth     string   `json:"depth"`
	UploadIDs []string `json:"upload_ids"`
}

type testConnectionDTO struct {
	ProviderID string `json:"provider_id" binding:"required"`
	Model      string `json:"model"`
}

type modelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type providerModelsResponse struct {
	ProviderID   string      `json:"provider_id"`
	ProviderName string      `json:"provider_name"`
	Type         string      `json:"type"`
	DefaultModel string      `json:"default_model"`
	Models       []modelInfo `json:"models"`
	Error        string      `json:"error,omitempty"`
}
