package study

import (
	"context"
	"fmt"
	"strings"

	"github.com/studyforge/core/internal/config"
)

// Mapper turns uploaded materials into an exact-count study plan with a
// single structured-output request.
type Mapper struct {
	caller     modelCaller
	assignment config.AIModelAssignment
}

func NewMapper(caller modelCaller, assignment config.AIModelAssignment) *Mapper {
	return &Mapper{caller: caller, assignment: assignment}
}

// MapSections requests exactly count section descriptors. Any transport
// error, malformed response, wrong count, or empty title/description fails
// the whole mapping; there is no partial result.
func (m *Mapper) MapSections(ctx context.Context, atts []Attachment, count int) ([]sectionDescriptor, error) {
	raw, err := m.caller.Call(ctx, m.assignment, callRequest{
		System:      mapperSystemPrompt,
		Prompt:      buildMapperPrompt(count, atts),
		Attachments: atts,
		JSONSchema:  mapperSchema(count),
		SchemaName:  "study_sections",
		MaxTokens:   4096,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Sections []sectionDescriptor `json:"sections"`
	}
	if err := unmarshalAIJSON(raw, &payload); err != nil {
		return nil, err
	}
	if len(payload.Sections) != count {
		return nil, fmt.Errorf("mapper returned %d sections, want %d", len(payload.Sections), count)
	}
	for i := range payload.Sections {
		sec := &payload.Sections[i]
		sec.Title = strings.TrimSpace(sec.Title)
		sec.Description = strings.TrimSpace(sec.Description)
		if sec.Title == "" || sec.Description == "" {
			return nil, fmt.Errorf("mapper section %d has an empty title or description", i+1)
		}
		sec.ID = i + 1
	}
	return payload.Sections, nil
}
