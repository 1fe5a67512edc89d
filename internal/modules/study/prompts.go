package study

import (
	"fmt"
	"strings"
)

const mapperSystemPrompt = `You are a study planner. You receive lecture materials (audio recordings, slide PDFs, transcripts) and split them into a fixed number of coherent study sections.`

const synthesisSystemPrompt = `You are an expert tutor writing long-form study notes. Write clear, thorough markdown. Use headings, lists and tables where they help. Render every mathematical expression with KaTeX syntax: inline as $...$ and display blocks as $$...$$. Do not wrap your answer in code fences.`

func buildMapperPrompt(count int, atts []Attachment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Split the attached lecture materials into exactly %d sections that together cover all of the material in teaching order.\n\n", count)
	b.WriteString("For each section provide:\n")
	b.WriteString("- id: the 1-based section number\n")
	b.WriteString("- title: a short, specific section title\n")
	b.WriteString("- description: two or three sentences describing what the section covers\n")
	if hasAudio(atts) {
		b.WriteString("- hasAudio: true if the section draws on the audio recording\n\n")
	} else {
		b.WriteString("- hasAudio: always false, since no audio recording was provided\n\n")
	}
	fmt.Fprintf(&b, "Materials attached: %s.", describeAttachments(atts))
	return b.String()
}

// mapperSchema is the strict JSON schema for the mapper's structured output.
func mapperSchema(count int) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"sections": map[string]interface{}{
				"type":     "array",
				"minItems": count,
				"maxItems": count,
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"id":          map[string]interface{}{"type": "integer"},
						"title":       map[string]interface{}{"type": "string"},
						"description": map[string]interface{}{"type": "string"},
						"hasAudio":    map[string]interface{}{"type": "boolean"},
					},
					"required":             []string{"id", "title", "description", "hasAudio"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"sections"},
		"additionalProperties": false,
	}
}

func buildSynthesisPrompt(title, description string, atts []Attachment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write complete study notes for the section %q.\n\n", title)
	if strings.TrimSpace(description) != "" {
		fmt.Fprintf(&b, "The section covers: %s\n\n", strings.TrimSpace(description))
	}
	b.WriteString("Base the notes only on the attached lecture materials. ")
	b.WriteString("Explain concepts fully, include worked examples where the material has them, ")
	b.WriteString("and end with a short summary of the key points.\n\n")
	fmt.Fprintf(&b, "Materials attached: %s.", describeAttachments(atts))
	return b.String()
}

func describeAttachments(atts []Attachment) string {
	if len(atts) == 0 {
		return "none"
	}
	names := make([]string, 0, len(atts))
	for _, a := range atts {
		names = append(names, fmt.Sprintf("%s (%s)", a.FileName, a.Kind))
	}
	return strings.Join(names, ", ")
}
