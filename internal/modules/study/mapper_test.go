package study

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/studyforge/core/internal/config"
)

// fakeCaller returns scripted responses and records every call.
type fakeCaller struct {
	responses []fakeResponse
	calls     []fakeCall
}

type fakeResponse struct {
	out string
	err error
}

type fakeCall struct {
	assignment config.AIModelAssignment
	req        callRequest
}

func (f *fakeCaller) Call(_ context.Context, assignment config.AIModelAssignment, req callRequest) (string, error) {
	f.calls = append(f.calls, fakeCall{assignment: assignment, req: req})
	if len(f.responses) == 0 {
		return "", errors.New("fakeCaller: no scripted response left")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp.out, resp.err
}

func validMapperJSON(count int) string {
	out := `{"sections":[`
	for i := 1; i <= count; i++ {
		if i > 1 {
			out += ","
		}
		out += fmt.Sprintf(`{"id":%d,"title":"Section %d","description":"Covers topic %d.","hasAudio":%v}`, i, i, i, i%2 == 0)
	}
	return out + `]}`
}

func TestMapSectionsExactCount(t *testing.T) {
	for _, count := range []int{6, 12} {
		caller := &fakeCaller{responses: []fakeResponse{{out: validMapperJSON(count)}}}
		m := NewMapper(caller, config.AIModelAssignment{ProviderID: "p1", Model: "m1"})

		sections, err := m.MapSections(context.Background(), nil, count)
		if err != nil {
			t.Fatalf("count %d: unexpected error: %v", count, err)
		}
		if len(sections) != count {
			t.Fatalf("count %d: got %d sections", count, len(sections))
		}
		for i, sec := range sections {
			if sec.ID != i+1 {
				t.Errorf("section %d: id = %d, want %d", i, sec.ID, i+1)
			}
			if sec.Title == "" || sec.Description == "" {
				t.Errorf("section %d: empty title or description", i)
			}
		}
		if len(caller.calls) != 1 {
			t.Fatalf("count %d: mapper issued %d calls, want exactly 1", count, len(caller.calls))
		}
		if caller.calls[0].req.JSONSchema == nil {
			t.Error("mapper call must carry a JSON schema")
		}
	}
}

func TestMapSectionsWrongCount(t *testing.T) {
	caller := &fakeCaller{responses: []fakeResponse{{out: validMapperJSON(5)}}}
	m := NewMapper(caller, config.AIModelAssignment{})

	if _, err := m.MapSections(context.Background(), nil, 6); err == nil {
		t.Fatal("expected error for wrong section count")
	}
}

func TestMapSectionsEmptyTitle(t *testing.T) {
	out := `{"sections":[{"id":1,"title":"  ","description":"d","hasAudio":false},` +
		`{"id":2,"title":"t","description":"d","hasAudio":false}]}`
	caller := &fakeCaller{responses: []fakeResponse{{out: out}}}
	m := NewMapper(caller, config.AIModelAssignment{})

	if _, err := m.MapSections(context.Background(), nil, 2); err == nil {
		t.Fatal("expected error for blank title")
	}
}

func TestMapSectionsFencedJSON(t *testing.T) {
	fenced := "```json\n" + validMapperJSON(6) + "\n```"
	caller := &fakeCaller{responses: []fakeResponse{{out: fenced}}}
	m := NewMapper(caller, config.AIModelAssignment{})

	sections, err := m.MapSections(context.Background(), nil, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sections) != 6 {
		t.Fatalf("got %d sections, want 6", len(sections))
	}
}

func TestMapSectionsTransportError(t *testing.T) {
	caller := &fakeCaller{responses: []fakeResponse{{err: errors.New("connection refused")}}}
	m := NewMapper(caller, config.AIModelAssignment{})

	if _, err := m.MapSections(context.Background(), nil, 6); err == nil {
		t.Fatal("expected transport error to propagate")
	}
	if len(caller.calls) != 1 {
		t.Fatalf("got %d calls, want 1 (no mapper-level retry)", len(caller.calls))
	}
}

func TestMapSectionsMalformedJSON(t *testing.T) {
	caller := &fakeCaller{responses: []fakeResponse{{out: "here are your sections: first, intro..."}}}
	m := NewMapper(caller, config.AIModelAssignment{})

	if _, err := m.MapSections(context.Background(), nil, 6); err == nil {
		t.Fatal("expected error for malformed response")
	}
}
