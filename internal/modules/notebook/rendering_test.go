package notebook

import (
	"strings"
	"testing"
)

func TestRenderContentHTMLInlineKatex(t *testing.T) {
	html := RenderContentHTML("The identity $e^{i\\pi} + 1 = 0$ is famous.")
	if !strings.Contains(html, `<span class="katex-render">`) {
		t.Fatalf("inline formula not lifted into katex span: %s", html)
	}
	if strings.Contains(html, "$e^") {
		t.Errorf("raw dollar-delimited formula leaked into output: %s", html)
	}
}

func TestRenderContentHTMLDisplayKatex(t *testing.T) {
	html := RenderContentHTML("Consider:\n\n$$\\int_0^1 x^2 dx = \\frac{1}{3}$$\n\nDone.")
	if !strings.Contains(html, `katex-block`) {
		t.Fatalf("display formula not lifted into a block: %s", html)
	}
}

func TestRenderContentHTMLMarkdown(t *testing.T) {
	html := RenderContentHTML("# Heading\n\n- one\n- two\n\n| a | b |\n|---|---|\n| 1 | 2 |")
	for _, want := range []string{"<h1", "<ul>", "<table>"} {
		if !strings.Contains(html, want) {
			t.Errorf("output missing %s: %s", want, html)
		}
	}
}

func TestRenderContentHTMLEmpty(t *testing.T) {
	if got := RenderContentHTML("   \n  "); got != "" {
		t.Errorf("blank input should render empty, got %q", got)
	}
}

func TestBuildEntryHTMLDocument(t *testing.T) {
	doc := BuildEntryHTMLDocument("Limits & Continuity", "2026-08-23", "<p>body</p>")
	for _, want := range []string{
		"<!DOCTYPE html>",
		"Limits &amp; Continuity",
		"katex.min.css",
		"katex.min.js",
		"<p>body</p>",
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("document missing %q", want)
		}
	}
}

func TestSafeFileName(t *testing.T) {
	cases := map[string]string{
		"Limits & Continuity": "Limits__Continuity",
		"  ":                  "notes",
		"a/b\\c":              "abc",
		"Plain Title":         "Plain_Title",
	}
	for in, want := range cases {
		if got := safeFileName(in); got != want {
			t.Errorf("safeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
