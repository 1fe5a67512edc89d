package notebook

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
)

var markdownEngine = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Table,
		extension.Strikethrough,
		extension.TaskList,
		extension.Linkify,
		extension.Typographer,
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithHardWraps(),
		htmlrenderer.WithXHTML(),
	),
)

var (
	displayKatexPattern = regexp.MustCompile(`\$\$([\s\S]+?)\$\$`)
	inlineKatexPattern  = regexp.MustCompile(`\$([^\$\n]+?)\$`)
)

// RenderContentHTML converts a notebook entry's markdown to HTML. Formulas
// are lifted into katex-render spans before the markdown pass so goldmark
// does not mangle them; the client-side KaTeX script renders them in place.
func RenderContentHTML(markdownText string) string {
	text := strings.TrimSpace(markdownText)
	if text == "" {
		return ""
	}

	text = replaceDisplayKatex(text)
	text = replaceInlineKatex(text)

	var out bytes.Buffer
	if err := markdownEngine.Convert([]byte(text), &out); err != nil {
		return template.HTMLEscapeString(text)
	}
	return out.String()
}

func replaceDisplayKatex(text string) string {
	return displayKatexPattern.ReplaceAllStringFunc(text, func(raw string) string {
		match := displayKatexPattern.FindStringSubmatch(raw)
		if len(match) < 2 {
			return raw
		}
		content := template.HTMLEscapeString(strings.TrimSpace(match[1]))
		return `<div class="katex-render katex-block">` + content + `</div>`
	})
}

func replaceInlineKatex(text string) string {
	return inlineKatexPattern.ReplaceAllStringFunc(text, func(raw string) string {
		match := inlineKatexPattern.FindStringSubmatch(raw)
		if len(match) < 2 {
			return raw
		}
		content := template.HTMLEscapeString(strings.TrimSpace(match[1]))
		return `<span class="katex-render">` + content + `</span>`
	})
}

// BuildEntryHTMLDocument wraps rendered entry HTML in a standalone page with
// the KaTeX assets wired in.
func BuildEntryHTMLDocument(title, info, html string) string {
	var b strings.Builder
	b.Grow(4096)

	escapedTitle := template.HTMLEscapeString(strings.TrimSpace(title))
	if escapedTitle == "" {
		escapedTitle = "Study Notes"
	}

	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n")
	b.WriteString("  <head>\n")
	b.WriteString("    <meta charset=\"UTF-8\" />\n")
	b.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\" />\n")
	b.WriteString("    <meta name=\"referrer\" content=\"no-referrer\" />\n")
	b.WriteString(`    <link href="https://cdn.jsdelivr.net/npm/katex@0.16.11/dist/katex.min.css" rel="stylesheet" />` + "\n")
	b.WriteString("    <style>\n")
	b.WriteString("      body { max-width: 48em; margin: 0 auto; padding: 2em 1em; font-family: system-ui, sans-serif; line-height: 1.6; }\n")
	b.WriteString("      .katex-block { text-align: center; margin: 1em 0; }\n")
	b.WriteString("      pre { overflow-x: auto; background: #f6f8fa; padding: 1em; border-radius: 6px; }\n")
	b.WriteString("      table { border-collapse: collapse; } th, td { border: 1px solid #ddd; padding: 0.4em 0.8em; }\n")
	b.WriteString("    </style>\n")
	b.WriteString("    <title>")
	b.WriteString(escapedTitle)
	b.WriteString("</title>\n")
	b.WriteString("  </head>\n\n")
	b.WriteString("  <body id=\"write\">\n")
	if info = strings.TrimSpace(info); info != "" {
		fmt.Fprintf(&b, "    <p style=\"text-align: center; opacity: 0.8;\">%s</p>\n", template.HTMLEscapeString(info))
	}
	fmt.Fprintf(&b, "    <article><h1>%s</h1>%s</article>\n", escapedTitle, html)
	b.WriteString("  </body>\n\n")
	b.WriteString(`  <script src="https://cdn.jsdelivr.net/npm/katex@0.16.11/dist/katex.min.js" defer></script>` + "\n")
	b.WriteString("  <script>\n")
	b.WriteString("    window.onload = () => { document.querySelectorAll('.katex-render').forEach(el => { window.katex.render(el.textContent, el, { throwOnError: false, displayMode: el.classList.contains('katex-block') }) }) }\n")
	b.WriteString("  </script>\n")
	b.WriteString("</html>")

	return b.String()
}
