package ui

import (
	"github.com/charmbracelet/glamour"
)

// maxReadableWidth caps word wrap for task descriptions.
const maxReadableWidth = 100

// RenderMarkdown renders a task description with glamour. Agents and
// colorless output get the raw text back, as does any rendering failure.
func RenderMarkdown(markdown string) string {
	if IsAgentMode() || !ShouldUseColor() {
		return markdown
	}

	wrapWidth := min(TerminalWidth(80), maxReadableWidth)
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrapWidth),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return rendered
}
