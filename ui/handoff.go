package ui

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	noticeInfoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	noticeErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	previewStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// editorText is what the next call to /handoff's "create session" step
// should seed into the user's next input — analogous to ui.setEditorText in
// spec.md §6.
var editorText string

// Editor writes initialText to a temp file, shells out to $EDITOR (falling
// back to VISUAL, then nano/vim/vi), and reads the result back. Returns
// ("", false) if no editor is available or the process fails, matching
// ui.editor(title, initialText) -> string|undefined.
func (t *Terminal) Editor(title, initialText string) (string, bool) {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		for _, e := range []string{"nano", "vim", "vi"} {
			if _, err := exec.LookPath(e); err == nil {
				editor = e
				break
			}
		}
	}
	if editor == "" {
		t.PrintWarning("$EDITOR is not set; showing the prompt instead")
		t.renderPreview(title, initialText)
		return initialText, true
	}

	tmp, err := os.CreateTemp("", "handoff-*.md")
	if err != nil {
		t.PrintWarning("Failed to create temp file: " + err.Error())
		return "", false
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(initialText); err != nil {
		tmp.Close()
		t.PrintWarning("Failed to write temp file: " + err.Error())
		return "", false
	}
	tmp.Close()

	cmd := exec.Command(editor, tmpPath)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		t.PrintWarning("Editor exited with an error: " + err.Error())
		return "", false
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		t.PrintWarning("Failed to read edited file: " + err.Error())
		return "", false
	}
	return string(data), true
}

// renderPreview renders markdown with glamour and a lipgloss border when no
// interactive editor is available to show the prompt in.
func (t *Terminal) renderPreview(title, text string) {
	rendered, err := glamour.Render(text, "dark")
	if err != nil {
		rendered = text
	}
	fmt.Println(previewStyle.Render(t.c(Bold, title) + "\n\n" + rendered))
}

// SetEditorText stashes text to seed the next input prompt with — used
// after creating the handoff's child session (spec.md §6's
// ui.setEditorText).
func (t *Terminal) SetEditorText(text string) {
	editorText = text
}

// TakeEditorText returns and clears any pending seeded text.
func TakeEditorText() (string, bool) {
	if editorText == "" {
		return "", false
	}
	text := editorText
	editorText = ""
	return text, true
}

// Notify prints a leveled notification (spec.md §6's ui.notify).
func (t *Terminal) Notify(message string, level string) {
	switch level {
	case "error":
		fmt.Println(noticeErrorStyle.Render("✗ " + message))
	default:
		fmt.Println(noticeInfoStyle.Render("• " + message))
	}
}
