package handoff

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowkaihon/handoff-engine/completion"
	"github.com/lowkaihon/handoff-engine/session"
)

type stubSessionManager struct {
	entries     []session.Entry
	appended    []string
	sessionFile string
}

func (s *stubSessionManager) GetBranch() ([]session.Entry, error) { return s.entries, nil }
func (s *stubSessionManager) AppendCustomEntry(customType string, data any) error {
	s.appended = append(s.appended, customType)
	return nil
}
func (s *stubSessionManager) GetSessionFile() string { return s.sessionFile }

type stubSessionCreator struct {
	created bool
	cancel  bool
}

func (c *stubSessionCreator) NewSession(parentSessionFile string) (bool, error) {
	c.created = true
	return c.cancel, nil
}

type stubRegistry struct{ key string }

func (r *stubRegistry) GetAPIKey(model string) (string, bool) {
	if r.key == "" {
		return "", false
	}
	return r.key, true
}

type stubUI struct {
	notices  []string
	editorOK bool
	seeded   string
}

func (u *stubUI) Editor(title, initialText string) (string, bool) { return initialText, u.editorOK }
func (u *stubUI) SetEditorText(text string)                       { u.seeded = text }
func (u *stubUI) Notify(message, level string)                    { u.notices = append(u.notices, level+": "+message) }

func basicSessionEntries() []session.Entry {
	return []session.Entry{
		userEntry("e1", "fix the login bug"),
		assistantTextEntry("e2", "found it"),
		assistantToolCallEntry("e3", "c1", "bash", map[string]any{"command": "go test ./..."}),
		toolResultEntry("e4", "c1", "bash", "PASS", false),
	}
}

func TestController_Handoff_HappyPath(t *testing.T) {
	completer := &fakeCompleter{text: "# Context\nfacts\n\n# Task\ngoal"}
	driver := NewDriver(completer)
	controller := NewController(driver, DefaultBudget())

	sm := &stubSessionManager{entries: basicSessionEntries()}
	ui := &stubUI{editorOK: true}
	registry := &stubRegistry{key: "sk-test"}
	creator := &stubSessionCreator{}
	signal := NewCancelSignal(context.Background())

	err := controller.Handoff(context.Background(), "finish the login fix", "model", sm, ui, registry, creator, signal)
	require.NoError(t, err)

	assert.True(t, creator.created)
	assert.Contains(t, sm.appended, "handoff")
	assert.Contains(t, ui.seeded, "<read-files>")
	assert.Contains(t, ui.seeded, "<modified-files>")
}

func TestController_Handoff_EmptyGoalNotifiesUsage(t *testing.T) {
	controller := NewController(NewDriver(&fakeCompleter{}), DefaultBudget())
	sm := &stubSessionManager{entries: basicSessionEntries()}
	ui := &stubUI{}
	registry := &stubRegistry{key: "sk-test"}
	creator := &stubSessionCreator{}

	err := controller.Handoff(context.Background(), "   ", "model", sm, ui, registry, creator, NewCancelSignal(context.Background()))
	require.NoError(t, err)
	require.Len(t, ui.notices, 1)
	assert.Contains(t, ui.notices[0], "Usage")
	assert.False(t, creator.created)
}

func TestController_Handoff_NoAPIKeyNotifiesError(t *testing.T) {
	controller := NewController(NewDriver(&fakeCompleter{}), DefaultBudget())
	sm := &stubSessionManager{entries: basicSessionEntries()}
	ui := &stubUI{}
	registry := &stubRegistry{}
	creator := &stubSessionCreator{}

	err := controller.Handoff(context.Background(), "goal", "model", sm, ui, registry, creator, NewCancelSignal(context.Background()))
	require.NoError(t, err)
	require.Len(t, ui.notices, 1)
	assert.Contains(t, ui.notices[0], "error:")
}

func TestController_Handoff_EmptyBranchNotifiesError(t *testing.T) {
	controller := NewController(NewDriver(&fakeCompleter{}), DefaultBudget())
	sm := &stubSessionManager{entries: nil}
	ui := &stubUI{}
	registry := &stubRegistry{key: "sk-test"}
	creator := &stubSessionCreator{}

	err := controller.Handoff(context.Background(), "goal", "model", sm, ui, registry, creator, NewCancelSignal(context.Background()))
	require.NoError(t, err)
	require.Len(t, ui.notices, 1)
	assert.Contains(t, ui.notices[0], "error:")
	assert.False(t, creator.created)
}

func TestController_Handoff_EditorCancelLeavesSessionUntouched(t *testing.T) {
	completer := &fakeCompleter{text: "# Context\nfacts"}
	driver := NewDriver(completer)
	controller := NewController(driver, DefaultBudget())

	sm := &stubSessionManager{entries: basicSessionEntries()}
	ui := &stubUI{editorOK: false}
	registry := &stubRegistry{key: "sk-test"}
	creator := &stubSessionCreator{}

	err := controller.Handoff(context.Background(), "goal", "model", sm, ui, registry, creator, NewCancelSignal(context.Background()))
	require.NoError(t, err)
	assert.False(t, creator.created)
	assert.Empty(t, sm.appended)
}

func TestController_Handoff_LLMFailureNotifiesAndStops(t *testing.T) {
	completer := &fakeCompleter{fail: func(call int) error { return assertErr }}
	driver := NewDriver(completer)
	controller := NewController(driver, DefaultBudget())

	sm := &stubSessionManager{entries: basicSessionEntries()}
	ui := &stubUI{editorOK: true}
	registry := &stubRegistry{key: "sk-test"}
	creator := &stubSessionCreator{}

	err := controller.Handoff(context.Background(), "goal", "model", sm, ui, registry, creator, NewCancelSignal(context.Background()))
	require.NoError(t, err)
	assert.False(t, creator.created)
	require.NotEmpty(t, ui.notices)
}

var assertErr = &staticErr{"invalid api key"}

type staticErr struct{ msg string }

func (e *staticErr) Error() string { return e.msg }

var _ completion.Completer = (*fakeCompleter)(nil)
