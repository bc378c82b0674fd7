package projects

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(Config{Root: t.TempDir()}, nil)
	require.NoError(t, err)
	return ws
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"alpha", "my-app_2", "v1.0"} {
		assert.NoError(t, ValidateName(name), name)
	}
	for _, name := range []string{"", "../etc", "a/b", ".hidden", "a..b", "white space"} {
		assert.ErrorIs(t, ValidateName(name), ErrInvalidProjectName, name)
	}
}

func TestCreateSeedsRequirementsAndRejectsDuplicates(t *testing.T) {
	ws := newTestWorkspace(t)

	dir, err := ws.Create("alpha")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "GEMINI.md"))
	require.NoError(t, err)
	assert.Equal(t, RequirementsHeader, string(data))

	_, err = ws.Create("alpha")
	assert.ErrorIs(t, err, ErrProjectExists)
}

func TestOpenAndList(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, os.Mkdir(filepath.Join(ws.Root(), "beta"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(ws.Root(), ".cache"), 0o755))
	_, err := ws.Create("alpha")
	require.NoError(t, err)

	names, err := ws.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)

	dir, err := ws.Open("beta")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "GEMINI.md"))

	_, err = ws.Open("gamma")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestFilesAndFilePath(t *testing.T) {
	ws := newTestWorkspace(t)
	dir, err := ws.Create("alpha")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	files, err := ws.Files(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"GEMINI.md", "main.go"}, files)

	path, err := ws.FilePath(dir, "main.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "main.go"), path)

	_, err = ws.FilePath(dir, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = ws.FilePath(dir, "sub")
	assert.ErrorIs(t, err, ErrFileNotFound)

	assert.True(t, ws.IsBookkeeping("GEMINI.md"))
	assert.True(t, ws.IsBookkeeping("project_conversation.log"))
	assert.False(t, ws.IsBookkeeping("main.go"))
}

func TestJournalAppendFormats(t *testing.T) {
	ws := newTestWorkspace(t)
	dir, err := ws.Create("alpha")
	require.NoError(t, err)

	require.NoError(t, ws.AppendRequest(dir, "add a readme"))
	require.NoError(t, ws.AppendDecision(dir, "raw \x1b[1mout\x1b[0m", ""))
	require.NoError(t, ws.AppendDecision(dir, "partial", "boom"))
	require.NoError(t, ws.AppendAcceptedResponse(dir, "  Created README.md\n"))
	require.NoError(t, ws.AppendAcceptedResponse(dir, "   "))

	log, err := os.ReadFile(filepath.Join(dir, "project_conversation.log"))
	require.NoError(t, err)
	assert.Equal(t,
		"\n--- USER REQUEST ---\nadd a readme\n"+
			"\n--- AGENT DECISION ---\nraw \x1b[1mout\x1b[0m\n"+
			"\n--- AGENT DECISION ---\npartial\n\n--- STDERR ---\nboom\n",
		string(log))

	reqs, err := os.ReadFile(filepath.Join(dir, "GEMINI.md"))
	require.NoError(t, err)
	assert.Equal(t,
		RequirementsHeader+
			"\n---\n\n### User Requirement\n\n> add a readme\n"+
			"\n### Accepted Agent Suggestion\n\n```text\nCreated README.md\n```\n",
		string(reqs))
}
