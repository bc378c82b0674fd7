package filestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteCreatesParentsAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "state.json")

	require.NoError(t, AtomicWrite(target, []byte(`{"ok":true}`), 0o600))
	require.NoError(t, AtomicWrite(target, []byte(`{"ok":false}`), 0o600))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":false}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAppendFileCreatesAndAppends(t *testing.T) {
	target := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, AppendFile(target, "one\n", 0o644))
	require.NoError(t, AppendFile(target, "two\n", 0o644))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestReadFileOrEmpty(t *testing.T) {
	data, err := ReadFileOrEmpty(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	t.Setenv("RELAY_TEST_DIR", "/srv/relay")

	assert.Equal(t, filepath.Join(home, "projects"), ExpandPath("~/projects", ""))
	assert.Equal(t, home, ExpandPath("~", ""))
	assert.Equal(t, "/srv/relay/state.json", ExpandPath("$RELAY_TEST_DIR/state.json", ""))
	assert.Equal(t, "/default", ExpandPath("  ", "/default"))
	assert.Empty(t, ExpandPath("", ""))
}

func TestMarshalJSONIndentEndsWithNewline(t *testing.T) {
	data, err := MarshalJSONIndent(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}\n", string(data))
}
