package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecuteCommand(t *testing.T) {
	out, err := ExecuteCommand("echo", "hello")
	require.NoError(t, err)
	require.Contains(t, out, "hello")
}

func TestExecuteCommandFailureIncludesStderr(t *testing.T) {
	_, err := ExecuteCommand("sh", "-c", "echo boom >&2; exit 1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestReadFileByLinesAndCreateDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, CreateDirectory(sub))

	exists, err := CheckIfFileExists(sub)
	require.NoError(t, err)
	require.True(t, exists)

	f := filepath.Join(sub, "cloud-version")
	require.NoError(t, os.WriteFile(f, []byte("eth0_vips_number: 1\neth1_vips_number: 2\n"), 0o644))

	lines, err := ReadFileByLines(f)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, "eth0_vips_number: 1\n", lines[0])
}

func TestReplaceFileAtomic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0o644))
	require.NoError(t, ReplaceFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "content", string(data))
}
