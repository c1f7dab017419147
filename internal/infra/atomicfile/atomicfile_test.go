package atomicfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestTempName(t *testing.T) {
	require.Equal(t, filepath.Join("/a/b", ".2024-01-02.json.temp"), TempName("/a/b/2024-01-02.json"))
}

func TestWriteFileCreatesTarget(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/data", 0o755))

	require.NoError(t, WriteFile(fs, "/data/test.txt", []byte("hello world")))

	content, err := afero.ReadFile(fs, "/data/test.txt")
	require.NoError(t, err)
	require.Equal(t, "hello world", string(content))

	exists, err := afero.Exists(fs, TempName("/data/test.txt"))
	require.NoError(t, err)
	require.False(t, exists, "temp file was not cleaned up")
}

func TestWriteFileOverwrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/test.json", []byte(`"first"`), 0o644))

	require.NoError(t, WriteJSON(fs, "/data/test.json", "second"))

	content, err := afero.ReadFile(fs, "/data/test.json")
	require.NoError(t, err)
	require.Equal(t, `"second"`, string(content))
}

func TestWriteJSONKeepsHTML(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, WriteJSON(fs, "/x.json", map[string]string{"text": "<a&b>"}))

	content, err := afero.ReadFile(fs, "/x.json")
	require.NoError(t, err)
	require.Equal(t, `{"text":"<a&b>"}`, string(content))
}

func TestAbortLeavesTargetUntouched(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/day.json", []byte("old"), 0o644))

	f, err := Create(fs, "/data/day.json")
	require.NoError(t, err)
	_, err = f.Write([]byte("new partial"))
	require.NoError(t, err)
	require.Equal(t, TempName("/data/day.json"), f.Name())

	f.Abort()
	require.True(t, f.Aborted())
	require.NoError(t, f.AbortErr())
	require.NoError(t, f.Close(), "close after abort is a no-op")

	content, err := afero.ReadFile(fs, "/data/day.json")
	require.NoError(t, err)
	require.Equal(t, "old", string(content))

	exists, err := afero.Exists(fs, TempName("/data/day.json"))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestWriteCallbackErrorAborts(t *testing.T) {
	fs := afero.NewMemMapFs()
	boom := errors.New("boom")

	err := Write(fs, "/data/new.bin", func(w io.Writer) error {
		_, _ = w.Write([]byte("half"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	exists, err := afero.Exists(fs, "/data/new.bin")
	require.NoError(t, err)
	require.False(t, exists, "target must stay absent after a failed write")
}

func TestInterruptedWriteIsInvisible(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/day.json", []byte("old"), 0o644))

	// Процесс убит между записью temp и rename: Close так и не вызван.
	f, err := Create(fs, "/data/day.json")
	require.NoError(t, err)
	_, err = f.Write([]byte("never committed"))
	require.NoError(t, err)

	content, err := afero.ReadFile(fs, "/data/day.json")
	require.NoError(t, err)
	require.Equal(t, "old", string(content))

	// Следующий запуск перезаписывает брошенный temp и фиксирует новое содержимое.
	require.NoError(t, WriteFile(fs, "/data/day.json", []byte("new")))
	content, err = afero.ReadFile(fs, "/data/day.json")
	require.NoError(t, err)
	require.Equal(t, "new", string(content))
}

func TestCloseFailsWhenDirectoryIsGone(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()
	target := filepath.Join(dir, "sub", "file.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))

	f, err := Create(fs, target)
	require.NoError(t, err)
	_, err = f.Write([]byte("data"))
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Dir(target)))

	require.Error(t, f.Close())
	require.True(t, f.Aborted())
	_, statErr := os.Stat(target)
	require.True(t, os.IsNotExist(statErr))
}
