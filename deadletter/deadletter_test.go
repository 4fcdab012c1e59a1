package deadletter

import (
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriter_RequiresDir(t *testing.T) {
	_, err := NewWriter(afero.NewMemMapFs(), "")
	assert.Error(t, err)
}

func TestWriter_WriteAndReadAll(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewWriter(fs, "/var/lib/tailpub/dead")
	require.NoError(t, err)

	require.NoError(t, w.Write(Entry{File: "/var/log/app.log", Start: 0, End: 12, Channel: "events.", Line: "alice,login", Error: "invalid channel"}))
	require.NoError(t, w.Write(Entry{File: "/var/log/app.log", Start: 12, End: 23, Channel: "events.x", Line: "bob,x", Error: "retries exhausted"}))

	path := w.PathFor("/var/log/app.log")
	assert.True(t, strings.HasSuffix(path, Suffix))
	assert.True(t, strings.HasPrefix(path, "/var/lib/tailpub/dead/app.log-"))

	entries, err := ReadAll(fs, path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "alice,login", entries[0].Line)
	assert.Equal(t, int64(12), entries[0].End)
	assert.Equal(t, "events.", entries[0].Channel)
	assert.False(t, entries[0].Time.IsZero())
	assert.Equal(t, "retries exhausted", entries[1].Error)
	assert.Equal(t, int64(12), entries[1].Start)
}

func TestWriter_KeepsRawBytes(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewWriter(fs, "/dead")
	require.NoError(t, err)

	raw := []byte{0xff, 'a', 0xc3, ',', 'x'}
	require.NoError(t, w.Write(Entry{File: "/var/log/app.log", Line: string(raw), Raw: raw}))

	entries, err := ReadAll(fs, w.PathFor("/var/log/app.log"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, raw, entries[0].Raw)
}

func TestWriter_SeparateFilesPerSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewWriter(fs, "/dead")
	require.NoError(t, err)

	require.NoError(t, w.Write(Entry{File: "/a/app.log", Line: "a"}))
	require.NoError(t, w.Write(Entry{File: "/b/app.log", Line: "b"}))

	a, err := ReadAll(fs, w.PathFor("/a/app.log"))
	require.NoError(t, err)
	b, err := ReadAll(fs, w.PathFor("/b/app.log"))
	require.NoError(t, err)

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, "a", a[0].Line)
	assert.Equal(t, "b", b[0].Line)
}

func TestWriter_Concurrent(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewWriter(fs, "/dead")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Write(Entry{File: "/var/log/app.log", Line: "x"}))
		}()
	}
	wg.Wait()

	entries, err := ReadAll(fs, w.PathFor("/var/log/app.log"))
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}
