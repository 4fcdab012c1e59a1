package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maxpert/tailpub/cfg"
	"github.com/maxpert/tailpub/deadletter"
	"github.com/maxpert/tailpub/offset"
	"github.com/maxpert/tailpub/publisher/sink"
	_ "github.com/maxpert/tailpub/publisher/transformer"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const appLog = "/var/log/app.log"

func testConfig() *cfg.Configuration {
	c := cfg.Default()
	c.Broker.ConnectTimeoutMS = 100
	c.Publish.RetryInitialMS = 1
	c.Publish.RetryMaxMS = 5
	c.Publish.MaxRetries = 2
	c.Watch.PollIntervalMS = 10
	c.Tail.ShutdownGraceMS = 1000
	c.Files = []cfg.FileSpec{{
		Path:        appLog,
		Delimiter:   ",",
		Fields:      []string{"user", "action"},
		Topic:       "events.{{action}}",
		HeaderKey:   "src",
		HeaderIndex: 0,
	}}
	return c
}

func appendLine(t *testing.T, fs afero.Fs, path, data string) {
	t.Helper()
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestSupervisorPublishesAndStops(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/var/log", 0755))
	appendLine(t, fs, appLog, "alice,login\n")

	mock := &sink.MockSink{}
	s := New(testConfig(), Options{Fs: fs, Sink: mock})
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(mock.Published()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msg := mock.Published()[0]
	assert.Equal(t, "events.login", msg.Topic)
	assert.Equal(t, map[string]string{"src": "alice"}, msg.Headers)
	assert.Equal(t, appLog, msg.Source)

	appendLine(t, fs, appLog, "bob,click\n")
	require.Eventually(t, func() bool {
		st := s.Statuses()
		return len(st) == 1 && st[0].Committed == 22
	}, 2*time.Second, 10*time.Millisecond)

	stats := s.FileStats()
	require.Len(t, stats, 1)
	assert.Equal(t, appLog, stats[0].Path)
	assert.Equal(t, int64(22), stats[0].Size)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, mock.IsClosed())
	assert.Equal(t, int64(0), s.Pending())

	raw, err := afero.ReadFile(fs, appLog+offset.SidecarSuffix)
	require.NoError(t, err)
	assert.Equal(t, "22", string(raw))
}

func TestSupervisorBrokerUnreachable(t *testing.T) {
	mock := &sink.MockSink{PingErr: errors.New("connection refused")}
	s := New(testConfig(), Options{Fs: afero.NewMemMapFs(), Sink: mock})

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrBrokerUnreachable)
	assert.True(t, mock.IsClosed())
	assert.NoError(t, s.Stop(context.Background()))
}

func TestSupervisorUnknownFormat(t *testing.T) {
	c := testConfig()
	c.Files[0].Format = "avro"
	mock := &sink.MockSink{}

	s := New(c, Options{Fs: afero.NewMemMapFs(), Sink: mock})
	err := s.Start(context.Background())

	assert.Error(t, err)
	assert.True(t, mock.IsClosed())
}

func TestSupervisorWaitsForMissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	mock := &sink.MockSink{}

	s := New(testConfig(), Options{Fs: fs, Sink: mock})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	require.NoError(t, fs.MkdirAll("/var/log", 0755))
	appendLine(t, fs, appLog, "alice,login\n")

	require.Eventually(t, func() bool {
		return len(mock.Published()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSupervisorDeadLetters(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/var/log", 0755))
	appendLine(t, fs, appLog, "charlie\nalice,login\n")

	c := testConfig()
	c.Tail.DeadLetterDir = "/var/lib/tailpub/dead"
	mock := &sink.MockSink{}

	s := New(c, Options{Fs: fs, Sink: mock})
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		st := s.Statuses()
		return len(st) == 1 && st[0].Committed == 20
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	w, err := deadletter.NewWriter(fs, c.Tail.DeadLetterDir)
	require.NoError(t, err)
	entries, err := deadletter.ReadAll(fs, w.PathFor(appLog))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "charlie", entries[0].Line)
	assert.Len(t, mock.Published(), 1)
}

func TestExpandPlainPath(t *testing.T) {
	paths, err := Expand(cfg.FileSpec{Path: "/var/log/missing.log"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/var/log/missing.log"}, paths)

	paths, err = Expand(cfg.FileSpec{Path: "/var/log/missing.log", Exclude: []string{"*.log"}})
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestExpandGlob(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.log", "b.log", "old.log.gz", "nested/c.log"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("x\n"), 0644))
	}

	paths, err := Expand(cfg.FileSpec{Path: filepath.Join(dir, "**", "*"), Exclude: []string{"*.gz"}})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.log"),
		filepath.Join(dir, "b.log"),
		filepath.Join(dir, "nested", "c.log"),
	}, paths)

	paths, err = Expand(cfg.FileSpec{Path: filepath.Join(dir, "*.log")})
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestExpandInvalidExclude(t *testing.T) {
	_, err := Expand(cfg.FileSpec{Path: "/var/log/app.log", Exclude: []string{"["}})
	assert.Error(t, err)
}
