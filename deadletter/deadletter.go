// Package deadletter records lines that could not be published, so they can be
// inspected and replayed after the broker problem is fixed.
//
// Each tailed file gets its own gzip-compressed JSONL file. Every entry is
// written as a separate gzip member and synced before Write returns; a
// standard gzip reader sees the members as one stream.
package deadletter

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/maxpert/tailpub/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Suffix names dead-letter files
const Suffix = ".deadletter.jsonl.gz"

// Entry is one undeliverable line
type Entry struct {
	Time    time.Time `json:"time"`
	File    string    `json:"file"`
	Start   int64     `json:"start"` // Byte offset of the line
	End     int64     `json:"end"`   // Byte offset just past the line terminator
	Channel string    `json:"channel"`
	Line    string    `json:"line"`
	Raw     []byte    `json:"raw"` // Exact line bytes, base64 in JSON; Line is lossy for invalid UTF-8
	Error   string    `json:"error"`
}

// Writer appends entries to per-file dead-letter files under a directory
type Writer struct {
	fs  afero.Fs
	dir string
	mu  sync.Mutex
}

// NewWriter creates a writer rooted at dir
func NewWriter(fs afero.Fs, dir string) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("dead-letter directory is required")
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dead-letter directory %s: %w", dir, err)
	}
	return &Writer{fs: fs, dir: dir}, nil
}

// PathFor returns the dead-letter file for a tailed file
func (w *Writer) PathFor(file string) string {
	abs, err := filepath.Abs(file)
	if err != nil {
		abs = file
	}
	return filepath.Join(w.dir, fmt.Sprintf("%s-%016x%s", filepath.Base(file), xxhash.Sum64String(abs), Suffix))
}

// Write durably appends e. A nil error means the entry is on disk.
func (w *Writer) Write(e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}
	payload = append(payload, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	path := w.PathFor(e.File)
	f, err := w.fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if _, err := gz.Write(payload); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}

	telemetry.DeadLetteredTotal.With(e.File).Inc()
	log.Warn().
		Str("file", e.File).
		Int64("start", e.Start).
		Int64("end", e.End).
		Str("channel", e.Channel).
		Str("dead_letter", path).
		Msg("Line written to dead-letter file")

	return nil
}

// ReadAll decodes every entry of a dead-letter file
func ReadAll(fs afero.Fs, path string) ([]Entry, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
	}
	defer gz.Close()

	var entries []Entry
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), 64<<20)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return entries, fmt.Errorf("corrupt dead letter in %s: %w", path, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return entries, nil
}
