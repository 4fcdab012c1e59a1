package offset

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// SidecarSuffix is appended to the log path to name its offset file
const SidecarSuffix = ".position"

// SidecarStore keeps each offset as decimal text in a small file. Without a
// directory the file sits next to the log as <path>.position.
type SidecarStore struct {
	fs  afero.Fs
	dir string
}

// NewSidecarStore creates a sidecar store on fs. dir may be empty.
func NewSidecarStore(fs afero.Fs, dir string) *SidecarStore {
	return &SidecarStore{fs: fs, dir: dir}
}

// PathFor returns the sidecar file used for a log path
func (s *SidecarStore) PathFor(path string) string {
	if s.dir == "" {
		return path + SidecarSuffix
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	// Hash keeps same-named logs from different directories apart
	name := fmt.Sprintf("%s-%016x%s", filepath.Base(path), xxhash.Sum64String(abs), SidecarSuffix)
	return filepath.Join(s.dir, name)
}

// Load reads the committed offset, treating any unreadable content as 0
func (s *SidecarStore) Load(path string) int64 {
	sidecar := s.PathFor(path)

	raw, err := afero.ReadFile(s.fs, sidecar)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", path).Str("sidecar", sidecar).Msg("Unreadable offset, starting from 0")
		}
		return 0
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return 0
	}

	offset, err := strconv.ParseInt(text, 10, 64)
	if err != nil || offset < 0 {
		log.Warn().
			Str("file", path).
			Str("sidecar", sidecar).
			Str("content", truncate(text, 32)).
			Msg("Corrupt offset, starting from 0")
		return 0
	}

	return offset
}

// Commit writes the offset to a temporary file, syncs it, and renames it over
// the sidecar so a crash leaves either the old or the new value
func (s *SidecarStore) Commit(path string, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("commit %s at %d: %w", path, offset, ErrNegativeOffset)
	}

	sidecar := s.PathFor(path)
	tmp := sidecar + ".tmp"

	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	if _, err := f.WriteString(strconv.FormatInt(offset, 10)); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}

	if err := s.fs.Rename(tmp, sidecar); err != nil {
		return fmt.Errorf("failed to replace %s: %w", sidecar, err)
	}

	return nil
}

// Close is a no-op; sidecar files are closed after every commit
func (s *SidecarStore) Close() error {
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
