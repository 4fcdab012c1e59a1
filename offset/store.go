// Package offset persists the committed byte offset of each tailed file.
//
// A committed offset is the position just past the last line whose message
// the broker acknowledged. On restart, reading resumes from it, so lines after
// it may be delivered again but lines before it never are.
package offset

import (
	"errors"
	"fmt"

	"github.com/maxpert/tailpub/cfg"
	"github.com/spf13/afero"
)

// ErrNegativeOffset is returned when committing an offset below zero
var ErrNegativeOffset = errors.New("offset must be >= 0")

// Store loads and commits per-file offsets
type Store interface {
	// Load returns the committed offset for path; missing or corrupt state reads as 0
	Load(path string) int64
	// Commit durably records offset for path
	Commit(path string, offset int64) error
	// Close releases the backing storage
	Close() error
}

// Open creates the store selected by config
func Open(config cfg.OffsetsConfiguration, fs afero.Fs) (Store, error) {
	switch config.Backend {
	case cfg.OffsetsSidecar, "":
		return NewSidecarStore(fs, config.Dir), nil
	case cfg.OffsetsPebble:
		return NewPebbleStore(config.Dir)
	default:
		return nil, fmt.Errorf("unknown offsets backend: %s", config.Backend)
	}
}
