package router

import (
	"errors"
	"fmt"
	"strings"
)

// MaxChannelLength is the longest channel name accepted by every supported broker
const MaxChannelLength = 249

// ErrInvalidChannel is returned when a rendered channel name cannot be used
var ErrInvalidChannel = errors.New("invalid channel name")

// ValidateChannel checks a rendered name against the naming rules shared by
// Kafka topics and NATS subjects: 1-249 bytes of [A-Za-z0-9._-], with no empty
// dot-separated segment.
func ValidateChannel(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidChannel)
	}
	if len(name) > MaxChannelLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidChannel, len(name), MaxChannelLength)
	}

	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidChannel, name, c)
		}
	}

	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q has an empty segment", ErrInvalidChannel, name)
	}

	return nil
}
