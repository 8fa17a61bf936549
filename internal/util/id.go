package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random identifier such as "prj_3f2a...". Project, version
// and session ids all come from here so they stay URL and key safe.
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return raw
	}
	return prefix + "_" + raw
}
