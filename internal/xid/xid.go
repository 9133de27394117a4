package xid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed random identifier, e.g. "op-5b0f...". An empty
// prefix yields a bare UUID.
func New(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// Parse checks that s was produced by New with the given prefix and returns its UUID.
func Parse(prefix string, s string) (uuid.UUID, error) {
	raw := s
	if prefix != "" {
		var ok bool
		raw, ok = strings.CutPrefix(s, prefix+"-")
		if !ok {
			return uuid.Nil, fmt.Errorf("id %q lacks prefix %q", s, prefix)
		}
	}
	return uuid.Parse(raw)
}
