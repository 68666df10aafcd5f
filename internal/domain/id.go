// Package domain defines the core entities of the escrow position system:
// positions and their lifecycle, institution policies, ledger and audit
// events, the on-chain retry queue, and the store contracts that back them.
package domain

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a prefixed opaque identifier, e.g. "pos_5f3a...".
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
