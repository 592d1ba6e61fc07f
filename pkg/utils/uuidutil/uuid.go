package uuidutil

import (
	"encoding/hex"

	"github.com/google/uuid"
)

func UUID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// SessionID is a short identifier used to correlate the log lines of one session.
func SessionID(prefix string) string {
	return prefix + "-" + UUID()[:8]
}
