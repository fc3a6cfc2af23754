package realtime

import (
	"time"

	"tearoom/cmd/identity/ids"
)

// NewConnectionID returns a ULID identifying one websocket connection in logs and hub maps.
func NewConnectionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
