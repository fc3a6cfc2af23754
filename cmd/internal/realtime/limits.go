package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit). Clients only send
	// small join/leave envelopes.
	maxFrameBytes = 16 << 10 // 16 KiB
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (inbound events per window).
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)
