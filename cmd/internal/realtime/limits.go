package realtime

import "time"

const (
	// Max bytes per inbound frame. Clients only send small control envelopes.
	maxFrameBytes = 4 << 10
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound rate limit (events per window).
	rateLimitEvents = 20
	rateLimitWindow = 10 * time.Second
)
