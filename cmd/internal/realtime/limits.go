package realtime

import "time"

const (
	// Max bytes per websocket frame read.
	maxFrameBytes = 16 << 10 // 16 KiB

	// A connection must bind itself with hello within this window.
	helloTimeout = 10 * time.Second
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound rate limit (events per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
