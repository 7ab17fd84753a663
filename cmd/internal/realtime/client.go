package realtime

import (
	"sync"

	v1 "ssogate/shared/contracts/logstream/v1"
)

// Client represents one connected log viewer.
//
// Send is never closed by the server, so a late forwarder cannot panic on
// it; done signals goroutines to stop. Close is idempotent.
type Client struct {
	ConnID string
	UserID string
	Send   chan v1.Envelope

	dropped   uint64
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(userID, connID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = wsDefaultSendQueueSize
	}
	return &Client{
		ConnID: connID,
		UserID: userID,
		Send:   make(chan v1.Envelope, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) markDropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped++
	return c.dropped
}

// Dropped reports how many entries were skipped because the queue was full.
func (c *Client) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
