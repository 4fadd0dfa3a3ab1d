package ws

import (
	"context"
	"errors"
	"time"
)

// ErrPeerUnresponsive is reported when nothing, not even a pong, arrived
// within two keepalive intervals.
var ErrPeerUnresponsive = errors.New("websocket: peer unresponsive")

// StartKeepalive pings the peer every interval. When the connection has been
// silent for longer than twice the interval it is closed, which unblocks the
// reader, and onDead (if set) receives ErrPeerUnresponsive.
func (c *Conn) StartKeepalive(ctx context.Context, interval time.Duration, onDead func(error)) context.CancelFunc {
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if c.Idle() > 2*interval {
				_ = c.Close()
				if onDead != nil {
					onDead(ErrPeerUnresponsive)
				}
				return
			}
			if err := c.WriteFrame(OpPing, nil); err != nil {
				return
			}
		}
	}()
	return cancel
}
