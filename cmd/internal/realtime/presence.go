package realtime

import (
	"context"
	"time"

	v1 "github.com/Marco-Polo-coding/TFG-Jose-Abreu/shared/contracts/directchat/v1"
)

// RunPresenceSweeper expires stale typing entries until ctx is done.
func (g *Gateway) RunPresenceSweeper(ctx context.Context) {
	t := time.NewTicker(g.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			g.sweepOnce(g.now())
		}
	}
}

// sweepOnce announces typing:false for every entry older than TypingTimeout
// and returns how many were removed.
func (g *Gateway) sweepOnce(now time.Time) int {
	changes := g.hub.ExpireTyping(now, g.cfg.TypingTimeout)
	for _, ch := range changes {
		g.metrics.presenceExpired.Inc()
		g.log.Debug("presence.expired", "conversation_id", ch.ConversationID, "user_id", ch.UserID)
		g.deliver(ch.Recipients, v1.EventTyping, encodeFrame(v1.TypingFrame{
			Event:    v1.EventTyping,
			User:     ch.UserID,
			UserName: ch.DisplayName,
			Typing:   false,
		}))
	}
	return len(changes)
}
