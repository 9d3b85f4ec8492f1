package notifications

import (
	"context"
	"errors"
	"sync/atomic"

	"tally/internal/observability"

	"github.com/puzpuzpuz/xsync/v3"
)

// Max total live channels per process.
const defaultMaxChannels = 10000

// ErrChannelLimit is returned when the process holds its maximum number of
// live channels.
var ErrChannelLimit = errors.New("server connection limit reached")

// Channel is a live duplex connection to one identity.
type Channel interface {
	// Send queues message without blocking and reports whether it was queued.
	Send(message []byte) bool
	Close()
}

// PresenceRegistry maps each online identity to its single live channel.
// A new registration replaces the previous one; a close only removes the
// channel if it is still the registered one.
type PresenceRegistry struct {
	channels    *xsync.MapOf[string, Channel]
	count       atomic.Int64
	maxChannels int64
	log         *observability.WSLogger
}

// NewPresenceRegistry creates an empty registry. maxChannels <= 0 uses the
// default limit.
func NewPresenceRegistry(maxChannels int) *PresenceRegistry {
	if maxChannels <= 0 {
		maxChannels = defaultMaxChannels
	}
	return &PresenceRegistry{
		channels:    xsync.NewMapOf[string, Channel](),
		maxChannels: int64(maxChannels),
		log:         observability.NewWSLogger("presence"),
	}
}

// Register makes ch the live channel of identity and returns the channel it
// replaced, if any.
func (p *PresenceRegistry) Register(ctx context.Context, identity string, ch Channel) (Channel, error) {
	if _, ok := p.channels.Load(identity); !ok && p.count.Load() >= p.maxChannels {
		return nil, ErrChannelLimit
	}

	var previous Channel
	var replaced bool
	p.channels.Compute(identity, func(old Channel, loaded bool) (Channel, bool) {
		previous, replaced = old, loaded
		return ch, false
	})
	if !replaced {
		p.count.Add(1)
		observability.WebSocketConnections.Inc()
	}

	p.log.LogConnect(ctx, identity, replaced)
	return previous, nil
}

// Unregister removes ch for identity unless a newer channel has replaced it.
// It reports whether ch was removed.
func (p *PresenceRegistry) Unregister(ctx context.Context, identity string, ch Channel) bool {
	removed := false
	p.channels.Compute(identity, func(current Channel, loaded bool) (Channel, bool) {
		if !loaded || current != ch {
			return current, !loaded
		}
		removed = true
		return nil, true
	})
	if !removed {
		return false
	}

	p.count.Add(-1)
	observability.WebSocketConnections.Dec()
	p.log.LogDisconnect(ctx, identity, "closed")
	return true
}

// Lookup returns the live channel of identity.
func (p *PresenceRegistry) Lookup(identity string) (Channel, bool) {
	return p.channels.Load(identity)
}

// Online reports whether identity holds a live channel.
func (p *PresenceRegistry) Online(identity string) bool {
	_, ok := p.channels.Load(identity)
	return ok
}

// Count returns the number of live channels.
func (p *PresenceRegistry) Count() int {
	return int(p.count.Load())
}

// Shutdown closes every live channel and empties the registry.
func (p *PresenceRegistry) Shutdown(ctx context.Context) {
	closed := 0
	p.channels.Range(func(identity string, ch Channel) bool {
		if p.Unregister(ctx, identity, ch) {
			ch.Close()
			closed++
		}
		return true
	})
	p.log.LogLifecycle(ctx, "shutdown", map[string]interface{}{"closed": closed})
}
