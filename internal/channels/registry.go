package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/ironclaw/internal/bus"
)

// Registry wires adapters to the gateway's ingress/egress and throttles
// outbound sends per channel.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
	limiters map[string]*rate.Limiter
}

func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]Channel),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Register adds a channel. rpm bounds outbound sends per minute; zero
// means unthrottled.
func (r *Registry) Register(ch Channel, rpm int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Name()] = ch
	if rpm > 0 {
		r.limiters[ch.Name()] = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
	}
}

// Get returns a channel by name.
func (r *Registry) Get(name string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Names returns the registered channel names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	return names
}

// StartAll starts every channel and registers the shared inbound handler.
func (r *Registry) StartAll(ctx context.Context, handler bus.MessageHandler) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, ch := range r.channels {
		ch.OnMessage(handler)
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("start channel %s: %w", name, err)
		}
		slog.Info("channel started", "channel", name)
	}
	return nil
}

// StopAll stops every channel, logging failures instead of aborting.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, ch := range r.channels {
		if err := ch.Stop(ctx); err != nil {
			slog.Warn("channel stop failed", "channel", name, "error", err)
		}
	}
}

// Send delivers an outbound message through the named channel, waiting on
// its rate limiter first.
func (r *Registry) Send(ctx context.Context, msg bus.OutgoingMessage) error {
	r.mu.RLock()
	ch, ok := r.channels[msg.Channel]
	limiter := r.limiters[msg.Channel]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown channel: %s", msg.Channel)
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait for %s: %w", msg.Channel, err)
		}
	}
	return ch.Send(ctx, msg)
}

// SendTyping shows a typing indicator when the transport supports one.
func (r *Registry) SendTyping(ctx context.Context, channel, to string) {
	ch, ok := r.Get(channel)
	if !ok {
		return
	}
	if tc, ok := ch.(TypingChannel); ok {
		if err := tc.SendTyping(ctx, to); err != nil {
			slog.Debug("typing indicator failed", "channel", channel, "error", err)
		}
	}
}

// Streamer returns the streaming surface of a channel, if it has one.
func (r *Registry) Streamer(channel string) (Streamer, bool) {
	ch, ok := r.Get(channel)
	if !ok {
		return nil, false
	}
	s, ok := ch.(Streamer)
	return s, ok
}
