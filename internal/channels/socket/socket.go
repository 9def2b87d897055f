// Package socket exposes a local websocket endpoint for interactive
// terminal clients. Unlike chat transports it streams chunks and tool
// activity as they happen.
package socket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/ironclaw/internal/bus"
	"github.com/nextlevelbuilder/ironclaw/internal/channels"
	"github.com/nextlevelbuilder/ironclaw/internal/config"
	"github.com/nextlevelbuilder/ironclaw/internal/sessions"
)

// frame is the wire format in both directions.
type frame struct {
	Type   string `json:"type"` // "message", "chunk", "tool_call", "tool_result", "typing"
	Text   string `json:"text,omitempty"`
	Tool   string `json:"tool,omitempty"`
	Result string `json:"result,omitempty"`
}

// Channel serves websocket clients on a local port.
type Channel struct {
	*channels.BaseChannel
	cfg    config.SocketConfig
	server *http.Server

	mu    sync.RWMutex
	conns map[string]*websocket.Conn // peer id → conn
}

func New(cfg config.SocketConfig) *Channel {
	return &Channel{
		BaseChannel: channels.NewBaseChannel("socket", nil),
		cfg:         cfg,
		conns:       make(map[string]*websocket.Conn),
	}
}

// Start listens on the configured host/port and accepts connections.
func (c *Channel) Start(ctx context.Context) error {
	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c.accept(ctx, w, r)
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("socket channel listen on %s: %w", addr, err)
	}

	c.server = &http.Server{Handler: mux}
	go func() {
		if err := c.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("socket channel server failed", "error", err)
		}
	}()

	c.SetRunning(true)
	slog.Info("socket channel listening", "addr", addr)
	return nil
}

// Stop shuts the server down and closes live connections.
func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)

	c.mu.Lock()
	for id, conn := range c.conns {
		conn.Close(websocket.StatusGoingAway, "gateway shutting down")
		delete(c.conns, id)
	}
	c.mu.Unlock()

	if c.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return c.server.Shutdown(shutdownCtx)
	}
	return nil
}

func (c *Channel) accept(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("socket accept failed", "error", err)
		return
	}

	peerID := uuid.NewString()[:8]
	c.mu.Lock()
	c.conns[peerID] = conn
	c.mu.Unlock()
	slog.Info("socket client connected", "peer", peerID)

	defer func() {
		c.mu.Lock()
		delete(c.conns, peerID)
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		slog.Info("socket client disconnected", "peer", peerID)
	}()

	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return
		}
		if f.Type != "message" || f.Text == "" {
			continue
		}
		err := c.Handle(bus.IncomingMessage{
			Channel:    "socket",
			From:       peerID,
			To:         peerID,
			Text:       f.Text,
			SessionKey: sessions.BuildChannelKey("socket", peerID),
			PeerKind:   "direct",
		})
		if err != nil {
			slog.Error("socket: inbound handling failed", "peer", peerID, "error", err)
		}
	}
}

func (c *Channel) writeTo(to string, f frame) {
	c.mu.RLock()
	conn, ok := c.conns[to]
	c.mu.RUnlock()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, f); err != nil {
		slog.Debug("socket write failed", "peer", to, "type", f.Type, "error", err)
	}
}

// Send delivers the final reply frame.
func (c *Channel) Send(_ context.Context, msg bus.OutgoingMessage) error {
	c.mu.RLock()
	_, ok := c.conns[msg.To]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("socket: no connected client %q", msg.To)
	}
	c.writeTo(msg.To, frame{Type: "message", Text: msg.Text})
	return nil
}

// SendTyping emits a typing frame.
func (c *Channel) SendTyping(_ context.Context, to string) error {
	c.writeTo(to, frame{Type: "typing"})
	return nil
}

// SendChunk streams a text fragment.
func (c *Channel) SendChunk(to, text string) {
	c.writeTo(to, frame{Type: "chunk", Text: text})
}

// SendToolCall reports a tool invocation.
func (c *Channel) SendToolCall(to, name string) {
	c.writeTo(to, frame{Type: "tool_call", Tool: name})
}

// SendToolResult reports a tool result, truncated for display.
func (c *Channel) SendToolResult(to, name, result string) {
	c.writeTo(to, frame{Type: "tool_result", Tool: name, Result: channels.Truncate(result, 400)})
}
