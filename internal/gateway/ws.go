// ABOUTME: WebSocket endpoint pushing broker envelopes to connected clients
// ABOUTME: One session per connection with read/write pumps and presence tracking

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumora/deskwire/internal/auth"
	"github.com/lumora/deskwire/internal/channel"
	"github.com/lumora/deskwire/internal/event"
	"github.com/lumora/deskwire/internal/presence"
)

const (
	// writeWait is the deadline for a single write to the peer.
	writeWait = 10 * time.Second
	// pongWait is how long to wait for a pong before dropping the connection.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize limits inbound control messages.
	maxMessageSize = 4096

	sessionBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin enforcement happens at the reverse proxy
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is a control frame sent by the client over the socket.
type clientMessage struct {
	Type    string `json:"type"` // "subscribe" | "unsubscribe" | "signout"
	Channel string `json:"channel,omitempty"`
}

// wsSession is one authenticated WebSocket connection. Envelopes from all of
// the session's subscriptions are merged into a single send channel consumed
// by the write pump.
type wsSession struct {
	gw       *Gateway
	identity auth.Identity
	conn     *websocket.Conn
	send     chan *event.Envelope
	ctx      context.Context
	cancel   context.CancelFunc

	mu   sync.Mutex
	subs map[string]string // channelName -> subID
}

// handleWebSocket authenticates the client, upgrades the connection, and
// subscribes it to its own channels: agents get their queue channel, users get
// their open conversation's channel.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "missing token")
		return
	}
	identity, err := g.verifier.Verify(token)
	if err != nil {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	// Presence moves to connecting before the transport opens; a reconnect
	// during the disconnected state lands back here harmlessly.
	g.presence.Initialize(presence.Identity{ID: identity.ID, Agent: identity.IsAdmin()})

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &wsSession{
		gw:       g,
		identity: identity,
		conn:     conn,
		send:     make(chan *event.Envelope, sessionBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[string]string),
	}

	g.presence.MarkConnected(identity.ID)
	g.logger.Info("websocket connected", "user_id", identity.ID, "admin", identity.IsAdmin())

	if identity.IsAdmin() {
		s.subscribe(channel.Agent(identity.ID))
	} else if conv, err := g.store.GetOpenConversationByUser(ctx, identity.ID); err == nil {
		s.subscribe(channel.Conversation(conv.ID))
	}

	go s.writePump()
	go s.readPump()
}

// subscribe attaches the session to a broker channel. Duplicate subscriptions
// are no-ops.
func (s *wsSession) subscribe(channelName string) {
	s.mu.Lock()
	if _, exists := s.subs[channelName]; exists {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ch, subID, err := s.gw.broker.Subscribe(s.ctx, channelName)
	if err != nil {
		s.gw.logger.Warn("subscribe failed", "error", err, "channel", channelName)
		return
	}

	s.mu.Lock()
	s.subs[channelName] = subID
	s.mu.Unlock()

	go func() {
		for env := range ch {
			select {
			case s.send <- env:
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// unsubscribe detaches the session from a broker channel.
func (s *wsSession) unsubscribe(channelName string) {
	s.mu.Lock()
	subID, exists := s.subs[channelName]
	if exists {
		delete(s.subs, channelName)
	}
	s.mu.Unlock()

	if exists {
		s.gw.broker.Unsubscribe(channelName, subID)
	}
}

// allowedChannel checks whether this session may attach to a channel: agents
// reach any conversation and their own queue channel, users only their own
// conversation.
func (s *wsSession) allowedChannel(channelName string) bool {
	kind, id := channel.Kind(channelName)
	switch kind {
	case channel.KindAgent:
		return s.identity.IsAdmin() && id == s.identity.ID
	case channel.KindConversation:
		if s.identity.IsAdmin() {
			return true
		}
		detail, err := s.gw.store.GetConversation(s.ctx, id)
		if err != nil {
			return false
		}
		return detail.Conversation.UserID == s.identity.ID
	default:
		return false
	}
}

// readPump consumes control frames until the connection drops, then tears the
// session down.
func (s *wsSession) readPump() {
	defer s.close(false)

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.gw.logger.Warn("websocket read error", "error", err, "user_id", s.identity.ID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.gw.logger.Debug("dropping malformed client message", "user_id", s.identity.ID)
			continue
		}

		switch msg.Type {
		case "subscribe":
			if s.allowedChannel(msg.Channel) {
				s.subscribe(msg.Channel)
			} else {
				s.gw.logger.Warn("subscribe denied",
					"user_id", s.identity.ID,
					"channel", msg.Channel)
			}
		case "unsubscribe":
			s.unsubscribe(msg.Channel)
		case "signout":
			s.close(true)
			return
		}
	}
}

// writePump forwards envelopes to the peer and keeps the connection alive
// with pings.
func (s *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(env); err != nil {
				s.gw.logger.Debug("websocket write failed", "error", err, "user_id", s.identity.ID)
				s.cancel()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.cancel()
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// close tears the session down. A plain disconnect keeps presence in the
// disconnected state so the client can resume; an explicit signout clears the
// session entirely.
func (s *wsSession) close(signout bool) {
	s.cancel()
	_ = s.conn.Close()

	if signout {
		s.gw.presence.Cleanup(s.identity.ID)
	} else {
		s.gw.presence.MarkDisconnected(s.identity.ID)
	}
	s.gw.logger.Info("websocket closed", "user_id", s.identity.ID, "signout", signout)
}
