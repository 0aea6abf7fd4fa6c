package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/atulpatil/drawbridge/internal/auth"
	"github.com/atulpatil/drawbridge/internal/protocol"
	"github.com/atulpatil/drawbridge/internal/registry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Config bounds per-connection resource usage.
type Config struct {
	MaxMessageBytes   int64
	MessagesPerSecond float64
	MessageBurst      int
	SendQueueSize     int
}

func (c Config) withDefaults() Config {
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 * 1024
	}
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = 100
	}
	if c.MessageBurst <= 0 {
		c.MessageBurst = 200
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	return c
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server accepts relay connections: it authenticates the handshake,
// registers the connection and drives its read/write loops.
type Server struct {
	router *Router
	reg    *registry.Registry
	tokens auth.TokenService
	cfg    Config
	log    zerolog.Logger
}

func NewServer(router *Router, reg *registry.Registry, tokens auth.TokenService, cfg Config, log zerolog.Logger) *Server {
	return &Server{
		router: router,
		reg:    reg,
		tokens: tokens,
		cfg:    cfg.withDefaults(),
		log:    log.With().Str("component", "relay").Logger(),
	}
}

// ServeWS handles one relay connection. The bearer token travels as a
// query parameter on the handshake; a missing or invalid token rejects
// the connection before the upgrade, so no frames are ever sent.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := s.tokens.Verify(token)
	if err != nil {
		s.log.Debug().Err(err).Msg("rejected connection")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	client := &Client{
		id:      uuid.NewString(),
		userID:  claims.UserID,
		conn:    conn,
		send:    make(chan []byte, s.cfg.SendQueueSize),
		done:    make(chan struct{}),
		router:  s.router,
		reg:     s.reg,
		limiter: rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.MessageBurst),
		maxSize: s.cfg.MaxMessageBytes,
	}
	client.log = s.log.With().Str("conn", client.id).Str("user", claims.UserID).Logger()

	s.reg.Add(client)
	s.log.Info().Str("conn", client.id).Str("user", claims.UserID).Msg("client connected")

	if frame, err := protocol.Marshal(protocol.Welcome(claims.UserID)); err == nil {
		client.Enqueue(frame)
	}

	go client.writePump()
	go client.readPump()
}

// Client is one authenticated relay connection. It owns the underlying
// websocket exclusively; all other components reach it through Enqueue.
type Client struct {
	id      string
	userID  string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	router  *Router
	reg     *registry.Registry
	limiter *rate.Limiter
	maxSize int64
	log     zerolog.Logger
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

// Enqueue offers a frame to the outbound queue without blocking. A full
// queue or a closed connection reports false; the caller decides whether
// that peer should be dropped.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Close tears the connection down. Deregistration happens exactly once no
// matter how many paths (read error, write error, forced disconnect)
// arrive here.
func (c *Client) Close() {
	c.once.Do(func() {
		c.reg.Remove(c)
		close(c.done)
		c.conn.Close()
		c.log.Info().Msg("client disconnected")
	})
}

func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(c.maxSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("read error")
			}
			return
		}

		if !c.limiter.Allow() {
			if frame, err := protocol.Marshal(protocol.Error("rate limit exceeded")); err == nil {
				c.Enqueue(frame)
			}
			continue
		}

		c.router.Route(c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
