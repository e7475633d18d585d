package signaling

import (
	"net/http"
	"sync"
	"time"

	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/auth"
	"github.com/Adeloyejoshual/Smart-talk-sub001/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
	readLimit    = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn adapts a websocket connection to the hub's Conn. Writes go through
// a buffered channel consumed by a single write pump, so TrySend never
// blocks a caller.
//
// The closed flag is checked under mu before every channel send: a detach
// racing a fan-out must surface as an error, never as a send on a closed
// channel.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close is idempotent. Closing send under the write lock excludes in-flight
// TrySend calls, which hold the read lock across their channel send.
func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// WSController upgrades authenticated HTTP requests into hub connections.
type WSController struct {
	Hub *Hub
}

// Handle is the gin handler for the signaling endpoint. Identity comes from
// the auth middleware; unauthenticated requests never reach here.
func (ctl *WSController) Handle(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	log := logger.FromGin(c)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("ws upgrade failed", "user_id", userID, "err", err)
		return
	}
	ws.SetReadLimit(readLimit)

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, sendBuffer),
	}
	ctl.Hub.Attach(userID, conn)
	log.Info("signaling attached", "user_id", userID)

	go ctl.writePump(conn)
	go ctl.readPump(userID, conn)
}

func (ctl *WSController) writePump(c *wsConn) {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// readPump drains client frames until the connection dies. Clients do not
// drive call transitions over the socket (that is the HTTP API's job); the
// read loop exists to detect disconnects and answer pings.
func (ctl *WSController) readPump(userID string, c *wsConn) {
	defer ctl.Hub.Detach(userID, c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
