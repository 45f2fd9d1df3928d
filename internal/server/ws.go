package server

import (
	"bytes"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// clientBuffer is the number of lines queued per client before new lines are
// dropped for it.
const clientBuffer = 64

const liveWriteWait = time.Second

// LiveFeed broadcasts every sent control line to websocket clients, one text
// message per line. Publish never blocks: a slow client misses lines.
type LiveFeed struct {
	mu      sync.RWMutex
	clients map[*liveClient]struct{}
	closed  bool
	dropped atomic.Uint64
}

type liveClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewLiveFeed creates an empty feed.
func NewLiveFeed() *LiveFeed {
	return &LiveFeed{
		clients: make(map[*liveClient]struct{}),
	}
}

// Publish queues line for every connected client, without its terminator.
func (f *LiveFeed) Publish(line []byte) {
	line = bytes.TrimSuffix(line, []byte("\n"))

	f.mu.RLock()
	defer f.mu.RUnlock()

	for c := range f.clients {
		select {
		case c.send <- line:
		default:
			f.dropped.Add(1)
		}
	}
}

// Clients returns the number of connected clients.
func (f *LiveFeed) Clients() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Dropped returns how many lines were not delivered to slow clients.
func (f *LiveFeed) Dropped() uint64 {
	return f.dropped.Load()
}

// ServeHTTP handles WebSocket upgrade requests.
func (f *LiveFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	c := &liveClient{conn: conn, send: make(chan []byte, clientBuffer)}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		closeClient(conn)
		return
	}
	f.clients[c] = struct{}{}
	f.mu.Unlock()

	done := make(chan struct{})
	go f.writeLoop(c, done)

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	f.mu.Lock()
	delete(f.clients, c)
	f.mu.Unlock()

	close(done)
	conn.Close()
}

// Close disconnects every client and refuses later ones. Hijacked
// connections are not tracked by http.Server, so Shutdown leaves them open
// without this.
func (f *LiveFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	for c := range f.clients {
		closeClient(c.conn)
	}
}

func closeClient(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(liveWriteWait))
	conn.Close()
}

func (f *LiveFeed) writeLoop(c *liveClient, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case line := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, line); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}
