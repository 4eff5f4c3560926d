package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/AaronLay10/ScratchDesk/internal/events"
	"github.com/AaronLay10/ScratchDesk/internal/version"
	"github.com/gorilla/websocket"
)

const (
	// Number of buffered events replayed to a fresh connection
	wsReplayCount = 50

	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stream is read-only telemetry; any origin may watch it.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsHello is the first frame on every connection. It names the desk and
// tells the client how many of the following frames are replayed
// history rather than live events.
type wsHello struct {
	Type    string `json:"type"`
	DeskID  string `json:"desk_id"`
	Version string `json:"version"`
	Replay  int    `json:"replay"`
}

// wsEventsHandler streams the desk event feed over a websocket: a hello
// frame, a replay of recent history, then live events as they happen.
func wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}

	sub := events.Subscribe()
	defer func() {
		events.Unsubscribe(sub)
		conn.Close()
	}()

	replay := events.RecentEvents(wsReplayCount)
	hello := wsHello{
		Type:    "hello",
		DeskID:  GetDeskID(),
		Version: version.Version,
		Replay:  len(replay),
	}
	if err := writeFrame(conn, hello); err != nil {
		return
	}
	for _, e := range replay {
		if err := writeFrame(conn, e); err != nil {
			return
		}
	}

	// The reader only services pongs and notices the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case e, ok := <-sub:
			if !ok {
				// Daemon shutdown closed the feed.
				return
			}
			if err := writeFrame(conn, e); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeFrame marshals v and sends it as one text frame under the write
// deadline.
func writeFrame(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
