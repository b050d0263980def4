package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket timeouts.
const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// peer wraps one websocket connection. gorilla connections allow a single
// concurrent writer, and commands for a node are written from controller
// goroutines, so writes go through writeMu.
type peer struct {
	ws      *websocket.Conn
	addr    string
	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

func newPeer(ws *websocket.Conn, maxMessageSize int64) *peer {
	p := &peer{
		ws:   ws,
		addr: ws.RemoteAddr().String(),
		done: make(chan struct{}),
	}
	if maxMessageSize > 0 {
		ws.SetReadLimit(maxMessageSize)
	}
	ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	return p
}

// Send writes one text frame.
func (p *peer) Send(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return p.ws.WriteMessage(websocket.TextMessage, data)
}

// SendJSON marshals v and writes it as one text frame.
func (p *peer) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Send(data)
}

// Read returns the next data frame. Any frame read also extends the deadline.
func (p *peer) Read() ([]byte, error) {
	_, data, err := p.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	p.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	return data, nil
}

// Close closes the connection. Safe to call more than once.
func (p *peer) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		p.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = p.ws.Close()
	})
	return err
}

func (p *peer) RemoteAddr() string { return p.addr }

// keepalive pings the peer until the connection closes. Peers answer pings
// while reading, which keeps idle node connections past the read deadline.
func (p *peer) keepalive() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
