package bridge

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/lorelens/pkg/types"
)

// Transport opens connections to the bridge.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn yields messages until it fails or is closed.
type Conn interface {
	Read(ctx context.Context) (types.Message, error)
	Close() error
}

// wireMessage is the JSON record the bridge plugin sends.
type wireMessage struct {
	Speaker string `json:"speaker,omitempty"`
	Body    string `json:"body"`
	Channel string `json:"channel,omitempty"`
}

// WebSocketTransport dials a WebSocket endpoint that streams wireMessages
// as JSON text frames.
type WebSocketTransport struct {
	URL    string
	Header http.Header
	// ReadLimit caps a single frame. Zero keeps the library default.
	ReadLimit int64
}

// Dial connects to the bridge.
func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	c, _, err := websocket.Dial(ctx, t.URL, &websocket.DialOptions{HTTPHeader: t.Header})
	if err != nil {
		return nil, err
	}
	if t.ReadLimit > 0 {
		c.SetReadLimit(t.ReadLimit)
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) (types.Message, error) {
	for {
		var m wireMessage
		if err := wsjson.Read(ctx, w.c, &m); err != nil {
			return types.Message{}, err
		}
		body := strings.TrimSpace(m.Body)
		if body == "" {
			continue
		}
		return types.Message{
			Speaker:    strings.TrimSpace(m.Speaker),
			Body:       body,
			Channel:    m.Channel,
			ReceivedAt: time.Now(),
		}, nil
	}
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "closing")
}
