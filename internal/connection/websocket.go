package connection

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"

	"github.com/Xolisakesi/metatrrade-mcp/internal/errs"
)

const websocketInboxSize = 64

// WebsocketTransport carries one envelope per text message. A reader
// goroutine feeds the inbox so that Poll never blocks.
type WebsocketTransport struct {
	conn   *websocket.Conn
	inbox  chan []byte
	errc   chan error
	cancel context.CancelFunc
}

// DialWebsocket connects to url and starts the reader.
func DialWebsocket(ctx context.Context, url string) (*WebsocketTransport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, errs.New("connection/dial", errs.CodeNetwork,
			errs.WithMessage("dial "+url), errs.WithCause(err))
	}
	return NewWebsocketTransport(conn), nil
}

// NewWebsocketTransport wraps an established websocket connection.
func NewWebsocketTransport(conn *websocket.Conn) *WebsocketTransport {
	conn.SetReadLimit(maxFrameSize)
	readCtx, cancel := context.WithCancel(context.Background())
	t := &WebsocketTransport{
		conn:   conn,
		inbox:  make(chan []byte, websocketInboxSize),
		errc:   make(chan error, 1),
		cancel: cancel,
	}
	go t.readLoop(readCtx)
	return t
}

func (t *WebsocketTransport) readLoop(ctx context.Context) {
	for {
		msgType, data, err := t.conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			t.errc <- errs.New("connection/read", errs.CodeNetwork, errs.WithCause(err))
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		select {
		case t.inbox <- data:
		case <-ctx.Done():
			return
		}
	}
}

// Send writes payload as a single text message.
func (t *WebsocketTransport) Send(ctx context.Context, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := t.conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		return errs.New("connection/send", errs.CodeNetwork, errs.WithCause(err))
	}
	return nil
}

// Poll drains one queued message. Queued messages are delivered before a
// read failure is reported.
func (t *WebsocketTransport) Poll() ([]byte, bool, error) {
	select {
	case data := <-t.inbox:
		return data, true, nil
	default:
	}
	select {
	case err := <-t.errc:
		return nil, false, err
	default:
		return nil, false, nil
	}
}

// Close stops the reader and closes the connection.
func (t *WebsocketTransport) Close() error {
	err := t.conn.Close(websocket.StatusNormalClosure, "")
	t.cancel()
	return err
}
