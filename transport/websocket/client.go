// Reconnecting websocket client used as the mailbox's transport. The
// wire protocol is JSON frames; inbound "message" frames carry an
// encrypted envelope addressed to one of our inbox addresses.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/quorum-im/go-quorum/config"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	initialRedialDelay = time.Second
	maxRedialDelay     = 30 * time.Second
)

// Frame is the wire envelope for both directions.
type Frame struct {
	Type         string          `json:"type"`
	InboxAddress string          `json:"inboxAddress,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

const (
	FrameMessage     = "message"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
)

type Client struct {
	config *config.Config
	log    *zap.SugaredLogger
	url    string

	onMessage func(inboxAddress string, payload []byte)
	onOpen    func(ctx context.Context)
	onClose   func()

	connLock sync.RWMutex
	conn     *websocket.Conn
	open     bool

	cancelFunc context.CancelFunc
	finished   sync.WaitGroup
}

func NewClient(c *config.Config, url string) *Client {
	return &Client{
		config: c,
		log:    c.Logger("transport/websocket"),
		url:    url,
	}
}

// SetHandlers wires the inbound message callback and the open/close
// transition callbacks. Must be called before Start.
func (c *Client) SetHandlers(onMessage func(inboxAddress string, payload []byte), onOpen func(ctx context.Context), onClose func()) {
	c.onMessage = onMessage
	c.onOpen = onOpen
	c.onClose = onClose
}

func (c *Client) Start() error {
	ctx, cancelFunc := context.WithCancel(context.Background())
	c.cancelFunc = cancelFunc
	c.startConnectionLoop(ctx)
	return nil
}

func (c *Client) Shutdown() error {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.connLock.Lock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "shutdown")
		c.conn = nil
		c.open = false
	}
	c.connLock.Unlock()
	c.finished.Wait()
	return nil
}

func (c *Client) IsOpen() bool {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	return c.open
}

// Send writes one frame. Callers buffer through the mailbox, so a
// send on a closed link is an error rather than a queue.
func (c *Client) Send(ctx context.Context, frame []byte) error {
	c.connLock.RLock()
	conn := c.conn
	open := c.open
	c.connLock.RUnlock()
	if !open || conn == nil {
		return ErrNotConnected
	}
	return conn.Write(ctx, websocket.MessageText, frame)
}

// startConnectionLoop dials, reads until failure and redials with
// exponential backoff. The backoff resets after every successful dial.
func (c *Client) startConnectionLoop(ctx context.Context) {
	c.finished.Add(1)
	go func() {
		defer c.finished.Done()
		delay := initialRedialDelay
		for {
			if ctx.Err() != nil {
				return
			}
			conn, _, err := websocket.Dial(ctx, c.url, nil)
			if err != nil {
				c.log.Debugf("dialing %s: %s", c.url, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				delay *= 2
				if delay > maxRedialDelay {
					delay = maxRedialDelay
				}
				continue
			}
			delay = initialRedialDelay
			conn.SetReadLimit(1 << 22)

			c.connLock.Lock()
			c.conn = conn
			c.open = true
			c.connLock.Unlock()
			c.log.Debugf("connected to %s", c.url)
			if c.onOpen != nil {
				c.onOpen(ctx)
			}

			c.readLoop(ctx, conn)

			c.connLock.Lock()
			c.open = false
			c.conn = nil
			c.connLock.Unlock()
			if c.onClose != nil {
				c.onClose()
			}
		}
	}()
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Debugf("connection lost: %s", err)
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warnf("discarding malformed frame: %s", err)
			continue
		}
		switch frame.Type {
		case FrameMessage:
			if c.onMessage != nil {
				c.onMessage(frame.InboxAddress, frame.Payload)
			}
		case FramePing:
			// server keepalive, nothing to do
		default:
			c.log.Debugf("ignoring frame type %s", frame.Type)
		}
	}
}

// SubscribeFrame builds the resubscription frame for a set of inbox
// addresses.
func SubscribeFrame(inboxAddresses []string) ([]byte, error) {
	type subscribe struct {
		Type           string   `json:"type"`
		InboxAddresses []string `json:"inboxAddresses"`
	}
	return json.Marshal(&subscribe{Type: FrameSubscribe, InboxAddresses: inboxAddresses})
}

// MessageFrame builds an outbound message frame addressed to a remote
// inbox.
func MessageFrame(inboxAddress string, payload []byte) ([]byte, error) {
	return json.Marshal(&Frame{Type: FrameMessage, InboxAddress: inboxAddress, Payload: payload})
}
