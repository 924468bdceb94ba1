package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ReconnectDelay is the wait between connection attempts.
var ReconnectDelay = 3 * time.Second

var (
	// ErrClosed is returned after the Client is closed.
	ErrClosed = errors.New("relay client closed")

	// ErrConnLost is returned for requests pending when the connection drops.
	ErrConnLost = errors.New("relay connection lost")
)

type result struct {
	data []byte
	err  error
}

type request struct {
	payload []byte
	reply   chan result
}

// Client submits batches to a relay over a websocket, reconnecting as needed.
// Acknowledgements are matched to requests in order.
type Client struct {
	url string
	log logrus.FieldLogger

	outgoing chan request
	closeCh  chan struct{}
}

// Dial creates a Client for the relay websocket at url. Connecting happens in
// the background.
func Dial(url string, log logrus.FieldLogger) *Client {
	c := &Client{
		url:      url,
		log:      log,
		outgoing: make(chan request, 100),
		closeCh:  make(chan struct{}),
	}
	go c.loop()
	return c
}

// Close disconnects and fails pending requests.
func (c *Client) Close() { close(c.closeCh) }

// Submit sends a command object or array and waits for its acknowledgement.
// A relay error reply is returned as an error.
func (c *Client) Submit(ctx context.Context, msg []byte) (*Ack, error) {
	select {
	case <-c.closeCh:
		return nil, ErrClosed
	default:
	}

	req := request{payload: msg, reply: make(chan result, 1)}
	select {
	case c.outgoing <- req:
	case <-c.closeCh:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-req.reply:
		if r.err != nil {
			return nil, r.err
		}
		return parseReply(r.data)
	case <-c.closeCh:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func parseReply(data []byte) (*Ack, error) {
	var msg map[string]json.RawMessage
	err := json.Unmarshal(data, &msg)
	if err != nil {
		return nil, err
	}
	if msg["message"] != nil {
		var e ErrorAck
		err = json.Unmarshal(data, &e)
		if err != nil {
			return nil, err
		}
		return nil, errors.New(e.Message)
	}

	var ack Ack
	err = json.Unmarshal(data, &ack)
	if err != nil {
		return nil, err
	}
	return &ack, nil
}

func (c *Client) readLoop(ws *websocket.Conn, inbound chan<- []byte, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-stop:
			default:
				c.log.WithError(err).Warn("relay read")
			}
			return
		}
		select {
		case inbound <- data:
		case <-stop:
			return
		}
	}
}

func (c *Client) loop() {
	for {
		c.log.WithField("url", c.url).Info("connecting to relay")
		ws, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			c.log.WithError(err).Warn("connect to relay")
			select {
			case <-time.After(ReconnectDelay):
				continue
			case <-c.closeCh:
				c.drain()
				return
			}
		}
		c.log.Info("connected to relay")

		if c.serveConn(ws) {
			c.drain()
			return
		}
	}
}

// drain fails requests queued after Close.
func (c *Client) drain() {
	for {
		select {
		case req := <-c.outgoing:
			req.reply <- result{err: ErrClosed}
		default:
			return
		}
	}
}

// serveConn runs a single connection. It returns true once the Client is closed.
func (c *Client) serveConn(ws *websocket.Conn) bool {
	inbound := make(chan []byte)
	stop := make(chan struct{})
	done := make(chan struct{})
	go c.readLoop(ws, inbound, stop, done)

	var pending []chan result
	defer func() {
		close(stop)
		ws.Close()
		for _, p := range pending {
			p <- result{err: ErrConnLost}
		}
	}()

	for {
		select {
		case <-c.closeCh:
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return true
		case <-done:
			return false
		case req := <-c.outgoing:
			err := ws.WriteMessage(websocket.TextMessage, req.payload)
			if err != nil {
				c.log.WithError(err).Warn("relay send")
				req.reply <- result{err: err}
				return false
			}
			pending = append(pending, req.reply)
		case data := <-inbound:
			if len(pending) == 0 {
				c.log.WithField("data", string(data)).Warn("unexpected message from relay")
				continue
			}
			pending[0] <- result{data: data}
			pending = pending[1:]
		}
	}
}
