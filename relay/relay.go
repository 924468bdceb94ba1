// Package relay is the websocket front end of the mechanism control service.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"sync"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mastercactapus/brewmech/machine"
)

// AckChannel is the event stream every acknowledgement is published to.
const AckChannel = "/events/acks"

const maxMessageSize = 1 << 20

// A Forwarder sends one request line to the control service and returns the
// reply line.
type Forwarder interface {
	Do(ctx context.Context, payload []byte) ([]byte, error)
}

// Relay accepts batches over websocket and HTTP and forwards them.
type Relay struct {
	http.Handler

	fwd Forwarder
	log logrus.FieldLogger
	sse *sse.Server

	acks      chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
	published chan struct{}

	upgrader websocket.Upgrader
}

// New creates a Relay forwarding to fwd.
func New(fwd Forwarder, logger logrus.FieldLogger) *Relay {
	sseLog := log.New(ioutil.Discard, "", 0)
	if w, ok := logger.(interface{ WriterLevel(logrus.Level) *io.PipeWriter }); ok {
		sseLog = log.New(w.WriterLevel(logrus.DebugLevel), "sse: ", 0)
	}

	r := mux.NewRouter()
	rl := &Relay{
		Handler: r,
		fwd:     fwd,
		log:     logger,
		sse:     sse.NewServer(&sse.Options{Logger: sseLog}),

		acks:      make(chan []byte, 100),
		closeCh:   make(chan struct{}),
		published: make(chan struct{}),

		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	go rl.publishLoop()

	r.HandleFunc("/ws", rl.serveWS)
	r.HandleFunc("/api/batch", rl.serveBatch).Methods("POST")
	r.PathPrefix("/events/").Handler(rl.sse)

	return rl
}

// Close stops publishing and disconnects event stream clients.
func (rl *Relay) Close() {
	rl.closeOnce.Do(func() {
		close(rl.closeCh)
		<-rl.published
		rl.sse.CloseChannel(AckChannel)
	})
}

// publishLoop is the only caller of SendMessage.
func (rl *Relay) publishLoop() {
	defer close(rl.published)
	for {
		select {
		case <-rl.closeCh:
			return
		case data := <-rl.acks:
			// round trip through the event server so clients it registered
			// before now are visible here
			rl.sse.CloseChannel("")
			rl.sse.SendMessage(AckChannel, sse.SimpleMessage(string(data)))
		}
	}
}

// Submit forwards one client message and returns the reply to send back:
// an Ack or an ErrorAck.
func (rl *Relay) Submit(ctx context.Context, msg []byte) interface{} {
	ack, err := rl.submit(ctx, msg)
	if err != nil {
		rl.log.WithError(err).Error("error processing message")
		return errorAck(err)
	}

	data, err := json.Marshal(ack)
	if err == nil {
		select {
		case rl.acks <- data:
		case <-rl.closeCh:
		default:
			rl.log.Warn("event stream backlog full, dropping acknowledgement")
		}
	}
	return ack
}

func (rl *Relay) submit(ctx context.Context, msg []byte) (*Ack, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return nil, errors.New("empty message")
	}

	var cmds []json.RawMessage
	if msg[0] == '[' {
		err := json.Unmarshal(msg, &cmds)
		if err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
	} else {
		if !json.Valid(msg) {
			return nil, errors.New("decode message: invalid JSON")
		}
		cmds = []json.RawMessage{msg}
	}
	rl.log.WithField("commands", len(cmds)).Info("received batch")

	payload, err := json.Marshal(cmds)
	if err != nil {
		return nil, err
	}
	reply, err := rl.fwd.Do(ctx, payload)
	if err != nil {
		return nil, err
	}
	rl.log.WithField("reply", string(bytes.TrimSpace(reply))).Debug("reply from control service")

	res, err := machine.DecodeReply(reply)
	if err != nil {
		return nil, err
	}
	ack := Summarize(len(cmds), res)
	return &ack, nil
}

func (rl *Relay) serveBatch(w http.ResponseWriter, req *http.Request) {
	data, err := ioutil.ReadAll(io.LimitReader(req.Body, maxMessageSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res := rl.Submit(req.Context(), data)
	w.Header().Set("Content-Type", "application/json")
	if _, ok := res.(ErrorAck); ok {
		w.WriteHeader(http.StatusBadGateway)
	}
	json.NewEncoder(w).Encode(res)
}

func (rl *Relay) serveWS(w http.ResponseWriter, req *http.Request) {
	ws, err := rl.upgrader.Upgrade(w, req, nil)
	if err != nil {
		rl.log.WithError(err).Warn("websocket upgrade")
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxMessageSize)

	log := rl.log.WithField("remote", req.RemoteAddr)
	log.Info("websocket connected")
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Warn("websocket closed")
			} else {
				log.Info("websocket disconnected")
			}
			return
		}

		err = ws.WriteJSON(rl.Submit(req.Context(), msg))
		if err != nil {
			log.WithError(err).Error("write acknowledgement")
			return
		}
	}
}
