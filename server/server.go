// Package server exposes a Machine over a line-delimited JSON socket.
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mastercactapus/brewmech/internal/sockutil"
	"github.com/mastercactapus/brewmech/machine"
)

// MaxMalformed is the number of consecutive undecodable lines after which a
// connection is closed.
const MaxMalformed = 2

// A Handler runs a decoded request and returns the reply value.
type Handler interface {
	Handle(ctx context.Context, req *machine.Request) interface{}
}

// Server accepts connections and runs each request line through a Handler.
type Server struct {
	h   Handler
	log logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mx     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a Server dispatching to h.
func NewServer(h Handler, log logrus.FieldLogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		h:      h,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.ln = ln
	s.mx.Unlock()

	s.log.WithField("addr", ln.Addr().String()).Info("mech control service started")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.mx.Lock()
		if s.closed {
			s.mx.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mx.Unlock()

		sockutil.SafeGo(s.log, func() {
			defer s.wg.Done()
			s.handleConn(conn)
		})
	}
}

// Shutdown stops accepting connections, closes open ones and waits for their
// handlers to return. A command already sent to the mechanism is still
// waited on.
func (s *Server) Shutdown() error {
	s.mx.Lock()
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mx.Unlock()

	s.wg.Wait()
	s.cancel()
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	log := s.log.WithField("remote", conn.RemoteAddr().String())
	log.Debug("client connected")
	defer func() {
		conn.Close()
		s.mx.Lock()
		delete(s.conns, conn)
		s.mx.Unlock()
		log.Debug("client disconnected")
	}()

	r := bufio.NewReader(conn)
	enc := json.NewEncoder(conn)
	var malformed int
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			ok := s.handleLine(log, enc, line)
			if ok {
				malformed = 0
			} else {
				malformed++
			}
			if malformed >= MaxMalformed {
				log.Warn("closing connection after repeated malformed requests")
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.WithError(err).Error("read request")
			}
			return
		}
	}
}

// handleLine processes a single request line and writes the reply. It
// returns false if the line could not be decoded.
func (s *Server) handleLine(log logrus.FieldLogger, enc *json.Encoder, line []byte) bool {
	req, err := machine.DecodeRequest(line)
	if err != nil {
		log.WithError(err).Error("error handling client request")
		err = enc.Encode(machine.ErrorReply{Error: err.Error()})
		if err != nil {
			log.WithError(err).Error("write reply")
		}
		return false
	}

	res := s.h.Handle(s.ctx, req)
	err = enc.Encode(res)
	if err != nil {
		log.WithError(err).Error("write reply")
	}
	return true
}
