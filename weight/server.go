package weight

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mastercactapus/brewmech/internal/sockutil"
)

// DefaultInterval is the time between streamed readings.
const DefaultInterval = 100 * time.Millisecond

// A Scale produces weight readings in grams.
type Scale interface {
	Weight(ctx context.Context) (float64, error)
}

// StaticScale reports whatever weight was last set.
type StaticScale struct {
	mx sync.Mutex
	w  float64
}

func (s *StaticScale) Set(w float64) {
	s.mx.Lock()
	s.w = w
	s.mx.Unlock()
}

func (s *StaticScale) Weight(context.Context) (float64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.w, nil
}

// Server answers scale service commands from a Scale.
type Server struct {
	Interval time.Duration

	scale Scale
	log   logrus.FieldLogger

	mx     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a Server reading from scale.
func NewServer(scale Scale, log logrus.FieldLogger) *Server {
	return &Server{
		Interval: DefaultInterval,
		scale:    scale,
		log:      log,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on ln until Close is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.ln = ln
	s.mx.Unlock()

	s.log.WithField("addr", ln.Addr().String()).Info("scale server listening")
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

// Close stops the listener and all connections.
func (s *Server) Close() error {
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
	return err
}

func (s *Server) read(ctx context.Context) Reading {
	w, err := s.scale.Weight(ctx)
	if err != nil {
		return Reading{Error: err.Error()}
	}
	return Reading{Weight: &w}
}

func (s *Server) handleConn(conn net.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		conn.Close()
		s.mx.Lock()
		delete(s.conns, conn)
		s.mx.Unlock()
	}()

	var wMx sync.Mutex
	enc := json.NewEncoder(conn)
	write := func(r Reading) error {
		wMx.Lock()
		defer wMx.Unlock()
		return enc.Encode(r)
	}

	var stopStream context.CancelFunc
	defer func() {
		if stopStream != nil {
			stopStream()
		}
	}()
	scan := bufio.NewScanner(conn)
	for scan.Scan() {
		switch cmd := strings.TrimSpace(scan.Text()); cmd {
		case CmdSingleRead:
			if write(s.read(ctx)) != nil {
				return
			}
		case CmdStreamStart:
			if stopStream != nil {
				continue
			}
			var sctx context.Context
			sctx, stopStream = context.WithCancel(ctx)
			go s.stream(sctx, write)
		case CmdStreamStop:
			if stopStream != nil {
				stopStream()
				stopStream = nil
			}
		case "":
		default:
			s.log.WithField("command", cmd).Warn("invalid scale command")
			if write(Reading{Error: "unknown command"}) != nil {
				return
			}
		}
	}
}

func (s *Server) stream(ctx context.Context, write func(Reading) error) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		if write(s.read(ctx)) != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
