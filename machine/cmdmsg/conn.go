package cmdmsg

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mastercactapus/brewmech/machine"
)

const queueSize = 64

// Conn represents a direct connection to a CmdMessenger device.
type Conn struct {
	rw    io.ReadWriter
	codec *Codec
	log   logrus.FieldLogger

	incoming chan machine.Message
	errCh    chan error
	closeCh  chan struct{}

	closeOnce sync.Once
	wMx       sync.Mutex
}

var _ machine.Channel = &Conn{}

// NewConn creates a new Conn using the provided ReadWriter for data and starts
// reading frames from it.
func NewConn(rw io.ReadWriter, cmds []Command, log logrus.FieldLogger) *Conn {
	c := &Conn{
		rw:       rw,
		codec:    NewCodec(cmds),
		log:      log,
		incoming: make(chan machine.Message, queueSize),
		errCh:    make(chan error, 1),
		closeCh:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close stops the read loop and closes the underlying ReadWriter, if it
// implements io.Closer.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		if closer, ok := c.rw.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}

// Send encodes and writes a single frame.
func (c *Conn) Send(msg machine.Message) error {
	select {
	case <-c.closeCh:
		return io.ErrClosedPipe
	default:
	}

	frame, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}

	c.wMx.Lock()
	defer c.wMx.Unlock()
	_, err = c.rw.Write(frame)
	return err
}

// Receive returns the next decoded frame if one is available. It never blocks.
func (c *Conn) Receive() (machine.Message, bool, error) {
	select {
	case <-c.closeCh:
		return machine.Message{}, false, io.ErrClosedPipe
	default:
	}

	select {
	case msg := <-c.incoming:
		return msg, true, nil
	case err := <-c.errCh:
		return machine.Message{}, false, err
	default:
		return machine.Message{}, false, nil
	}
}

func (c *Conn) readLoop() {
	r := bufio.NewReader(c.rw)
	for {
		frame, err := readFrame(r)
		if err != nil {
			select {
			case <-c.closeCh:
			default:
				c.log.WithError(err).Error("read from device")
				c.errCh <- err
			}
			return
		}
		if len(frame) == 0 {
			continue
		}

		msg, err := c.codec.Decode(frame)
		if err != nil {
			c.log.WithError(err).WithField("frame", string(frame)).Warn("skipping frame")
			continue
		}
		c.log.WithField("name", msg.Name).Debug("recv")

		select {
		case c.incoming <- msg:
		case <-c.closeCh:
			return
		}
	}
}

// readFrame reads up to the next unescaped command separator. Escapes are kept
// so the frame can still be split into fields.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var frame []byte
	escaped := false
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch {
		case escaped:
			escaped = false
		case b == escape:
			escaped = true
		case b == cmdSep:
			return bytes.TrimLeft(frame, "\r\n"), nil
		}
		frame = append(frame, b)
	}
}
