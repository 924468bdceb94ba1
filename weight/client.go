// Package weight talks to the mug scale service.
package weight

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// Scale service commands.
const (
	CmdSingleRead  = "single_read"
	CmdStreamStart = "stream_start"
	CmdStreamStop  = "stream_stop"
)

// DefaultTimeout bounds a single weight query.
const DefaultTimeout = time.Second

// ErrNoReading is returned when the scale reports an error or no weight.
var ErrNoReading = errors.New("no weight reading")

// Reading is a single line from the scale service.
type Reading struct {
	Weight *float64 `json:"weight,omitempty"`
	Error  string   `json:"error,omitempty"`
}

func (r Reading) value() (float64, error) {
	if r.Error != "" {
		return 0, fmt.Errorf("%w: %s", ErrNoReading, r.Error)
	}
	if r.Weight == nil {
		return 0, ErrNoReading
	}
	return *r.Weight, nil
}

// Client queries the scale service. A new connection is made for each query.
type Client struct {
	Network string
	Addr    string
	Timeout time.Duration
}

func (c *Client) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	network := c.Network
	if network == "" {
		network = "unix"
	}
	d := net.Dialer{Timeout: c.timeout()}
	return d.DialContext(ctx, network, c.Addr)
}

// CurrentWeight returns the current weight in grams.
func (c *Client) CurrentWeight(ctx context.Context) (float64, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return 0, fmt.Errorf("connect to scale: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	_, err = fmt.Fprintln(conn, CmdSingleRead)
	if err != nil {
		return 0, fmt.Errorf("query scale: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return 0, fmt.Errorf("read scale: %w", err)
	}
	var r Reading
	err = json.Unmarshal(line, &r)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoReading, err)
	}
	return r.value()
}

// Watch streams readings to fn until ctx is done or the connection fails.
// Readings the scale reports as errors are skipped.
func (c *Client) Watch(ctx context.Context, fn func(float64)) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect to scale: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			fmt.Fprintln(conn, CmdStreamStop)
			conn.Close()
		}
	}()

	_, err = fmt.Fprintln(conn, CmdStreamStart)
	if err != nil {
		return fmt.Errorf("start stream: %w", err)
	}

	scan := bufio.NewScanner(conn)
	for scan.Scan() {
		var r Reading
		if json.Unmarshal(scan.Bytes(), &r) != nil {
			continue
		}
		w, err := r.value()
		if err != nil {
			continue
		}
		fn(w)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if scan.Err() != nil {
		return scan.Err()
	}
	return errors.New("scale closed the stream")
}
