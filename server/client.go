package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mastercactapus/brewmech/machine"
)

// Client sends request lines to a Server. Each call uses a new connection.
type Client struct {
	Network string
	Addr    string

	// Timeout bounds a whole call. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// Do sends payload as one line and returns the reply line.
func (c *Client) Do(ctx context.Context, payload []byte) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	network := c.Network
	if network == "" {
		network = "unix"
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, c.Addr)
	if err != nil {
		return nil, fmt.Errorf("connect to mech control: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	_, err = conn.Write(append(append([]byte(nil), payload...), '\n'))
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	return line, nil
}

// RunBatch sends cmds as a batch and decodes the outcomes.
func (c *Client) RunBatch(ctx context.Context, cmds []machine.Command) (machine.BatchOutcome, error) {
	payload, err := machine.EncodeBatch(cmds)
	if err != nil {
		return nil, err
	}
	line, err := c.Do(ctx, payload)
	if err != nil {
		return nil, err
	}
	return machine.DecodeReply(line)
}

// Execute sends a single command and decodes its outcome.
func (c *Client) Execute(ctx context.Context, cmd machine.Command) (machine.Outcome, error) {
	payload, err := machine.MarshalCommand(cmd)
	if err != nil {
		return machine.Outcome{}, err
	}
	line, err := c.Do(ctx, payload)
	if err != nil {
		return machine.Outcome{}, err
	}
	res, err := machine.DecodeReply(line)
	if err != nil {
		return machine.Outcome{}, err
	}
	if len(res) != 1 {
		return machine.Outcome{}, fmt.Errorf("%w: expected one outcome, got %d", machine.ErrMalformed, len(res))
	}
	return res[0], nil
}
