package cmdmsg

import (
	"fmt"
	"io"

	"github.com/tarm/serial"
	bugst "go.bug.st/serial"
)

// Serial drivers understood by OpenPort.
const (
	DriverTarm  = "tarm"
	DriverBugst = "bugst"
)

// PortConfig describes the serial port the mechanism controller is attached to.
type PortConfig struct {
	Name   string
	Baud   int
	Driver string
}

// OpenPort opens the serial port with the configured driver. Reads on the
// returned port block until data is available.
func OpenPort(cfg PortConfig) (io.ReadWriteCloser, error) {
	switch cfg.Driver {
	case "", DriverTarm:
		p, err := serial.OpenPort(&serial.Config{Name: cfg.Name, Baud: cfg.Baud})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Name, err)
		}
		return p, nil
	case DriverBugst:
		p, err := bugst.Open(cfg.Name, &bugst.Mode{BaudRate: cfg.Baud})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Name, err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown serial driver %q", cfg.Driver)
}
