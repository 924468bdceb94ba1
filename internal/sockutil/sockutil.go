// Package sockutil holds listener helpers shared by the socket servers.
package sockutil

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// Listen listens on network/addr. For unix sockets a stale socket file is
// removed first and, if mode is non-zero, the new one is chmod'ed to mode.
func Listen(network, addr string, mode os.FileMode) (net.Listener, error) {
	if network == "unix" {
		err := os.Remove(addr)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}

	if network == "unix" && mode != 0 {
		err = os.Chmod(addr, mode)
		if err != nil {
			ln.Close()
			return nil, fmt.Errorf("chmod socket: %w", err)
		}
	}
	return ln, nil
}

// SafeGo runs fn in a new goroutine and logs a panic instead of crashing.
func SafeGo(log logrus.FieldLogger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("goroutine panicked")
			}
		}()
		fn()
	}()
}
