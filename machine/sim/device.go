// Package sim provides a simulated mechanism controller for bench setups and tests.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mastercactapus/brewmech/machine"
)

var acks = make(map[string]string)

func init() {
	for _, m := range []machine.Motion{machine.MoveCone{}, machine.MoveSpout{}, machine.MoveBoth{}, machine.ZeroSpout{}} {
		acks[m.Name()] = m.Done()
	}
}

type event struct {
	at  time.Time
	msg machine.Message
}

// Device acknowledges every motion request after Delay.
type Device struct {
	Delay time.Duration

	log logrus.FieldLogger

	mx      sync.Mutex
	pending []event
	fail    map[string]string
	silence map[string]bool
	history []machine.Message
}

var _ machine.Channel = &Device{}

// NewDevice creates a Device that acknowledges requests after delay.
func NewDevice(delay time.Duration, log logrus.FieldLogger) *Device {
	return &Device{
		Delay:   delay,
		log:     log,
		fail:    make(map[string]string),
		silence: make(map[string]bool),
	}
}

// Fail makes the next request with the given name reply with an error message.
func (d *Device) Fail(name, msg string) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.fail[name] = msg
}

// Silence drops the acknowledgement of the next request with the given name.
func (d *Device) Silence(name string) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.silence[name] = true
}

// History returns every request received so far.
func (d *Device) History() []machine.Message {
	d.mx.Lock()
	defer d.mx.Unlock()
	return append([]machine.Message(nil), d.history...)
}

func (d *Device) Send(msg machine.Message) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.history = append(d.history, msg)
	d.log.WithFields(logrus.Fields{"name": msg.Name, "args": msg.Args}).Debug("sim: request")

	now := time.Now()
	done, ok := acks[msg.Name]
	switch {
	case !ok:
		d.queue(now, machine.ErrorResponse, fmt.Sprintf("unknown command %s", msg.Name))
	case d.fail[msg.Name] != "":
		d.queue(now, machine.ErrorResponse, d.fail[msg.Name])
		delete(d.fail, msg.Name)
	case d.silence[msg.Name]:
		delete(d.silence, msg.Name)
	default:
		d.queue(now.Add(d.Delay), done)
	}
	return nil
}

func (d *Device) queue(at time.Time, name string, args ...interface{}) {
	d.pending = append(d.pending, event{at: at, msg: machine.Message{Name: name, Args: args}})
}

func (d *Device) Receive() (machine.Message, bool, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if len(d.pending) == 0 || time.Now().Before(d.pending[0].at) {
		return machine.Message{}, false, nil
	}
	ev := d.pending[0]
	d.pending = d.pending[1:]
	return ev.msg, true, nil
}
