package machine

import (
	"context"
	"errors"
	"io/ioutil"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

var doneNames = map[string]string{
	CmdMoveCone:  "cone_done",
	CmdMoveSpout: "spout_done",
	CmdMoveBoth:  "both_done",
	CmdZeroSpout: "zero_done",
}

// fakeChannel acknowledges every request unless told otherwise.
type fakeChannel struct {
	mx sync.Mutex

	sent  []Message
	queue []Message

	silent  map[string]bool
	fail    map[string]string
	sendErr error

	inflight    int
	maxInflight int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		silent: make(map[string]bool),
		fail:   make(map[string]string),
	}
}

func (f *fakeChannel) Send(msg Message) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}

	switch {
	case f.silent[msg.Name]:
		f.inflight--
	case f.fail[msg.Name] != "":
		f.queue = append(f.queue, Message{Name: ErrorResponse, Args: []interface{}{f.fail[msg.Name]}})
	default:
		f.queue = append(f.queue, Message{Name: doneNames[msg.Name]})
	}
	return nil
}

func (f *fakeChannel) Receive() (Message, bool, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	if len(f.queue) == 0 {
		return Message{}, false, nil
	}
	msg := f.queue[0]
	f.queue = f.queue[1:]
	f.inflight--
	return msg, true, nil
}

func (f *fakeChannel) sentNames() []string {
	f.mx.Lock()
	defer f.mx.Unlock()
	var names []string
	for _, m := range f.sent {
		names = append(names, m.Name)
	}
	return names
}

type fakeScale struct {
	mx     sync.Mutex
	weight float64
	err    error
	calls  int
}

func (s *fakeScale) CurrentWeight(ctx context.Context) (float64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.calls++
	return s.weight, s.err
}

func (s *fakeScale) set(w float64, err error) {
	s.mx.Lock()
	s.weight, s.err = w, err
	s.mx.Unlock()
}

var errNoScale = errors.New("scale offline")

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(ioutil.Discard)
	return l
}

func startMachine(t *testing.T, ch Channel, scale WeightSource, cfg Config) *Machine {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	m := NewMachine(ch, scale, cfg, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Run(ctx)
	return m
}

func cone(steps int64) MoveCone {
	return MoveCone{Steps: Int(steps), Speed: Int(500), Direction: Int(1)}
}

func spout(deg int64) MoveSpout {
	return MoveSpout{Degrees: Int(deg), Speed: Int(200), Direction: Int(0)}
}
