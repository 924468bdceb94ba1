package machine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is how often the Link polls the channel for responses.
const DefaultPollInterval = 100 * time.Millisecond

type reply struct {
	msg Message
	err error
}

// pendingWait correlates a sent request with the acknowledgement it expects.
type pendingWait struct {
	request string
	ch      chan reply
}

// Link is the single owner of a Channel. Only one command is ever
// outstanding: Call holds the link until the acknowledgement, an error
// notification or the deadline.
type Link struct {
	ch   Channel
	poll time.Duration
	log  logrus.FieldLogger

	callMx sync.Mutex

	mx      sync.Mutex
	waiting map[string]*pendingWait

	// late counts acknowledgements still owed to calls that gave up waiting.
	// The next matching response is consumed by the oldest of those.
	late map[string]int
}

// NewLink creates a Link for ch. Run must be started for calls to complete.
func NewLink(ch Channel, poll time.Duration, log logrus.FieldLogger) *Link {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Link{
		ch:      ch,
		poll:    poll,
		log:     log,
		waiting: make(map[string]*pendingWait),
		late:    make(map[string]int),
	}
}

// Run polls the channel and routes responses to waiting calls until ctx is done.
func (l *Link) Run(ctx context.Context) error {
	t := time.NewTicker(l.poll)
	defer t.Stop()
	for {
		l.drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (l *Link) drain() {
	for {
		msg, ok, err := l.ch.Receive()
		if err != nil {
			l.fail(fmt.Errorf("%w: receive: %v", ErrTransport, err))
			return
		}
		if !ok {
			return
		}
		l.route(msg)
	}
}

// fail delivers err to every waiting call.
func (l *Link) fail(err error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if len(l.waiting) == 0 {
		l.log.WithError(err).Error("channel failure with no command outstanding")
	}
	for name, w := range l.waiting {
		w.ch <- reply{err: err}
		delete(l.waiting, name)
	}
	for name := range l.late {
		delete(l.late, name)
	}
}

func (l *Link) route(msg Message) {
	if msg.Name == ErrorResponse {
		l.fail(fmt.Errorf("%w: microcontroller error: %s", ErrHardware, formatArgs(msg.Args)))
		return
	}

	l.mx.Lock()
	defer l.mx.Unlock()
	if n := l.late[msg.Name]; n > 0 {
		if n == 1 {
			delete(l.late, msg.Name)
		} else {
			l.late[msg.Name] = n - 1
		}
		l.log.WithField("response", msg.Name).Warn("dropping response that arrived after its deadline")
		return
	}
	w, ok := l.waiting[msg.Name]
	if !ok {
		l.log.WithField("response", msg.Name).Warn("dropping unexpected response")
		return
	}
	l.log.WithFields(logrus.Fields{"request": w.request, "response": msg.Name}).Debug("acknowledged")
	w.ch <- reply{msg: msg}
	delete(l.waiting, msg.Name)
}

// Call sends req and waits for a response named expect. It returns an error
// wrapping ErrTransport, ErrTimeout or ErrHardware on failure.
//
// If Call gives up after the request was sent, the acknowledgement is still
// expected and will be dropped when it arrives, so a later call for the
// same response is not completed by it.
func (l *Link) Call(ctx context.Context, req Message, expect string, timeout time.Duration) (Message, error) {
	l.callMx.Lock()
	defer l.callMx.Unlock()

	w := &pendingWait{
		request: req.Name,
		ch:      make(chan reply, 1),
	}
	l.mx.Lock()
	l.waiting[expect] = w
	l.mx.Unlock()

	sent := false
	defer func() {
		l.mx.Lock()
		if l.waiting[expect] == w {
			delete(l.waiting, expect)
			if sent {
				l.late[expect]++
			}
		}
		l.mx.Unlock()
	}()

	err := l.ch.Send(req)
	if err != nil {
		return Message{}, fmt.Errorf("%w: send %s: %v", ErrTransport, req.Name, err)
	}
	sent = true

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case r := <-w.ch:
		return r.msg, r.err
	case <-t.C:
		return Message{}, fmt.Errorf("%w: no %s within %s", ErrTimeout, expect, timeout)
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func formatArgs(args []interface{}) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, ",")
}
