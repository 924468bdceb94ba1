package machine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout is how long to wait for a completion acknowledgement.
	DefaultTimeout = 30 * time.Second

	// DefaultWeightThreshold is the pour-completion weight in grams.
	DefaultWeightThreshold = 300.0

	// WeightReason is the abort reason used when the weight threshold is reached.
	WeightReason = "weight threshold reached"
)

// A WeightSource reports the current weight on the scale.
type WeightSource interface {
	CurrentWeight(ctx context.Context) (float64, error)
}

// A Dispatcher sends a request and waits for the named acknowledgement.
type Dispatcher interface {
	Call(ctx context.Context, req Message, expect string, timeout time.Duration) (Message, error)
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// WeightThreshold stops the mechanism once a reading reaches it.
	WeightThreshold float64

	// Timeout applies to every command family without an entry in Timeouts.
	Timeout  time.Duration
	Timeouts map[string]time.Duration
}

// Executor runs single commands. It never returns an error: every failure
// is reported as an Outcome with StatusError.
type Executor struct {
	link   Dispatcher
	abort  *Abort
	weight WeightSource
	cfg    ExecutorConfig
	log    logrus.FieldLogger
}

// NewExecutor creates an Executor. weight may be nil if no scale is attached.
func NewExecutor(link Dispatcher, abort *Abort, weight WeightSource, cfg ExecutorConfig, log logrus.FieldLogger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.WeightThreshold <= 0 {
		cfg.WeightThreshold = DefaultWeightThreshold
	}
	return &Executor{
		link:   link,
		abort:  abort,
		weight: weight,
		cfg:    cfg,
		log:    log,
	}
}

func (e *Executor) timeout(name string) time.Duration {
	if t, ok := e.cfg.Timeouts[name]; ok && t > 0 {
		return t
	}
	return e.cfg.Timeout
}

// Execute runs cmd and returns its outcome.
func (e *Executor) Execute(ctx context.Context, cmd Command) Outcome {
	switch c := cmd.(type) {
	case SetAbort:
		return e.setAbort(c)
	case Motion:
		return e.move(ctx, c)
	}
	return errorOutcome(cmd.Name(), fmt.Errorf("%w: unsupported command %q", ErrValidation, cmd.Name()))
}

func (e *Executor) setAbort(c SetAbort) Outcome {
	armed, reason, err := c.Values()
	if err != nil {
		return errorOutcome(c.Name(), err)
	}
	e.abort.Set(armed, reason)
	e.log.WithFields(logrus.Fields{"armed": armed, "reason": reason}).Info("stop mechanism set")
	return okOutcome(c.Name(), strPtr(reason))
}

func (e *Executor) move(ctx context.Context, m Motion) Outcome {
	name := m.Name()
	log := e.log.WithField("command", name)

	if armed, reason := e.abort.State(); armed {
		log.WithField("reason", reason).Info("mechanism stopped, skipping command")
		return completedOutcome(name, reason)
	}

	if e.weight != nil {
		w, err := e.weight.CurrentWeight(ctx)
		switch {
		case err != nil:
			log.WithError(err).Debug("no weight reading")
		case w >= e.cfg.WeightThreshold:
			e.abort.Arm(WeightReason)
			log.WithField("weight", w).Info("stopping mechanism: " + WeightReason)
			return completedOutcome(name, WeightReason)
		default:
			log.WithField("weight", w).Debug("current weight")
		}
	}

	req, err := m.Request()
	if err != nil {
		log.WithError(err).Warn("invalid command")
		return errorOutcome(name, err)
	}

	log.WithField("args", req.Args).Info("executing command")
	resp, err := e.link.Call(ctx, req, m.Done(), e.timeout(name))
	if err != nil {
		log.WithError(err).Error("command failed")
		return errorOutcome(name, err)
	}

	var data *string
	if len(resp.Args) > 0 {
		data = strPtr(formatArgs(resp.Args))
	}
	return okOutcome(name, data)
}
