package machine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// BatchStartReason is recorded when a batch clears the abort state. It is
// reported by a batch that is cut short by an error.
const BatchStartReason = "starting new batch"

// Config configures a Machine.
type Config struct {
	ExecutorConfig

	PollInterval time.Duration

	// KeepAbort leaves the abort state untouched at the start of a batch
	// instead of clearing it.
	KeepAbort bool
}

// Machine coordinates batches of commands against a single microcontroller.
type Machine struct {
	link  *Link
	abort *Abort
	exec  *Executor
	cfg   Config
	log   logrus.FieldLogger
}

// NewMachine creates a Machine talking over ch. weight may be nil.
func NewMachine(ch Channel, weight WeightSource, cfg Config, log logrus.FieldLogger) *Machine {
	link := NewLink(ch, cfg.PollInterval, log.WithField("component", "link"))
	abort := NewAbort()
	return &Machine{
		link:  link,
		abort: abort,
		exec:  NewExecutor(link, abort, weight, cfg.ExecutorConfig, log.WithField("component", "executor")),
		cfg:   cfg,
		log:   log,
	}
}

// Run services the channel until ctx is done.
func (m *Machine) Run(ctx context.Context) error { return m.link.Run(ctx) }

// Abort returns the shared abort state.
func (m *Machine) Abort() *Abort { return m.abort }

// Execute runs a single command outside of a batch. The abort state is
// left as it is and no RemainingBatch entry is produced.
func (m *Machine) Execute(ctx context.Context, cmd Command) Outcome {
	return m.exec.Execute(ctx, cmd)
}

// RunBatch runs cmds in order. The first command that errors, is skipped
// because the mechanism is stopped, or stops the mechanism ends the batch;
// a RemainingBatch entry is appended in that case.
func (m *Machine) RunBatch(ctx context.Context, cmds []Command) BatchOutcome {
	if !m.cfg.KeepAbort {
		m.abort.Disarm(BatchStartReason)
		m.log.Debug("cleared stop state for new batch")
	}

	res := make(BatchOutcome, 0, len(cmds)+1)
	for i, cmd := range cmds {
		m.log.WithFields(logrus.Fields{"command": cmd.Name(), "index": i}).Info("processing command from batch")
		o := m.exec.Execute(ctx, cmd)
		res = append(res, o)

		armed, reason := m.abort.State()
		if !o.ShortCircuited() && !armed {
			continue
		}
		if armed {
			m.log.WithField("reason", reason).Info("stopping batch processing")
		}
		res = append(res, completedOutcome(RemainingBatch, reason))
		break
	}
	return res
}

// Handle runs a decoded request. It returns an Outcome for a single command
// and a BatchOutcome for a batch.
func (m *Machine) Handle(ctx context.Context, req *Request) interface{} {
	if !req.Batch && len(req.Commands) == 1 {
		return m.Execute(ctx, req.Commands[0])
	}
	return m.RunBatch(ctx, req.Commands)
}
