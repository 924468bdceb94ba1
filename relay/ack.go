package relay

import "github.com/mastercactapus/brewmech/machine"

// Acknowledgement statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// CommandAck reports a single command of a batch.
type CommandAck struct {
	Command string `json:"command"`
	Status  string `json:"status"`
	Info    string `json:"info"`
}

// Ack summarises a batch for relay clients.
type Ack struct {
	Status            string       `json:"status"`
	TotalCommands     int          `json:"total_commands"`
	CompletedCommands int          `json:"completed_commands"`
	Commands          []CommandAck `json:"commands"`
}

// ErrorAck is sent when a message could not be relayed.
type ErrorAck struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func errorAck(err error) ErrorAck { return ErrorAck{Status: StatusError, Message: err.Error()} }

// Summarize builds the acknowledgement for a batch of total commands. A
// command stopped by the abort state counts as completed.
func Summarize(total int, res machine.BatchOutcome) Ack {
	ack := Ack{
		Status:        StatusError,
		TotalCommands: total,
		Commands:      make([]CommandAck, 0, len(res)),
	}
	for _, o := range res {
		if o.Command == machine.RemainingBatch {
			continue
		}
		c := CommandAck{Command: o.Command, Status: StatusError, Info: o.DataString()}
		switch o.Status {
		case machine.StatusOK, machine.StatusCompleted:
			c.Status = StatusOK
			ack.CompletedCommands++
			ack.Status = StatusOK
		}
		ack.Commands = append(ack.Commands, c)
	}
	return ack
}
