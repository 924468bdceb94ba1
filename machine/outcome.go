package machine

import (
	"encoding/json"
	"fmt"
)

// Status is the result class of a single command.
type Status string

const (
	// StatusOK means the command ran and was acknowledged by the hardware.
	StatusOK Status = "ok"

	// StatusError means the command failed: validation, transport, timeout or hardware.
	StatusError Status = "error"

	// StatusCompleted means the command was not executed because the
	// mechanism was stopped. It is not a failure.
	StatusCompleted Status = "completed"
)

func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	err := json.Unmarshal(data, &str)
	if err != nil {
		return err
	}
	switch Status(str) {
	case StatusOK, StatusError, StatusCompleted:
		*s = Status(str)
		return nil
	}
	return fmt.Errorf("unknown status %q", str)
}

// RemainingBatch is the command name of the synthetic outcome that stands in for
// every command of a batch that was not run.
const RemainingBatch = "remaining_batch"

// Outcome is the result of one command.
type Outcome struct {
	Command string  `json:"command"`
	Status  Status  `json:"status"`
	Data    *string `json:"data"`
}

// BatchOutcome holds the outcomes of a batch in submission order. A batch that
// was cut short ends with a RemainingBatch entry.
type BatchOutcome []Outcome

func strPtr(s string) *string { return &s }

func okOutcome(cmd string, data *string) Outcome {
	return Outcome{Command: cmd, Status: StatusOK, Data: data}
}

func completedOutcome(cmd, reason string) Outcome {
	return Outcome{Command: cmd, Status: StatusCompleted, Data: strPtr(reason)}
}

func errorOutcome(cmd string, err error) Outcome {
	return Outcome{Command: cmd, Status: StatusError, Data: strPtr(err.Error())}
}

// ShortCircuited reports if the outcome stops the rest of a batch.
func (o Outcome) ShortCircuited() bool {
	return o.Status == StatusCompleted || o.Status == StatusError
}

// DataString returns Data or an empty string.
func (o Outcome) DataString() string {
	if o.Data == nil {
		return ""
	}
	return *o.Data
}
