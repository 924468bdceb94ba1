package machine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Command names as used on the wire.
const (
	CmdMoveCone      = "move_cone"
	CmdMoveSpout     = "move_spout"
	CmdMoveBoth      = "move_both"
	CmdZeroSpout     = "zero_spout"
	CmdStopMechanism = "stop_mechanism"
)

// A Command is one logical mechanism command. The set of implementations
// is closed: MoveCone, MoveSpout, MoveBoth, ZeroSpout and SetAbort.
type Command interface {
	Name() string

	command()
}

// A Motion is a Command that results in physical movement and is
// acknowledged by the microcontroller.
type Motion interface {
	Command

	// Request validates the command and builds the message to send.
	Request() (Message, error)

	// Done is the name of the completion acknowledgement.
	Done() string
}

// Param is an integer argument as received from a client. Presence and
// integrality are checked when the command is validated, not when it is decoded.
type Param struct {
	raw json.RawMessage
}

// Int returns a Param holding v.
func Int(v int64) Param { return Param{raw: json.RawMessage(strconv.FormatInt(v, 10))} }

func (p *Param) UnmarshalJSON(data []byte) error {
	p.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (p Param) MarshalJSON() ([]byte, error) {
	if len(p.raw) == 0 {
		return []byte("null"), nil
	}
	return p.raw, nil
}

// IsSet reports if a non-null value was provided.
func (p Param) IsSet() bool { return !isNull(p.raw) }

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// Int64 returns the integer value of p.
func (p Param) Int64() (int64, error) {
	if !p.IsSet() {
		return 0, fmt.Errorf("%w: missing value", ErrValidation)
	}
	v, err := strconv.ParseInt(string(bytes.TrimSpace(p.raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not an integer", ErrValidation, p.raw)
	}
	return v, nil
}

// field validates p as a signed integer of the given bit size.
func field(name string, p Param, bits uint) (int64, error) {
	v, err := p.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: invalid or missing '%s' in command", ErrValidation, name)
	}
	max := int64(1)<<(bits-1) - 1
	min := -max - 1
	if v < min || v > max {
		return 0, fmt.Errorf("%w: '%s' out of range (%d)", ErrValidation, name, v)
	}
	return v, nil
}

type fieldSpec struct {
	name string
	p    Param
	bits uint
}

func buildRequest(cmd string, fields ...fieldSpec) (Message, error) {
	msg := Message{Name: cmd, Args: make([]interface{}, 0, len(fields))}
	for _, f := range fields {
		v, err := field(f.name, f.p, f.bits)
		if err != nil {
			return Message{}, err
		}
		msg.Args = append(msg.Args, v)
	}
	return msg, nil
}

// MoveCone rotates the cone stepper.
type MoveCone struct {
	Steps     Param `json:"steps"`
	Speed     Param `json:"speed"`
	Direction Param `json:"direction"`
}

func (MoveCone) Name() string { return CmdMoveCone }
func (MoveCone) Done() string { return "cone_done" }
func (MoveCone) command()     {}

func (c MoveCone) Request() (Message, error) {
	return buildRequest(CmdMoveCone,
		fieldSpec{"steps", c.Steps, 32},
		fieldSpec{"speed", c.Speed, 16},
		fieldSpec{"direction", c.Direction, 16},
	)
}

// MoveSpout rotates the spout stepper by a number of degrees.
type MoveSpout struct {
	Degrees   Param `json:"degrees"`
	Speed     Param `json:"speed"`
	Direction Param `json:"direction"`
}

func (MoveSpout) Name() string { return CmdMoveSpout }
func (MoveSpout) Done() string { return "spout_done" }
func (MoveSpout) command()     {}

func (c MoveSpout) Request() (Message, error) {
	return buildRequest(CmdMoveSpout,
		fieldSpec{"degrees", c.Degrees, 32},
		fieldSpec{"speed", c.Speed, 16},
		fieldSpec{"direction", c.Direction, 16},
	)
}

// MoveBoth moves the cone and spout together.
type MoveBoth struct {
	ConeSteps    Param `json:"cone_steps"`
	ConeSpeed    Param `json:"cone_speed"`
	SpoutDegrees Param `json:"spout_degrees"`
	SpoutSpeed   Param `json:"spout_speed"`
	Direction    Param `json:"direction"`
}

func (MoveBoth) Name() string { return CmdMoveBoth }
func (MoveBoth) Done() string { return "both_done" }
func (MoveBoth) command()     {}

func (c MoveBoth) Request() (Message, error) {
	return buildRequest(CmdMoveBoth,
		fieldSpec{"cone_steps", c.ConeSteps, 32},
		fieldSpec{"cone_speed", c.ConeSpeed, 16},
		fieldSpec{"spout_degrees", c.SpoutDegrees, 32},
		fieldSpec{"spout_speed", c.SpoutSpeed, 16},
		fieldSpec{"direction", c.Direction, 16},
	)
}

// ZeroSpout homes the spout stepper.
type ZeroSpout struct{}

func (ZeroSpout) Name() string { return CmdZeroSpout }
func (ZeroSpout) Done() string { return "zero_done" }
func (ZeroSpout) command()     {}

func (ZeroSpout) Request() (Message, error) { return Message{Name: CmdZeroSpout}, nil }

// SetAbort arms or disarms the abort state. It never touches the hardware.
//
// Clients send the flag as "state"; "armed" is accepted as well.
type SetAbort struct {
	State  json.RawMessage `json:"state,omitempty"`
	Armed  json.RawMessage `json:"armed,omitempty"`
	Reason json.RawMessage `json:"reason,omitempty"`
}

// NewSetAbort returns a SetAbort command.
func NewSetAbort(armed bool, reason string) SetAbort {
	s, _ := json.Marshal(armed)
	r, _ := json.Marshal(reason)
	return SetAbort{State: s, Reason: r}
}

func (SetAbort) Name() string { return CmdStopMechanism }
func (SetAbort) command()     {}

// Values validates and returns the requested state and reason.
func (c SetAbort) Values() (armed bool, reason string, err error) {
	raw := c.State
	if len(raw) == 0 {
		raw = c.Armed
	}
	if isNull(raw) || json.Unmarshal(raw, &armed) != nil {
		return false, "", fmt.Errorf("%w: 'state' must be a boolean", ErrValidation)
	}
	if isNull(c.Reason) || json.Unmarshal(c.Reason, &reason) != nil {
		return false, "", fmt.Errorf("%w: 'reason' must be a string", ErrValidation)
	}
	return armed, reason, nil
}
