package machine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Request is one decoded request line: a single command or a batch.
type Request struct {
	Commands []Command

	// Batch is true if the line held an array, even one with a single element.
	Batch bool
}

// ErrorReply is the reply written for a line that could not be handled.
type ErrorReply struct {
	Error string `json:"error"`
}

// DecodeRequest decodes a request line holding a JSON object or an array of objects.
func DecodeRequest(line []byte) (*Request, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrMalformed)
	}

	if line[0] != '[' {
		cmd, err := DecodeCommand(line)
		if err != nil {
			return nil, err
		}
		return &Request{Commands: []Command{cmd}}, nil
	}

	var raws []json.RawMessage
	err := json.Unmarshal(line, &raws)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	req := &Request{Batch: true, Commands: make([]Command, 0, len(raws))}
	for i, raw := range raws {
		cmd, err := DecodeCommand(raw)
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
		req.Commands = append(req.Commands, cmd)
	}
	return req, nil
}

// DecodeCommand decodes a single command object.
func DecodeCommand(data []byte) (Command, error) {
	var head struct {
		Command *string `json:"command"`
	}
	err := json.Unmarshal(data, &head)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.Command == nil {
		return nil, fmt.Errorf("%w: missing 'command'", ErrMalformed)
	}

	var cmd Command
	switch *head.Command {
	case CmdMoveCone:
		var c MoveCone
		err = json.Unmarshal(data, &c)
		cmd = c
	case CmdMoveSpout:
		var c MoveSpout
		err = json.Unmarshal(data, &c)
		cmd = c
	case CmdMoveBoth:
		var c MoveBoth
		err = json.Unmarshal(data, &c)
		cmd = c
	case CmdZeroSpout:
		cmd = ZeroSpout{}
	case CmdStopMechanism:
		var c SetAbort
		err = json.Unmarshal(data, &c)
		cmd = c
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, *head.Command)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return cmd, nil
}

// MarshalCommand encodes cmd as a JSON object including its "command" field.
func MarshalCommand(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	err = json.Unmarshal(data, &fields)
	if err != nil {
		return nil, err
	}
	fields["command"], err = json.Marshal(cmd.Name())
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// EncodeBatch encodes cmds as a JSON array request line, without the trailing newline.
func EncodeBatch(cmds []Command) ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(cmds))
	for _, cmd := range cmds {
		data, err := MarshalCommand(cmd)
		if err != nil {
			return nil, err
		}
		raws = append(raws, data)
	}
	return json.Marshal(raws)
}

// DecodeReply decodes a reply line. A single outcome object is returned as a
// one-element BatchOutcome. An error reply is returned as an error.
func DecodeReply(line []byte) (BatchOutcome, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("%w: empty reply", ErrMalformed)
	}
	if line[0] == '[' {
		var res BatchOutcome
		err := json.Unmarshal(line, &res)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return res, nil
	}

	var obj struct {
		Outcome
		Error *string `json:"error"`
	}
	err := json.Unmarshal(line, &obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if obj.Error != nil {
		return nil, errors.New(*obj.Error)
	}
	return BatchOutcome{obj.Outcome}, nil
}
