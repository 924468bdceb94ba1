package cmdmsg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/mastercactapus/brewmech/machine"
)

const (
	fieldSep = ','
	cmdSep   = ';'
	escape   = '/'
)

var (
	// ErrUnknownCommand is returned for a name or id not in the command table.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrFormat is returned when arguments don't match the command format.
	ErrFormat = errors.New("bad argument format")
)

// Command is one entry of a command table. The position in the table is the
// id sent on the wire.
//
// Format has one character per argument:
//
//	i  int16     I  uint16
//	l  int32     L  uint32
//	?  bool      s  string
type Command struct {
	Name   string
	Format string
}

// Codec translates messages to and from frames using a command table.
type Codec struct {
	cmds   []Command
	byName map[string]int
}

// NewCodec creates a Codec for the given command table.
func NewCodec(cmds []Command) *Codec {
	c := &Codec{cmds: cmds, byName: make(map[string]int, len(cmds))}
	for i, cmd := range cmds {
		c.byName[cmd.Name] = i
	}
	return c
}

// Encode returns the frame for msg including the command separator.
func (c *Codec) Encode(msg machine.Message) ([]byte, error) {
	id, ok := c.byName[msg.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, msg.Name)
	}
	format := c.cmds[id].Format
	if len(format) != len(msg.Args) {
		return nil, fmt.Errorf("%w: %s expects %d args, got %d", ErrFormat, msg.Name, len(format), len(msg.Args))
	}

	var buf bytes.Buffer
	buf.WriteString(strconv.Itoa(id))
	for i, arg := range msg.Args {
		data, err := pack(format[i], arg)
		if err != nil {
			return nil, fmt.Errorf("%s arg %d: %w", msg.Name, i, err)
		}
		buf.WriteByte(fieldSep)
		writeEscaped(&buf, data)
	}
	buf.WriteByte(cmdSep)
	return buf.Bytes(), nil
}

// Decode parses a frame without its command separator.
func (c *Codec) Decode(frame []byte) (machine.Message, error) {
	fields := splitFields(frame)
	id, err := strconv.Atoi(string(fields[0]))
	if err != nil || id < 0 || id >= len(c.cmds) {
		return machine.Message{}, fmt.Errorf("%w: id %q", ErrUnknownCommand, fields[0])
	}
	cmd := c.cmds[id]
	fields = fields[1:]
	if len(fields) != len(cmd.Format) {
		return machine.Message{}, fmt.Errorf("%w: %s expects %d args, got %d", ErrFormat, cmd.Name, len(cmd.Format), len(fields))
	}

	msg := machine.Message{Name: cmd.Name}
	for i, f := range fields {
		v, err := unpack(cmd.Format[i], f)
		if err != nil {
			return machine.Message{}, fmt.Errorf("%s arg %d: %w", cmd.Name, i, err)
		}
		msg.Args = append(msg.Args, v)
	}
	return msg, nil
}

func writeEscaped(buf *bytes.Buffer, data []byte) {
	for _, b := range data {
		if b == fieldSep || b == cmdSep || b == escape {
			buf.WriteByte(escape)
		}
		buf.WriteByte(b)
	}
}

// splitFields splits on unescaped field separators and removes escapes.
func splitFields(frame []byte) [][]byte {
	fields := [][]byte{{}}
	escaped := false
	for _, b := range frame {
		cur := len(fields) - 1
		switch {
		case escaped:
			fields[cur] = append(fields[cur], b)
			escaped = false
		case b == escape:
			escaped = true
		case b == fieldSep:
			fields = append(fields, []byte{})
		default:
			fields[cur] = append(fields[cur], b)
		}
	}
	return fields
}

func toInt64(arg interface{}) (int64, bool) {
	switch v := arg.(type) {
	case int:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	}
	return 0, false
}

func packInt(arg interface{}, min, max int64, size int) ([]byte, error) {
	v, ok := toInt64(arg)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an integer", ErrFormat, arg)
	}
	if v < min || v > max {
		return nil, fmt.Errorf("%w: %d out of range", ErrFormat, v)
	}
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(v))
	return data[:size], nil
}

func pack(f byte, arg interface{}) ([]byte, error) {
	switch f {
	case 'i':
		return packInt(arg, math.MinInt16, math.MaxInt16, 2)
	case 'I':
		return packInt(arg, 0, math.MaxUint16, 2)
	case 'l':
		return packInt(arg, math.MinInt32, math.MaxInt32, 4)
	case 'L':
		return packInt(arg, 0, math.MaxUint32, 4)
	case '?':
		b, ok := arg.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a bool", ErrFormat, arg)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case 's':
		s, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a string", ErrFormat, arg)
		}
		return []byte(s), nil
	}
	return nil, fmt.Errorf("%w: unknown format %q", ErrFormat, f)
}

func unpack(f byte, data []byte) (interface{}, error) {
	need := map[byte]int{'i': 2, 'I': 2, 'l': 4, 'L': 4, '?': 1}[f]
	if need > 0 && len(data) != need {
		return nil, fmt.Errorf("%w: %q needs %d bytes, got %d", ErrFormat, f, need, len(data))
	}
	switch f {
	case 'i':
		return int64(int16(binary.LittleEndian.Uint16(data))), nil
	case 'I':
		return int64(binary.LittleEndian.Uint16(data)), nil
	case 'l':
		return int64(int32(binary.LittleEndian.Uint32(data))), nil
	case 'L':
		return int64(binary.LittleEndian.Uint32(data)), nil
	case '?':
		return data[0] != 0, nil
	case 's':
		return string(bytes.TrimRight(data, "\x00")), nil
	}
	return nil, fmt.Errorf("%w: unknown format %q", ErrFormat, f)
}
