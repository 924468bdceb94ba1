package machine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Validation(t *testing.T) {
	ch := newFakeChannel()
	m := startMachine(t, ch, nil, Config{})
	ctx := context.Background()

	cmds := []Command{
		MoveCone{Speed: Int(1), Direction: Int(1)},
		MoveCone{Steps: Int(1), Speed: Int(1)},
		MoveSpout{Degrees: Int(1), Speed: Int(1)},
		MoveBoth{ConeSteps: Int(1), ConeSpeed: Int(1), SpoutDegrees: Int(1), Direction: Int(0)},
	}
	for _, line := range []string{
		`{"command":"move_cone","steps":1.5,"speed":1,"direction":1}`,
		`{"command":"move_spout","degrees":"90","speed":1,"direction":1}`,
		`{"command":"move_both","cone_steps":1,"cone_speed":1,"spout_degrees":1,"spout_speed":null,"direction":1}`,
		`{"command":"stop_mechanism","state":"yes","reason":"x"}`,
	} {
		cmd, err := DecodeCommand([]byte(line))
		require.NoError(t, err)
		cmds = append(cmds, cmd)
	}

	for _, cmd := range cmds {
		o := m.Execute(ctx, cmd)
		assert.Equal(t, StatusError, o.Status, cmd.Name())
		assert.Equal(t, cmd.Name(), o.Command)
		assert.Contains(t, o.DataString(), "validation error")
	}
	assert.Empty(t, ch.sentNames())
	assert.False(t, m.Abort().Armed())
}

func TestExecutor_Armed(t *testing.T) {
	ch := newFakeChannel()
	scale := &fakeScale{}
	m := startMachine(t, ch, scale, Config{})
	ctx := context.Background()

	m.Abort().Arm("cup removed")
	for _, cmd := range []Command{cone(10), spout(5), ZeroSpout{}, MoveBoth{}} {
		o := m.Execute(ctx, cmd)
		assert.Equal(t, completedOutcome(cmd.Name(), "cup removed"), o)
	}
	assert.Empty(t, ch.sentNames())
	assert.Zero(t, scale.calls)
}

func TestExecutor_WeightThreshold(t *testing.T) {
	ch := newFakeChannel()
	scale := &fakeScale{weight: 300}
	m := startMachine(t, ch, scale, Config{})
	ctx := context.Background()

	o := m.Execute(ctx, cone(10))
	assert.Equal(t, completedOutcome("move_cone", WeightReason), o)
	armed, reason := m.Abort().State()
	assert.True(t, armed)
	assert.Equal(t, WeightReason, reason)

	o = m.Execute(ctx, spout(10))
	assert.Equal(t, StatusCompleted, o.Status)
	assert.Equal(t, 1, scale.calls)
	assert.Empty(t, ch.sentNames())
}

func TestExecutor_WeightBelowThreshold(t *testing.T) {
	ch := newFakeChannel()
	scale := &fakeScale{weight: 120.5}
	m := startMachine(t, ch, scale, Config{ExecutorConfig: ExecutorConfig{WeightThreshold: 150}})

	o := m.Execute(context.Background(), cone(0))
	assert.Equal(t, okOutcome("move_cone", nil), o)
	assert.Equal(t, []string{"move_cone"}, ch.sentNames())

	scale.set(151, nil)
	o = m.Execute(context.Background(), cone(0))
	assert.Equal(t, StatusCompleted, o.Status)
}

func TestExecutor_NoWeightReading(t *testing.T) {
	ch := newFakeChannel()
	scale := &fakeScale{weight: 1000, err: errNoScale}
	m := startMachine(t, ch, scale, Config{})

	o := m.Execute(context.Background(), ZeroSpout{})
	assert.Equal(t, okOutcome("zero_spout", nil), o)
	assert.False(t, m.Abort().Armed())
}

func TestExecutor_SetAbort(t *testing.T) {
	ch := newFakeChannel()
	m := startMachine(t, ch, nil, Config{})
	ctx := context.Background()

	o := m.Execute(ctx, NewSetAbort(true, "operator stop"))
	assert.Equal(t, okOutcome("stop_mechanism", strPtr("operator stop")), o)
	assert.True(t, m.Abort().Armed())

	o = m.Execute(ctx, NewSetAbort(true, "again"))
	assert.Equal(t, StatusOK, o.Status)
	assert.Equal(t, "again", m.Abort().Reason())

	o = m.Execute(ctx, NewSetAbort(false, "resume"))
	assert.Equal(t, StatusOK, o.Status)
	assert.False(t, m.Abort().Armed())
	assert.Empty(t, ch.sentNames())
}

func TestExecutor_Failures(t *testing.T) {
	ch := newFakeChannel()
	ch.fail["move_both"] = "stall"
	ch.silent["move_spout"] = true
	m := startMachine(t, ch, nil, Config{ExecutorConfig: ExecutorConfig{
		Timeouts: map[string]time.Duration{"move_spout": 20 * time.Millisecond},
	}})
	ctx := context.Background()

	o := m.Execute(ctx, MoveBoth{
		ConeSteps: Int(1), ConeSpeed: Int(1), SpoutDegrees: Int(1), SpoutSpeed: Int(1), Direction: Int(1),
	})
	assert.Equal(t, StatusError, o.Status)
	assert.Contains(t, o.DataString(), "stall")

	o = m.Execute(ctx, spout(45))
	assert.Equal(t, StatusError, o.Status)
	assert.Contains(t, o.DataString(), "timeout")

	assert.Equal(t, []string{"move_both", "move_spout"}, ch.sentNames())
}

type payloadChannel struct{ *fakeChannel }

func (p *payloadChannel) Receive() (Message, bool, error) {
	msg, ok, err := p.fakeChannel.Receive()
	if ok {
		msg.Args = []interface{}{int64(42), "steps"}
	}
	return msg, ok, err
}

func TestExecutor_ResponsePayload(t *testing.T) {
	ch := &payloadChannel{newFakeChannel()}
	m := startMachine(t, ch, nil, Config{})

	o := m.Execute(context.Background(), cone(42))
	assert.Equal(t, okOutcome("move_cone", strPtr("42,steps")), o)
}
