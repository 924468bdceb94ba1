package machine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_RunBatch(t *testing.T) {
	ch := newFakeChannel()
	m := startMachine(t, ch, nil, Config{})

	res := m.RunBatch(context.Background(), []Command{cone(100), spout(90), ZeroSpout{}})
	assert.Equal(t, BatchOutcome{
		okOutcome("move_cone", nil),
		okOutcome("move_spout", nil),
		okOutcome("zero_spout", nil),
	}, res)
	assert.Equal(t, []string{"move_cone", "move_spout", "zero_spout"}, ch.sentNames())
}

func TestMachine_RunBatch_Timeout(t *testing.T) {
	ch := newFakeChannel()
	ch.silent["move_spout"] = true
	m := startMachine(t, ch, nil, Config{ExecutorConfig: ExecutorConfig{Timeout: 20 * time.Millisecond}})

	res := m.RunBatch(context.Background(), []Command{cone(100), spout(90), ZeroSpout{}})
	require.Len(t, res, 3)
	assert.Equal(t, okOutcome("move_cone", nil), res[0])
	assert.Equal(t, StatusError, res[1].Status)
	assert.Equal(t, "move_spout", res[1].Command)
	assert.Equal(t, completedOutcome(RemainingBatch, BatchStartReason), res[2])

	assert.Equal(t, []string{"move_cone", "move_spout"}, ch.sentNames())
}

func TestMachine_RunBatch_WeightStop(t *testing.T) {
	ch := newFakeChannel()
	scale := &fakeScale{weight: 10}
	m := startMachine(t, ch, scale, Config{})

	cmds := []Command{cone(1), cone(2), cone(3)}
	res := m.RunBatch(context.Background(), cmds[:1])
	assert.Equal(t, BatchOutcome{okOutcome("move_cone", nil)}, res)

	scale.set(350, nil)
	res = m.RunBatch(context.Background(), cmds)
	assert.Equal(t, BatchOutcome{
		completedOutcome("move_cone", WeightReason),
		completedOutcome(RemainingBatch, WeightReason),
	}, res)

	// a new batch starts clean once the cup is swapped
	scale.set(0, nil)
	res = m.RunBatch(context.Background(), cmds)
	assert.Len(t, res, 3)
	for _, o := range res {
		assert.Equal(t, StatusOK, o.Status)
	}
	assert.Len(t, ch.sentNames(), 4)
}

func TestMachine_RunBatch_ClearsAbort(t *testing.T) {
	ch := newFakeChannel()
	m := startMachine(t, ch, nil, Config{})

	m.Abort().Arm("left over")
	res := m.RunBatch(context.Background(), []Command{ZeroSpout{}})
	assert.Equal(t, BatchOutcome{okOutcome("zero_spout", nil)}, res)
	assert.Equal(t, BatchStartReason, m.Abort().Reason())
}

func TestMachine_RunBatch_KeepAbort(t *testing.T) {
	ch := newFakeChannel()
	m := startMachine(t, ch, nil, Config{KeepAbort: true})

	m.Abort().Arm("left over")
	res := m.RunBatch(context.Background(), []Command{ZeroSpout{}, cone(1)})
	assert.Equal(t, BatchOutcome{
		completedOutcome("zero_spout", "left over"),
		completedOutcome(RemainingBatch, "left over"),
	}, res)
	assert.Empty(t, ch.sentNames())
}

func TestMachine_RunBatch_SetAbort(t *testing.T) {
	ch := newFakeChannel()
	m := startMachine(t, ch, nil, Config{})

	res := m.RunBatch(context.Background(), []Command{cone(1), NewSetAbort(true, "pour done"), cone(2)})
	assert.Equal(t, BatchOutcome{
		okOutcome("move_cone", nil),
		okOutcome("stop_mechanism", strPtr("pour done")),
		completedOutcome(RemainingBatch, "pour done"),
	}, res)
	assert.Equal(t, []string{"move_cone"}, ch.sentNames())

	// disarming inside a batch keeps it going
	res = m.RunBatch(context.Background(), []Command{NewSetAbort(false, "resume"), cone(3)})
	assert.Len(t, res, 2)
	assert.Equal(t, StatusOK, res[1].Status)
}

func TestMachine_RunBatch_ValidationStops(t *testing.T) {
	ch := newFakeChannel()
	m := startMachine(t, ch, nil, Config{})

	res := m.RunBatch(context.Background(), []Command{MoveCone{Steps: Int(1)}, ZeroSpout{}})
	require.Len(t, res, 2)
	assert.Equal(t, StatusError, res[0].Status)
	assert.Equal(t, RemainingBatch, res[1].Command)
	assert.Empty(t, ch.sentNames())
}

func TestMachine_RunBatch_Empty(t *testing.T) {
	m := startMachine(t, newFakeChannel(), nil, Config{})
	m.Abort().Arm("x")
	res := m.RunBatch(context.Background(), nil)
	assert.Empty(t, res)
	assert.False(t, m.Abort().Armed())
}

func TestMachine_Handle(t *testing.T) {
	ch := newFakeChannel()
	m := startMachine(t, ch, nil, Config{})
	ctx := context.Background()

	m.Abort().Arm("stopped")
	req, err := DecodeRequest([]byte(`{"command":"zero_spout"}`))
	require.NoError(t, err)
	assert.Equal(t, completedOutcome("zero_spout", "stopped"), m.Handle(ctx, req))

	req, err = DecodeRequest([]byte(`[{"command":"zero_spout"}]`))
	require.NoError(t, err)
	assert.Equal(t, BatchOutcome{okOutcome("zero_spout", nil)}, m.Handle(ctx, req))
}

func TestMachine_ConcurrentBatches(t *testing.T) {
	ch := newFakeChannel()
	m := startMachine(t, ch, nil, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := m.RunBatch(context.Background(), []Command{cone(1), spout(2), ZeroSpout{}})
			for _, o := range res {
				assert.NotEqual(t, StatusError, o.Status)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ch.maxInflight)
}
