package directnet

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	require := require.New(t)

	reg := NewRegistry()
	_, err := reg.AddPort("line1", newFakeTransport(nil))
	require.NoError(err)
	_, err = reg.AddPort("line1", newFakeTransport(nil))
	require.ErrorIs(err, ErrDuplicatePort)
	_, err = reg.AddPort("line2", newFakeTransport(nil))
	require.NoError(err)

	plc, err := reg.AddTarget("plc1", 1, "line1", VariantWire)
	require.NoError(err)
	require.Equal("plc1", plc.Name())
	require.Equal(uint8(1), plc.SlaveID())
	require.Equal("line1", plc.Port())
	require.Equal(VariantWire, plc.Variant())
	require.NotNil(plc.Metrics())

	_, err = reg.AddTarget("plc1", 2, "line1", VariantWire)
	require.ErrorIs(err, ErrDuplicateName)
	_, err = reg.AddTarget("plc2", 1, "line1", VariantSimulator)
	require.ErrorIs(err, ErrDuplicateSlave)
	_, err = reg.AddTarget("plc2", 1, "line2", VariantSimulator)
	require.NoError(err, "the same slave id may be reused on another port")
	_, err = reg.AddTarget("plc3", 0, "line1", VariantWire)
	require.ErrorIs(err, ErrInvalidSlaveID)
	_, err = reg.AddTarget("plc3", MaxSlaveID+1, "line1", VariantWire)
	require.ErrorIs(err, ErrInvalidSlaveID)
	_, err = reg.AddTarget("plc3", MaxSlaveID, "nowhere", VariantWire)
	require.ErrorIs(err, ErrUnknownPort)

	targets := reg.Targets()
	require.Len(targets, 2)
	require.Equal("plc1", targets[0].Name())
	require.Equal("plc2", targets[1].Name())

	got, ok := reg.Target("plc2")
	require.True(ok)
	require.Equal("line2", got.Port())
	require.NoError(reg.Close())
}

// newTestClient builds an opened client with one wire target "plc" (slave 1) and
// one simulator target "sim" (slave 2) on a single port backed by tr.
func newTestClient(t *testing.T, tr Transport, opts ...Option) *Client {
	t.Helper()

	reg := NewRegistry()
	_, err := reg.AddPort("line", tr)
	require.NoError(t, err)
	_, err = reg.AddTarget("plc", 1, "line", VariantWire)
	require.NoError(t, err)
	_, err = reg.AddTarget("sim", 2, "line", VariantSimulator)
	require.NoError(t, err)

	defaults := []Option{
		WithEnqAckTimeout(50 * time.Millisecond),
		WithHeaderAckTimeout(50 * time.Millisecond),
		WithDataAckTimeout(100 * time.Millisecond),
		WithSimulatorTimeout(200 * time.Millisecond),
		WithTimeoutMargin(0),
		WithByteRate(MaxByteRate),
	}

	c, err := NewClient(context.Background(), reg, append(defaults, opts...)...)
	require.NoError(t, err)
	require.NoError(t, c.Open())
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func TestClient_SubmitRead(t *testing.T) {
	require := require.New(t)

	slave := &wireSlave{id: 1, readData: []byte{0x11, 0x22, 0x33, 0x44}}
	c := newTestClient(t, newFakeTransport(slave.respond))

	var calls int
	msg := &Message{
		Target:   "plc",
		Command:  OpReadVMem,
		Address:  1,
		Data:     make([]byte, 4),
		Callback: func(*Message) { calls++ },
		Owner:    "record-1",
	}
	require.NoError(c.Bind(msg))

	variant, err := msg.Variant()
	require.NoError(err)
	require.Equal(VariantWire, variant)

	done, err := c.Submit(msg)
	require.NoError(err)

	select {
	case status := <-done:
		require.Equal(Success, status)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for completion")
	}

	require.Equal(Success, msg.Status)
	require.Equal(1, calls)
	require.Equal([]byte{0x11, 0x22, 0x33, 0x44}, msg.Data)
	require.Equal(OpReadVMem.WithSlave(1), msg.Command)
	require.False(msg.InFlight())
	require.Equal("record-1", msg.Owner)

	m := msg.BoundTarget().Metrics()
	require.Equal(uint64(1), m.ReadRequests.Load())
	require.Equal(uint64(1), m.SuccessCount.Load())
	require.Equal(int64(0), m.InflightCount.Load())

	// the message is reusable once completed
	status, err := c.Do(context.Background(), msg)
	require.NoError(err)
	require.Equal(Success, status)
	require.Equal(2, calls)
}

func TestClient_SimulatorTarget(t *testing.T) {
	dev := &simResponder{reply: func(cmd string) string {
		if cmd[0] == 'R' {
			return "D 02 beef\n"
		}
		return "A\n"
	}}
	c := newTestClient(t, newFakeTransport(dev.respond))

	buf := make([]byte, 2)
	status, err := c.Read(context.Background(), "sim", OpReadVMem, 0x10, buf)
	require.NoError(t, err)
	assert.Equal(t, Success, status)
	assert.Equal(t, []byte{0xBE, 0xEF}, buf)
	assert.Equal(t, "R 02 01 0010 0002\n", dev.lines[0])

	status, err = c.Write(context.Background(), "sim", OpReadVMem, 0x10, []byte{1})
	require.NoError(t, err)
	assert.Equal(t, Success, status)
}

func TestClient_FailedReadKeepsStaleData(t *testing.T) {
	c := newTestClient(t, newFakeTransport((&wireSlave{id: 1, silent: true}).respond))

	msg := &Message{Target: "plc", Command: OpReadVMem, Data: []byte{1, 2, 3}}
	require.NoError(t, c.Bind(msg))

	status, err := c.Do(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, SelectFail, status)
	assert.Equal(t, SelectFail, msg.Status)
	assert.Equal(t, []byte{1, 2, 3}, msg.Data)
	assert.Equal(t, uint64(1), msg.BoundTarget().Metrics().ProtocolErrCount.Load())
}

func TestClient_SubmitErrors(t *testing.T) {
	require := require.New(t)

	c := newTestClient(t, newFakeTransport(nil))

	msg := &Message{Target: "plc", Command: OpReadVMem, Data: make([]byte, 1)}
	_, err := c.Submit(msg)
	require.ErrorIs(err, ErrNotBound)

	require.ErrorIs(c.Bind(&Message{Target: "missing"}), ErrUnknownTarget)

	require.NoError(c.Bind(msg))
	msg.Data = nil
	_, err = c.Submit(msg)
	require.ErrorIs(err, ErrInvalidLength)

	msg.Data = make([]byte, MaxTransferSize+1)
	_, err = c.Submit(msg)
	require.ErrorIs(err, ErrInvalidLength)

	require.NoError(c.Unbind(msg))
	require.ErrorIs(c.Unbind(msg), ErrNotBound)

	require.NoError(c.Close())
	msg.Data = make([]byte, 1)
	require.NoError(c.Bind(msg))
	_, err = c.Submit(msg)
	require.ErrorIs(err, ErrClientClosed)
}

func TestClient_QueueTimeoutAndInFlight(t *testing.T) {
	require := require.New(t)

	slave := &wireSlave{id: 1, readData: []byte{5}}
	tr := newFakeTransport(slave.respond)
	tr.gate = make(chan struct{})
	c := newTestClient(t, tr, WithQueueTimeout(50*time.Millisecond))

	var secondCalls atomic.Int32
	first := &Message{Target: "plc", Command: OpReadVMem, Data: make([]byte, 1)}
	second := &Message{
		Target:   "plc",
		Command:  OpReadVMem,
		Data:     []byte{0xEE},
		Callback: func(*Message) { secondCalls.Add(1) },
	}
	require.NoError(c.Bind(first))
	require.NoError(c.Bind(second))

	firstDone, err := c.Submit(first)
	require.NoError(err)

	// wait until the worker has started the first exchange
	require.Eventually(func() bool {
		return first.BoundTarget().Metrics().InflightCount.Load() == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, err = c.Submit(first)
	require.ErrorIs(err, ErrInFlight)

	secondDone, err := c.Submit(second)
	require.NoError(err)

	select {
	case status := <-secondDone:
		require.Equal(Timeout, status)
	case <-time.After(2 * time.Second):
		t.Fatal("queued request did not time out")
	}
	require.Equal(Timeout, second.Status)
	require.Equal([]byte{0xEE}, second.Data)

	close(tr.gate)

	select {
	case status := <-firstDone:
		require.Equal(Success, status, "a started exchange is not cut by the queue deadline")
	case <-time.After(2 * time.Second):
		t.Fatal("running request did not complete")
	}

	require.Equal(uint64(1), second.BoundTarget().Metrics().QueueErrCount.Load())
	require.Equal(int32(1), secondCalls.Load(), "the skipped request is not completed again")
}

func TestClient_FIFOOrder(t *testing.T) {
	slave := &wireSlave{id: 1, readData: make([]byte, 8)}
	c := newTestClient(t, newFakeTransport(slave.respond))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	msgs := make([]*Message, 5)
	for i := range msgs {
		idx := i
		msgs[i] = &Message{
			Target:  "plc",
			Command: OpReadVMem,
			Address: uint16(i),
			Data:    make([]byte, 1),
			Callback: func(*Message) {
				mu.Lock()
				order = append(order, idx)
				mu.Unlock()
				wg.Done()
			},
		}
		require.NoError(t, c.Bind(msgs[i]))
	}

	wg.Add(len(msgs))
	for _, m := range msgs {
		_, err := c.Submit(m)
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestClient_CloseResolvesQueued(t *testing.T) {
	require := require.New(t)

	slave := &wireSlave{id: 1, readData: []byte{5}}
	tr := newFakeTransport(slave.respond)
	tr.gate = make(chan struct{})
	c := newTestClient(t, tr)

	first := &Message{Target: "plc", Command: OpReadVMem, Data: make([]byte, 1)}
	second := &Message{Target: "plc", Command: OpReadVMem, Data: make([]byte, 1)}
	require.NoError(c.Bind(first))
	require.NoError(c.Bind(second))

	firstDone, err := c.Submit(first)
	require.NoError(err)
	require.Eventually(func() bool {
		return first.BoundTarget().Metrics().InflightCount.Load() == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	secondDone, err := c.Submit(second)
	require.NoError(err)

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	time.Sleep(20 * time.Millisecond)
	close(tr.gate)

	require.Equal(Success, <-firstDone)
	require.Equal(Internal, <-secondDone)
	require.NoError(<-closed)
}

func TestClient_ConnStatus(t *testing.T) {
	tr := newFakeTransport(nil)
	c := newTestClient(t, tr)

	got := make(chan bool, 2)
	msg := &Message{
		Target:     "plc",
		Command:    OpReadVMem,
		Data:       make([]byte, 1),
		ConnStatus: func(_ *Message, connected bool) { got <- connected },
	}
	require.NoError(t, c.Bind(msg))
	require.NoError(t, c.Bind(&Message{Target: "sim"})) // no ConnStatus callback

	tr.setConnected(false)
	tr.setConnected(true)

	assert.False(t, <-got)
	assert.True(t, <-got)

	require.NoError(t, c.Unbind(msg))
	tr.setConnected(false)
	assert.Empty(t, got)
}

func TestClient_DoContextCancel(t *testing.T) {
	slave := &wireSlave{id: 1, readData: []byte{5}}
	tr := newFakeTransport(slave.respond)
	tr.gate = make(chan struct{})
	c := newTestClient(t, tr)
	defer close(tr.gate)

	msg := &Message{Target: "plc", Command: OpReadVMem, Data: make([]byte, 1)}
	require.NoError(t, c.Bind(msg))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	status, err := c.Do(ctx, msg)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Internal, status)
}

func TestClient_Reopen(t *testing.T) {
	slave := &wireSlave{id: 1, readData: []byte{5}}
	c := newTestClient(t, newFakeTransport(slave.respond))

	require.NoError(t, c.Close())
	require.NoError(t, c.Open())

	buf := make([]byte, 1)
	status, err := c.Read(context.Background(), "plc", OpReadVMem, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, Success, status)
	assert.Equal(t, []byte{5}, buf)
}

// panicTransport panics on the first n reads, then behaves like fakeTransport.
type panicTransport struct {
	*fakeTransport
	n atomic.Int32
}

func (p *panicTransport) Read(b []byte, timeout time.Duration) (int, ReadReason, error) {
	if p.n.Add(-1) >= 0 {
		panic("line driver fault")
	}

	return p.fakeTransport.Read(b, timeout)
}

func TestClient_TransportPanic(t *testing.T) {
	require := require.New(t)

	slave := &wireSlave{id: 1, readData: []byte{0x42}}
	tr := &panicTransport{fakeTransport: newFakeTransport(slave.respond)}
	tr.n.Store(1)
	c := newTestClient(t, tr)

	var calls atomic.Int32
	first := &Message{
		Target:   "plc",
		Command:  OpReadVMem,
		Data:     make([]byte, 1),
		Callback: func(*Message) { calls.Add(1) },
	}
	require.NoError(c.Bind(first))

	done, err := c.Submit(first)
	require.NoError(err)

	select {
	case status := <-done:
		require.Equal(Internal, status)
	case <-time.After(2 * time.Second):
		t.Fatal("request was not completed after a transport panic")
	}
	require.False(first.InFlight())
	require.Equal(int32(1), calls.Load())

	// the worker keeps serving the port
	buf := make([]byte, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	status, err := c.Read(ctx, "plc", OpReadVMem, 0, buf)
	require.NoError(err)
	require.Equal(Success, status)
	require.Equal([]byte{0x42}, buf)
}

func TestClient_SubmitAfterShutdown(t *testing.T) {
	require := require.New(t)

	slave := &wireSlave{id: 1, readData: []byte{5}}
	c := newTestClient(t, newFakeTransport(slave.respond))

	msg := &Message{Target: "plc", Command: OpReadVMem, Data: make([]byte, 1)}
	require.NoError(c.Bind(msg))

	pw, ok := c.workers.Load("line")
	require.True(ok)
	require.NoError(c.Close())

	// a submission that passed the open check just before Close
	require.True(msg.inFlight.CompareAndSwap(false, true))
	req := &request{msg: msg, target: msg.BoundTarget(), done: make(chan Status, 1)}
	req.target.metrics.incRequest(false)
	pw.submit(req)

	select {
	case status := <-req.done:
		require.Equal(Internal, status)
	case <-time.After(time.Second):
		t.Fatal("late submission was not resolved by the closed worker")
	}
	require.False(msg.InFlight())
	require.Equal(int64(0), req.target.Metrics().InflightCount.Load())

	require.NoError(c.Open())
	status, err := c.Do(context.Background(), msg)
	require.NoError(err)
	require.Equal(Success, status)
}
