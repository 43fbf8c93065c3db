package trigger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	regs     map[uint16]uint16
	readErr  error
	writeErr error
	writes   int
	closed   bool
}

func newFake(reg, v uint16) *fakeClient {
	return &fakeClient{regs: map[uint16]uint16{reg: v}}
}

func (f *fakeClient) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([]uint16, qty)
	for i := range out {
		out[i] = f.regs[addr+uint16(i)]
	}
	return out, nil
}

func (f *fakeClient) WriteSingleRegister(addr, value uint16) error {
	f.writes++
	if f.writeErr != nil {
		return f.writeErr
	}
	f.regs[addr] = value
	return nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Interval: 0}, &fakeClient{}, nil)
	assert.Error(t, err)

	_, err = New(Config{Interval: time.Second}, nil, nil)
	assert.Error(t, err)
}

func TestPollOnce_Idle(t *testing.T) {
	cli := newFake(40, 0)
	p, err := New(Config{Register: 40, Interval: time.Second}, cli, nil)
	require.NoError(t, err)

	_, ok, err := p.PollOnce()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, cli.writes, "idle register is not acknowledged")
}

func TestPollOnce_RequestAcknowledged(t *testing.T) {
	cli := newFake(40, 7)
	p, err := New(Config{Register: 40, Interval: time.Second}, cli, nil)
	require.NoError(t, err)

	req, ok, err := p.PollOnce()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint16(7), req.Code)
	assert.False(t, req.At.IsZero())
	assert.Zero(t, cli.regs[40])

	_, ok, err = p.PollOnce()
	require.NoError(t, err)
	assert.False(t, ok, "one request per rising value")
}

func TestPollOnce_FailedAckDoesNotEmit(t *testing.T) {
	cli := newFake(40, 1)
	cli.writeErr = errors.New("broken pipe")
	p, err := New(Config{Register: 40, Interval: time.Second}, cli, nil)
	require.NoError(t, err)

	_, ok, err := p.PollOnce()
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint16(1), cli.regs[40])
}

func TestPollOnce_ReconnectsThroughFactory(t *testing.T) {
	dead := newFake(40, 0)
	dead.readErr = errors.New("connection reset")
	fresh := newFake(40, 3)

	dials := 0
	factory := func() (Client, error) {
		dials++
		return fresh, nil
	}

	p, err := New(Config{Register: 40, Interval: time.Second}, dead, factory)
	require.NoError(t, err)

	_, _, err = p.PollOnce()
	require.Error(t, err)
	assert.True(t, dead.closed, "dead client discarded")

	req, ok, err := p.PollOnce()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint16(3), req.Code)
	assert.Equal(t, 1, dials)
}

func TestPollOnce_FactoryFailure(t *testing.T) {
	factory := func() (Client, error) { return nil, errors.New("refused") }
	p, err := New(Config{Register: 1, Interval: time.Second}, nil, factory)
	require.NoError(t, err)

	_, ok, err := p.PollOnce()
	assert.ErrorContains(t, err, "refused")
	assert.False(t, ok)
}

func TestRun_EmitsAndStops(t *testing.T) {
	cli := newFake(40, 5)
	p, err := New(Config{Register: 40, Interval: time.Millisecond}, cli, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Request)
	done := make(chan struct{})
	go func() {
		p.Run(ctx, out)
		close(done)
	}()

	select {
	case req := <-out:
		assert.Equal(t, uint16(5), req.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("no request emitted")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
