package comm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type sendRecorder struct {
	frames [][]byte
	err    error
}

func (r *sendRecorder) Send(frame []byte) error {
	r.frames = append(r.frames, frame)
	return r.err
}

func newTestDispatcher(sender Sender) *Dispatcher {
	return NewDispatcher(1, sender).
		Handle(0x01, func(ctx context.Context, req *Frame) ([]byte, error) {
			return nil, nil
		}).
		Handle(0x20, func(ctx context.Context, req *Frame) ([]byte, error) {
			return []byte{0x12, 0x34}, nil
		}).
		Handle(0x21, func(ctx context.Context, req *Frame) ([]byte, error) {
			return []byte{}, nil
		}).
		Handle(0x30, func(ctx context.Context, req *Frame) ([]byte, error) {
			return req.Payload, nil
		}).
		Handle(0x40, func(ctx context.Context, req *Frame) ([]byte, error) {
			return nil, &CommandError{Code: StatusBadRequest}
		}).
		Handle(0x41, func(ctx context.Context, req *Frame) ([]byte, error) {
			return nil, errors.New("boom")
		})
}

func TestDispatcherReply(t *testing.T) {
	d := newTestDispatcher(nil)
	testCases := []struct {
		name   string
		req    Frame
		expect func() ([]byte, error)
	}{
		{"ack", Frame{Addr: 1, Cmd: 0x01}, func() ([]byte, error) { return BuildAck(1, 0x01) }},
		{"data", Frame{Addr: 1, Cmd: 0x20}, func() ([]byte, error) { return BuildData(1, 0x20, []byte{0x12, 0x34}) }},
		{"empty data", Frame{Addr: 1, Cmd: 0x21}, func() ([]byte, error) { return BuildData(1, 0x21, nil) }},
		{"echo", Frame{Addr: 1, Cmd: 0x30, Payload: []byte{7, 8}}, func() ([]byte, error) { return BuildData(1, 0x30, []byte{7, 8}) }},
		{"echo too large", Frame{Addr: 1, Cmd: 0x30, Payload: make([]byte, MaxData+1)}, func() ([]byte, error) { return BuildErr(1, 0x30, StatusFailure) }},
		{"command error", Frame{Addr: 1, Cmd: 0x40}, func() ([]byte, error) { return BuildErr(1, 0x40, StatusBadRequest) }},
		{"failure", Frame{Addr: 1, Cmd: 0x41}, func() ([]byte, error) { return BuildErr(1, 0x41, StatusFailure) }},
		{"unknown command", Frame{Addr: 1, Cmd: 0x7f}, func() ([]byte, error) { return BuildErr(1, 0x7f, StatusUnknownCommand) }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			expect, err := tc.expect()
			require.NoError(t, err)
			reply, ok := d.Reply(context.TODO(), &tc.req)
			require.True(t, ok)
			require.Equal(t, expect, reply)
		})
	}

	_, ok := d.Reply(context.TODO(), &Frame{Addr: 2, Cmd: 0x01})
	require.False(t, ok)
}

func TestDispatcherHandleFrame(t *testing.T) {
	var rec sendRecorder
	d := newTestDispatcher(&rec)
	d.HandleFrame(context.TODO(), &Frame{Addr: 2, Cmd: 0x01})
	require.Empty(t, rec.frames)

	d.HandleFrame(context.TODO(), &Frame{Addr: 1, Cmd: 0x01})
	ack, err := BuildAck(1, 0x01)
	require.NoError(t, err)
	require.Equal(t, [][]byte{ack}, rec.frames)
}

func TestDispatcherUnbuildableReply(t *testing.T) {
	require.Nil(t, built(BuildErr(1, 0x01, StatusOK)))
	ack, err := BuildAck(1, 0x01)
	require.NoError(t, err)
	require.Equal(t, ack, built(BuildAck(1, 0x01)))
}

func TestDispatcherOverFIFO(t *testing.T) {
	stream := newTestStream()
	fifo := NewFIFO(stream)
	fifo.Handler = newTestDispatcher(fifo)

	req := mustFrame(t, 1, 0x20)
	fifo.Feed(context.TODO(), req[:3])
	require.Empty(t, stream.writeCh)
	fifo.Feed(context.TODO(), req[3:])

	expect, err := BuildData(1, 0x20, []byte{0x12, 0x34})
	require.NoError(t, err)
	stream.expectWrites(t, expect)
}
