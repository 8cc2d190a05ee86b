package device

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/stxlink/pkg/l0/comm"
)

type deviceTestEnv struct {
	t      *testing.T
	dev    *Device
	client *comm.Client
	remote *Remote
	ctx    context.Context
}

func newDeviceTestEnv(t *testing.T) *deviceTestEnv {
	ctx, cancel := context.WithCancel(context.TODO())
	t.Cleanup(cancel)
	host, target := net.Pipe()
	t.Cleanup(func() {
		host.Close()
		target.Close()
	})
	env := &deviceTestEnv{
		t:      t,
		dev:    New(DefaultAddress),
		client: comm.NewClient(comm.NewFIFO(host)),
		ctx:    ctx,
	}
	env.remote = NewRemote(env.client, DefaultAddress)
	go env.dev.Serve(ctx, target)
	go env.client.Run(ctx)
	return env
}

func (e *deviceTestEnv) call(cmd byte, payload ...byte) comm.Result {
	ctx, cancel := context.WithTimeout(e.ctx, time.Second)
	defer cancel()
	return e.client.Call(ctx, DefaultAddress, cmd, payload)
}

func TestDeviceCommands(t *testing.T) {
	env := newDeviceTestEnv(t)
	ctx := env.ctx

	require.NoError(t, env.remote.Ping(ctx))

	require.NoError(t, env.remote.Chase(ctx))
	require.NoError(t, env.remote.Chase(ctx))
	require.Equal(t, uint64(2), env.dev.Chases())

	require.NoError(t, env.remote.SetValue(ctx, 0x1234))
	require.Equal(t, uint16(0x1234), env.dev.Value())
	val, err := env.remote.GetValue(ctx)
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), val)

	data, err := env.remote.Echo(ctx, []byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, data)

	data, err = env.remote.Echo(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestDeviceReplies(t *testing.T) {
	env := newDeviceTestEnv(t)
	testCases := []struct {
		name    string
		cmd     byte
		payload []byte
		status  byte
		data    []byte
	}{
		{"set one byte", CmdSetValue, []byte{0x7f}, comm.StatusOK, nil},
		{"get after one byte set", CmdGetValue, nil, comm.StatusOK, []byte{0x00, 0x7f}},
		{"set empty", CmdSetValue, nil, comm.StatusBadRequest, nil},
		{"set too long", CmdSetValue, []byte{1, 2, 3}, comm.StatusBadRequest, nil},
		{"echo max", CmdEcho, make([]byte, comm.MaxData), comm.StatusOK, make([]byte, comm.MaxData)},
		{"echo too long", CmdEcho, make([]byte, comm.MaxData+1), comm.StatusBadRequest, nil},
		{"unknown", 0x7e, nil, comm.StatusUnknownCommand, nil},
	}
	for _, tc := range testCases {
		r := env.call(tc.cmd, tc.payload...)
		require.Equalf(t, tc.status, r.Status, "%s status", tc.name)
		if tc.status != comm.StatusOK {
			require.Equalf(t, &comm.CommandError{Code: tc.status}, r.Err, "%s error", tc.name)
			continue
		}
		require.NoErrorf(t, r.Err, "%s error", tc.name)
		require.Equalf(t, tc.data, r.Data, "%s data", tc.name)
	}
}

func TestDeviceIgnoresOtherAddress(t *testing.T) {
	env := newDeviceTestEnv(t)
	ctx, cancel := context.WithTimeout(env.ctx, 50*time.Millisecond)
	defer cancel()
	r := env.client.Call(ctx, DefaultAddress+1, CmdPing, nil)
	require.Equal(t, context.DeadlineExceeded, r.Err)
	require.NoError(t, env.remote.Ping(env.ctx))
}
