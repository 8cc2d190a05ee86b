package device

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/robotalks/stxlink/pkg/l0/comm"
)

// Remote issues device commands from the host.
type Remote struct {
	Client  *comm.Client
	Address byte
}

// NewRemote creates a Remote for the device at addr.
func NewRemote(client *comm.Client, addr byte) *Remote {
	return &Remote{Client: client, Address: addr}
}

// Ping checks the device is alive.
func (r *Remote) Ping(ctx context.Context) error {
	return r.Client.Call(ctx, r.Address, CmdPing, nil).Err
}

// Chase runs the chase sequence.
func (r *Remote) Chase(ctx context.Context) error {
	return r.Client.Call(ctx, r.Address, CmdChase, nil).Err
}

// SetValue stores a value on the device.
func (r *Remote) SetValue(ctx context.Context, val uint16) error {
	var payload [2]byte
	binary.BigEndian.PutUint16(payload[:], val)
	return r.Client.Call(ctx, r.Address, CmdSetValue, payload[:]).Err
}

// GetValue reads the stored value.
func (r *Remote) GetValue(ctx context.Context) (uint16, error) {
	data, err := r.get(ctx, CmdGetValue, nil)
	if err != nil {
		return 0, err
	}
	if len(data) != 2 {
		return 0, fmt.Errorf("value has %d bytes: %w", len(data), comm.ErrMalformedData)
	}
	return binary.BigEndian.Uint16(data), nil
}

// Echo sends data and returns what the device replies.
func (r *Remote) Echo(ctx context.Context, data []byte) ([]byte, error) {
	return r.get(ctx, CmdEcho, data)
}

func (r *Remote) get(ctx context.Context, cmd byte, payload []byte) ([]byte, error) {
	result := r.Client.Call(ctx, r.Address, cmd, payload)
	if result.Err != nil {
		return nil, result.Err
	}
	if result.Data == nil {
		return nil, comm.ErrMalformedData
	}
	return result.Data, nil
}
