package device

import (
	"context"
	"encoding/binary"
	"io"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/stxlink/pkg/l0/comm"
)

// Command codes understood by the emulated device.
const (
	CmdPing     byte = 0x01
	CmdChase    byte = 0x02
	CmdSetValue byte = 0x10
	CmdGetValue byte = 0x20
	CmdEcho     byte = 0x30
)

// DefaultAddress is the address of a device unless configured.
const DefaultAddress byte = 0x01

// Device emulates the firmware side of a link.
// The state is shared by all connections served by the device.
type Device struct {
	Address byte

	chases atomic.Uint64
	value  atomic.Uint32
}

// New creates a Device.
func New(addr byte) *Device {
	return &Device{Address: addr}
}

// Chases returns how many times the chase command ran.
func (d *Device) Chases() uint64 {
	return d.chases.Load()
}

// Value returns the stored value.
func (d *Device) Value() uint16 {
	return uint16(d.value.Load())
}

// NewDispatcher creates a Dispatcher replying through sender.
func (d *Device) NewDispatcher(sender comm.Sender) *comm.Dispatcher {
	return comm.NewDispatcher(d.Address, sender).
		Handle(CmdPing, d.ping).
		Handle(CmdChase, d.chase).
		Handle(CmdSetValue, d.setValue).
		Handle(CmdGetValue, d.getValue).
		Handle(CmdEcho, d.echo)
}

// Attach creates a FIFO over the stream serving the device.
func (d *Device) Attach(rw io.ReadWriter) *comm.FIFO {
	fifo := comm.NewFIFO(rw)
	fifo.Handler = d.NewDispatcher(fifo)
	fifo.Notifier = comm.ParseFailedFunc(func(ctx context.Context, err error) {
		glog.V(2).Infof("device %02x: %v", d.Address, err)
	})
	return fifo
}

// Serve runs the device over the stream until it fails or ctx is done.
func (d *Device) Serve(ctx context.Context, rw io.ReadWriter) error {
	return d.Attach(rw).Run(ctx)
}

func (d *Device) ping(ctx context.Context, req *comm.Frame) ([]byte, error) {
	return nil, nil
}

func (d *Device) chase(ctx context.Context, req *comm.Frame) ([]byte, error) {
	n := d.chases.Add(1)
	glog.V(2).Infof("device %02x: chase #%d", d.Address, n)
	return nil, nil
}

func (d *Device) setValue(ctx context.Context, req *comm.Frame) ([]byte, error) {
	var val uint16
	switch len(req.Payload) {
	case 1:
		val = uint16(req.Payload[0])
	case 2:
		val = binary.BigEndian.Uint16(req.Payload)
	default:
		return nil, &comm.CommandError{Code: comm.StatusBadRequest}
	}
	d.value.Store(uint32(val))
	return nil, nil
}

func (d *Device) getValue(ctx context.Context, req *comm.Frame) ([]byte, error) {
	var data [2]byte
	binary.BigEndian.PutUint16(data[:], d.Value())
	return data[:], nil
}

func (d *Device) echo(ctx context.Context, req *comm.Frame) ([]byte, error) {
	if len(req.Payload) > comm.MaxData {
		return nil, &comm.CommandError{Code: comm.StatusBadRequest}
	}
	data := make([]byte, len(req.Payload))
	copy(data, req.Payload)
	return data, nil
}
