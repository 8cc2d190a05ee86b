package comm

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/glog"
)

// CommandFunc executes a command on the device side.
//
//   - nil, nil replies [STATUS=0];
//   - data, nil replies [STATUS=0, BYTECOUNT, DATA...], even if data is empty;
//   - *CommandError replies [STATUS=Code];
//   - other errors reply [STATUS=StatusFailure].
type CommandFunc func(ctx context.Context, req *Frame) ([]byte, error)

// Dispatcher handles frames addressed to a device and sends replies.
type Dispatcher struct {
	Address byte
	Sender  Sender

	commands map[byte]CommandFunc
	lock     sync.RWMutex
}

// NewDispatcher creates a Dispatcher for the device address.
func NewDispatcher(addr byte, sender Sender) *Dispatcher {
	return &Dispatcher{Address: addr, Sender: sender}
}

// Handle registers the func for a command code.
func (d *Dispatcher) Handle(cmd byte, fn CommandFunc) *Dispatcher {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.commands == nil {
		d.commands = make(map[byte]CommandFunc)
	}
	d.commands[cmd] = fn
	return d
}

// Reply executes the command and builds the reply.
// It returns false if the frame is for another address.
// The reply is nil if it can't be built.
func (d *Dispatcher) Reply(ctx context.Context, req *Frame) ([]byte, bool) {
	if req.Addr != d.Address {
		return nil, false
	}
	d.lock.RLock()
	fn := d.commands[req.Cmd]
	d.lock.RUnlock()
	if fn == nil {
		return built(BuildErr(d.Address, req.Cmd, StatusUnknownCommand)), true
	}

	data, err := fn(ctx, req)
	var cmdErr *CommandError
	switch {
	case errors.As(err, &cmdErr) && cmdErr.Code != StatusOK:
		return built(BuildErr(d.Address, req.Cmd, cmdErr.Code)), true
	case err != nil:
		glog.Errorf("command %02x failed: %v", req.Cmd, err)
		return built(BuildErr(d.Address, req.Cmd, StatusFailure)), true
	case data == nil:
		return built(BuildAck(d.Address, req.Cmd)), true
	}
	reply, err := BuildData(d.Address, req.Cmd, data)
	if err != nil {
		glog.Errorf("command %02x reply: %v", req.Cmd, err)
		return built(BuildErr(d.Address, req.Cmd, StatusFailure)), true
	}
	return reply, true
}

// HandleFrame implements FrameHandler.
func (d *Dispatcher) HandleFrame(ctx context.Context, f *Frame) {
	reply, ok := d.Reply(ctx, f)
	if !ok {
		glog.V(2).Infof("ignore frame for addr %02x", f.Addr)
		return
	}
	if reply == nil {
		return
	}
	if err := d.Sender.Send(reply); err != nil {
		glog.Warningf("send reply of command %02x: %v", f.Cmd, err)
	}
}

// built unwraps status replies. A reply failing to build is logged and
// dropped, leaving the request unanswered.
func built(b []byte, err error) []byte {
	if err != nil {
		glog.Errorf("build reply: %v", err)
		return nil
	}
	return b
}
