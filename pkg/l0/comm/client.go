package comm

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

// Result is the result of a command using Do.
type Result struct {
	Err     error
	Status  byte
	Payload []byte
	// Data is set when the reply is a getter reply.
	Data []byte
}

// ResultFromFrame interprets a status-first reply.
func ResultFromFrame(f *Frame) (r Result) {
	r.Payload = f.Payload
	status, ok := f.Status()
	if !ok {
		r.Err = ErrNoStatus
		return
	}
	r.Status = status
	if status != StatusOK {
		r.Err = &CommandError{Code: status}
		return
	}
	if data, err := f.Data(); err == nil {
		r.Data = data
	}
	return
}

// Client provides host side operations over FIFO.
type Client struct {
	fifo     *FIFO
	eventCh  chan *Frame
	cmdsHead *Command
	cmdsTail *Command
	cmdsLock sync.Mutex
}

// Command represents a pending command waiting for reply.
type Command struct {
	addr     byte
	cmd      byte
	resultCh chan Result
	next     *Command
}

// Addr returns the destination address.
func (c *Command) Addr() byte {
	return c.addr
}

// Cmd returns the command code.
func (c *Command) Cmd() byte {
	return c.cmd
}

// ResultChan returns the chan to retrieve result.
func (c *Command) ResultChan() <-chan Result {
	return c.resultCh
}

// NewClient creates client and wraps the fifo.
func NewClient(fifo *FIFO) *Client {
	c := &Client{
		fifo:    fifo,
		eventCh: make(chan *Frame, 8),
	}
	c.fifo.Handler = c
	return c
}

// FIFO gets wrapped FIFO.
func (c *Client) FIFO() *FIFO {
	return c.fifo
}

// EventChan retrieves frames not replying any pending command.
func (c *Client) EventChan() <-chan *Frame {
	return c.eventCh
}

// DoWith sends a command and expects a result in the provided chan.
func (c *Client) DoWith(addr, cmd byte, payload []byte, ch chan Result) *Command {
	command := &Command{addr: addr, cmd: cmd, resultCh: ch}
	frame, err := BuildFrame(addr, cmd, payload)
	if err != nil {
		command.resultCh <- Result{Err: err}
		return command
	}

	c.cmdsLock.Lock()
	defer c.cmdsLock.Unlock()
	if err := c.fifo.Send(frame); err != nil {
		command.resultCh <- Result{Err: err}
		return command
	}
	if c.cmdsHead == nil {
		c.cmdsHead = command
	} else {
		c.cmdsTail.next = command
	}
	c.cmdsTail = command
	return command
}

// Do sends a command and returns a Command for result.
func (c *Client) Do(addr, cmd byte, payload []byte) *Command {
	return c.DoWith(addr, cmd, payload, make(chan Result, 1))
}

// Call sends a command and waits for its result.
// The command is abandoned when ctx is done before the reply arrives.
func (c *Client) Call(ctx context.Context, addr, cmd byte, payload []byte) Result {
	command := c.Do(addr, cmd, payload)
	select {
	case r := <-command.resultCh:
		return r
	case <-ctx.Done():
		c.Abandon(command)
		select {
		case r := <-command.resultCh:
			return r
		default:
		}
		return Result{Err: ctx.Err()}
	}
}

// Abandon stops waiting for the reply of a command, e.g. after a timeout.
func (c *Client) Abandon(command *Command) {
	c.cmdsLock.Lock()
	defer c.cmdsLock.Unlock()
	c.unlink(func(cur *Command) bool { return cur == command })
}

// HandleFrame implements FrameHandler.
func (c *Client) HandleFrame(ctx context.Context, f *Frame) {
	var skipped []*Command
	c.cmdsLock.Lock()
	for cur := c.cmdsHead; cur != nil; cur = cur.next {
		if cur.addr != f.Addr {
			continue
		}
		if cur.cmd == f.Cmd {
			break
		}
		skipped = append(skipped, cur)
	}
	matched := c.unlink(func(cur *Command) bool {
		return cur.addr == f.Addr && cur.cmd == f.Cmd
	})
	if matched != nil {
		for _, cmd := range skipped {
			c.unlink(func(cur *Command) bool { return cur == cmd })
		}
	}
	c.cmdsLock.Unlock()

	if matched == nil {
		select {
		case c.eventCh <- f:
		default:
			glog.Warningf("event dropped: addr=%02x cmd=%02x", f.Addr, f.Cmd)
		}
		return
	}
	for _, cmd := range skipped {
		cmd.resultCh <- Result{Err: ErrNoReply}
	}
	matched.resultCh <- ResultFromFrame(f)
}

// Run wraps FIFO.Run to implement Runnable.
func (c *Client) Run(ctx context.Context) error {
	return c.fifo.Run(ctx)
}

// unlink removes the first command matching fn from the pending list.
func (c *Client) unlink(fn func(*Command) bool) *Command {
	var prev *Command
	for cur := c.cmdsHead; cur != nil; prev, cur = cur, cur.next {
		if !fn(cur) {
			continue
		}
		if prev == nil {
			c.cmdsHead = cur.next
		} else {
			prev.next = cur.next
		}
		if c.cmdsTail == cur {
			c.cmdsTail = prev
		}
		cur.next = nil
		return cur
	}
	return nil
}
