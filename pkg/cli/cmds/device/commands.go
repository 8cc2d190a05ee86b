package device

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/stxlink/pkg/cli/sh"
	l0dev "github.com/robotalks/stxlink/pkg/l0/device"
)

// splitAddr takes the leading ADDR argument when there are more than n
// arguments, otherwise def is used.
func splitAddr(args []string, n int, def byte) (byte, []string, error) {
	if len(args) > n {
		addr, err := sh.ParseByte(args[0])
		return addr, args[1:], err
	}
	return def, args, nil
}

func addrArg(c *ishell.Context, n int) (byte, []string, error) {
	return splitAddr(c.Args, n, sh.ShellFrom(c).Config.DeviceAddress())
}

// valuePayload encodes VALUE as a 16-bit big endian payload.
func valuePayload(args []string) ([]byte, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("VALUE required")
	}
	val, err := strconv.ParseUint(args[0], 0, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid VALUE: %v", err)
	}
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, uint16(val))
	return payload, nil
}

// echoArgs parses ADDR [BYTE...].
func echoArgs(args []string) (byte, []byte, error) {
	if len(args) < 1 {
		return 0, nil, fmt.Errorf("ADDR required")
	}
	b, err := sh.ParseBytes(args)
	if err != nil {
		return 0, nil, err
	}
	return b[0], b[1:], nil
}

var (
	// PingCmd exposes the ping command.
	PingCmd = ishell.Cmd{
		Name: "ping",
		Help: "[ADDR]",
		Func: sh.MustBeOpen(func(c *ishell.Context) {
			addr, _, err := addrArg(c, 0)
			if err != nil {
				c.Err(err)
				return
			}
			sh.DoCommand(c, addr, l0dev.CmdPing, nil)
		}),
	}

	// ChaseCmd exposes the chase command.
	ChaseCmd = ishell.Cmd{
		Name: "chase",
		Help: "[ADDR]",
		Func: sh.MustBeOpen(func(c *ishell.Context) {
			addr, _, err := addrArg(c, 0)
			if err != nil {
				c.Err(err)
				return
			}
			sh.DoCommand(c, addr, l0dev.CmdChase, nil)
		}),
	}

	// SetValueCmd exposes the set value command.
	SetValueCmd = ishell.Cmd{
		Name: "set",
		Help: "[ADDR] VALUE(0-65535)",
		Func: sh.MustBeOpen(func(c *ishell.Context) {
			addr, args, err := addrArg(c, 1)
			if err != nil {
				c.Err(err)
				return
			}
			payload, err := valuePayload(args)
			if err != nil {
				c.Err(err)
				return
			}
			sh.DoCommand(c, addr, l0dev.CmdSetValue, payload)
		}),
	}

	// GetValueCmd exposes the get value command.
	GetValueCmd = ishell.Cmd{
		Name: "get",
		Help: "[ADDR]",
		Func: sh.MustBeOpen(func(c *ishell.Context) {
			addr, _, err := addrArg(c, 0)
			if err != nil {
				c.Err(err)
				return
			}
			s := sh.ShellFrom(c)
			r := s.Call(addr, l0dev.CmdGetValue, nil)
			if r.Err != nil || s.OutputJSON || len(r.Data) != 2 {
				s.PrintResult(c, r)
				return
			}
			c.Println(binary.BigEndian.Uint16(r.Data))
		}),
	}

	// EchoCmd exposes the echo command.
	EchoCmd = ishell.Cmd{
		Name: "echo",
		Help: "ADDR [BYTE...]",
		Func: sh.MustBeOpen(func(c *ishell.Context) {
			addr, payload, err := echoArgs(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			sh.DoCommand(c, addr, l0dev.CmdEcho, payload)
		}),
	}
)

func init() {
	sh.AddCmds(
		&PingCmd,
		&ChaseCmd,
		&SetValueCmd,
		&GetValueCmd,
		&EchoCmd,
	)
}
