package sh

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/robotalks/stxlink/pkg/l0/comm"
	"github.com/robotalks/stxlink/pkg/l0/conn"
	"github.com/robotalks/stxlink/pkg/l0/env"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoOpen    bool
	Timeout     time.Duration

	Shell   *ishell.Shell
	Config  *env.Config
	Session *Session
}

// Session is an opened link with a running client.
type Session struct {
	Link   *env.Link
	Client *comm.Client
	Cancel func()
	doneCh chan struct{}
}

// ResultOutput is the JSON form of a command result.
type ResultOutput struct {
	Status byte   `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   string `json:"data,omitempty"`
}

// DefaultTimeout is the default time to wait for a reply.
const DefaultTimeout = time.Second

const (
	shellKey         = "$shell"
	disconnectPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool
	timeout    = DefaultTimeout

	// commands
	commands = []*ishell.Cmd{
		&PortsCmd,
		&OpenCmd,
		&CloseCmd,
		&SendCmd,
		&StatsCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.DurationVar(&timeout, "timeout", timeout, "Time to wait for a reply.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		Timeout:     timeout,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(disconnectPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeOpen wraps command func requires an opened link.
// With AutoOpen, the configured link is opened on demand.
func MustBeOpen(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		s := ShellFrom(c)
		if s.Session == nil && s.AutoOpen {
			if err := s.Open(""); err != nil {
				c.Err(err)
				return
			}
		}
		if s.Session == nil {
			c.Err(fmt.Errorf("link not open"))
			return
		}
		fn(c)
	}
}

// WithAutoOpen sets AutoOpen.
func (s *Shell) WithAutoOpen(en bool) *Shell {
	s.AutoOpen = en
	return s
}

// ParseByte parses a byte in decimal, 0x hex, 0o octal or 0b binary.
func ParseByte(s string) (byte, error) {
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte %q", s)
	}
	return byte(n), nil
}

// ParseBytes parses each argument as a byte.
func ParseBytes(args []string) ([]byte, error) {
	b := make([]byte, 0, len(args))
	for _, arg := range args {
		v, err := ParseByte(arg)
		if err != nil {
			return nil, err
		}
		b = append(b, v)
	}
	return b, nil
}

// FormatResult prints the result into friendly string for display.
func FormatResult(r comm.Result) string {
	if r.Err != nil {
		return "ERR " + r.Err.Error()
	}
	if r.Data != nil {
		return fmt.Sprintf("OK [%d] % x", len(r.Data), r.Data)
	}
	if len(r.Payload) > 1 {
		return fmt.Sprintf("OK % x", r.Payload[1:])
	}
	return "OK"
}

// NewResultOutput converts the result to JSON form.
func NewResultOutput(r comm.Result) ResultOutput {
	out := ResultOutput{Status: r.Status}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	if r.Data != nil {
		out.Data = hex.EncodeToString(r.Data)
	} else if len(r.Payload) > 1 {
		out.Data = hex.EncodeToString(r.Payload[1:])
	}
	return out
}

// FormatFrame prints a frame into friendly string for display.
func FormatFrame(f *comm.Frame) string {
	return fmt.Sprintf("addr=%02x cmd=%02x payload=[% x]", f.Addr, f.Cmd, f.Payload)
}

// PrintResult prints the result and returns its error.
func (s *Shell) PrintResult(c *ishell.Context, r comm.Result) error {
	if s.OutputJSON {
		out, err := json.Marshal(NewResultOutput(r))
		if err != nil {
			c.Err(err)
			return err
		}
		c.Println(string(out))
		return r.Err
	}
	if r.Err != nil {
		c.Err(r.Err)
		return r.Err
	}
	c.Println(FormatResult(r))
	return nil
}

// Call runs a command and waits for result.
func (s *Shell) Call(addr, cmd byte, payload []byte) comm.Result {
	if s.Session == nil {
		return comm.Result{Err: fmt.Errorf("link not open")}
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Session.Client.Call(ctx, addr, cmd, payload)
}

// DoCommand runs a command and prints the result.
func DoCommand(c *ishell.Context, addr, cmd byte, payload []byte) error {
	s := ShellFrom(c)
	return s.PrintResult(c, s.Call(addr, cmd, payload))
}

// Open opens the link and starts the client.
func (s *Shell) Open(link string) error {
	conf := *s.Config
	if link != "" {
		conf.Link = link
	}
	l, err := conf.OpenLink()
	if err != nil {
		return err
	}
	session := &Session{
		Link:   l,
		Client: comm.NewClient(l.FIFO),
		doneCh: make(chan struct{}),
	}
	var ctx context.Context
	ctx, session.Cancel = context.WithCancel(context.Background())
	s.Close()
	s.Session = session
	go session.run(ctx, s)
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", l.URL))
	return nil
}

// Close closes current link.
func (s *Shell) Close() {
	if session := s.Session; session != nil {
		s.Session = nil
		session.Cancel()
		session.Link.Close()
		<-session.doneCh
		s.Shell.SetPrompt(disconnectPrompt)
	}
}

func (ss *Session) run(ctx context.Context, s *Shell) {
	defer close(ss.doneCh)
	errCh := make(chan error, 1)
	go func() {
		errCh <- ss.Client.Run(ctx)
	}()
	for {
		select {
		case f := <-ss.Client.EventChan():
			if s.Interactive {
				s.Shell.Printf("EVENT %s\n", FormatFrame(f))
			}
		case err := <-errCh:
			if err != nil && err != context.Canceled && ctx.Err() == nil {
				glog.Warningf("link %s stopped: %v", ss.Link.URL, err)
			}
			return
		}
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) error {
	defer s.Close()
	if len(args) > 0 {
		return s.Shell.Process(args...)
	}
	if s.Interactive {
		s.Shell.Run()
		return nil
	}
	return fmt.Errorf("command expected")
}

var (
	// PortsCmd lists serial ports.
	PortsCmd = ishell.Cmd{
		Name:    "ports",
		Aliases: []string{"l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ports, err := conn.Ports()
			if err != nil {
				c.Err(err)
				return
			}
			if ShellFrom(c).OutputJSON {
				if ports == nil {
					ports = []string{}
				}
				out, _ := json.Marshal(ports)
				c.Println(string(out))
				return
			}
			if len(ports) == 0 {
				c.Println("No serial ports found")
				return
			}
			c.Println(strings.Join(ports, "\n"))
		},
	}

	// OpenCmd opens a link.
	OpenCmd = ishell.Cmd{
		Name:    "open",
		Aliases: []string{"o"},
		Help:    "[LINK]",
		Func: func(c *ishell.Context) {
			var link string
			if len(c.Args) > 0 {
				link = c.Args[0]
			}
			if err := ShellFrom(c).Open(link); err != nil {
				c.Err(err)
			}
		},
	}

	// CloseCmd closes current link.
	CloseCmd = ishell.Cmd{
		Name: "close",
		Help: "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Close()
		},
	}

	// SendCmd sends a raw command.
	SendCmd = ishell.Cmd{
		Name:    "send",
		Aliases: []string{"s"},
		Help:    "ADDR CMD [BYTE...]",
		Func: MustBeOpen(func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("ADDR and CMD required"))
				return
			}
			b, err := ParseBytes(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			DoCommand(c, b[0], b[1], b[2:])
		}),
	}

	// StatsCmd prints link counters.
	StatsCmd = ishell.Cmd{
		Name: "stats",
		Help: "",
		Func: MustBeOpen(func(c *ishell.Context) {
			stats := ShellFrom(c).Session.Link.Stats()
			if ShellFrom(c).OutputJSON {
				out, _ := json.Marshal(stats)
				c.Println(string(out))
				return
			}
			c.Printf("received=%d sent=%d parse-errors=%d dropped-bytes=%d\n",
				stats.Received, stats.Sent, stats.ParseErrors, stats.DroppedBytes)
		}),
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	defer glog.Flush()
	if err := New(env.NewConfig()).WithAutoOpen(true).Run(flag.Args()...); err != nil {
		glog.Exit(err)
	}
}
