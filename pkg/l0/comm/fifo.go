package comm

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
)

// FrameHandler is called when a frame is received.
type FrameHandler interface {
	HandleFrame(context.Context, *Frame)
}

// HandleFrameFunc is func type of FrameHandler.
type HandleFrameFunc func(context.Context, *Frame)

// HandleFrame implements FrameHandler.
func (f HandleFrameFunc) HandleFrame(ctx context.Context, frame *Frame) {
	f(ctx, frame)
}

// ErrorNotifier is called when a malformed candidate frame is skipped.
type ErrorNotifier interface {
	ParseFailed(context.Context, error)
}

// ParseFailedFunc is func type of ErrorNotifier.
type ParseFailedFunc func(context.Context, error)

// ParseFailed implements ErrorNotifier.
func (f ParseFailedFunc) ParseFailed(ctx context.Context, err error) {
	f(ctx, err)
}

// Sender sends encoded frames.
type Sender interface {
	Send(frame []byte) error
}

// Defaults of FIFO.
const (
	DefaultMTU            = 64
	DefaultReadBufferSize = 64
	DefaultQueueSize      = 8
)

// Stats counts FIFO activities.
type Stats struct {
	Received     uint64
	ParseErrors  uint64
	DroppedBytes uint64
	Sent         uint64
}

// FIFO send/recv frames over a byte stream.
type FIFO struct {
	ReadWriter io.ReadWriter
	Handler    FrameHandler
	Notifier   ErrorNotifier
	// MTU is the max size of a single write.
	MTU int
	// ReadBufferSize is the max size of a single read.
	ReadBufferSize int
	// QueueSize is the number of chunks buffered between reader and parser.
	QueueSize int

	received     atomic.Uint64
	parseErrors  atomic.Uint64
	droppedBytes atomic.Uint64
	sent         atomic.Uint64

	lock   sync.Mutex
	parser Parser
}

// NewFIFO creates a FIFO.
func NewFIFO(rw io.ReadWriter) *FIFO {
	return &FIFO{
		ReadWriter:     rw,
		MTU:            DefaultMTU,
		ReadBufferSize: DefaultReadBufferSize,
		QueueSize:      DefaultQueueSize,
	}
}

// Stats gets the counters.
func (f *FIFO) Stats() Stats {
	return Stats{
		Received:     f.received.Load(),
		ParseErrors:  f.parseErrors.Load(),
		DroppedBytes: f.droppedBytes.Load(),
		Sent:         f.sent.Load(),
	}
}

// Send writes an encoded frame in chunks of at most MTU bytes.
// Frames from concurrent senders are never interleaved.
func (f *FIFO) Send(frame []byte) error {
	mtu := f.MTU
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	for len(frame) > 0 {
		chunk := frame
		if len(chunk) > mtu {
			chunk = chunk[:mtu]
		}
		n, err := f.ReadWriter.Write(chunk)
		if err != nil {
			return err
		}
		if n < len(chunk) {
			return io.ErrShortWrite
		}
		frame = frame[n:]
	}
	f.sent.Add(1)
	return nil
}

// SendFrame builds and sends a frame. Nothing is sent if it can't be built.
func (f *FIFO) SendFrame(addr, cmd byte, payload []byte) error {
	b, err := BuildFrame(addr, cmd, payload)
	if err != nil {
		return err
	}
	return f.Send(b)
}

// Run processes the FIFO in the background.
func (f *FIFO) Run(ctx context.Context) error {
	qsize := f.QueueSize
	if qsize <= 0 {
		qsize = DefaultQueueSize
	}
	chunkCh, errCh := make(chan []byte, qsize), make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.readLoop(subCtx, chunkCh, errCh)
	for {
		select {
		case chunk := <-chunkCh:
			f.Feed(ctx, chunk)
		case err := <-errCh:
			f.drain(ctx, chunkCh)
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Feed pushes received bytes to the parser and dispatches all frames
// extractable so far. Run calls it from a single goroutine; callers
// driving the FIFO without Run must do the same.
func (f *FIFO) Feed(ctx context.Context, chunk []byte) {
	if n := f.parser.Push(chunk); n < len(chunk) {
		f.droppedBytes.Add(uint64(len(chunk) - n))
		glog.V(2).Infof("stream buffer overflow, %d bytes dropped", len(chunk)-n)
	}
	for {
		frame, err := f.parser.Next()
		if err != nil {
			f.parseErrors.Add(1)
			glog.V(2).Infof("skip candidate: %v", err)
			if n := f.Notifier; n != nil {
				n.ParseFailed(ctx, err)
			}
			continue
		}
		if frame == nil {
			return
		}
		f.received.Add(1)
		if glog.V(4) {
			glog.Infof("RCV addr=%02x cmd=%02x payload=% x", frame.Addr, frame.Cmd, frame.Payload)
		}
		if h := f.Handler; h != nil {
			h.HandleFrame(ctx, frame)
		}
	}
}

// drain feeds chunks queued before the read error.
// readLoop queues them before reporting the error, so none arrive later.
func (f *FIFO) drain(ctx context.Context, chunkCh chan []byte) {
	for {
		select {
		case chunk := <-chunkCh:
			f.Feed(ctx, chunk)
		default:
			return
		}
	}
}

func (f *FIFO) readLoop(ctx context.Context, chunkCh chan []byte, errCh chan error) {
	size := f.ReadBufferSize
	if size <= 0 {
		size = DefaultReadBufferSize
	}
	buf := make([]byte, size)
	for {
		n, err := f.ReadWriter.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunkCh <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil && !os.IsTimeout(err) {
			errCh <- err
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
