package comm

// StreamBufferSize is the capacity of the parser stream buffer.
// It holds at least one full frame however it is chunked.
const StreamBufferSize = 512

// Parser extracts frames from a chunked byte stream.
// The stream buffer is the only state, so parsing resumes at any
// chunk boundary. A Parser must not be used concurrently.
type Parser struct {
	buf [StreamBufferSize]byte
	n   int
}

// Buffered returns the number of bytes not consumed yet.
func (p *Parser) Buffered() int {
	return p.n
}

// Reset drops all buffered bytes.
func (p *Parser) Reset() {
	p.n = 0
}

// Push appends bytes to the stream buffer and returns how many are retained.
// On overflow, the buffered bytes are dropped first and only the newest
// bytes are kept.
func (p *Parser) Push(b []byte) int {
	if p.n+len(b) > len(p.buf) {
		p.n = 0
		if len(b) > len(p.buf) {
			b = b[len(b)-len(p.buf):]
		}
	}
	p.n += copy(p.buf[p.n:], b)
	return len(b)
}

// Next extracts the next frame.
//
//   - frame, nil: a frame is decoded and consumed;
//   - nil, nil: not enough data yet;
//   - nil, ParseError: the candidate is malformed and its STX skipped,
//     call Next again to keep scanning.
//
// Call Next until it returns nil, nil to drain all extractable frames.
func (p *Parser) Next() (*Frame, error) {
	size, err := p.scan()
	if size == 0 {
		return nil, err
	}
	f := &Frame{Addr: p.buf[2], Cmd: p.buf[3]}
	if size > Overhead {
		f.Payload = make([]byte, size-Overhead)
		copy(f.Payload, p.buf[4:size-2])
	}
	p.drop(size)
	return f, nil
}

// NextInto is Next without allocation. The payload is copied into buf
// and f.Payload aliases it, so buf must hold MaxPayload bytes to take any
// frame. It returns true when f is filled. A valid frame which doesn't fit
// in buf is consumed and reported as *BufferError.
func (p *Parser) NextInto(f *Frame, buf []byte) (bool, error) {
	size, err := p.scan()
	if size == 0 {
		return false, err
	}
	n := size - Overhead
	if n > len(buf) {
		p.drop(size)
		return false, &BufferError{Need: n, Have: len(buf)}
	}
	f.Addr, f.Cmd = p.buf[2], p.buf[3]
	f.Payload = buf[:copy(buf, p.buf[4:size-2])]
	p.drop(size)
	return true, nil
}

// scan locates a valid candidate at the front of the buffer and returns its
// size, or 0 when there is none yet or a malformed one was skipped.
func (p *Parser) scan() (int, error) {
	if p.n == 0 {
		return 0, nil
	}

	pos := -1
	for i, b := range p.buf[:p.n] {
		if b == STX {
			pos = i
			break
		}
	}
	if pos < 0 {
		p.n = 0
		return 0, nil
	}
	p.drop(pos)

	if p.n < 2 {
		return 0, nil
	}
	l := int(p.buf[1])
	if l < MinLen {
		p.drop(1)
		return 0, ErrLenTooSmall
	}
	size := 1 + 1 + l + 2
	if size > MaxFrameSize {
		// unreachable while LEN is a single byte.
		p.drop(1)
		return 0, ErrLenTooBig
	}
	if p.n < size {
		return 0, nil
	}

	crc := uint16(p.buf[size-2]) | uint16(p.buf[size-1])<<8
	if CRC16(p.buf[:size-2]) != crc {
		p.drop(1)
		return 0, ErrCRCMismatch
	}
	return size, nil
}

func (p *Parser) drop(count int) {
	if count <= 0 {
		return
	}
	if count >= p.n {
		p.n = 0
		return
	}
	p.n = copy(p.buf[:], p.buf[count:p.n])
}
