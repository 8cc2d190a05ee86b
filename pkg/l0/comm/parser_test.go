package comm

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustFrame(t *testing.T, addr, cmd byte, payload ...byte) []byte {
	b, err := BuildFrame(addr, cmd, payload)
	require.NoError(t, err)
	return b
}

// drain calls Next until no frame is available and collects the results.
func drain(t *testing.T, p *Parser) (frames []*Frame, errs []error) {
	for i := 0; ; i++ {
		require.Lessf(t, i, 4*StreamBufferSize, "parser doesn't drain")
		f, err := p.Next()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if f == nil {
			return
		}
		frames = append(frames, f)
	}
}

func TestParser(t *testing.T) {
	testCases := []struct {
		name     string
		chunks   [][]byte
		frames   []*Frame
		errs     []error
		buffered int
	}{
		{
			name:   "single frame",
			chunks: [][]byte{mustFrame(t, 1, 2, 0)},
			frames: []*Frame{{Addr: 1, Cmd: 2, Payload: []byte{0}}},
		},
		{
			name:   "empty payload",
			chunks: [][]byte{mustFrame(t, 1, 2)},
			frames: []*Frame{{Addr: 1, Cmd: 2}},
		},
		{
			name:   "noise before frame",
			chunks: [][]byte{{0x00, 0x11, 0x22}, mustFrame(t, 3, 4, 5, 6)},
			frames: []*Frame{{Addr: 3, Cmd: 4, Payload: []byte{5, 6}}},
		},
		{
			name:   "frames in one chunk",
			chunks: [][]byte{append(mustFrame(t, 1, 2, 3), mustFrame(t, 4, 5, 6)...)},
			frames: []*Frame{
				{Addr: 1, Cmd: 2, Payload: []byte{3}},
				{Addr: 4, Cmd: 5, Payload: []byte{6}},
			},
		},
		{
			name:   "no stx",
			chunks: [][]byte{{1, 2, 3, 4}},
		},
		{
			name:     "partial frame",
			chunks:   [][]byte{mustFrame(t, 1, 2, 3, 4, 5)[:6]},
			buffered: 6,
		},
		{
			name:     "stx only",
			chunks:   [][]byte{{0x10, STX}},
			buffered: 1,
		},
		{
			name:   "length too small",
			chunks: [][]byte{{STX, 0x01, 0xff, 0xff}},
			errs:   []error{ErrLenTooSmall},
		},
		{
			name:   "length too small then frame",
			chunks: [][]byte{{STX, 0x00}, mustFrame(t, 1, 2)},
			errs:   []error{ErrLenTooSmall},
			frames: []*Frame{{Addr: 1, Cmd: 2}},
		},
		{
			name:   "crc mismatch then frame",
			chunks: [][]byte{{STX, 0x02, 0x01, 0x02, 0x00, 0x00}, mustFrame(t, 1, 2, 7)},
			errs:   []error{ErrCRCMismatch},
			frames: []*Frame{{Addr: 1, Cmd: 2, Payload: []byte{7}}},
		},
		{
			name: "frame inside corrupted candidate",
			// the bogus LEN covers the real frame, so it fails the CRC check
			// and the scan restarts right after the bogus STX.
			chunks: [][]byte{{STX, 0x08}, mustFrame(t, 1, 2, 3, 4), {0x00, 0x00}},
			errs:   []error{ErrCRCMismatch},
			frames: []*Frame{{Addr: 1, Cmd: 2, Payload: []byte{3, 4}}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var p Parser
			for _, chunk := range tc.chunks {
				require.Equal(t, len(chunk), p.Push(chunk))
			}
			frames, errs := drain(t, &p)
			require.Equal(t, tc.frames, frames)
			require.Equal(t, tc.errs, errs)
			require.Equal(t, tc.buffered, p.Buffered())
		})
	}
}

func TestParserLenTooSmallResync(t *testing.T) {
	var p Parser
	p.Push([]byte{STX, 0x01, 0xff, 0xff})
	f, err := p.Next()
	require.Nil(t, f)
	require.Equal(t, ErrLenTooSmall, err)
	require.Equal(t, 3, p.Buffered())
	f, err = p.Next()
	require.Nil(t, f)
	require.NoError(t, err)
	require.Zero(t, p.Buffered())
}

func TestParserWaitsForFullCandidate(t *testing.T) {
	var p Parser
	b := mustFrame(t, 1, 2, 3, 4, 5)
	for i, c := range b[:len(b)-1] {
		p.Push([]byte{c})
		f, err := p.Next()
		require.NoError(t, err)
		require.Nil(t, f)
		require.Equal(t, i+1, p.Buffered())
	}
	p.Push(b[len(b)-1:])
	f, err := p.Next()
	require.NoError(t, err)
	require.Equal(t, &Frame{Addr: 1, Cmd: 2, Payload: []byte{3, 4, 5}}, f)
	require.Zero(t, p.Buffered())
}

func TestParserRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	var p Parser
	for n := 0; n <= MaxPayload; n++ {
		payload := make([]byte, n)
		rnd.Read(payload)
		addr, cmd := byte(rnd.Intn(256)), byte(rnd.Intn(256))
		p.Push(mustFrame(t, addr, cmd, payload...))
		f, err := p.Next()
		require.NoError(t, err)
		require.NotNil(t, f)
		require.Equal(t, addr, f.Addr)
		require.Equal(t, cmd, f.Cmd)
		require.Len(t, f.Payload, n)
		if n > 0 {
			require.Equal(t, payload, f.Payload)
		}
		require.Zero(t, p.Buffered())
	}
}

func TestParserFragmentation(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	payload := make([]byte, MaxPayload)
	rnd.Read(payload)
	b := mustFrame(t, 0x42, 0x10, payload...)

	var whole Parser
	whole.Push(b)
	expect, err := whole.Next()
	require.NoError(t, err)
	require.NotNil(t, expect)

	for round := 0; round < 50; round++ {
		var p Parser
		var frames []*Frame
		for rest := b; len(rest) > 0; {
			n := 1 + rnd.Intn(8)
			if n > len(rest) {
				n = len(rest)
			}
			p.Push(rest[:n])
			rest = rest[n:]
			got, errs := drain(t, &p)
			require.Empty(t, errs)
			frames = append(frames, got...)
		}
		require.Equal(t, []*Frame{expect}, frames)
	}
}

func TestParserBitFlip(t *testing.T) {
	b := mustFrame(t, 1, 0x20, 0, 3, 1, 2, 3)
	for i := 1; i < len(b); i++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := append([]byte(nil), b...)
			corrupted[i] ^= 1 << uint(bit)
			var p Parser
			p.Push(corrupted)
			f, err := p.Next()
			require.Nilf(t, f, "byte %d bit %d", i, bit)
			if i == 1 && corrupted[1] < MinLen {
				require.Equal(t, ErrLenTooSmall, err)
				continue
			}
			if i == 1 && int(corrupted[1]) > len(b)-4 {
				// a longer LEN waits for bytes that never come.
				require.NoError(t, err)
				continue
			}
			require.Equalf(t, ErrCRCMismatch, err, "byte %d bit %d", i, bit)
		}
	}
}

func TestParserResyncTerminates(t *testing.T) {
	rnd := rand.New(rand.NewSource(4))
	for round := 0; round < 200; round++ {
		noise := make([]byte, rnd.Intn(StreamBufferSize))
		rnd.Read(noise)
		for i := range noise {
			if rnd.Intn(4) == 0 {
				noise[i] = STX
			}
		}
		var p Parser
		p.Push(noise)
		drain(t, &p)
		require.LessOrEqual(t, p.Buffered(), MaxFrameSize)
	}
}

func TestParserOverflow(t *testing.T) {
	var p Parser
	b := mustFrame(t, 1, 2, 3)

	// a partial frame is dropped once the buffer overflows.
	p.Push(b[:4])
	filler := make([]byte, StreamBufferSize-4)
	require.Equal(t, len(filler), p.Push(filler))
	require.Equal(t, StreamBufferSize, p.Buffered())
	require.Equal(t, 3, p.Push(b[4:]))
	require.Equal(t, 3, p.Buffered())
	frames, _ := drain(t, &p)
	require.Empty(t, frames)

	// an oversized chunk keeps only the newest bytes.
	big := append(make([]byte, 2*StreamBufferSize), b...)
	require.Equal(t, StreamBufferSize, p.Push(big))
	require.Equal(t, StreamBufferSize, p.Buffered())
	frames, errs := drain(t, &p)
	require.Empty(t, errs)
	require.Equal(t, []*Frame{{Addr: 1, Cmd: 2, Payload: []byte{3}}}, frames)

	// a frame split by the overflow boundary is never decoded.
	p.Reset()
	p.Push(make([]byte, StreamBufferSize-3))
	p.Push(b[:3])
	p.Push(b[3:])
	frames, _ = drain(t, &p)
	require.Empty(t, frames)
}

func TestParserNextInto(t *testing.T) {
	var p Parser
	var f Frame
	buf := make([]byte, MaxPayload)
	p.Push(append([]byte{STX, 0x00}, mustFrame(t, 1, 2, 3, 4)...))

	ok, err := p.NextInto(&f, buf)
	require.False(t, ok)
	require.Equal(t, ErrLenTooSmall, err)

	ok, err = p.NextInto(&f, buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Frame{Addr: 1, Cmd: 2, Payload: []byte{3, 4}}, f)
	require.Equal(t, []byte{3, 4}, buf[:2])

	ok, err = p.NextInto(&f, buf)
	require.NoError(t, err)
	require.False(t, ok)

	// a frame not fitting the buffer is consumed.
	p.Push(mustFrame(t, 1, 2, make([]byte, 10)...))
	p.Push(mustFrame(t, 1, 3, 5))
	ok, err = p.NextInto(&f, buf[:4])
	require.False(t, ok)
	var bufErr *BufferError
	require.ErrorAs(t, err, &bufErr)
	require.Equal(t, BufferError{Need: 10, Have: 4}, *bufErr)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	require.Equal(t, 7, p.Buffered())
	ok, err = p.NextInto(&f, buf[:4])
	require.True(t, ok)
	require.NoError(t, err)
	require.Equal(t, Frame{Addr: 1, Cmd: 3, Payload: []byte{5}}, f)
	ok, err = p.NextInto(&f, buf[:4])
	require.False(t, ok)
	require.NoError(t, err)
	require.Zero(t, p.Buffered())
}
