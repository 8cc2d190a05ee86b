package comm

import "io"

// STX is the start marker of a frame.
const STX byte = 0xa5

// Frame size limits.
const (
	// MinLen is the minimum LEN value (ADDR + CMD).
	MinLen = 2
	// MaxPayload is the payload limit since LEN is a byte including ADDR and CMD.
	MaxPayload = 0xff - MinLen
	// MaxData is the data limit of a getter reply after STATUS and BYTECOUNT.
	MaxData = MaxPayload - 2
	// Overhead is the number of bytes around the payload.
	Overhead = 1 + 1 + MinLen + 2
	// MaxFrameSize is the size of a frame carrying MaxPayload.
	MaxFrameSize = MaxPayload + Overhead
)

// Reply status codes.
const (
	StatusOK             byte = 0x00
	StatusUnknownCommand byte = 0x01
	StatusBadRequest     byte = 0x02
	StatusFailure        byte = 0x03
)

// Frame contains the information of a decoded frame.
type Frame struct {
	Addr    byte
	Cmd     byte
	Payload []byte
}

// Size returns the encoded size of the frame.
func (f *Frame) Size() int {
	return len(f.Payload) + Overhead
}

// Status returns the leading status byte of a reply.
func (f *Frame) Status() (byte, bool) {
	if len(f.Payload) == 0 {
		return 0, false
	}
	return f.Payload[0], true
}

// Data returns DATA of a getter reply [STATUS, BYTECOUNT, DATA...].
func (f *Frame) Data() ([]byte, error) {
	if len(f.Payload) == 0 {
		return nil, ErrNoStatus
	}
	if len(f.Payload) < 2 || int(f.Payload[1]) != len(f.Payload)-2 {
		return nil, ErrMalformedData
	}
	return f.Payload[2:], nil
}

// Bytes returns encoded bytes for sending.
func (f *Frame) Bytes() ([]byte, error) {
	return BuildFrame(f.Addr, f.Cmd, f.Payload)
}

// WriteTo writes encoded bytes.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	b, err := f.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// PutFrame encodes a frame into dst and returns the number of bytes written.
// Nothing is written if the frame doesn't fit.
func PutFrame(dst []byte, addr, cmd byte, payload []byte) (int, error) {
	return putFrame(dst, addr, cmd, nil, payload)
}

// PutAck encodes a setter reply with StatusOK into dst.
func PutAck(dst []byte, addr, cmd byte) (int, error) {
	return putFrame(dst, addr, cmd, []byte{StatusOK}, nil)
}

// PutErr encodes a reply with an error status into dst.
func PutErr(dst []byte, addr, cmd, code byte) (int, error) {
	if code == StatusOK {
		return 0, ErrInvalidStatus
	}
	return putFrame(dst, addr, cmd, []byte{code}, nil)
}

// PutData encodes a getter reply into dst.
func PutData(dst []byte, addr, cmd byte, data []byte) (int, error) {
	if len(data) > MaxData || len(data) > 0xff {
		return 0, ErrPayloadTooLarge
	}
	return putFrame(dst, addr, cmd, []byte{StatusOK, byte(len(data))}, data)
}

// BuildFrame encodes a frame into a new slice.
func BuildFrame(addr, cmd byte, payload []byte) ([]byte, error) {
	return build(len(payload), func(b []byte) (int, error) {
		return PutFrame(b, addr, cmd, payload)
	})
}

// BuildAck builds a setter reply: [STATUS=0].
func BuildAck(addr, cmd byte) ([]byte, error) {
	return build(1, func(b []byte) (int, error) {
		return PutAck(b, addr, cmd)
	})
}

// BuildErr builds an error reply: [STATUS=code].
func BuildErr(addr, cmd, code byte) ([]byte, error) {
	return build(1, func(b []byte) (int, error) {
		return PutErr(b, addr, cmd, code)
	})
}

// BuildData builds a getter reply: [STATUS=0, BYTECOUNT, DATA...].
func BuildData(addr, cmd byte, data []byte) ([]byte, error) {
	return build(len(data)+2, func(b []byte) (int, error) {
		return PutData(b, addr, cmd, data)
	})
}

func build(payloadLen int, put func([]byte) (int, error)) ([]byte, error) {
	if payloadLen > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	b := make([]byte, payloadLen+Overhead)
	n, err := put(b)
	if err != nil {
		return nil, err
	}
	return b[:n], nil
}

// putFrame writes head and body back to back as the payload.
func putFrame(dst []byte, addr, cmd byte, head, body []byte) (int, error) {
	payloadLen := len(head) + len(body)
	if payloadLen > MaxPayload {
		return 0, ErrPayloadTooLarge
	}
	size := payloadLen + Overhead
	if len(dst) < size {
		return 0, &BufferError{Need: size, Have: len(dst)}
	}
	dst[0], dst[1], dst[2], dst[3] = STX, byte(payloadLen+MinLen), addr, cmd
	n := 4
	n += copy(dst[n:], head)
	n += copy(dst[n:], body)
	crc := CRC16(dst[:n])
	dst[n], dst[n+1] = byte(crc), byte(crc>>8)
	return n + 2, nil
}
