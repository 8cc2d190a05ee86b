package conn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"go.bug.st/serial"
	"golang.org/x/net/websocket"
)

// Defaults for links.
const (
	DefaultBaudRate   = 115200
	KeepAlivePeriod   = 30 * time.Second
	DialTimeout       = 5 * time.Second
	SerialReadTimeout = 100 * time.Millisecond
)

// ErrUnsupportedLink indicates the scheme of a link URL is unknown.
var ErrUnsupportedLink = errors.New("unsupported link")

// Open connects to the link.
//
// Supported forms:
//   - /dev/ttyACM0, file:///dev/ttyACM0, serial:///dev/ttyACM0?baud=9600
//   - tcp://host:port, socket://host:port
//   - ws://host:port/path, wss://host:port/path
//
// baud applies to serial links unless the URL specifies one; 0 means DefaultBaudRate.
func Open(link string, baud int) (io.ReadWriteCloser, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("invalid link %q: %w", link, err)
	}
	switch u.Scheme {
	case "", "file", "serial":
		if val := u.Query().Get("baud"); val != "" {
			if baud, err = strconv.Atoi(val); err != nil {
				return nil, fmt.Errorf("invalid baud rate %q: %w", val, err)
			}
		}
		return OpenSerial(u.Path, baud)
	case "tcp", "socket":
		return DialTCP(u.Host)
	case "ws", "wss":
		return DialWebSocket(link)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLink, link)
	}
}

// OpenSerial opens a serial port with 8N1.
func OpenSerial(name string, baud int) (io.ReadWriteCloser, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(SerialReadTimeout); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// DialTCP connects to a TCP endpoint with keep-alive enabled.
func DialTCP(addr string) (io.ReadWriteCloser, error) {
	c, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, err
	}
	if tcp, ok := c.(*net.TCPConn); ok {
		tcp.SetKeepAlive(true)
		tcp.SetKeepAlivePeriod(KeepAlivePeriod)
	}
	return c, nil
}

// DialWebSocket connects to a WebSocket endpoint exchanging binary frames.
func DialWebSocket(link string) (io.ReadWriteCloser, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, err
	}
	origin := &url.URL{Scheme: "http", Host: u.Host}
	if u.Scheme == "wss" {
		origin.Scheme = "https"
	}
	ws, err := websocket.Dial(link, "", origin.String())
	if err != nil {
		return nil, err
	}
	ws.PayloadType = websocket.BinaryFrame
	return ws, nil
}

// Ports lists the serial ports on the system.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
