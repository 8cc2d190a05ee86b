package env

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"

	"github.com/robotalks/stxlink/pkg/l0/comm"
	"github.com/robotalks/stxlink/pkg/l0/conn"
	"github.com/robotalks/stxlink/pkg/l0/device"
)

// AppID protects the machine ID when used as the link ID.
const AppID = "stxlink"

// Config provides common options to setup links.
type Config struct {
	// Link specifies the link URL, see conn.Open.
	Link string
	// BaudRate applies to serial links.
	BaudRate int
	// MTU is the max size of a single write to the link.
	MTU int
	// Address is the device address.
	Address uint
	// MQTTBrokerURL specifies the MQTT broker to use.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
	// LinkID identifies the link in MQTT topics.
	LinkID string
	// Listen specifies where the device emulator accepts links.
	Listen string
}

var defaultConfig = Config{
	Link:          "/dev/ttyACM0",
	BaudRate:      conn.DefaultBaudRate,
	MTU:           comm.DefaultMTU,
	Address:       uint(device.DefaultAddress),
	MQTTBrokerURL: "mqtt://localhost:1883/stxlink/",
	Listen:        "tcp://:5000",
}

func init() {
	loadEnv(&defaultConfig, os.Getenv)
	if defaultConfig.LinkID == "" {
		defaultConfig.LinkID = MachineID()
	}
}

func loadEnv(c *Config, getenv func(string) string) {
	if val := getenv("STXLINK_LINK"); val != "" {
		c.Link = val
	}
	if val := getenv("STXLINK_BAUD"); val != "" {
		setInt(&c.BaudRate, "STXLINK_BAUD", val)
	}
	if val := getenv("STXLINK_MTU"); val != "" {
		setInt(&c.MTU, "STXLINK_MTU", val)
	}
	if val := getenv("STXLINK_ADDR"); val != "" {
		if n, err := strconv.ParseUint(val, 0, 8); err == nil {
			c.Address = uint(n)
		} else {
			glog.Warningf("ignore STXLINK_ADDR=%q: %v", val, err)
		}
	}
	if val := getenv("STXLINK_MQTT_URL"); val != "" {
		c.MQTTBrokerURL = val
	}
	if val := getenv("STXLINK_ID"); val != "" {
		c.LinkID = val
	}
	if val := getenv("STXLINK_LISTEN"); val != "" {
		c.Listen = val
	}
}

func setInt(dst *int, name, val string) {
	n, err := strconv.Atoi(val)
	if err != nil {
		glog.Warningf("ignore %s=%q: %v", name, val, err)
		return
	}
	*dst = n
}

// MachineID retrieves an ID unique to the machine and this application.
// It falls back to the hostname.
func MachineID() string {
	id, err := machineid.ProtectedID(AppID)
	if err == nil {
		return id[:12]
	}
	glog.Warningf("machine id unavailable: %v", err)
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return AppID
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Link, "link", defaultConfig.Link, "Link URL: serial device, tcp://host:port or ws://host:port/path")
	flag.IntVar(&defaultConfig.BaudRate, "baud", defaultConfig.BaudRate, "Baud rate of serial link")
	flag.IntVar(&defaultConfig.MTU, "mtu", defaultConfig.MTU, "Max bytes per write")
	flag.UintVar(&defaultConfig.Address, "addr", defaultConfig.Address, "Device address")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL")
	flag.StringVar(&defaultConfig.LinkID, "id", defaultConfig.LinkID, "Link ID")
	flag.StringVar(&defaultConfig.Listen, "listen", defaultConfig.Listen, "Emulator listen address: tcp://host:port or ws://host:port/path")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Address > 0xff {
		return fmt.Errorf("invalid device address %d", c.Address)
	}
	if c.MTU <= 0 {
		return fmt.Errorf("invalid MTU %d", c.MTU)
	}
	return nil
}

// DeviceAddress returns the configured device address.
func (c *Config) DeviceAddress() byte {
	return byte(c.Address)
}

// Link is an opened link with its FIFO.
type Link struct {
	*comm.FIFO
	URL    string
	closer interface{ Close() error }
}

// Close closes the underlying link.
func (l *Link) Close() error {
	return l.closer.Close()
}

// OpenLink opens the configured link and wraps it with a FIFO.
func (c *Config) OpenLink() (*Link, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	rw, err := conn.Open(c.Link, c.BaudRate)
	if err != nil {
		return nil, fmt.Errorf("open link %s: %w", c.Link, err)
	}
	fifo := comm.NewFIFO(rw)
	fifo.MTU = c.MTU
	return &Link{FIFO: fifo, URL: c.Link, closer: rw}, nil
}

// MustOpenLink opens the link and fails on error.
func (c *Config) MustOpenLink() *Link {
	link, err := c.OpenLink()
	if err != nil {
		glog.Fatal(err)
	}
	return link
}
