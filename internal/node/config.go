package node

import (
	"crypto/tls"
	"time"

	"github.com/hchap1/rift/internal/logger"
	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

const (
	DefaultConfirmTimeout = 5 * time.Second
	DefaultMaxPacketSize  = 64 << 20
	DefaultControlBuffer  = 256
)

// Config configures a Local node. Zero values fall back to defaults.
type Config struct {
	// Addr is the UDP address to bind, ":0" for any free port.
	Addr   string
	Logger *logrus.Logger

	// ConfirmTimeout bounds the wait for a receiver's echo.
	ConfirmTimeout time.Duration
	// MaxPacketSize bounds a single inbound exchange.
	MaxPacketSize int64
	// ControlBuffer is the capacity of the connection manager's inbox.
	ControlBuffer int

	QUIC *quic.Config
	TLS  *tls.Config
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":0"
	}
	if c.Logger == nil {
		c.Logger = logger.NewLogger()
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.MaxPacketSize <= 0 {
		c.MaxPacketSize = DefaultMaxPacketSize
	}
	if c.ControlBuffer <= 0 {
		c.ControlBuffer = DefaultControlBuffer
	}
	return c
}
