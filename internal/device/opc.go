package device

import (
	"fmt"
	"net"
	"time"

	"lumen-agent/internal/core"
)

// Open Pixel Control message: channel byte, command byte, big-endian payload
// length, then the RGB payload. Command 0 is "set pixel colors".
const opcCmdSetPixels = 0

const opcWriteTimeout = 2 * time.Second

type opcConn struct {
	conn    net.Conn
	channel uint8
}

func dialOPC(addr string, channel uint8, dialTimeout time.Duration) (*opcConn, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &opcConn{conn: conn, channel: channel}, nil
}

// WriteFrame sends one set-pixels message. A short write or a write past the
// deadline is reported as a transmit failure for the streamer to count.
func (c *opcConn) WriteFrame(rgb []byte) error {
	if len(rgb) > 0xFFFF {
		return fmt.Errorf("%w: payload of %d bytes exceeds protocol limit", core.ErrTransmitFailure, len(rgb))
	}

	msg := make([]byte, 4+len(rgb))
	msg[0] = c.channel
	msg[1] = opcCmdSetPixels
	msg[2] = byte(len(rgb) >> 8)
	msg[3] = byte(len(rgb))
	copy(msg[4:], rgb)

	if err := c.conn.SetWriteDeadline(time.Now().Add(opcWriteTimeout)); err != nil {
		return fmt.Errorf("%w: %v", core.ErrTransmitFailure, err)
	}
	if _, err := c.conn.Write(msg); err != nil {
		return fmt.Errorf("%w: %v", core.ErrTransmitFailure, err)
	}
	return nil
}

func (c *opcConn) Close() error {
	return c.conn.Close()
}

// nullConn swallows frames. Used for headless dry runs and tests.
type nullConn struct {
	frames uint64
}

func (c *nullConn) WriteFrame(rgb []byte) error {
	c.frames++
	return nil
}

func (c *nullConn) Close() error { return nil }
