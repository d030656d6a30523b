// Package transport wraps the UDP socket shared by the broker and agents.
package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/morezero/mediator-broker/pkg/envelope"
)

const logPrefix = "transport:conn"

// ErrOversize is returned by ReadFrom when the datagram exceeds envelope.MaxDatagramSize.
var ErrOversize = errors.New("transport: datagram exceeds maximum size")

// Conn is a datagram socket. ReadFrom must be called from a single goroutine;
// writes are safe from any goroutine.
type Conn struct {
	udp *net.UDPConn
	buf []byte
}

// Listen binds a UDP socket on addr ("host:port"; port 0 picks an ephemeral port).
func Listen(addr string) (*Conn, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to resolve %s: %w", logPrefix, addr, err)
	}
	udp, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, addr, err)
	}
	return &Conn{udp: udp, buf: make([]byte, envelope.MaxDatagramSize+1)}, nil
}

// ReadFrom blocks for the next datagram and returns a copy of it.
// An oversize datagram is consumed and reported as ErrOversize together with its source.
func (c *Conn) ReadFrom() ([]byte, *net.UDPAddr, error) {
	n, addr, err := c.udp.ReadFromUDP(c.buf)
	if err != nil {
		return nil, nil, err
	}
	if n > envelope.MaxDatagramSize {
		return nil, addr, fmt.Errorf("%s - %w: from %s", logPrefix, ErrOversize, addr)
	}
	data := make([]byte, n)
	copy(data, c.buf[:n])
	return data, addr, nil
}

// WriteTo sends one datagram unchanged.
func (c *Conn) WriteTo(data []byte, addr *net.UDPAddr) error {
	if len(data) > envelope.MaxDatagramSize {
		return envelope.NewError(envelope.CodePayloadTooLarge,
			fmt.Sprintf("datagram is %d bytes, limit is %d", len(data), envelope.MaxDatagramSize))
	}
	if _, err := c.udp.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("%s - failed to write to %s: %w", logPrefix, addr, err)
	}
	return nil
}

// WriteEnvelope encodes env and sends it. Oversize envelopes fail with PAYLOAD_TOO_LARGE.
func (c *Conn) WriteEnvelope(env *envelope.Envelope, addr *net.UDPAddr) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	return c.WriteTo(data, addr)
}

// SetReadDeadline bounds the next ReadFrom; the zero time clears it.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.udp.SetReadDeadline(t)
}

// LocalAddr returns the bound address.
func (c *Conn) LocalAddr() *net.UDPAddr {
	return c.udp.LocalAddr().(*net.UDPAddr)
}

// Close closes the socket and unblocks ReadFrom.
func (c *Conn) Close() error {
	return c.udp.Close()
}

// IsClosed reports whether err came from reading a closed socket.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// ResolveAddr resolves host and port to a UDP address.
func ResolveAddr(host string, port int) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("%s - failed to resolve %s:%d: %w", logPrefix, host, port, err)
	}
	return addr, nil
}
