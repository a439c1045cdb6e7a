// Package rcon speaks the Source remote-console protocol to game servers:
// a lazily-dialed connection pool keyed by server id, plus the MatchZy
// command helpers the scheduler and admin routes use.
package rcon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Source RCON packet types.
const (
	typeResponseValue = 0
	typeExecCommand   = 2
	typeAuthResponse  = 2
	typeAuth          = 3
)

// maxPacketSize guards against a malformed length prefix.
const maxPacketSize = 16384

// ErrAuthFailed is returned when the server rejects the rcon password.
var ErrAuthFailed = errors.New("rcon: authentication failed")

type packet struct {
	ID      int32
	Type    int32
	Payload string
}

var idCounter atomic.Int32

func nextID() int32 {
	return idCounter.Add(1)
}

// buildPacket frames a payload: little-endian size, id, type, then the
// payload with two null terminators.
func buildPacket(id, packetType int32, payload string) []byte {
	body := append([]byte(payload), 0x00, 0x00)
	size := int32(4 + 4 + len(body))

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, size)
	binary.Write(buf, binary.LittleEndian, id)
	binary.Write(buf, binary.LittleEndian, packetType)
	buf.Write(body)
	return buf.Bytes()
}

// readPacket reads one framed packet from the wire.
func readPacket(r io.Reader) (*packet, error) {
	sizeBytes := make([]byte, 4)
	if _, err := io.ReadFull(r, sizeBytes); err != nil {
		return nil, fmt.Errorf("rcon: reading packet size: %w", err)
	}
	size := int32(binary.LittleEndian.Uint32(sizeBytes))
	if size < 10 || size > maxPacketSize {
		return nil, fmt.Errorf("rcon: invalid packet size %d", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("rcon: reading packet body: %w", err)
	}

	return &packet{
		ID:      int32(binary.LittleEndian.Uint32(body[0:4])),
		Type:    int32(binary.LittleEndian.Uint32(body[4:8])),
		Payload: string(body[8 : len(body)-2]),
	}, nil
}

// Client is a single authenticated RCON connection. The pool shares one
// Client per server between the scheduler and the admin routes, so each
// request holds mu for its full write-then-read exchange; interleaved
// exchanges would consume each other's response packets.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
}

// NewClient wraps an established connection. Auth must be called before
// Exec.
func NewClient(conn net.Conn, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{conn: conn, timeout: timeout}
}

// Auth authenticates with the server's rcon password. A failed auth is
// signalled by a response carrying id -1.
func (c *Client) Auth(password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := nextID()
	c.conn.SetDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(buildPacket(id, typeAuth, password)); err != nil {
		return fmt.Errorf("rcon: sending auth: %w", err)
	}

	// Some servers send an empty response-value packet before the auth
	// response; skip it.
	for {
		p, err := readPacket(c.conn)
		if err != nil {
			return err
		}
		if p.Type != typeAuthResponse {
			continue
		}
		if p.ID != id {
			return ErrAuthFailed
		}
		return nil
	}
}

// Exec sends one command and assembles the (possibly multi-packet)
// response. A trailing empty response-value packet echoed back for a probe
// packet marks the end of a fragmented reply.
func (c *Client) Exec(command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := nextID()
	c.conn.SetDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(buildPacket(id, typeExecCommand, command)); err != nil {
		return "", fmt.Errorf("rcon: sending command: %w", err)
	}

	var (
		out       strings.Builder
		probeSent bool
	)
	for {
		p, err := readPacket(c.conn)
		if err != nil {
			return "", err
		}
		if p.ID != id || p.Type != typeResponseValue {
			continue
		}
		if probeSent && p.Payload == "" {
			break
		}
		out.WriteString(p.Payload)
		if !probeSent {
			if _, err := c.conn.Write(buildPacket(id, typeResponseValue, "")); err != nil {
				return out.String(), fmt.Errorf("rcon: sending probe packet: %w", err)
			}
			probeSent = true
		}
	}
	return out.String(), nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
