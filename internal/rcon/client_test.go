package rcon

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	raw := buildPacket(7, typeExecCommand, "status")
	p, err := readPacket(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, int32(7), p.ID)
	assert.Equal(t, int32(typeExecCommand), p.Type)
	assert.Equal(t, "status", p.Payload)
}

func TestPacketEmptyPayload(t *testing.T) {
	raw := buildPacket(1, typeResponseValue, "")
	p, err := readPacket(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Empty(t, p.Payload)
}

func TestReadPacketRejectsBadSize(t *testing.T) {
	// A size prefix beyond the cap must not allocate.
	raw := []byte{0xff, 0xff, 0xff, 0x7f}
	_, err := readPacket(bytes.NewReader(raw))
	assert.Error(t, err)
}

// fakeServer answers the rcon protocol over one end of a pipe.
func fakeServer(t *testing.T, conn net.Conn, password string) {
	t.Helper()
	go func() {
		defer conn.Close()
		for {
			p, err := readPacket(conn)
			if err != nil {
				return
			}
			switch p.Type {
			case typeAuth:
				id := p.ID
				if p.Payload != password {
					id = -1
				}
				conn.Write(buildPacket(id, typeAuthResponse, ""))
			case typeExecCommand:
				conn.Write(buildPacket(p.ID, typeResponseValue, "echo:"+p.Payload))
			case typeResponseValue:
				// Probe for fragmented replies; echo it back empty.
				conn.Write(buildPacket(p.ID, typeResponseValue, ""))
			}
		}
	}()
}

func TestClientAuthAndExec(t *testing.T) {
	client, server := net.Pipe()
	fakeServer(t, server, "hunter2")

	c := NewClient(client, time.Second)
	defer c.Close()

	require.NoError(t, c.Auth("hunter2"))

	out, err := c.Exec("status")
	require.NoError(t, err)
	assert.Equal(t, "echo:status", out)
}

func TestClientSerializesConcurrentExec(t *testing.T) {
	client, server := net.Pipe()
	fakeServer(t, server, "hunter2")

	c := NewClient(client, 5*time.Second)
	defer c.Close()
	require.NoError(t, c.Auth("hunter2"))

	// Interleaved exchanges on one connection would swallow each other's
	// response packets; every caller must get its own echo back.
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			command := fmt.Sprintf("status %d", n)
			out, err := c.Exec(command)
			if err != nil {
				errs <- err
				return
			}
			if out != "echo:"+command {
				errs <- fmt.Errorf("got %q for %q", out, command)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestClientAuthWrongPassword(t *testing.T) {
	client, server := net.Pipe()
	fakeServer(t, server, "hunter2")

	c := NewClient(client, time.Second)
	defer c.Close()

	assert.ErrorIs(t, c.Auth("wrong"), ErrAuthFailed)
}
