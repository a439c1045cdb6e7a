package rcon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

// Commander dispatches one RCON command to a game server. The scheduler and
// the admin routes depend on this instead of the concrete pool so tests can
// substitute a fake.
type Commander interface {
	SendCommand(ctx context.Context, srv *store.Server, command string) (string, error)
}

// Pool keeps one authenticated connection per server, dialed on first use.
// A failed command drops the connection so the next attempt redials, which
// covers servers restarting between matches.
type Pool struct {
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool creates a connection pool with the given per-command timeout.
func NewPool(timeout time.Duration, logger *slog.Logger) *Pool {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Pool{
		timeout: timeout,
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

func (p *Pool) client(ctx context.Context, srv *store.Server) (*Client, error) {
	p.mu.Lock()
	if c, ok := p.clients[srv.ID]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	// Dial outside the lock so one unreachable server cannot stall the
	// whole pool.
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", srv.Addr())
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s (%s): %v", store.ErrUnavailable, srv.ID, srv.Addr(), err)
	}

	c := NewClient(conn, p.timeout)
	if err := c.Auth(srv.RconPassword); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: auth to %s: %v", store.ErrUnavailable, srv.ID, err)
	}

	p.mu.Lock()
	if existing, ok := p.clients[srv.ID]; ok {
		p.mu.Unlock()
		c.Close()
		return existing, nil
	}
	p.clients[srv.ID] = c
	p.mu.Unlock()

	p.logger.Info("rcon connection established", "server", srv.ID, "address", srv.Addr())
	return c, nil
}

// SendCommand executes one command against a server.
func (p *Pool) SendCommand(ctx context.Context, srv *store.Server, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c, err := p.client(ctx, srv)
	if err != nil {
		return "", err
	}

	out, err := c.Exec(command)
	if err != nil {
		p.Drop(srv.ID)
		p.logger.Warn("rcon command failed, connection dropped",
			"server", srv.ID, "command", command, "error", err)
		return "", fmt.Errorf("%w: command on %s: %v", store.ErrUnavailable, srv.ID, err)
	}
	return out, nil
}

// Drop closes and forgets the connection for a server.
func (p *Pool) Drop(serverID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[serverID]; ok {
		c.Close()
		delete(p.clients, serverID)
	}
}

// IsConnected reports whether a live connection exists for a server.
func (p *Pool) IsConnected(serverID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.clients[serverID]
	return ok
}

// CloseAll closes every pooled connection.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, c := range p.clients {
		c.Close()
		p.logger.Debug("rcon connection closed", "server", id)
	}
	p.clients = make(map[string]*Client)
}
