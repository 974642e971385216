package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittocgi/internal/logger"
)

// TCPConnection is one accepted client connection. It implements cgi.Conn.
type TCPConnection struct {
	server *TCPAdapter
	conn   net.Conn

	id         string
	remoteAddr string

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newTCPConnection(server *TCPAdapter, conn net.Conn) *TCPConnection {
	return &TCPConnection{
		server:     server,
		conn:       conn,
		id:         uuid.NewString(),
		remoteAddr: conn.RemoteAddr().String(),
	}
}

// ID returns the connection's unique id.
func (c *TCPConnection) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *TCPConnection) RemoteAddr() string { return c.remoteAddr }

// Write sends p in one call, bounded by the write timeout.
func (c *TCPConnection) Write(p []byte) error {
	if c.closed.Load() {
		return net.ErrClosed
	}

	if timeout := c.server.config.Timeouts.Write; timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			logger.Debug("Failed to set write deadline for %s: %v", c.remoteAddr, err)
		}
	}

	n, err := c.conn.Write(p)
	c.server.bytesWritten.Add(uint64(n))
	if err != nil {
		return err
	}
	return nil
}

// Close closes the underlying socket. Safe to call more than once.
func (c *TCPConnection) Close() error {
	c.closed.Store(true)
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Closed reports whether the connection has been closed.
func (c *TCPConnection) Closed() bool {
	return c.closed.Load()
}

// Serve reads from the socket and delivers every chunk to the adapter's
// event sink until the peer goes away, the sink returns an error, the
// connection is closed by the pipeline or the server shuts down.
//
// Panics raised while handling a chunk are recovered so one misbehaving
// connection cannot crash the server. OnDisconnect always runs.
func (c *TCPConnection) Serve(ctx context.Context) {
	events := c.server.events

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in connection handler from %s: %v", c.remoteAddr, r)
		}
		_ = c.Close()
		events.OnDisconnect(c)
	}()

	// Wake a blocked Read on shutdown. A chunk already being dispatched is
	// not interrupted.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	events.OnAccept(c)

	buf := make([]byte, c.server.config.ReadBufferSize)
	for {
		if c.closed.Load() {
			logger.Debug("Connection %s closed by handler", c.id)
			return
		}

		if idle := c.server.config.Timeouts.Idle; idle > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
				logger.Warn("Failed to set deadline for %s: %v", c.remoteAddr, err)
			}
		}
		// Checked after arming the deadline so a shutdown racing with it
		// is never missed.
		if ctx.Err() != nil {
			logger.Debug("Connection from %s closed due to server shutdown", c.remoteAddr)
			return
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			c.server.bytesRead.Add(uint64(n))
			if herr := events.OnData(c, buf[:n]); herr != nil {
				logger.Debug("Closing connection %s: %v", c.id, herr)
				return
			}
		}
		if err != nil {
			c.logReadError(ctx, err)
			return
		}
	}
}

func (c *TCPConnection) logReadError(ctx context.Context, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("Connection from %s closed by client", c.remoteAddr)
	case ctx.Err() != nil:
		logger.Debug("Connection from %s closed due to server shutdown", c.remoteAddr)
	case c.closed.Load(), errors.Is(err, net.ErrClosed):
		logger.Debug("Connection from %s closed", c.remoteAddr)
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			logger.Debug("Connection from %s timed out: %v", c.remoteAddr, err)
			return
		}
		logger.Debug("Error reading from %s: %v", c.remoteAddr, err)
	}
}
