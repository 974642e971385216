package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittocgi/internal/logger"
	"github.com/marmos91/dittocgi/pkg/adapter"
	"github.com/marmos91/dittocgi/pkg/metrics"
)

// TCPAdapter implements adapter.Adapter over a TCP listener.
//
// Each accepted connection runs in its own goroutine, which delivers the
// connection's bytes to the event sink in arrival order.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled: idle connections stop reading, busy ones finish
//     the chunk they are processing
//  4. Wait for active connections to exit (up to ShutdownTimeout)
//  5. Force-close any remaining connections after timeout
type TCPAdapter struct {
	config  TCPConfig
	events  adapter.Events
	metrics metrics.CGIMetrics

	// listenerMu guards listener, which Serve sets and initiateShutdown
	// closes from another goroutine.
	listenerMu sync.Mutex
	listener   net.Listener
	port       atomic.Int32
	ready    chan struct{}

	activeConns  sync.WaitGroup
	connCount    atomic.Int32
	shutdownOnce sync.Once
	shutdown     chan struct{}

	// connSemaphore bounds concurrent connections; nil when unlimited.
	connSemaphore chan struct{}

	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps connection id to *TCPConnection for forced
	// closure.
	activeConnections sync.Map

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// TimeoutsConfig groups the per-connection deadlines.
type TimeoutsConfig struct {
	// Write bounds a single response write. 0 disables.
	Write time.Duration `mapstructure:"write" validate:"min=0"`

	// Idle closes a connection that delivers no bytes for this long.
	// 0 disables.
	Idle time.Duration `mapstructure:"idle" validate:"min=0"`
}

// TCPConfig configures the TCP transport.
//
// Default values (applied by New if zero):
//   - Port: 9000
//   - ReadBufferSize: 64KB
//   - Write timeout: 30s
//   - Idle timeout: 5m
//   - ShutdownTimeout: 30s
//   - MetricsLogInterval: 5m
type TCPConfig struct {
	// Enabled controls whether the TCP adapter is started.
	Enabled bool `mapstructure:"enabled"`

	// BindAddress is the interface to listen on. Empty means all.
	BindAddress string `mapstructure:"bind_address"`

	// Port to listen on. -1 asks the OS for an ephemeral port.
	Port int `mapstructure:"port" validate:"min=-1,max=65535"`

	// MaxConnections limits concurrent connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// ReadBufferSize is the size of the per-connection read buffer.
	ReadBufferSize int `mapstructure:"read_buffer_size" validate:"min=0"`

	Timeouts TimeoutsConfig `mapstructure:"timeouts"`

	// ShutdownTimeout bounds graceful shutdown before connections are
	// force-closed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MetricsLogInterval is how often connection statistics are logged.
	// Negative disables.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval"`
}

func (c *TCPConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = 9000
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 64 << 10
	}
	if c.Timeouts.Write == 0 {
		c.Timeouts.Write = 30 * time.Second
	}
	if c.Timeouts.Idle == 0 {
		c.Timeouts.Idle = 5 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
}

func (c *TCPConfig) validate() error {
	if c.Port < -1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be -1..65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.Timeouts.Write < 0 || c.Timeouts.Idle < 0 {
		return fmt.Errorf("invalid timeouts %+v: must be >= 0", c.Timeouts)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// New creates a stopped adapter. Call SetEvents, then Serve.
//
// Zero-valued config fields receive the defaults listed on TCPConfig before
// validation. The listener is not bound until Serve runs.
//
// Parameters:
//   - config: transport settings
//   - m: metrics sink; nil selects a no-op implementation
//
// Returns:
//   - A configured adapter with no open listener
//
// Panics if config validation fails.
func New(config TCPConfig, m metrics.CGIMetrics) *TCPAdapter {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid TCP config: %v", err))
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("TCP connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("TCP connection limit: unlimited")
	}

	if m == nil {
		m = metrics.NewNoopCGIMetrics()
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	a := &TCPAdapter{
		config:         config,
		metrics:        m,
		ready:          make(chan struct{}),
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
	a.port.Store(int32(max(config.Port, 0)))
	return a
}

// SetEvents implements adapter.Adapter.
//
// Thread safety: must be called before Serve. Changing the sink while
// connections are open is not supported.
func (s *TCPAdapter) SetEvents(events adapter.Events) {
	s.events = events
}

// Serve implements adapter.Adapter.
//
// Serve binds the listener, closes Ready, and accepts connections until ctx
// is cancelled or Stop is called, then runs the graceful shutdown flow
// described on TCPAdapter.
//
// If Stop ran before the listener was bound, the listener is closed at once
// and Serve returns without accepting anything.
//
// Returns:
//   - nil after a clean shutdown, whether ctx was cancelled or Stop was
//     called (including Stop before Serve)
//   - An error if connections had to be force-closed after ShutdownTimeout
//   - An error if no event sink is set, or a *adapter.BindError if the port
//     cannot be bound
//
// Thread safety: call at most once per adapter.
func (s *TCPAdapter) Serve(ctx context.Context) error {
	if s.events == nil {
		return fmt.Errorf("TCP adapter has no event sink; call SetEvents before Serve")
	}

	port := max(s.config.Port, 0)
	addr := net.JoinHostPort(s.config.BindAddress, fmt.Sprintf("%d", port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return &adapter.BindError{Address: addr, Err: err}
	}

	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.port.Store(int32(tcpAddr.Port))
	}

	// Stop may have run before the listener existed; its close would
	// then have been a no-op.
	s.listenerMu.Lock()
	s.listener = listener
	stopped := false
	select {
	case <-s.shutdown:
		stopped = true
		_ = listener.Close()
	default:
	}
	s.listenerMu.Unlock()
	close(s.ready)

	if stopped {
		logger.Debug("TCP adapter stopped before serving; listener on %s closed", listener.Addr())
		return nil
	}

	logger.Info("TCP server listening on %s", listener.Addr())
	logger.Debug("TCP config: max_connections=%d write_timeout=%v idle_timeout=%v",
		s.config.MaxConnections, s.config.Timeouts.Write, s.config.Timeouts.Idle)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("TCP shutdown signal received: %v", ctx.Err())
		case <-s.shutdown:
		}
		s.initiateShutdown()
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(s.shutdownCtx)
	}

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		netConn, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting TCP connection: %v", err)
				continue
			}
		}

		s.activeConns.Add(1)
		current := s.connCount.Add(1)

		conn := newTCPConnection(s, netConn)
		s.activeConnections.Store(conn.ID(), conn)

		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(current)
		logger.Debug("TCP connection %s accepted from %s (active: %d)", conn.ID(), conn.RemoteAddr(), current)

		go func(c *TCPConnection) {
			defer func() {
				s.activeConnections.Delete(c.ID())
				s.activeConns.Done()
				current := s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}
				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(current)
				logger.Debug("TCP connection %s closed (active: %d)", c.ID(), current)
			}()

			c.Serve(s.shutdownCtx)
		}(conn)
	}
}

func (s *TCPAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("TCP shutdown initiated")
		s.listenerMu.Lock()
		close(s.shutdown)
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing TCP listener: %v", err)
			}
		}
		s.listenerMu.Unlock()

		s.cancelRequests()
	})
}

// gracefulShutdown waits for connections to exit, then force-closes the
// stragglers.
func (s *TCPAdapter) gracefulShutdown() error {
	activeCount := s.connCount.Load()
	logger.Info("TCP graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		activeCount, s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("TCP graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("TCP shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, s.config.ShutdownTimeout)
		s.forceCloseConnections()
		return fmt.Errorf("TCP shutdown timeout: %d connections force-closed", remaining)
	}
}

func (s *TCPAdapter) forceCloseConnections() {
	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		conn := value.(*TCPConnection)
		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection %s: %v", key, err)
		} else {
			closedCount++
			s.metrics.RecordConnectionForceClosed()
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed %d connection(s)", closedCount)
	}
}

// Stop implements adapter.Adapter.
//
// Stop closes the listener, signals connections to finish, and waits for
// them to exit. It may be called before Serve, and more than once.
//
// Parameters:
//   - ctx: bounds the wait; nil falls back to ShutdownTimeout followed by a
//     force-close of any remaining connections
//
// Returns:
//   - nil once every connection has exited
//   - ctx.Err() if ctx expired first; connections keep draining
//
// Thread safety: safe to call concurrently with Serve and with itself.
func (s *TCPAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		remaining := s.connCount.Load()
		logger.Warn("TCP shutdown context cancelled: %d connection(s) still active: %v",
			remaining, ctx.Err())
		return ctx.Err()
	}
}

func (s *TCPAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("TCP metrics: active_connections=%d read=%s written=%s",
				s.connCount.Load(),
				humanize.Bytes(s.bytesRead.Load()),
				humanize.Bytes(s.bytesWritten.Load()))
		}
	}
}

// GetActiveConnections returns the current number of open connections.
func (s *TCPAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Addr blocks until the listener is bound and returns its address.
//
// Useful with Port -1 to learn the ephemeral port. Do not call Addr on an
// adapter whose Serve never runs; it would block forever.
//
// Thread safety: safe to call concurrently.
func (s *TCPAdapter) Addr() net.Addr {
	<-s.ready
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	return s.listener.Addr()
}

// Ready is closed once the listener is bound.
func (s *TCPAdapter) Ready() <-chan struct{} {
	return s.ready
}

// Port implements adapter.Adapter.
func (s *TCPAdapter) Port() int {
	return int(s.port.Load())
}

// Protocol implements adapter.Adapter.
func (s *TCPAdapter) Protocol() string {
	return "TCP"
}
