package netloop

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	listenBacklog = 128
	// readBufSize bounds both the per-read scratch and the length of a
	// buffered partial line. A line that outgrows it closes the
	// connection.
	readBufSize = 4096
)

// conn is the per-connection state: the descriptor, the peer address
// and any partial line carried across reads.
type conn struct {
	fd     int
	remote string
	buf    []byte
}

// Server accepts TCP connections on a raw non-blocking socket,
// registers them with an EventLoop and dispatches complete lines to a
// Handler. All handler callbacks run on the loop goroutine.
//
// Server implements Sender; replies are written in one syscall and a
// short write closes the connection.
type Server struct {
	loop    EventLoop
	handler Handler
	log     *zap.Logger

	listenFd int
	addr     string

	mu    sync.Mutex
	conns map[int]*conn

	rbuf [readBufSize]byte
}

// NewServer wires a loop and a handler. Call Listen, then Run.
func NewServer(loop EventLoop, h Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		loop:     loop,
		handler:  h,
		log:      log,
		listenFd: -1,
		conns:    make(map[int]*conn),
	}
}

// Listen binds a non-blocking listening socket on host:port with
// SO_REUSEADDR. host must be an IPv4 address; empty means all
// interfaces. Port 0 picks an ephemeral port, visible via Addr.
func (s *Server) Listen(host string, port int) error {
	var ip4 [4]byte
	if host != "" {
		ip := net.ParseIP(host)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("netloop: not an IPv4 address: %q", host)
		}
		copy(ip4[:], ip.To4())
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("netloop: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("netloop: setsockopt: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: ip4}); err != nil {
		unix.Close(fd)
		return fmt.Errorf("netloop: bind %s:%d: %w", host, port, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return fmt.Errorf("netloop: listen: %w", err)
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("netloop: getsockname: %w", err)
	}
	s.listenFd = fd
	s.addr = sockaddrString(sa)
	return nil
}

// Addr returns the bound listen address (host:port), valid after
// Listen. With port 0 this carries the kernel-assigned port.
func (s *Server) Addr() string { return s.addr }

// Run registers the listening socket and drives the event loop until
// Stop. Blocks on the calling goroutine.
func (s *Server) Run() error {
	if s.listenFd < 0 {
		return fmt.Errorf("netloop: Run before Listen")
	}
	if err := s.loop.Add(s.listenFd, Read, s.onListenReady); err != nil {
		return err
	}
	s.log.Info("serving", zap.String("addr", s.addr))
	return s.loop.Run()
}

// Stop makes the loop exit at its next iteration. In-flight callbacks
// complete first.
func (s *Server) Stop() { s.loop.Stop() }

// Close releases every connection, the listening socket and the loop.
func (s *Server) Close() error {
	s.mu.Lock()
	fds := make([]int, 0, len(s.conns))
	for fd := range s.conns {
		fds = append(fds, fd)
	}
	s.mu.Unlock()
	for _, fd := range fds {
		s.closeConn(fd)
	}
	if s.listenFd >= 0 {
		_ = s.loop.Remove(s.listenFd)
		_ = unix.Close(s.listenFd)
		s.listenFd = -1
	}
	return s.loop.Close()
}

// Send writes p to fd in one syscall. Any error or short write closes
// the connection and is reported to the caller.
func (s *Server) Send(fd int, p []byte) error {
	n, err := unix.Write(fd, p)
	if err != nil {
		s.closeConn(fd)
		return fmt.Errorf("netloop: write fd %d: %w", fd, err)
	}
	if n < len(p) {
		s.closeConn(fd)
		return fmt.Errorf("netloop: short write fd %d: %d of %d bytes", fd, n, len(p))
	}
	return nil
}

// -------------------- loop callbacks --------------------

// onListenReady accepts until the backlog is drained (required under
// edge triggering).
func (s *Server) onListenReady(_ int, ev EventType) {
	if ev.Has(Error) {
		s.log.Error("listen socket error, stopping")
		s.Stop()
		return
	}
	for {
		nfd, sa, err := unix.Accept(s.listenFd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			s.log.Warn("accept failed", zap.Error(err))
			return
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			unix.Close(nfd)
			continue
		}
		remote := sockaddrString(sa)
		c := &conn{fd: nfd, remote: remote}
		s.mu.Lock()
		s.conns[nfd] = c
		s.mu.Unlock()

		if err := s.loop.Add(nfd, Read, s.onConnReady); err != nil {
			s.log.Warn("register failed", zap.Int("fd", nfd), zap.Error(err))
			s.mu.Lock()
			delete(s.conns, nfd)
			s.mu.Unlock()
			unix.Close(nfd)
			continue
		}
		s.log.Debug("accepted", zap.Int("fd", nfd), zap.String("remote", remote))
		s.handler.OnConnected(nfd, remote)
	}
}

func (s *Server) onConnReady(fd int, ev EventType) {
	if ev.Has(Error) {
		s.closeConn(fd)
		return
	}
	if ev.Has(Read) {
		s.readConn(fd)
	}
}

// readConn drains fd until EAGAIN, feeding bytes into the line
// assembler. EOF or a read error releases the connection.
func (s *Server) readConn(fd int) {
	for {
		n, err := unix.Read(fd, s.rbuf[:])
		if n > 0 {
			if !s.feed(fd, s.rbuf[:n]) {
				return
			}
		}
		switch {
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return
		case err == unix.EINTR:
			continue
		case err != nil:
			s.log.Debug("read failed", zap.Int("fd", fd), zap.Error(err))
			s.closeConn(fd)
			return
		case n == 0: // EOF
			s.closeConn(fd)
			return
		}
	}
}

// feed appends data to the connection's buffer and dispatches every
// complete line. Returns false if the connection was closed (overlong
// line, or the handler's reply failed and tore it down).
func (s *Server) feed(fd int, data []byte) bool {
	s.mu.Lock()
	c, ok := s.conns[fd]
	s.mu.Unlock()
	if !ok {
		return false
	}
	c.buf = append(c.buf, data...)

	for {
		i := bytes.IndexByte(c.buf, '\n')
		if i < 0 {
			break
		}
		line := c.buf[:i]
		s.handler.OnData(fd, line)
		c.buf = c.buf[i+1:]

		// The handler may have sent a reply that failed and closed fd.
		s.mu.Lock()
		_, alive := s.conns[fd]
		s.mu.Unlock()
		if !alive {
			return false
		}
	}

	if len(c.buf) > readBufSize {
		s.log.Warn("line too long, closing", zap.Int("fd", fd), zap.Int("buffered", len(c.buf)))
		s.closeConn(fd)
		return false
	}
	return true
}

// closeConn removes fd from the loop, closes the socket and fires
// OnClosed exactly once.
func (s *Server) closeConn(fd int) {
	s.mu.Lock()
	_, ok := s.conns[fd]
	if ok {
		delete(s.conns, fd)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = s.loop.Remove(fd)
	_ = unix.Close(fd)
	s.log.Debug("closed", zap.Int("fd", fd))
	s.handler.OnClosed(fd)
}

// sockaddrString renders a socket address as host:port.
func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	default:
		return "unknown"
	}
}
