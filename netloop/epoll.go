package netloop

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// maxEvents caps how many ready descriptors one wait can return.
const maxEvents = 64

// epollLoop multiplexes with epoll(7) in edge-triggered mode. Handlers
// are looked up by descriptor in a map. Edge triggering requires the
// server to drain reads until EAGAIN, which it does for both back ends.
type epollLoop struct {
	epfd int

	mu       sync.Mutex
	handlers map[int]eventFunc

	stopped atomic.Bool
}

func newEpollLoop() (*epollLoop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("netloop: epoll_create1: %w", err)
	}
	return &epollLoop{epfd: epfd, handlers: make(map[int]eventFunc)}, nil
}

func (l *epollLoop) Add(fd int, interest EventType, fn eventFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.handlers[fd]; ok {
		return fmt.Errorf("netloop: fd %d already registered", fd)
	}
	ev := unix.EpollEvent{Events: epollBits(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("netloop: epoll_ctl add fd %d: %w", fd, err)
	}
	l.handlers[fd] = fn
	return nil
}

func (l *epollLoop) Modify(fd int, interest EventType) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.handlers[fd]; !ok {
		return fmt.Errorf("netloop: fd %d not registered", fd)
	}
	ev := unix.EpollEvent{Events: epollBits(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("netloop: epoll_ctl mod fd %d: %w", fd, err)
	}
	return nil
}

func (l *epollLoop) Remove(fd int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.handlers[fd]; !ok {
		return fmt.Errorf("netloop: fd %d not registered", fd)
	}
	delete(l.handlers, fd)
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("netloop: epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

func (l *epollLoop) Run() error {
	events := make([]unix.EpollEvent, maxEvents)
	for !l.stopped.Load() {
		n, err := unix.EpollWait(l.epfd, events, pollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("netloop: epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			l.mu.Lock()
			fn := l.handlers[fd]
			l.mu.Unlock()
			if fn != nil {
				fn(fd, translateEpoll(events[i].Events))
			}
		}
	}
	return nil
}

func (l *epollLoop) Stop() { l.stopped.Store(true) }

func (l *epollLoop) Close() error { return unix.Close(l.epfd) }

// epollBits maps the portable mask into edge-triggered epoll interest.
func epollBits(interest EventType) uint32 {
	bits := uint32(unix.EPOLLET)
	if interest.Has(Read) {
		bits |= unix.EPOLLIN
	}
	if interest.Has(Write) {
		bits |= unix.EPOLLOUT
	}
	return bits
}

// translateEpoll maps epoll events into the portable mask.
func translateEpoll(bits uint32) EventType {
	var ev EventType
	if bits&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		ev |= Error
	}
	if bits&unix.EPOLLIN != 0 {
		ev |= Read
	}
	if bits&unix.EPOLLOUT != 0 {
		ev |= Write
	}
	return ev
}
