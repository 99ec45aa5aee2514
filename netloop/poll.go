package netloop

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// pollTimeoutMs bounds each wait so Stop is observed promptly.
const pollTimeoutMs = 1000

type pollEntry struct {
	fd       int
	interest EventType
	fn       eventFunc
}

// pollLoop multiplexes with poll(2) over a flat descriptor array.
// Handler lookup is a linear scan; the registration count stays small
// enough that this never shows up in profiles.
type pollLoop struct {
	mu      sync.Mutex
	entries []pollEntry
	scratch []unix.PollFd
	stopped atomic.Bool
}

func newPollLoop() *pollLoop { return &pollLoop{} }

func (l *pollLoop) Add(fd int, interest EventType, fn eventFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.fd == fd {
			return fmt.Errorf("netloop: fd %d already registered", fd)
		}
	}
	l.entries = append(l.entries, pollEntry{fd: fd, interest: interest, fn: fn})
	return nil
}

func (l *pollLoop) Modify(fd int, interest EventType) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].fd == fd {
			l.entries[i].interest = interest
			return nil
		}
	}
	return fmt.Errorf("netloop: fd %d not registered", fd)
}

func (l *pollLoop) Remove(fd int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].fd == fd {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("netloop: fd %d not registered", fd)
}

func (l *pollLoop) Run() error {
	for !l.stopped.Load() {
		l.mu.Lock()
		l.scratch = l.scratch[:0]
		for _, e := range l.entries {
			var ev int16
			if e.interest.Has(Read) {
				ev |= unix.POLLIN
			}
			if e.interest.Has(Write) {
				ev |= unix.POLLOUT
			}
			l.scratch = append(l.scratch, unix.PollFd{Fd: int32(e.fd), Events: ev})
		}
		l.mu.Unlock()

		n, err := unix.Poll(l.scratch, pollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("netloop: poll: %w", err)
		}
		if n == 0 {
			continue
		}

		for i := range l.scratch {
			re := l.scratch[i].Revents
			if re == 0 {
				continue
			}
			fd := int(l.scratch[i].Fd)
			fn := l.lookup(fd)
			if fn != nil {
				fn(fd, translatePoll(re))
			}
		}
	}
	return nil
}

func (l *pollLoop) Stop() { l.stopped.Store(true) }

func (l *pollLoop) Close() error { return nil }

// lookup finds the handler for fd. The callback may have removed the
// registration between wait and dispatch, hence the nil case.
func (l *pollLoop) lookup(fd int) eventFunc {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.fd == fd {
			return e.fn
		}
	}
	return nil
}

// translatePoll maps poll(2) revents into the portable mask.
func translatePoll(re int16) EventType {
	var ev EventType
	if re&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		ev |= Error
	}
	if re&unix.POLLIN != 0 {
		ev |= Read
	}
	if re&unix.POLLOUT != 0 {
		ev |= Write
	}
	return ev
}
