// Package netloop provides a single-threaded, readiness-driven TCP
// front end over raw non-blocking sockets. Two interchangeable event
// loop back ends (poll and epoll) feed one Server, which owns the
// listening socket and the live connections and dispatches complete
// lines to a Handler.
package netloop

import "fmt"

// EventType is a bitmask of readiness conditions. Back ends translate
// their native event bits into this mask before dispatching.
type EventType uint32

const (
	Read EventType = 1 << iota
	Write
	Error
)

// Has reports whether all bits of t are set in e.
func (e EventType) Has(t EventType) bool { return e&t == t }

func (e EventType) String() string {
	switch {
	case e == 0:
		return "none"
	default:
		s := ""
		if e.Has(Read) {
			s += "R"
		}
		if e.Has(Write) {
			s += "W"
		}
		if e.Has(Error) {
			s += "E"
		}
		return s
	}
}

// eventFunc is invoked by a loop when fd becomes ready.
type eventFunc func(fd int, ev EventType)

// EventLoop multiplexes readiness over registered descriptors. Run
// blocks until Stop; Stop is safe from any goroutine and takes effect
// at the next iteration.
type EventLoop interface {
	Add(fd int, interest EventType, fn eventFunc) error
	Modify(fd int, interest EventType) error
	Remove(fd int) error
	Run() error
	Stop()
	Close() error
}

// Loop model names accepted by NewLoop.
const (
	ModelPoll  = "poll"
	ModelEpoll = "epoll"
)

// NewLoop constructs an event loop back end by model name.
func NewLoop(model string) (EventLoop, error) {
	switch model {
	case ModelPoll:
		return newPollLoop(), nil
	case ModelEpoll:
		return newEpollLoop()
	default:
		return nil, fmt.Errorf("netloop: unknown model %q", model)
	}
}

// Handler receives connection lifecycle callbacks from a Server. All
// callbacks run on the loop goroutine; handlers must not block.
type Handler interface {
	// OnConnected fires after accept, before any data. remote is the
	// peer address in host:port form.
	OnConnected(fd int, remote string)
	// OnData fires once per complete newline-terminated line, with the
	// terminator stripped. The slice is only valid during the call.
	OnData(fd int, line []byte)
	// OnClosed fires exactly once when the connection is released.
	OnClosed(fd int)
}

// Sender writes a reply to a live connection. Replies are attempted in
// one syscall; a short write surfaces as an error and closes the
// connection.
type Sender interface {
	Send(fd int, p []byte) error
}
