package netloop

import "go.uber.org/zap"

// EchoHandler replies to every line with the same line. A minimal
// Handler implementation, used in tests.
type EchoHandler struct {
	log    *zap.Logger
	sender Sender
}

func NewEchoHandler(log *zap.Logger) *EchoHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &EchoHandler{log: log}
}

// Bind attaches the reply channel.
func (h *EchoHandler) Bind(s Sender) { h.sender = s }

func (h *EchoHandler) OnConnected(fd int, remote string) {
	h.log.Debug("echo connected", zap.Int("fd", fd), zap.String("remote", remote))
}

func (h *EchoHandler) OnData(fd int, line []byte) {
	if h.sender == nil {
		return
	}
	out := make([]byte, 0, len(line)+1)
	out = append(out, line...)
	out = append(out, '\n')
	if err := h.sender.Send(fd, out); err != nil {
		h.log.Warn("echo send failed", zap.Int("fd", fd), zap.Error(err))
	}
}

func (h *EchoHandler) OnClosed(fd int) {
	h.log.Debug("echo closed", zap.Int("fd", fd))
}
