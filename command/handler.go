// Package command implements the line protocol spoken over the TCP
// front end: slash-delimited get/set commands against the user store,
// with single-line replies.
package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/userkv/userkv/internal/telemetry"
	"github.com/userkv/userkv/netloop"
	"github.com/userkv/userkv/store"
)

// Store is the engine subset the handler needs.
type Store interface {
	Get(key string) (store.User, bool)
	Set(key string, v store.User) error
}

// welcome is sent once per connection, before any command.
const welcome = "欢迎连接到用户信息存储服务器！\n" +
	"可用命令:\n" +
	"  get/<id或name>                     - 获取用户信息\n" +
	"  set/<field>/<id或name>/<value>     - 设置用户信息\n" +
	"字段(field)支持: name, email, phone, cash\n" +
	"cash字段支持负数表示取款\n" +
	"示例:\n" +
	"  get/1001                    - 获取ID为1001的用户信息\n" +
	"  get/john                    - 获取姓名为john的用户信息\n" +
	"  set/name/john/John Doe      - 设置john的姓名为John Doe\n" +
	"  set/cash/1001/1000          - 将用户1001的余额设为1000元\n" +
	"  set/cash/1001/-500          - 将用户1001的余额设为-500元\n\n"

// helpBlock answers commands of unknown shape.
const helpBlock = "error: 未知命令或参数错误\n" +
	"可用命令:\n" +
	"  get/<id或name>              - 获取用户信息\n" +
	"  set/<field>/<id或name>/<value> - 设置用户信息\n" +
	"字段(field)支持: name, email, phone, cash\n" +
	"cash字段支持负数表示取款\n"

// Handler parses commands and formats replies. It is stateless per
// connection; all record state lives in the store. Implements
// netloop.Handler.
type Handler struct {
	store  Store
	log    *zap.Logger
	sender netloop.Sender
}

// NewHandler builds a handler over s. Bind the server's Sender before
// the loop runs.
func NewHandler(s Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{store: s, log: log}
}

// Bind attaches the reply channel. The server is constructed after the
// handler, so the sender arrives late.
func (h *Handler) Bind(s netloop.Sender) { h.sender = s }

// OnConnected greets the client with the command reference.
func (h *Handler) OnConnected(fd int, remote string) {
	h.log.Info("client connected", zap.Int("fd", fd), zap.String("remote", remote))
	telemetry.ConnectionsOpen.Inc()
	h.send(fd, welcome)
}

// OnData handles one complete line: parse, execute, reply.
func (h *Handler) OnData(fd int, line []byte) {
	start := time.Now()
	op, status, reply := h.execute(string(line))
	if op == "" {
		return // blank line, no reply
	}
	telemetry.ObserveCommand(op, status, time.Since(start))
	h.log.Debug("command",
		zap.Int("fd", fd),
		zap.String("op", op),
		zap.String("status", status),
	)
	if reply != "" {
		h.send(fd, reply)
	}
}

// OnClosed logs the disconnect.
func (h *Handler) OnClosed(fd int) {
	telemetry.ConnectionsOpen.Dec()
	h.log.Info("client disconnected", zap.Int("fd", fd))
}

func (h *Handler) send(fd int, reply string) {
	if h.sender == nil {
		return
	}
	if err := h.sender.Send(fd, []byte(reply)); err != nil {
		h.log.Warn("send failed", zap.Int("fd", fd), zap.Error(err))
	}
}

// execute runs one command line and returns the op ("get", "set" or
// "unknown"; "" for a blank line), a status label for metrics, and the
// reply text ("" suppresses the reply).
func (h *Handler) execute(line string) (op, status, reply string) {
	line = trim(line)
	if line == "" {
		return "", "", ""
	}

	tokens := splitTokens(line)
	if len(tokens) < 2 {
		return "unknown", "error", "error: 无效的命令格式\n"
	}

	switch {
	case tokens[0] == "get" && len(tokens) == 2:
		return h.doGet(tokens[1])
	case tokens[0] == "set" && len(tokens) == 4:
		return h.doSet(tokens[1], tokens[2], tokens[3])
	default:
		return "unknown", "error", helpBlock
	}
}

func (h *Handler) doGet(key string) (op, status, reply string) {
	u, ok := h.store.Get(key)
	if !ok {
		return "get", "miss", "fail\n"
	}
	return "get", "hit", fmt.Sprintf("data/%d/%s/%s/%s/%d\n",
		u.ID, u.Name, u.Email, u.Phone, u.Cash)
}

func (h *Handler) doSet(field, key, value string) (op, status, reply string) {
	u, ok := h.store.Get(key)
	if !ok {
		// Materialize a fresh record: an all-numeric key becomes the
		// ID (administrator account), anything else becomes the name.
		if allDigits(key) {
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return "set", "invalid", "fail: 无效的ID\n"
			}
			u = store.User{ID: id, Name: "管理员"}
		} else {
			u = store.User{ID: -1, Name: key}
		}
	}

	switch field {
	case "name":
		u.Name = value
	case "email":
		u.Email = value
	case "phone":
		u.Phone = value
	case "cash":
		cash, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return "set", "invalid", "fail: 无效的金额\n"
		}
		u.Cash = cash
	default:
		return "set", "invalid", "fail: 无效的字段\n"
	}

	if err := h.store.Set(key, u); err != nil {
		return "set", "error", "fail: 存储失败\n"
	}
	return "set", "ok", "ok\n"
}

// allDigits reports whether s is non-empty and consists only of ASCII
// digits. Keys that pass here are parsed as IDs; everything else is
// treated as a name.
func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// splitTokens splits on '/', drops empty tokens and trims each token
// of spaces and CR/LF.
func splitTokens(s string) []string {
	parts := strings.Split(s, "/")
	tokens := parts[:0]
	for _, p := range parts {
		if p == "" {
			continue
		}
		p = trim(p)
		if p == "" {
			continue
		}
		tokens = append(tokens, p)
	}
	return tokens
}

func trim(s string) string {
	return strings.Trim(s, " \r\n")
}
