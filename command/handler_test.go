package command

import (
	"strings"
	"testing"

	"github.com/userkv/userkv/store"
)

func newTestHandler() (*Handler, *store.Engine) {
	e := store.NewEngine(store.Options{HashCapacity: 64, LRUCapacity: 64, EnableLRU: true})
	return NewHandler(e, nil), e
}

func TestExecute_GetHitAndMiss(t *testing.T) {
	t.Parallel()

	h, e := newTestHandler()
	if err := e.Set("1001", store.User{ID: 1001, Name: "张三", Email: "z@x.cn", Phone: "13800000000", Cash: 500}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	op, status, reply := h.execute("get/1001\n")
	if op != "get" || status != "hit" {
		t.Fatalf("op=%q status=%q", op, status)
	}
	if reply != "data/1001/张三/z@x.cn/13800000000/500\n" {
		t.Fatalf("reply = %q", reply)
	}

	op, status, reply = h.execute("get/ghost")
	if op != "get" || status != "miss" || reply != "fail\n" {
		t.Fatalf("miss: op=%q status=%q reply=%q", op, status, reply)
	}
}

func TestExecute_SetMaterializesNumericKey(t *testing.T) {
	t.Parallel()

	h, e := newTestHandler()
	op, status, reply := h.execute("set/cash/1001/1000")
	if op != "set" || status != "ok" || reply != "ok\n" {
		t.Fatalf("op=%q status=%q reply=%q", op, status, reply)
	}
	u, ok := e.Get("1001")
	if !ok || u.ID != 1001 || u.Name != "管理员" || u.Cash != 1000 {
		t.Fatalf("materialized %+v ok=%v", u, ok)
	}
}

func TestExecute_SetMaterializesNameKey(t *testing.T) {
	t.Parallel()

	h, e := newTestHandler()
	if _, _, reply := h.execute("set/email/john/j@x.io"); reply != "ok\n" {
		t.Fatalf("reply = %q", reply)
	}
	u, ok := e.Get("john")
	if !ok || u.ID != -1 || u.Name != "john" || u.Email != "j@x.io" {
		t.Fatalf("materialized %+v ok=%v", u, ok)
	}
}

func TestExecute_SetUpdatesExisting(t *testing.T) {
	t.Parallel()

	h, e := newTestHandler()
	_ = e.Set("john", store.User{ID: 7, Name: "john", Cash: 100})

	if _, _, reply := h.execute("set/name/john/John Doe"); reply != "ok\n" {
		t.Fatalf("reply = %q", reply)
	}
	if _, _, reply := h.execute("set/cash/john/-500"); reply != "ok\n" {
		t.Fatalf("withdrawal reply = %q", reply)
	}

	u, _ := e.Get("john")
	if u.ID != 7 || u.Name != "John Doe" || u.Cash != -500 {
		t.Fatalf("after updates: %+v", u)
	}
}

func TestExecute_Validation(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler()
	cases := []struct {
		name   string
		line   string
		status string
		reply  string
	}{
		{"bad cash", "set/cash/1001/abc", "invalid", "fail: 无效的金额\n"},
		{"bad field", "set/rank/1001/9", "invalid", "fail: 无效的字段\n"},
		{"overflow id", "set/name/99999999999999999999/x", "invalid", "fail: 无效的ID\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			op, status, reply := h.execute(c.line)
			if op != "set" || status != c.status || reply != c.reply {
				t.Fatalf("op=%q status=%q reply=%q", op, status, reply)
			}
		})
	}
}

func TestExecute_Shapes(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler()

	// Blank lines produce no reply at all.
	if op, _, reply := h.execute("  \r\n"); op != "" || reply != "" {
		t.Fatalf("blank line: op=%q reply=%q", op, reply)
	}

	// A single token is a malformed command.
	if _, status, reply := h.execute("get"); status != "error" || reply != "error: 无效的命令格式\n" {
		t.Fatalf("single token: status=%q reply=%q", status, reply)
	}

	// Unknown verbs and wrong arities answer with the help block.
	for _, line := range []string{"del/1001", "get/a/b", "set/name/x", "set/a/b/c/d"} {
		op, status, reply := h.execute(line)
		if op != "unknown" || status != "error" {
			t.Fatalf("%q: op=%q status=%q", line, op, status)
		}
		if !strings.HasPrefix(reply, "error: 未知命令或参数错误\n") {
			t.Fatalf("%q: reply = %q", line, reply)
		}
	}
}

func TestExecute_TokenCleaning(t *testing.T) {
	t.Parallel()

	h, e := newTestHandler()
	_ = e.Set("1001", store.User{ID: 1001, Name: "n"})

	// Empty tokens are dropped; surrounding spaces and CR/LF stripped.
	if _, status, _ := h.execute("get//1001\r\n"); status != "hit" {
		t.Fatalf("doubled slash: status=%q", status)
	}
	if _, status, _ := h.execute(" get/ 1001 "); status != "hit" {
		t.Fatalf("spaced tokens: status=%q", status)
	}
}

// A sender that records everything written to it.
type recordingSender struct {
	fds  []int
	data []string
}

func (r *recordingSender) Send(fd int, p []byte) error {
	r.fds = append(r.fds, fd)
	r.data = append(r.data, string(p))
	return nil
}

func TestHandler_ConnectionLifecycle(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler()
	rec := &recordingSender{}
	h.Bind(rec)

	h.OnConnected(5, "127.0.0.1:40000")
	if len(rec.data) != 1 || !strings.HasPrefix(rec.data[0], "欢迎连接到用户信息存储服务器！\n") {
		t.Fatalf("welcome not sent: %q", rec.data)
	}

	h.OnData(5, []byte("set/cash/1001/42"))
	if got := rec.data[len(rec.data)-1]; got != "ok\n" {
		t.Fatalf("reply = %q", got)
	}
	h.OnData(5, []byte("get/1001"))
	if got := rec.data[len(rec.data)-1]; got != "data/1001/管理员///42\n" {
		t.Fatalf("reply = %q", got)
	}

	// Blank input is ignored entirely.
	n := len(rec.data)
	h.OnData(5, []byte("   "))
	if len(rec.data) != n {
		t.Fatalf("blank line produced a reply: %q", rec.data[n:])
	}

	h.OnClosed(5)
}

// Without a bound sender the handler must not panic; replies are
// simply dropped.
func TestHandler_UnboundSender(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler()
	h.OnConnected(3, "127.0.0.1:1")
	h.OnData(3, []byte("get/x"))
	h.OnClosed(3)
}
