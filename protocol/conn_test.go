package protocol

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/momentics/hioload-flux/api"
	"github.com/momentics/hioload-flux/fake"
	"github.com/momentics/hioload-flux/message"
	"github.com/momentics/hioload-flux/parser"
)

// sentFrames decodes everything the fake stream flushed.
func sentFrames(t *testing.T, s *fake.Stream) []*Frame {
	t.Helper()
	raw := s.Sent()
	var out []*Frame
	for len(raw) > 0 {
		f, n, err := DecodeFrameFromBytes(raw)
		if err != nil {
			t.Fatalf("sent bytes: %v", err)
		}
		out = append(out, f)
		raw = raw[n:]
	}
	return out
}

type hooks struct {
	texts    []string
	binaries [][]byte
	pings    int
	closes   []int
	reason   string
}

func attach(c *Conn) *hooks {
	h := &hooks{}
	c.OnText(func(s string) { h.texts = append(h.texts, s) })
	c.OnBinary(func(b []byte) { h.binaries = append(h.binaries, b) })
	c.OnPing(func([]byte) { h.pings++ })
	c.OnClose(func(code int, reason string) {
		h.closes = append(h.closes, code)
		h.reason = reason
	})
	return h
}

func closeFrame(code int, reason string) []byte {
	p, _ := closePayload(code, reason)
	return clientFrame(true, OpcodeClose, p)
}

func TestFragmentedCloseIsProtocolError(t *testing.T) {
	s := fake.NewStream()
	c := NewConn(s, RoleServer)
	h := attach(c)
	s.Push(clientFrame(true, OpcodeText, []byte("before")))
	s.Push(clientFrame(false, OpcodeClose, nil))

	err := c.Run()
	var pe *api.ProtocolError
	if !errors.As(err, &pe) || pe.Code != CloseProtocolError {
		t.Fatalf("Run = %v", err)
	}
	if len(h.texts) != 1 || h.texts[0] != "before" {
		t.Fatalf("texts %v", h.texts)
	}
	frames := sentFrames(t, s)
	if len(frames) != 1 || frames[0].Opcode != OpcodeClose || frames[0].Masked {
		t.Fatalf("sent %+v", frames)
	}
	if code, _, _ := ParseClosePayload(frames[0].Payload); code != CloseProtocolError {
		t.Fatalf("close code %d", code)
	}
	if !s.Closed() || len(h.closes) != 1 || h.closes[0] != CloseProtocolError {
		t.Fatalf("closed %v closes %v", s.Closed(), h.closes)
	}
	if c.State() != StateClosed {
		t.Fatalf("state %s", c.State())
	}
}

func TestProtocolErrorFiresNoMessageEvent(t *testing.T) {
	s := fake.NewStream()
	c := NewConn(s, RoleServer)
	h := attach(c)
	s.Push(append(clientFrame(false, OpcodeBinary, []byte("half")), clientFrame(false, OpcodeClose, nil)...))
	if err := c.Run(); err == nil {
		t.Fatal("expected protocol error")
	}
	if len(h.binaries) != 0 || len(h.texts) != 0 {
		t.Fatalf("message events fired: %v %v", h.binaries, h.texts)
	}
}

func TestPeerCloseIsEchoed(t *testing.T) {
	s := fake.NewStream()
	c := NewConn(s, RoleServer)
	h := attach(c)
	s.Push(closeFrame(CloseGoingAway, "bye"))

	if err := c.Run(); err != nil {
		t.Fatalf("Run = %v", err)
	}
	frames := sentFrames(t, s)
	if len(frames) != 1 || frames[0].Opcode != OpcodeClose {
		t.Fatalf("sent %+v", frames)
	}
	if code, reason, _ := ParseClosePayload(frames[0].Payload); code != CloseGoingAway || reason != "bye" {
		t.Fatalf("echoed %d %q", code, reason)
	}
	if !s.Closed() || len(h.closes) != 1 || h.closes[0] != CloseGoingAway || h.reason != "bye" {
		t.Fatalf("closed %v closes %v reason %q", s.Closed(), h.closes, h.reason)
	}
}

func TestInvalidPeerCloseCode(t *testing.T) {
	for _, code := range []int{999, 1004, 1005, 1006, 1015, 2000, 5000} {
		s := fake.NewStream()
		c := NewConn(s, RoleServer)
		h := attach(c)
		payload := []byte{byte(code >> 8), byte(code), 'x'}
		s.Push(clientFrame(true, OpcodeClose, payload))

		err := c.Run()
		var pe *api.ProtocolError
		if !errors.As(err, &pe) || pe.Code != CloseProtocolError {
			t.Errorf("code %d: Run = %v", code, err)
			continue
		}
		frames := sentFrames(t, s)
		if len(frames) != 1 || frames[0].Opcode != OpcodeClose {
			t.Errorf("code %d: sent %+v", code, frames)
			continue
		}
		if got, _, _ := ParseClosePayload(frames[0].Payload); got != CloseProtocolError {
			t.Errorf("code %d: answered with %d", code, got)
		}
		if len(h.closes) != 1 || h.closes[0] != CloseProtocolError {
			t.Errorf("code %d: closes %v", code, h.closes)
		}
	}
}

func TestValidCloseCode(t *testing.T) {
	for code, want := range map[int]bool{
		1000: true, 1003: true, 1004: false, 1005: false, 1006: false, 1007: true,
		1014: true, 1015: false, 2999: false, 3000: true, 4999: true, 5000: false,
	} {
		if got := ValidCloseCode(code); got != want {
			t.Errorf("ValidCloseCode(%d) = %v", code, got)
		}
	}
}

func TestEmptyCloseEchoedAsNormal(t *testing.T) {
	s := fake.NewStream()
	c := NewConn(s, RoleServer)
	s.Push(clientFrame(true, OpcodeClose, nil))
	if err := c.Run(); err != nil {
		t.Fatal(err)
	}
	frames := sentFrames(t, s)
	if code, _, _ := ParseClosePayload(frames[0].Payload); code != CloseNormalClosure {
		t.Fatalf("echoed code %d", code)
	}
}

func TestLocalCloseWaitsForPeer(t *testing.T) {
	s := fake.NewStream()
	c := NewConn(s, RoleServer)
	h := attach(c)
	if err := c.Close(CloseNormalClosure, "done"); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateCloseSent || s.Closed() {
		t.Fatalf("state %s closed %v", c.State(), s.Closed())
	}
	if err := c.SendText("late"); !errors.Is(err, api.ErrClosed) {
		t.Fatalf("send after close: %v", err)
	}
	s.Push(closeFrame(CloseNormalClosure, ""))
	if err := c.Run(); err != nil {
		t.Fatal(err)
	}
	if frames := sentFrames(t, s); len(frames) != 1 {
		t.Fatalf("expected only our close frame, got %d frames", len(frames))
	}
	if !s.Closed() || len(h.closes) != 1 {
		t.Fatalf("closed %v closes %v", s.Closed(), h.closes)
	}
}

func TestCloseTimeout(t *testing.T) {
	s := fake.NewStream()
	c := NewConn(s, RoleServer, WithCloseTimeout(20*time.Millisecond))
	h := attach(c)
	c.Close(CloseNormalClosure, "")
	if err := c.Run(); err != nil {
		t.Fatal(err)
	}
	if !s.Closed() || len(h.closes) != 1 || h.closes[0] != CloseAbnormalClosure {
		t.Fatalf("closed %v closes %v", s.Closed(), h.closes)
	}
}

func TestCloseTimeoutWhileRunning(t *testing.T) {
	s := fake.NewStream()
	c := NewConn(s, RoleServer, WithCloseTimeout(20*time.Millisecond))
	closed := make(chan int, 1)
	c.OnClose(func(code int, _ string) { closed <- code })
	done := make(chan error, 1)
	go func() { done <- c.Run() }()

	time.Sleep(10 * time.Millisecond)
	if err := c.Close(CloseNormalClosure, "bye"); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run still blocked, state %s", c.State())
	}
	if code := <-closed; code != CloseAbnormalClosure {
		t.Fatalf("close code %d", code)
	}
	if !s.Closed() {
		t.Fatal("stream left open")
	}
}

func TestIdleTimeoutSendsGoingAway(t *testing.T) {
	s := fake.NewStream()
	c := NewConn(s, RoleServer, WithIdleTimeout(20*time.Millisecond), WithCloseTimeout(20*time.Millisecond))
	if err := c.Run(); err != nil {
		t.Fatal(err)
	}
	frames := sentFrames(t, s)
	if len(frames) != 1 || frames[0].Opcode != OpcodeClose {
		t.Fatalf("sent %+v", frames)
	}
	if code, _, _ := ParseClosePayload(frames[0].Payload); code != CloseGoingAway {
		t.Fatalf("code %d", code)
	}
}

func TestAutoPong(t *testing.T) {
	s := fake.NewStream()
	c := NewConn(s, RoleServer)
	h := attach(c)
	s.Push(clientFrame(true, OpcodePing, []byte("hb")))
	s.PushEOF()
	c.Run()
	frames := sentFrames(t, s)
	if len(frames) != 1 || frames[0].Opcode != OpcodePong || string(frames[0].Payload) != "hb" {
		t.Fatalf("sent %+v", frames)
	}
	if h.pings != 1 || len(h.closes) != 1 || h.closes[0] != CloseAbnormalClosure {
		t.Fatalf("pings %d closes %v", h.pings, h.closes)
	}

	s2 := fake.NewStream()
	c2 := NewConn(s2, RoleServer, WithAutoPong(false))
	s2.Push(clientFrame(true, OpcodePing, nil))
	s2.PushEOF()
	c2.Run()
	if len(s2.Sent()) != 0 {
		t.Fatal("pong sent with auto-pong disabled")
	}
}

func TestClientSendsMaskedFrames(t *testing.T) {
	s := fake.NewStream()
	c := NewConn(s, RoleClient)
	if err := c.SendBinary([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	frames := sentFrames(t, s)
	if len(frames) != 1 || !frames[0].Masked || !bytes.Equal(frames[0].Payload, []byte{1, 2, 3}) {
		t.Fatalf("sent %+v", frames)
	}
}

func TestInvalidUTF8Text(t *testing.T) {
	s := fake.NewStream()
	c := NewConn(s, RoleServer)
	h := attach(c)
	s.Push(clientFrame(true, OpcodeText, []byte{0xff, 0xfe}))
	err := c.Run()
	var pe *api.ProtocolError
	if !errors.As(err, &pe) || pe.Code != CloseInvalidPayloadData || len(h.texts) != 0 {
		t.Fatalf("Run = %v texts %v", err, h.texts)
	}
}

type counter map[string]int64

func (c counter) Add(key string, n int64) { c[key] += n }

func TestMetricsCountFrames(t *testing.T) {
	s := fake.NewStream()
	m := counter{}
	c := NewConn(s, RoleServer, WithMetrics(m))
	s.Push(clientFrame(true, OpcodeText, []byte("a")), closeFrame(CloseNormalClosure, ""))
	c.Run()
	if m["ws_frames_in"] != 2 || m["ws_frames_out"] != 1 {
		t.Fatalf("metrics %v", m)
	}
}

func TestAcceptKey(t *testing.T) {
	if got := ComputeAcceptKey("dGhlIHNhbXBsZSBub25jZQ=="); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Fatalf("accept = %q", got)
	}
}

func TestUpgraderResponses(t *testing.T) {
	u := &Upgrader{Subprotocols: []string{"chat"}}

	req, _ := message.NewRequest(message.GET, "/ws")
	resp, _ := u.Respond(req)
	if resp.Status != message.StatusBadRequest {
		t.Fatalf("plain request status %d", resp.Status)
	}

	key := "dGhlIHNhbXBsZSBub25jZQ=="
	req, _ = NewHandshakeRequest("example.com", "/ws", key, "superchat", "chat")
	resp, _ = u.Respond(req)
	if resp.Status != message.StatusSwitchingProtocols || resp.Upgrade == nil {
		t.Fatalf("upgrade status %d", resp.Status)
	}
	if err := VerifyHandshakeResponse(resp, key); err != nil {
		t.Fatal(err)
	}
	if resp.Header.Get(HeaderSecWebSocketProto) != "chat" {
		t.Fatalf("subprotocol %q", resp.Header.Get(HeaderSecWebSocketProto))
	}

	req.Header.Set(HeaderSecWebSocketVer, "8")
	resp, _ = u.Respond(req)
	if resp.Status != message.StatusBadRequest || resp.Header.Get(HeaderSecWebSocketVer) != "13" {
		t.Fatalf("bad version status %d", resp.Status)
	}
}

func TestClientHandshakeOverPipe(t *testing.T) {
	clientSide, serverSide := fake.Pipe()
	u := &Upgrader{Handler: func(_ *message.Request, c *Conn) {
		c.OnText(func(s string) { c.SendText("echo:" + s) })
	}}
	done := make(chan error, 1)
	go func() {
		done <- serveOne(serverSide, u)
	}()

	conn, resp, err := ClientHandshake(clientSide, "example.com", "/ws", api.After(time.Second))
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if resp.Status != message.StatusSwitchingProtocols {
		t.Fatalf("status %d", resp.Status)
	}
	got := make(chan string, 1)
	conn.OnText(func(s string) {
		got <- s
		conn.Close(CloseNormalClosure, "")
	})
	if err := conn.SendText("hi"); err != nil {
		t.Fatal(err)
	}
	if err := conn.Run(); err != nil {
		t.Fatalf("client Run: %v", err)
	}
	if s := <-got; s != "echo:hi" {
		t.Fatalf("got %q", s)
	}
	if err := <-done; err != nil {
		t.Fatalf("server: %v", err)
	}
}

// serveOne answers one upgrade request on s the way the server loop does.
func serveOne(s api.Stream, u *Upgrader) error {
	p := parser.NewRequestParser()
	for {
		data, err := s.Receive(api.After(time.Second))
		if err != nil {
			return err
		}
		req, perr := p.Feed(data)
		if perr != nil {
			return perr
		}
		if req == nil {
			continue
		}
		resp, _ := u.Respond(req)
		if err := api.SendAll(s, resp.Bytes(), api.After(time.Second)); err != nil {
			return err
		}
		return resp.Upgrade(api.Prepend(s, p.Leftover()))
	}
}
