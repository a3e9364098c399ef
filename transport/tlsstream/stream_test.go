package tlsstream_test

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/momentics/hioload-flux/api"
	"github.com/momentics/hioload-flux/fake"
	"github.com/momentics/hioload-flux/transport/tcp"
	"github.com/momentics/hioload-flux/transport/tlsstream"
)

// scriptedEngine finishes its handshake after consuming need input chunks
// and passes application data through unchanged.
type scriptedEngine struct {
	need     int
	consumed int
	in, out  *tlsstream.MemBIO
}

func (e *scriptedEngine) SetBuffers(in, out *tlsstream.MemBIO) { e.in, e.out = in, out }

func (e *scriptedEngine) Handshake() error {
	if e.in.Len() > 0 {
		e.in.Drain()
		e.consumed++
	}
	if e.consumed >= e.need {
		return nil
	}
	return tlsstream.ErrWantRead
}

func (e *scriptedEngine) Encrypt(p []byte) error {
	e.out.Write(p)
	return nil
}

func (e *scriptedEngine) Decrypt(p []byte) (int, error) {
	if n := e.in.Read(p); n > 0 {
		return n, nil
	}
	return 0, tlsstream.ErrWantRead
}

func (e *scriptedEngine) Close() error { return nil }

func TestHandshakeConvergence(t *testing.T) {
	for k := 0; k <= 4; k++ {
		raw := fake.NewStream()
		for i := 0; i < k; i++ {
			raw.PushString("flight")
		}
		s := tlsstream.NewStream(raw, tlsstream.NewSessionWithEngine(&scriptedEngine{need: k}))
		if err := s.Handshake(api.After(time.Second)); err != nil {
			t.Fatalf("k=%d: Handshake: %v", k, err)
		}
		if got := raw.Receives(); got != k {
			t.Errorf("k=%d: raw receives = %d", k, got)
		}
		if st := s.Session().State(); st != tlsstream.StateEstablished {
			t.Errorf("k=%d: state = %v", k, st)
		}
	}
}

func TestNoPlaintextBeforeEstablished(t *testing.T) {
	sess := tlsstream.NewSessionWithEngine(&scriptedEngine{need: 1})
	sess.WriteInput([]byte("early"))
	buf := make([]byte, 16)
	if _, err := sess.Decrypt(buf); !errors.Is(err, tlsstream.ErrHandshakeIncomplete) {
		t.Fatalf("Decrypt before handshake: %v", err)
	}
	if err := sess.Encrypt([]byte("x")); !errors.Is(err, tlsstream.ErrHandshakeIncomplete) {
		t.Fatalf("Encrypt before handshake: %v", err)
	}
}

func TestHandshakeTimeoutIsResumable(t *testing.T) {
	raw := fake.NewStream()
	s := tlsstream.NewStream(raw, tlsstream.NewSessionWithEngine(&scriptedEngine{need: 1}))
	if err := s.Handshake(time.Now().Add(20 * time.Millisecond)); !api.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if s.Closed() {
		t.Fatal("timeout must not close the stream")
	}
	raw.PushString("flight")
	if err := s.Handshake(api.After(time.Second)); err != nil {
		t.Fatalf("resumed Handshake: %v", err)
	}
}

func TestScriptedDataPath(t *testing.T) {
	raw := fake.NewStream()
	s := tlsstream.NewStream(raw, tlsstream.NewSessionWithEngine(&scriptedEngine{}))
	raw.PushString("hello")
	p, err := s.Receive(api.After(time.Second))
	if err != nil || string(p) != "hello" {
		t.Fatalf("Receive = %q, %v", p, err)
	}
	if err := api.SendAll(s, []byte("world"), api.After(time.Second)); err != nil {
		t.Fatalf("SendAll: %v", err)
	}
	if got := string(raw.Sent()); got != "world" {
		t.Fatalf("raw sent %q", got)
	}
}

func TestMalformedHandshakeClosesStream(t *testing.T) {
	cert, _, err := fake.SelfSignedCert()
	if err != nil {
		t.Fatal(err)
	}
	raw := fake.NewStream()
	raw.PushString("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	raw.PushEOF()
	s := tlsstream.NewServer(raw, tlsstream.NewServerContextFromCertificate(cert))

	_, err = s.Receive(api.After(time.Second))
	var tlsErr *api.TLSError
	if !errors.As(err, &tlsErr) {
		t.Fatalf("expected TLSError, got %v", err)
	}
	if !s.Closed() || !raw.Closed() {
		t.Fatal("stream must be closed after a TLS failure")
	}
}

func tlsContexts(t *testing.T) (*tlsstream.Context, *tlsstream.Context) {
	t.Helper()
	cert, pool, err := fake.SelfSignedCert()
	if err != nil {
		t.Fatal(err)
	}
	server := tlsstream.NewServerContextFromCertificate(cert)
	client := tlsstream.NewContext(&tls.Config{RootCAs: pool, ServerName: "localhost", MinVersion: tls.VersionTLS12})
	return server, client
}

func TestLoopbackEchoAndCloseNotify(t *testing.T) {
	sctx, cctx := tlsContexts(t)
	ln, err := tcp.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	l := tlsstream.NewListener(ln, sctx)
	defer l.Close()

	serverEOF := make(chan error, 1)
	go func() {
		s, err := l.Accept()
		if err != nil {
			serverEOF <- err
			return
		}
		defer s.Close()
		p, err := s.ReceiveRange(9, 9, api.After(2*time.Second))
		if err != nil {
			serverEOF <- err
			return
		}
		if err := api.SendAll(s, p, api.After(2*time.Second)); err != nil {
			serverEOF <- err
			return
		}
		_, err = s.Receive(api.After(2 * time.Second))
		serverEOF <- err
	}()

	raw, err := tcp.Dial(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	c := tlsstream.NewClient(raw, cctx)
	if err := api.SendAll(c, []byte("hello tls"), api.After(2*time.Second)); err != nil {
		t.Fatalf("client send: %v", err)
	}
	p, err := c.ReceiveRange(9, 9, api.After(2*time.Second))
	if err != nil || string(p) != "hello tls" {
		t.Fatalf("client receive = %q, %v", p, err)
	}
	c.Close()

	select {
	case err := <-serverEOF:
		if err != io.EOF {
			t.Fatalf("server expected io.EOF after close_notify, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not observe close")
	}
}

func TestInteropWithStandardClient(t *testing.T) {
	sctx, cctx := tlsContexts(t)
	ln, err := tcp.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	l := tlsstream.NewListener(ln, sctx)
	defer l.Close()

	go func() {
		s, err := l.Accept()
		if err != nil {
			return
		}
		defer s.Close()
		for {
			p, err := s.Receive(api.After(2 * time.Second))
			if err != nil {
				return
			}
			if err := api.SendAll(s, p, api.After(2*time.Second)); err != nil {
				return
			}
		}
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), cctx.Config())
	if err != nil {
		t.Fatalf("tls.Dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	msg := make([]byte, 40000)
	for i := range msg {
		msg[i] = byte(i)
	}
	go conn.Write(msg)
	got := make([]byte, len(msg))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	for i := range got {
		if got[i] != msg[i] {
			t.Fatalf("echo mismatch at %d", i)
		}
	}
}
