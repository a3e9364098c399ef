package client_test

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-flux/api"
	"github.com/momentics/hioload-flux/client"
	"github.com/momentics/hioload-flux/fake"
	"github.com/momentics/hioload-flux/message"
	"github.com/momentics/hioload-flux/negotiation"
	"github.com/momentics/hioload-flux/parser"
	"github.com/momentics/hioload-flux/protocol"
	"github.com/momentics/hioload-flux/router"
	"github.com/momentics/hioload-flux/server"
	"github.com/momentics/hioload-flux/transport/tcp"
	"github.com/momentics/hioload-flux/transport/tlsstream"
)

// scripted dials an in-memory peer that parses one request and lets
// reply answer it on the raw stream.
func scripted(reply func(req *message.Request, s *fake.Stream)) client.DialFunc {
	return func(ctx context.Context, addr string) (api.Stream, error) {
		cli, srv := fake.Pipe()
		go func() {
			p := parser.NewRequestParser()
			for {
				data, err := srv.Receive(api.After(2 * time.Second))
				req, perr := p.Feed(data)
				if req != nil {
					reply(req, srv)
					return
				}
				if err != nil || perr != nil {
					return
				}
			}
		}()
		return cli, nil
	}
}

func write(s *fake.Stream, raw string) {
	api.SendAll(s, []byte(raw), api.NoDeadline)
}

func TestGetSetsHeaders(t *testing.T) {
	var mu sync.Mutex
	var seen *message.Request
	c := client.New("example.test:80", client.WithDialer(scripted(func(req *message.Request, s *fake.Stream) {
		mu.Lock()
		seen = req
		mu.Unlock()
		write(s, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	})))
	resp, err := c.Get(context.Background(), "/status?verbose=1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != message.StatusOK || string(resp.Body) != "ok" {
		t.Fatalf("resp %d %q", resp.Status, resp.Body)
	}
	mu.Lock()
	defer mu.Unlock()
	if seen.Path() != "/status" || seen.Query().Get("verbose") != "1" {
		t.Fatalf("target %q", seen.Target)
	}
	if seen.Header.Get("Host") != "example.test:80" || seen.Header.Get("Connection") != "close" || seen.Header.Get("User-Agent") == "" {
		t.Fatalf("headers %+v", seen.Header.Fields())
	}
}

func TestBodyUntilClose(t *testing.T) {
	c := client.New("x:1", client.WithDialer(scripted(func(req *message.Request, s *fake.Stream) {
		write(s, "HTTP/1.1 100 Continue\r\n\r\n")
		write(s, "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\npart one, ")
		write(s, "part two")
		s.Close()
	})))
	resp, err := c.Post(context.Background(), "/upload", "text/plain", []byte("data"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != message.StatusOK || string(resp.Body) != "part one, part two" {
		t.Fatalf("resp %d %q", resp.Status, resp.Body)
	}
}

func TestTruncatedResponse(t *testing.T) {
	c := client.New("x:1", client.WithDialer(scripted(func(req *message.Request, s *fake.Stream) {
		write(s, "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nabc")
		s.Close()
	})))
	if _, err := c.Delete(context.Background(), "/thing"); err == nil {
		t.Fatal("truncated body accepted")
	}
}

func TestContextCancelStopsExchange(t *testing.T) {
	c := client.New("x:1", client.WithDialer(scripted(func(*message.Request, *fake.Stream) {})))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Get(ctx, "/slow")
	if !errors.Is(err, context.DeadlineExceeded) && !api.IsTimeout(err) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancel did not interrupt the exchange")
	}
}

func serve(t *testing.T, h message.Responder, wrap func(api.Listener) api.Listener) string {
	t.Helper()
	ln, err := tcp.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	var l api.Listener = ln
	if wrap != nil {
		l = wrap(ln)
	}
	srv := server.NewServer(nil, h)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start(l) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		<-errc
	})
	return addr
}

func TestContentNegotiationAgainstServer(t *testing.T) {
	reg := negotiation.DefaultRegistry()
	b := router.NewBuilder()
	b.Use(negotiation.ContentNegotiator(reg))
	b.POST("/users/:id", func(req *message.Request) (*message.Response, error) {
		in, _ := req.Content.(map[string]any)
		resp := message.NewResponse(message.StatusCreated)
		resp.Content = map[string]any{"id": req.PathParameter("id"), "name": in["name"]}
		return resp, nil
	})
	addr := serve(t, b.MustBuild(), nil)

	c := client.New(addr, client.WithMiddleware(negotiation.ClientContentNegotiator(reg, negotiation.CBORMediaType)))
	req, _ := message.NewRequest(message.POST, "/users/7")
	req.Content = map[string]any{"name": "Ada"}
	resp, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	out, ok := resp.Content.(map[string]any)
	if resp.Status != message.StatusCreated || !ok || out["id"] != "7" || out["name"] != "Ada" {
		t.Fatalf("resp %d %#v", resp.Status, resp.Content)
	}
}

func TestDialWebSocket(t *testing.T) {
	up := &protocol.Upgrader{Handler: func(_ *message.Request, conn *protocol.Conn) {
		conn.OnText(func(text string) { conn.SendText(text + "!") })
	}}
	addr := serve(t, up, nil)

	c := client.New(addr)
	conn, resp, err := c.DialWebSocket(context.Background(), "/chat")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != message.StatusSwitchingProtocols {
		t.Fatalf("status %d", resp.Status)
	}
	got := make(chan string, 1)
	closed := make(chan int, 1)
	conn.OnText(func(text string) { got <- text })
	conn.OnClose(func(code int, _ string) { closed <- code })
	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run() }()

	if err := conn.SendText("hey"); err != nil {
		t.Fatal(err)
	}
	select {
	case text := <-got:
		if text != "hey!" {
			t.Fatalf("echo %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no echo")
	}
	if err := conn.Close(protocol.CloseNormalClosure, "done"); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close handshake did not finish")
	}
	if code := <-closed; code != protocol.CloseNormalClosure {
		t.Fatalf("close code %d", code)
	}
}

func TestTLSClient(t *testing.T) {
	cert, pool, err := fake.SelfSignedCert()
	if err != nil {
		t.Fatal(err)
	}
	sctx := tlsstream.NewServerContextFromCertificate(cert)
	h := message.ResponderFunc(func(req *message.Request) (*message.Response, error) {
		return message.Text(message.StatusOK, "secure "+req.Path()), nil
	})
	addr := serve(t, h, func(ln api.Listener) api.Listener { return tlsstream.NewListener(ln, sctx) })

	c := client.New(addr, client.WithTLS(tlsstream.NewContext(&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12})))
	resp, err := c.Get(context.Background(), "/x")
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != "secure /x" {
		t.Fatalf("body %q", resp.Body)
	}

	bad := client.New(addr, client.WithTLS(tlsstream.NewContext(&tls.Config{MinVersion: tls.VersionTLS12})))
	if _, err := bad.Get(context.Background(), "/x"); err == nil {
		t.Fatal("untrusted certificate accepted")
	}
}
