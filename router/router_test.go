package router_test

import (
	"strings"
	"testing"

	"github.com/momentics/hioload-flux/message"
	"github.com/momentics/hioload-flux/router"
)

func named(name string) message.ResponderFunc {
	return func(req *message.Request) (*message.Response, error) {
		return message.Text(message.StatusOK, name+" "+req.PathParameter("version")), nil
	}
}

func call(t *testing.T, r message.Responder, method message.Method, target string) *message.Response {
	t.Helper()
	req, err := message.NewRequest(method, target)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := r.Respond(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	return resp
}

func TestRouterExactness(t *testing.T) {
	b := router.NewBuilder()
	b.GET("/hello/world", named("world"))
	b.GET("/hello/dan", named("dan"))
	b.GET("/api/:version", named("api"))
	b.GET("/docs", named("docs"))
	b.GET("/docs/intro", named("intro"))
	r := b.MustBuild()

	cases := []struct {
		path   string
		status message.Status
		body   string
	}{
		{"/hello/world", message.StatusOK, "world "},
		{"/hello/dan", message.StatusOK, "dan "},
		{"/hello/world/dan", message.StatusNotFound, ""},
		{"/hello", message.StatusNotFound, ""},
		{"/api/v1", message.StatusOK, "api v1"},
		{"/api/v1/v1", message.StatusNotFound, ""},
		{"/api/api", message.StatusOK, "api api"},
		{"/hello//world/", message.StatusOK, "world "},
		{"/docs/intro", message.StatusOK, "intro "},
		{"/docs", message.StatusNotFound, ""},
	}
	for _, c := range cases {
		resp := call(t, r, message.GET, c.path)
		if resp.Status != c.status {
			t.Errorf("%s: status %d, want %d", c.path, resp.Status, c.status)
			continue
		}
		if c.body != "" && string(resp.Body) != c.body {
			t.Errorf("%s: body %q, want %q", c.path, resp.Body, c.body)
		}
	}
}

func TestParameterWinsByDefault(t *testing.T) {
	for _, literalFirst := range []bool{false, true} {
		var opts []router.MatcherOption
		if literalFirst {
			opts = append(opts, router.WithLiteralPriority())
		}
		m := router.NewMatcher[string](opts...)
		m.Add("/api/v1", "literal")
		m.Add("/api/:version", "param")
		got, params, ok := m.Match("/api/v1")
		want := "param"
		if literalFirst {
			want = "literal"
		}
		if !ok || got != want {
			t.Errorf("literalFirst=%v: got %q, want %q", literalFirst, got, want)
		}
		if !literalFirst && params["version"] != "v1" {
			t.Errorf("params = %v", params)
		}
		if got, _, _ := m.Match("/api/v2"); got != "param" {
			t.Errorf("literalFirst=%v: /api/v2 matched %q", literalFirst, got)
		}
	}
}

func TestNoBacktracking(t *testing.T) {
	m := router.NewMatcher[string]()
	m.Add("/a/:x/c", "param")
	m.Add("/a/b/d", "literal")
	if _, _, ok := m.Match("/a/b/d"); ok {
		t.Error("parameter branch should be taken without backtracking")
	}
	if got, p, ok := m.Match("/a/b/c"); !ok || got != "param" || p["x"] != "b" {
		t.Errorf("got %q %v %v", got, p, ok)
	}
}

func TestInnerRoutes(t *testing.T) {
	for _, inner := range []bool{false, true} {
		var opts []router.MatcherOption
		if inner {
			opts = append(opts, router.WithInnerRoutes())
		}
		m := router.NewMatcher[string](opts...)
		m.Add("/api", "root")
		m.Add("/api/v1", "v1")
		got, _, ok := m.Match("/api")
		if ok != inner || (inner && got != "root") {
			t.Errorf("inner=%v: /api matched %q %v", inner, got, ok)
		}
		if got, _, ok := m.Match("/api/v1"); !ok || got != "v1" {
			t.Errorf("inner=%v: /api/v1 matched %q %v", inner, got, ok)
		}
	}
}

func TestTrieFirstWriterWins(t *testing.T) {
	tr := router.NewTrie[rune, int]()
	if !tr.Insert([]rune("abc"), 1) {
		t.Fatal("first insert rejected")
	}
	if tr.Insert([]rune("abc"), 2) {
		t.Fatal("second insert accepted")
	}
	if p, ok := tr.FindPayload([]rune("abc")); !ok || p != 1 {
		t.Fatalf("payload %d %v", p, ok)
	}
	tr.Insert([]rune("ab"), 3)
	tr.Insert([]rune("aa"), 4)
	if tr.Contains([]rune("a")) {
		t.Error("prefix reported as contained")
	}
	kids := tr.FindLast([]rune("a")).Children()
	if len(kids) != 2 || kids[0].Key() != 'a' || kids[1].Key() != 'b' {
		t.Errorf("children not sorted")
	}
	if seq, ok := router.FindByPayload(tr, 3); !ok || string(seq) != "ab" {
		t.Errorf("FindByPayload = %q %v", string(seq), ok)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	b := router.NewBuilder()
	b.GET("/items", named("list"))
	b.POST("/items", named("create"))
	r := b.MustBuild()

	resp := call(t, r, message.DELETE, "/items")
	if resp.Status != message.StatusMethodNotAllowed {
		t.Fatalf("status %d", resp.Status)
	}
	if got := resp.Header.Get("Allow"); got != "GET, HEAD, POST" {
		t.Errorf("Allow = %q", got)
	}
	if resp := call(t, r, message.HEAD, "/items"); resp.Status != message.StatusOK {
		t.Errorf("HEAD status %d", resp.Status)
	}
}

func TestGroupsMiddlewareAndMount(t *testing.T) {
	var trace []string
	tag := func(name string) message.Middleware {
		return func(next message.Responder) message.Responder {
			return message.ResponderFunc(func(req *message.Request) (*message.Response, error) {
				trace = append(trace, name)
				return next.Respond(req)
			})
		}
	}

	sub := router.NewBuilder()
	sub.GET("/status", func(req *message.Request) (*message.Response, error) {
		return message.Text(message.StatusOK, req.Path()), nil
	})

	b := router.NewBuilder()
	b.Use(tag("root"))
	v1 := b.Group("/v1")
	v1.Use(tag("v1"))
	v1.GET("/users/:version", named("users"))
	b.Mount("/admin", sub.MustBuild())
	b.Fallback(message.ResponderFunc(func(*message.Request) (*message.Response, error) {
		return message.Text(message.StatusServiceUnavailable, "nope"), nil
	}))
	r := b.MustBuild()

	if resp := call(t, r, message.GET, "/v1/users/7"); string(resp.Body) != "users 7" {
		t.Errorf("group route body %q", resp.Body)
	}
	if strings.Join(trace, ",") != "root,v1" {
		t.Errorf("trace %v", trace)
	}
	if resp := call(t, r, message.GET, "/admin/status"); string(resp.Body) != "/status" {
		t.Errorf("mounted body %q", resp.Body)
	}
	trace = nil
	if resp := call(t, r, message.GET, "/missing"); resp.Status != message.StatusServiceUnavailable {
		t.Errorf("fallback status %d", resp.Status)
	}
	if strings.Join(trace, ",") != "root" {
		t.Errorf("fallback trace %v", trace)
	}
	if got := r.Patterns(); len(got) != 1 || got[0] != "/v1/users/:version" {
		t.Errorf("patterns %v", got)
	}
}
