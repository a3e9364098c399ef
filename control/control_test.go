package control

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flux.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9000"
  idle_timeout: 5s
  max_request_bytes: 1024
log:
  level: debug
  format: json
`)
	t.Setenv("FLUX_SERVER_LISTEN_ADDR", ":9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.ListenAddr != ":9100" {
		t.Errorf("listen addr %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.IdleTimeout != 5*time.Second || cfg.Server.MaxRequestBytes != 1024 {
		t.Errorf("server %+v", cfg.Server)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("default write timeout lost: %s", cfg.Server.WriteTimeout)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" || len(cfg.Log.Outputs) != 1 {
		t.Errorf("log %+v", cfg.Log)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)
	t.Setenv("FLUX_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.ListenAddr != Default().Server.ListenAddr {
		t.Errorf("listen addr %q", cfg.Server.ListenAddr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []string{
		"log:\n  level: loud\n",
		"server:\n  tls_cert_file: cert.pem\n",
		"server:\n  read_timeout: -1s\n",
	}
	for _, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Errorf("accepted %q", body)
		}
	}
}

func TestStoreNotifiesListeners(t *testing.T) {
	s := NewStore(Default())
	var got []string
	s.OnReload(func(c *Config) { got = append(got, c.Log.Level) })
	next := Default()
	next.Log.Level = "warn"
	s.Set(next)
	if s.Get() != next || len(got) != 1 || got[0] != "warn" {
		t.Fatalf("store %v listeners %v", s.Get().Log.Level, got)
	}
}

func TestStoreReloadFromFile(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	v, cfg, err := load(path)
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(cfg)
	s.v = v
	var levels []string
	s.OnReload(func(c *Config) { levels = append(levels, c.Log.Level) })
	if err := os.WriteFile(path, []byte("log:\n  level: error\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err != nil {
		t.Fatal(err)
	}
	if len(levels) != 1 || levels[0] != "error" || s.Get().Log.Level != "error" {
		t.Fatalf("reloaded levels %v", levels)
	}
}

func TestMetricsCounters(t *testing.T) {
	mr := NewMetricsRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				mr.Add("requests_total", 1)
			}
		}()
	}
	wg.Wait()
	mr.Set("build", "test")
	if mr.Counter("requests_total") != 800 {
		t.Fatalf("counter %d", mr.Counter("requests_total"))
	}
	snap := mr.GetSnapshot()
	if snap["requests_total"] != int64(800) || snap["build"] != "test" {
		t.Fatalf("snapshot %v", snap)
	}
	if mr.Counter("missing") != 0 {
		t.Fatal("missing counter not zero")
	}
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	mr := NewMetricsRegistry()
	mr.Add("x", 2)
	dp.RegisterMetrics("metrics", mr)
	RegisterPlatformProbes(dp)
	state := dp.DumpState()
	if m, ok := state["metrics"].(map[string]any); !ok || m["x"] != int64(2) {
		t.Fatalf("metrics probe %v", state["metrics"])
	}
	if state["platform.cpus"].(int) < 1 {
		t.Fatal("cpu probe")
	}
}
