package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/agentward/internal/cache"
	"github.com/loykin/agentward/internal/status"
)

func writeTestConfig(t *testing.T, baseURL, cacheDir string) string {
	t.Helper()
	content := `
[remote]
base_url = "` + baseURL + `"
api_key = "test-key"

[cache]
dir = "` + cacheDir + `"

[[agents]]
name = "Blog Writing Agent"
match = "blog_agent.py"
`
	p := filepath.Join(t.TempDir(), "agentward.toml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestCommandsRequireConfig(t *testing.T) {
	c := command{out: &bytes.Buffer{}}
	if err := c.Monitor(MonitorFlags{}); err == nil {
		t.Fatalf("monitor without config should fail")
	}
	if err := c.Status(StatusFlags{}); err == nil {
		t.Fatalf("status without config should fail")
	}
}

func TestForceWritesStoppedRecord(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			gotBody, _ = readAll(r)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	cfg := writeTestConfig(t, srv.URL, cacheDir)
	out := &bytes.Buffer{}
	c := command{out: out}

	err := c.Force(ForceFlags{ConfigPath: cfg, Agent: "Blog Writing Agent", Reason: "operator request"})
	if err != nil {
		t.Fatalf("force: %v", err)
	}
	if !strings.Contains(string(gotBody), "Automatically stopped (reason: operator request)") {
		t.Fatalf("unexpected body: %s", gotBody)
	}
	rec, err := (&cache.Cache{Dir: cacheDir}).Load("Blog Writing Agent")
	if err != nil || rec == nil {
		t.Fatalf("cache load: %v %v", rec, err)
	}
	if rec.Status != status.Stopped {
		t.Fatalf("expected stopped in cache, got %+v", rec)
	}
}

func TestReportValidatesInput(t *testing.T) {
	cfg := writeTestConfig(t, "http://127.0.0.1:1", t.TempDir())
	c := command{out: &bytes.Buffer{}}
	err := c.Report(ReportFlags{ConfigPath: cfg, Agent: "a", Status: "sleeping", Health: 50})
	if err == nil {
		t.Fatalf("expected validation error for bad status")
	}
}

func TestStatusLocalReadsCache(t *testing.T) {
	cacheDir := t.TempDir()
	ca := cache.Cache{Dir: cacheDir}
	if err := ca.Save(status.Record{AgentName: "Blog Writing Agent", Status: status.Running, Health: 80, LastActivity: "Heartbeat"}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	cfg := writeTestConfig(t, "http://127.0.0.1:1", cacheDir)
	out := &bytes.Buffer{}
	c := command{out: out}

	if err := c.Status(StatusFlags{ConfigPath: cfg, Local: true}); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), "blog_writing_agent") && !strings.Contains(out.String(), "Blog Writing Agent") {
		t.Fatalf("agent missing from output: %s", out.String())
	}
	if !strings.Contains(out.String(), "(source: cache)") {
		t.Fatalf("expected cache source marker: %s", out.String())
	}
}

func TestBuildRootHasSubcommands(t *testing.T) {
	root := buildRoot(command{out: &bytes.Buffer{}})
	want := map[string]bool{"monitor": false, "serve": false, "status": false, "force": false, "report": false}
	for _, sub := range root.Commands() {
		name := strings.Fields(sub.Use)[0]
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}

func readAll(r *http.Request) ([]byte, error) {
	defer func() { _ = r.Body.Close() }()
	buf := &bytes.Buffer{}
	_, err := buf.ReadFrom(r.Body)
	return buf.Bytes(), err
}
