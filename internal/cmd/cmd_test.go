package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/foreman/internal/progress"
	"github.com/Iron-Ham/foreman/internal/workpool"
)

// testEnv is an isolated working directory with its own state directory.
type testEnv struct {
	t        *testing.T
	dir      string
	stateDir string
}

// setupTestEnvironment changes into a temp directory and hides any user
// config file.
func setupTestEnvironment(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	return &testEnv{t: t, dir: dir, stateDir: filepath.Join(dir, "state")}
}

// executeCommand runs a fresh root command with args and returns captured
// stdout and stderr.
func (e *testEnv) executeCommand(args ...string) (string, error) {
	e.t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append(args, "--project", "demo", "--state-dir", e.stateDir))
	err := root.Execute()
	return buf.String(), err
}

func (e *testEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.executeCommand(args...)
	if err != nil {
		e.t.Fatalf("foreman %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func (e *testEnv) status() statusView {
	e.t.Helper()
	var v statusView
	if err := json.Unmarshal([]byte(e.mustRun("status", "--json")), &v); err != nil {
		e.t.Fatalf("status --json is not valid JSON: %v", err)
	}
	return v
}

func TestRootCommand(t *testing.T) {
	root := NewRootCmd()
	if root.Use != "foreman" {
		t.Errorf("root.Use = %q, want foreman", root.Use)
	}

	want := []string{"enqueue", "dispatch", "complete", "fail", "release", "reset-worker", "reset",
		"status", "report", "watch", "metrics", "config"}
	have := make(map[string]bool)
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestWorkLifecycle(t *testing.T) {
	env := setupTestEnvironment(t)

	out := env.mustRun("enqueue", "ISSUE-1", "-p", "high")
	if !strings.Contains(out, "Queued ISSUE-1 (score 75") {
		t.Errorf("enqueue output = %q", out)
	}
	env.mustRun("enqueue", "ISSUE-2", "--score", "90")
	env.mustRun("enqueue", "ISSUE-3")

	var made []assignment
	if err := json.Unmarshal([]byte(env.mustRun("dispatch", "--json")), &made); err != nil {
		t.Fatalf("dispatch --json: %v", err)
	}
	if len(made) != 3 {
		t.Fatalf("dispatched %d, want 3", len(made))
	}
	wantOrder := []struct{ worker, order, issue string }{
		{"worker-1", "WO-001", "ISSUE-2"},
		{"worker-2", "WO-002", "ISSUE-1"},
		{"worker-3", "WO-003", "ISSUE-3"},
	}
	for i, w := range wantOrder {
		if made[i].WorkerID != w.worker || made[i].OrderID != w.order || made[i].IssueID != w.issue {
			t.Errorf("assignment %d = %+v, want %s/%s/%s", i, made[i], w.worker, w.order, w.issue)
		}
	}
	if _, err := os.Stat(filepath.Join(env.stateDir, "work_orders", "WO-001.json")); err != nil {
		t.Errorf("work order file missing: %v", err)
	}

	if _, err := env.executeCommand("enqueue", "ISSUE-1"); err == nil {
		t.Error("enqueue of an in-progress issue should fail")
	}

	out = env.mustRun("complete", "worker-1", "WO-001", "--files", "a.go,b.go")
	if !strings.Contains(out, "WO-001 completed by worker-1") {
		t.Errorf("complete output = %q", out)
	}
	env.mustRun("fail", "worker-2", "WO-002", "tests failed")

	v := env.status()
	if v.ProjectID != "demo" {
		t.Errorf("ProjectID = %q, want demo", v.ProjectID)
	}
	if len(v.CompletedOrders) != 1 || v.CompletedOrders[0] != "WO-001" {
		t.Errorf("CompletedOrders = %v", v.CompletedOrders)
	}
	if len(v.FailedOrders) != 1 || v.FailedOrders[0] != "WO-002" {
		t.Errorf("FailedOrders = %v", v.FailedOrders)
	}
	if v.Pool.IdleWorkers != 1 || v.Pool.WorkingWorkers != 1 || v.Pool.ErrorWorkers != 1 {
		t.Errorf("pool counts = %d idle, %d working, %d error", v.Pool.IdleWorkers, v.Pool.WorkingWorkers, v.Pool.ErrorWorkers)
	}

	if out := env.mustRun("dispatch"); !strings.Contains(out, "Nothing to dispatch") {
		t.Errorf("dispatch on an empty queue = %q", out)
	}

	// An errored worker must be reset before it takes work again.
	if _, err := env.executeCommand("release", "worker-2"); err == nil {
		t.Error("release of an errored worker should fail")
	}
	if out := env.mustRun("reset-worker", "worker-2"); !strings.Contains(out, "worker-2 reset") {
		t.Errorf("reset-worker output = %q", out)
	}
	if out := env.mustRun("release", "worker-3"); !strings.Contains(out, "worker-3 released") {
		t.Errorf("release output = %q", out)
	}

	v = env.status()
	if v.Pool.IdleWorkers != 3 {
		t.Errorf("IdleWorkers = %d, want 3", v.Pool.IdleWorkers)
	}
}

func TestDispatchLimit(t *testing.T) {
	env := setupTestEnvironment(t)
	for _, id := range []string{"A", "B", "C"} {
		env.mustRun("enqueue", id)
	}

	out := env.mustRun("dispatch", "-n", "1")
	if strings.Count(out, "->") != 1 {
		t.Errorf("dispatch -n 1 output = %q", out)
	}
	if v := env.status(); len(v.Queue) != 2 {
		t.Errorf("queue length = %d, want 2", len(v.Queue))
	}
}

func TestEnqueue_UnknownPriority(t *testing.T) {
	env := setupTestEnvironment(t)
	_, err := env.executeCommand("enqueue", "X", "-p", "urgent")
	if err == nil || !strings.Contains(err.Error(), "unknown priority") {
		t.Errorf("error = %v", err)
	}
}

func TestReset(t *testing.T) {
	env := setupTestEnvironment(t)
	env.mustRun("enqueue", "A")
	env.mustRun("dispatch")

	if _, err := env.executeCommand("reset"); err == nil {
		t.Error("reset without --force should fail")
	}
	env.mustRun("reset", "--force")

	v := env.status()
	if v.Pool.IdleWorkers != 3 || len(v.Queue) != 0 {
		t.Errorf("after reset: %d idle, %d queued", v.Pool.IdleWorkers, len(v.Queue))
	}

	// Order IDs are never reused.
	env.mustRun("enqueue", "B")
	if out := env.mustRun("dispatch"); !strings.Contains(out, "WO-002") {
		t.Errorf("dispatch after reset = %q, want WO-002", out)
	}
}

func TestStatusCommand(t *testing.T) {
	env := setupTestEnvironment(t)

	t.Run("no saved state", func(t *testing.T) {
		out := env.mustRun("status", "--no-color")
		for _, want := range []string{"Project demo", "No saved state", "3 total", "Queue (0)"} {
			if !strings.Contains(out, want) {
				t.Errorf("status output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("glob filters workers", func(t *testing.T) {
		out := env.mustRun("status", "--json", "--workers", "worker-[12]")
		var v statusView
		if err := json.Unmarshal([]byte(out), &v); err != nil {
			t.Fatal(err)
		}
		if len(v.Pool.Workers) != 2 {
			t.Errorf("filtered workers = %d, want 2", len(v.Pool.Workers))
		}
		if v.Pool.TotalWorkers != 3 {
			t.Errorf("TotalWorkers = %d, counts should cover the whole pool", v.Pool.TotalWorkers)
		}
	})

	t.Run("invalid glob", func(t *testing.T) {
		if _, err := env.executeCommand("status", "--workers", "worker-["); err == nil {
			t.Error("expected an error for an unterminated class")
		}
	})

	t.Run("queue and workers", func(t *testing.T) {
		env.mustRun("enqueue", "ISSUE-9", "--score", "10")
		env.mustRun("enqueue", "ISSUE-8")
		env.mustRun("dispatch", "-n", "1")
		out := env.mustRun("status", "--no-color")
		for _, want := range []string{"ISSUE-8", "working", "ISSUE-9", "Queue (1)"} {
			if !strings.Contains(out, want) {
				t.Errorf("status output missing %q:\n%s", want, out)
			}
		}
	})
}

func TestReportCommand(t *testing.T) {
	env := setupTestEnvironment(t)
	env.mustRun("enqueue", "A")
	env.mustRun("enqueue", "B")
	env.mustRun("dispatch")
	env.mustRun("complete", "worker-1", "WO-001")

	t.Run("markdown", func(t *testing.T) {
		out := env.mustRun("report")
		for _, want := range []string{"# Progress Report", "## Workers", "## Bottlenecks"} {
			if !strings.Contains(out, want) {
				t.Errorf("markdown report missing %q", want)
			}
		}
	})

	t.Run("json", func(t *testing.T) {
		var r progress.Report
		if err := json.Unmarshal([]byte(env.mustRun("report", "-f", "json")), &r); err != nil {
			t.Fatalf("report -f json: %v", err)
		}
		if r.Metrics.Completed != 1 || r.Metrics.InProgress != 1 {
			t.Errorf("metrics = %+v", r.Metrics)
		}
		if len(r.Workers) != 3 {
			t.Errorf("workers = %d, want 3", len(r.Workers))
		}
	})

	t.Run("yaml", func(t *testing.T) {
		out := env.mustRun("report", "-f", "yaml")
		if !strings.Contains(out, "sessionId: session-") || !strings.Contains(out, "completed: 1") {
			t.Errorf("yaml report:\n%s", out)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if _, err := env.executeCommand("report", "-f", "html"); err == nil {
			t.Error("expected an error for an unknown format")
		}
	})

	t.Run("save", func(t *testing.T) {
		out := env.mustRun("report", "--save")
		if !strings.Contains(out, "Report saved to") {
			t.Errorf("output = %q", out)
		}
		for _, name := range []string{progress.ReportJSONKey, progress.ReportMarkdownKey} {
			if _, err := os.Stat(filepath.Join(env.dir, ".foreman", "reports", name)); err != nil {
				t.Errorf("%s not saved: %v", name, err)
			}
		}
	})
}

func TestMetricsCommand(t *testing.T) {
	env := setupTestEnvironment(t)
	env.mustRun("enqueue", "A")

	out := env.mustRun("metrics")
	if !strings.Contains(out, "foreman_work_orders_created_total") {
		t.Errorf("metrics text output:\n%s", out)
	}

	out = env.mustRun("metrics", "-f", "json")
	var snap map[string]any
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Errorf("metrics json is invalid: %v\n%s", err, out)
	}

	t.Setenv("FOREMAN_COORDINATOR_METRICS_ENABLED", "false")
	if _, err := env.executeCommand("metrics"); err == nil {
		t.Error("metrics should fail when disabled")
	}
}

func TestWatchCommand(t *testing.T) {
	env := setupTestEnvironment(t)
	env.mustRun("enqueue", "A")
	env.mustRun("enqueue", "B")
	env.mustRun("dispatch", "-n", "1")

	out := env.mustRun("watch", "--duration", "300ms", "--metrics-addr", "127.0.0.1:0", "--save")
	for _, want := range []string{"Serving metrics on http://127.0.0.1:", "progress 0% (0/2)", "bottleneck [medium] blocked_chain"} {
		if !strings.Contains(out, want) {
			t.Errorf("watch output missing %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(env.dir, ".foreman", "reports", progress.ReportJSONKey)); err != nil {
		t.Errorf("final report not saved: %v", err)
	}
}

func TestConfigCommand(t *testing.T) {
	env := setupTestEnvironment(t)

	if out := env.mustRun("config", "validate"); !strings.Contains(out, "Configuration is valid") {
		t.Errorf("validate output = %q", out)
	}

	bad := filepath.Join(env.dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("coordinator:\n  max_workers: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := env.executeCommand("config", "validate", "--config", bad); err == nil {
		t.Error("validate should reject max_workers: 0")
	}
	// Other commands refuse to run against an invalid config.
	if _, err := env.executeCommand("status", "--config", bad); err == nil {
		t.Error("status should fail with an invalid config")
	}

	out := env.mustRun("config", "show")
	if !strings.Contains(out, "max_workers: 3") {
		t.Errorf("show output:\n%s", out)
	}
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"/s/" + workpool.StateKey, true},
		{"/s/work_orders/WO-001.json", true},
		{"/s/foreman.db-wal", true},
		{"/s/foreman.log", false},
		{"/s/.controller_state.json.123", false},
		{"/s/controller_state.json.tmp", false},
		{"/s/notes.txt", false},
	}
	for _, tt := range tests {
		if got := relevant(tt.name); got != tt.want {
			t.Errorf("relevant(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestToYAML(t *testing.T) {
	type inner struct {
		Count int `json:"count"`
	}
	v := struct {
		Name  string    `json:"name"`
		Inner inner     `json:"inner"`
		Tags  []string  `json:"tags"`
		At    time.Time `json:"at"`
	}{
		Name:  "demo",
		Inner: inner{Count: 2},
		Tags:  []string{"a", "b"},
		At:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	out, err := toYAML(v)
	if err != nil {
		t.Fatalf("toYAML() error = %v", err)
	}
	want := "name: demo\ninner:\n    count: 2\ntags:\n    - a\n    - b\nat: \"2024-01-02T03:04:05Z\"\n"
	if string(out) != want {
		t.Errorf("toYAML() =\n%s\nwant\n%s", out, want)
	}
}

func TestFileLockBackend(t *testing.T) {
	env := setupTestEnvironment(t)
	t.Setenv("FOREMAN_COORDINATOR_DISTRIBUTED_LOCK_ENABLED", "true")
	t.Setenv("FOREMAN_COORDINATOR_DISTRIBUTED_LOCK_BACKEND", "file")

	env.mustRun("enqueue", "A")
	if out := env.mustRun("dispatch"); !strings.Contains(out, "WO-001") {
		t.Errorf("dispatch output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(env.stateDir, ".foreman.lock")); err != nil {
		t.Errorf("lock guard file missing: %v", err)
	}
}
