package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

const stagesBody = `{"data":[
	{"name":"parse","position":0,"status":"COMPLETED","active":false,"pending":0,"in_flight":0,"failures":2},
	{"name":"load","position":1,"status":"IN_PROGRESS","active":true,"pending":5,"in_flight":3,"failures":0}
],"total":2}`

const failuresBody = `{"data":[
	{"descriptor_id":"d-1","queue":"parse.high","chunk_start":0,"chunk_end":9,"attempt":1,"error":"exit status 1\nstack","failed_at":"2024-01-15T03:00:00Z"}
],"total":1}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/stages", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(stagesBody))
	})
	mux.HandleFunc("GET /api/v1/stages/parse/failures", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(failuresBody))
	})
	mux.HandleFunc("GET /api/v1/stages/empty/failures", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data":[],"total":0}`))
	})
	mux.HandleFunc("GET /api/v1/environment", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"environment not published"}}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func runCmd(t *testing.T, srv *httptest.Server, jsonMode bool, newCmd func(func() *Client, func() *Output) *cobra.Command, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := newCmd(
		func() *Client { return NewClient(srv.URL) },
		func() *Output { return NewWriterOutput(&stdout, &stderr, jsonMode) },
	)
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestClient_ListStages(t *testing.T) {
	srv := newTestServer(t)

	stages, err := NewClient(srv.URL).ListStages(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(stages))
	}
	if !stages[1].Active || stages[1].InFlight != 3 {
		t.Errorf("unexpected stage: %+v", stages[1])
	}
}

func TestClient_ErrorResponse(t *testing.T) {
	srv := newTestServer(t)

	_, err := NewClient(srv.URL).GetEnvironment(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "NOT_FOUND") || !strings.Contains(err.Error(), "environment not published") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStatusCmd_Table(t *testing.T) {
	srv := newTestServer(t)

	stdout, _, err := runCmd(t, srv, false, NewStatusCmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"parse", "COMPLETED", "load", "IN_PROGRESS", "*"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output should contain %q:\n%s", want, stdout)
		}
	}
}

func TestStatusCmd_JSON(t *testing.T) {
	srv := newTestServer(t)

	stdout, _, err := runCmd(t, srv, true, NewStatusCmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, `"in_flight": 3`) {
		t.Errorf("expected JSON output, got:\n%s", stdout)
	}
}

func TestFailuresCmd(t *testing.T) {
	srv := newTestServer(t)

	stdout, _, err := runCmd(t, srv, false, NewFailuresCmd, "parse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "0-9") || !strings.Contains(stdout, "exit status 1") {
		t.Errorf("unexpected output:\n%s", stdout)
	}
	if strings.Contains(stdout, "stack") {
		t.Errorf("only the first error line should be shown:\n%s", stdout)
	}
}

func TestFailuresCmd_Empty(t *testing.T) {
	srv := newTestServer(t)

	stdout, stderr, err := runCmd(t, srv, false, NewFailuresCmd, "empty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stdout != "" {
		t.Errorf("expected no table, got:\n%s", stdout)
	}
	if !strings.Contains(stderr, "no failed chunks") {
		t.Errorf("unexpected message: %q", stderr)
	}
}

func TestFailuresCmd_RequiresStage(t *testing.T) {
	srv := newTestServer(t)

	if _, _, err := runCmd(t, srv, false, NewFailuresCmd); err == nil {
		t.Error("expected error without STAGE argument")
	}
}

func TestRenderTable(t *testing.T) {
	out := RenderTable([]string{"NAME", "COUNT"}, [][]string{{"a", "1"}, {"b"}}, []Align{AlignLeft, AlignRight}, true)

	if !strings.Contains(out, "╭") {
		t.Errorf("boxed table should use rounded style:\n%s", out)
	}
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "b") {
		t.Errorf("unexpected table:\n%s", out)
	}

	plain := RenderTable([]string{"NAME"}, [][]string{{"a"}}, nil, false)
	if strings.Contains(plain, "│") || strings.Contains(plain, "|") {
		t.Errorf("plain table should have no column separators:\n%s", plain)
	}

	if RenderTable(nil, nil, nil, true) != "" {
		t.Error("empty headers should render nothing")
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"short", "short"},
		{"first\nsecond", "first"},
		{"abcdefghij", "abcde..."},
	}

	for _, tt := range tests {
		if got := firstLine(tt.in, 5); got != tt.want {
			t.Errorf("firstLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
