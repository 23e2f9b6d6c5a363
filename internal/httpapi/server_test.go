package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ahostbr/kuroryuu-public-sub001/internal/api"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/store"
	"github.com/ahostbr/kuroryuu-public-sub001/pkg/logx"
)

type noRunner struct{}

func (noRunner) RunNow(id string) error   { return store.ErrNotFound }
func (noRunner) IsRunning(id string) bool { return false }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := store.New(t.TempDir(), logx.Nop())
	if err := st.Initialize(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(st.Close)
	svc := api.NewService(st, noRunner{}, logx.Nop())
	srv := New("127.0.0.1:0", svc, logx.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postAction(t *testing.T, ts *httptest.Server, action, body string) (int, api.Envelope) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/scheduler/"+action, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var env api.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, env
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestActionRoundTrip(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	status, env := postAction(t, ts, "createJob", `{
		"name": "http job",
		"schedule": {"type": "interval", "every": 10, "unit": "minutes"},
		"action": {"type": "prompt", "prompt": "summarize inbox"}
	}`)
	if status != http.StatusOK || !env.OK {
		t.Fatalf("createJob: status=%d env=%+v", status, env)
	}

	status, env = postAction(t, ts, "listJobs", "")
	if status != http.StatusOK || !env.OK {
		t.Fatalf("listJobs: status=%d env=%+v", status, env)
	}
	jobs, ok := env.Result.([]any)
	if !ok || len(jobs) != 1 {
		t.Fatalf("listJobs result = %+v", env.Result)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	tests := []struct {
		action, body string
		wantStatus   int
		wantCode     string
	}{
		{"getJob", `{"id":"ghost"}`, http.StatusNotFound, api.CodeNotFound},
		{"createJob", `{"name":""}`, http.StatusBadRequest, api.CodeInvalid},
		{"bogusAction", `{}`, http.StatusBadRequest, api.CodeInvalid},
		{"runJobNow", `{"id":"ghost"}`, http.StatusNotFound, api.CodeNotFound},
	}
	for _, tt := range tests {
		status, env := postAction(t, ts, tt.action, tt.body)
		if status != tt.wantStatus || env.OK || env.ErrorCode != tt.wantCode {
			t.Errorf("%s: status=%d env=%+v, want %d/%s", tt.action, status, env, tt.wantStatus, tt.wantCode)
		}
	}
}
