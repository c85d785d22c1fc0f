package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kioskd/internal/audit"
	"kioskd/internal/clock"
	"kioskd/internal/config"
	"kioskd/internal/domain"
	"kioskd/internal/ledger"
	"kioskd/internal/rotation"
	"kioskd/internal/scheduler"
	"kioskd/internal/storage"
	"kioskd/internal/tasks"
	logx "kioskd/pkg/logx"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testAPI struct {
	st  storage.Store
	clk *clock.Fake
	h   http.Handler
	srv *Server
}

type brokenEvents struct{}

func (brokenEvents) AppendEvent(context.Context, domain.Event) error {
	return errors.New("disk full")
}

func newTestAPI(t *testing.T, httpCfg config.HTTPSettings, failEvents bool) *testAPI {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open error = %v", err)
	}
	ctx := context.Background()
	for i, id := range []string{"emp_a", "emp_b"} {
		_ = st.PutEmployee(ctx, domain.Employee{ID: id, Name: id, Role: domain.RoleEmployee, Active: true, CreatedAt: t0.Add(time.Duration(i) * time.Second)})
	}
	clk := clock.NewFake(t0)
	var events audit.EventStore = st
	if failEvents {
		events = brokenEvents{}
	}
	rec := audit.NewRecorder(events, nil, clk, logx.Nop())
	mgr := tasks.NewManager(st, rec, tasks.Options{Clock: clk})
	drv := scheduler.New(scheduler.Config{Tick: "1h"}, st, mgr, rotation.New(st, rotation.Options{}), clk, logx.Nop())
	srv := NewServer(Deps{
		Directory: st,
		Templates: tasks.NewTemplates(st, clk),
		Tasks:     mgr,
		Ledger:    ledger.NewEngine(st, rec, ledger.Options{Clock: clk}),
		Scheduler: drv,
		Clock:     clk,
	}, httpCfg)
	return &testAPI{st: st, clk: clk, h: srv.Handler(), srv: srv}
}

func (a *testAPI) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	rr := httptest.NewRecorder()
	a.h.ServeHTTP(rr, req)
	if out != nil && rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rr.Body.String(), err)
		}
	}
	return rr.Code
}

func TestHealth(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, config.HTTPSettings{}, false)
	var body map[string]string
	if code := a.do(t, http.MethodGet, "/api/health", "", &body); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", code, body)
	}
}

func TestLedgerRoutes(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, config.HTTPSettings{}, false)

	var entry domain.LedgerEntry
	if code := a.do(t, http.MethodPost, "/api/ledgers/cartons/adjust", `{"action":"add","amount":5,"employee":"emp_a"}`, &entry); code != http.StatusCreated {
		t.Fatalf("adjust add status = %d", code)
	}
	if entry.TotalAfter != 5 || entry.Delta != 5 {
		t.Fatalf("entry = %+v", entry)
	}

	var errBody errorBody
	if code := a.do(t, http.MethodPost, "/api/ledgers/cartons/adjust", `{"action":"remove","amount":9,"employee":"emp_a"}`, &errBody); code != http.StatusBadRequest {
		t.Fatalf("over-remove status = %d, want 400", code)
	}
	if !strings.Contains(errBody.Error, "insufficient") {
		t.Fatalf("over-remove error = %q", errBody.Error)
	}
	if code := a.do(t, http.MethodPost, "/api/ledgers/cartons/adjust", `{"action":"shred","amount":1,"employee":"emp_a"}`, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown action status = %d, want 400", code)
	}
	if code := a.do(t, http.MethodPost, "/api/ledgers/cartons/adjust", `{"action":"add","amount":1,"employee":"emp_a","bogus":1}`, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d, want 400", code)
	}

	var total struct {
		Total int64 `json:"total"`
	}
	a.do(t, http.MethodGet, "/api/ledgers/cartons/total", "", &total)
	if total.Total != 5 {
		t.Fatalf("total = %d, want 5", total.Total)
	}

	var undo struct {
		NewTotal int64 `json:"new_total"`
	}
	if code := a.do(t, http.MethodPost, "/api/ledgers/cartons/undo", "", &undo); code != http.StatusOK || undo.NewTotal != 0 {
		t.Fatalf("undo = %d %+v", code, undo)
	}
	if code := a.do(t, http.MethodPost, "/api/ledgers/cartons/undo", "", nil); code != http.StatusConflict {
		t.Fatalf("empty undo status = %d, want 409", code)
	}

	var hist []domain.LedgerEntry
	if code := a.do(t, http.MethodGet, "/api/ledgers/cartons/history?limit=10", "", &hist); code != http.StatusOK || len(hist) != 0 {
		t.Fatalf("history = %d %v", code, hist)
	}
	if code := a.do(t, http.MethodGet, "/api/ledgers/cartons/history?limit=-1", "", nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", code)
	}
}

func TestTaskRoutes(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, config.HTTPSettings{}, false)

	var in domain.TaskInstance
	if code := a.do(t, http.MethodPost, "/api/tasks/special", `{"title":"Mop spill","assigned_to":"emp_b"}`, &in); code != http.StatusCreated {
		t.Fatalf("special status = %d", code)
	}
	if in.SourceType != domain.SourceSpecial || in.Status != domain.StatusPending {
		t.Fatalf("special = %+v", in)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "request help", body: `{"status":"help"}`, want: http.StatusOK},
		{name: "resolve help", body: `{"status":"pending"}`, want: http.StatusOK},
		{name: "complete", body: `{"status":"done","notes":"ok"}`, want: http.StatusOK},
		{name: "terminal", body: `{"status":"missed"}`, want: http.StatusConflict},
		{name: "unknown status", body: `{"status":"later"}`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		if code := a.do(t, http.MethodPost, "/api/tasks/"+in.ID+"/transition", tt.body, nil); code != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.name, code, tt.want)
		}
	}

	if code := a.do(t, http.MethodGet, "/api/tasks/tsk_missing", "", nil); code != http.StatusNotFound {
		t.Fatalf("missing task status = %d, want 404", code)
	}
	if code := a.do(t, http.MethodPost, "/api/tasks/"+in.ID+"/reassign", `{"employee":"emp_a"}`, nil); code != http.StatusConflict {
		t.Fatalf("reassign done task status = %d, want 409", code)
	}

	var list []domain.TaskInstance
	a.do(t, http.MethodGet, "/api/tasks?employee=emp_b&status=done", "", &list)
	if len(list) != 1 || list[0].ID != in.ID {
		t.Fatalf("list = %+v", list)
	}
	if code := a.do(t, http.MethodGet, "/api/tasks?status=sleeping", "", nil); code != http.StatusBadRequest {
		t.Fatalf("bad status filter = %d, want 400", code)
	}

	var events []domain.Event
	a.do(t, http.MethodGet, "/api/events?type="+domain.EventHelpRequest, "", &events)
	if len(events) != 1 {
		t.Fatalf("help events = %d, want 1", len(events))
	}
}

func TestTemplatesAndSchedulerRun(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, config.HTTPSettings{}, false)

	var tpl domain.TaskTemplate
	if code := a.do(t, http.MethodPost, "/api/templates", `{"title":"Restock cooler","frequency_minutes":60}`, &tpl); code != http.StatusCreated {
		t.Fatalf("create template status = %d", code)
	}
	if code := a.do(t, http.MethodPost, "/api/templates", `{"title":"No cadence"}`, nil); code != http.StatusBadRequest {
		t.Fatalf("invalid template status = %d, want 400", code)
	}

	var run struct {
		OK     bool                 `json:"ok"`
		Result scheduler.PassResult `json:"result"`
	}
	if code := a.do(t, http.MethodPost, "/api/scheduler/run", "", &run); code != http.StatusOK || !run.OK {
		t.Fatalf("run = %d %+v", code, run)
	}
	if run.Result.Spawned != 1 {
		t.Fatalf("spawned = %d, want 1", run.Result.Spawned)
	}

	// Not due again within the hour.
	a.do(t, http.MethodPost, "/api/scheduler/run", "", &run)
	if run.Result.Spawned != 0 {
		t.Fatalf("second run spawned = %d, want 0", run.Result.Spawned)
	}

	var st scheduler.Status
	a.do(t, http.MethodGet, "/api/scheduler/status", "", &st)
	if st.Passes != 2 || st.RotationCursor != 1 {
		t.Fatalf("status = %+v", st)
	}

	if code := a.do(t, http.MethodPut, "/api/templates/"+tpl.ID, `{"active":false}`, &tpl); code != http.StatusOK || tpl.Active {
		t.Fatalf("deactivate = %d %+v", code, tpl)
	}
	if code := a.do(t, http.MethodDelete, "/api/templates/"+tpl.ID, "", nil); code != http.StatusNoContent {
		t.Fatalf("delete status = %d", code)
	}
	if code := a.do(t, http.MethodPut, "/api/templates/"+tpl.ID, `{"active":true}`, nil); code != http.StatusNotFound {
		t.Fatalf("update deleted status = %d, want 404", code)
	}
}

func TestEmployeeRoutes(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, config.HTTPSettings{}, false)

	var e domain.Employee
	if code := a.do(t, http.MethodPost, "/api/employees", `{"name":"Cara","role":"manager"}`, &e); code != http.StatusCreated {
		t.Fatalf("create employee status = %d", code)
	}
	if e.Role != domain.RoleManager || !e.Active {
		t.Fatalf("employee = %+v", e)
	}
	if code := a.do(t, http.MethodPut, "/api/employees/"+e.ID, `{"active":false}`, &e); code != http.StatusOK || e.Active {
		t.Fatalf("deactivate = %d %+v", code, e)
	}
	if code := a.do(t, http.MethodPost, "/api/employees", `{"name":"X","role":"owner"}`, nil); code != http.StatusBadRequest {
		t.Fatalf("bad role status = %d, want 400", code)
	}
	var list []domain.Employee
	a.do(t, http.MethodGet, "/api/employees", "", &list)
	if len(list) != 3 {
		t.Fatalf("employees = %d, want 3", len(list))
	}
}

func TestPartialFailureCarriesResult(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, config.HTTPSettings{}, true)

	var body struct {
		Error   string             `json:"error"`
		Partial bool               `json:"partial"`
		Result  domain.LedgerEntry `json:"result"`
	}
	code := a.do(t, http.MethodPost, "/api/ledgers/cartons/adjust", `{"action":"add","amount":2,"employee":"emp_a"}`, &body)
	if code != http.StatusInternalServerError || !body.Partial {
		t.Fatalf("partial = %d %+v", code, body)
	}
	if body.Result.TotalAfter != 2 {
		t.Fatalf("result = %+v", body.Result)
	}
	// The entry itself was stored.
	head, ok, _ := a.st.LatestLedgerEntry(context.Background(), "cartons")
	if !ok || head.TotalAfter != 2 {
		t.Fatalf("head = %+v ok=%v", head, ok)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, config.HTTPSettings{RatePerSec: 1, Burst: 2}, false)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, a.do(t, http.MethodGet, "/api/health", "", nil))
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}

	a.srv.SetRate(0, 0)
	if code := a.do(t, http.MethodGet, "/api/health", "", nil); code != http.StatusOK {
		t.Fatalf("after disabling limiter status = %d", code)
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{domain.Invalid("x", "y"), http.StatusBadRequest},
		{&domain.InsufficientError{Requested: 2, Available: 1}, http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidTransition, http.StatusConflict},
		{domain.ErrNothingToUndo, http.StatusConflict},
		{scheduler.ErrPassInProgress, http.StatusConflict},
		{&domain.PartialError{Op: "x", Err: domain.ErrNotFound}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestProfilerMountedOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	off := newTestAPI(t, config.HTTPSettings{}, false)
	if code := off.do(t, http.MethodGet, "/debug/pprof/", "", nil); code != http.StatusNotFound {
		t.Fatalf("pprof disabled status = %d, want 404", code)
	}

	on := newTestAPI(t, config.HTTPSettings{Pprof: true}, false)
	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	rr := httptest.NewRecorder()
	on.h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("pprof enabled status = %d, want 200", rr.Code)
	}
}
