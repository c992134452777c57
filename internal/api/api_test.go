package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zulandar/bolttrack/internal/allocator"
	"github.com/zulandar/bolttrack/internal/audit"
	"github.com/zulandar/bolttrack/internal/db"
	"github.com/zulandar/bolttrack/internal/events"
	"github.com/zulandar/bolttrack/internal/models"
	"github.com/zulandar/bolttrack/internal/roll"
	"github.com/zulandar/bolttrack/internal/session"
	"gorm.io/gorm"
)

type testEnv struct {
	db     *gorm.DB
	router *gin.Engine
	audit  *audit.Memory
	bus    *events.Bus
}

func newEnv(t *testing.T, withBus bool) *testEnv {
	t.Helper()
	gormDB, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	env := &testEnv{db: gormDB, audit: &audit.Memory{}}
	opts := Options{DB: gormDB, Audit: env.audit, MaxBatch: 65}
	if withBus {
		env.bus = events.NewBus(64, nil)
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		go env.bus.Run(ctx)
		opts.Bus = env.bus
	}
	env.router, err = NewRouter(opts)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func TestNewRouter_NilDB(t *testing.T) {
	_, err := NewRouter(Options{})
	if err == nil || !strings.Contains(err.Error(), "db is required") {
		t.Fatalf("err = %v, want db is required", err)
	}
}

func TestStart_NilDB(t *testing.T) {
	if err := Start(context.Background(), StartOpts{}); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestErrorMapping(t *testing.T) {
	env := newEnv(t, false)

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantKind string
	}{
		{"missing body", http.MethodPost, "/api/barcodes/generate", nil, http.StatusBadRequest, "validation"},
		{"zero quantity", http.MethodPost, "/api/barcodes/generate", map[string]any{"year": 2026, "size": "40", "quantity": 0}, http.StatusBadRequest, "validation"},
		{"over max batch", http.MethodPost, "/api/barcodes/generate", map[string]any{"year": 2026, "size": "40", "quantity": 66}, http.StatusBadRequest, "validation"},
		{"unknown roll", http.MethodGet, "/api/inventory/26-40-0001", nil, http.StatusNotFound, "not_found"},
		{"stock out absent", http.MethodPost, "/api/mobile/transaction", map[string]any{"barcode": "26-40-0009", "type": "OUT"}, http.StatusNotFound, "not_found"},
		{"unknown session", http.MethodPost, "/api/sessions/nope/end", nil, http.StatusNotFound, "not_found"},
		{"bad stats kind", http.MethodGet, "/api/stats/list/bogus", nil, http.StatusBadRequest, "validation"},
		{"bad limit", http.MethodGet, "/api/admin/audit-logs?limit=x", nil, http.StatusBadRequest, "validation"},
		{"gaps without size", http.MethodGet, "/api/barcodes/gaps?year=2026", nil, http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			var body errorBody
			decode(t, w, &body)
			if body.Kind != tt.wantKind || body.Error == "" {
				t.Errorf("body = %+v, want kind %s", body, tt.wantKind)
			}
		})
	}
}

func TestGenerateAndSequence(t *testing.T) {
	env := newEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/barcodes/generate", map[string]any{"year": 2026, "size": "40", "quantity": 3}, HeaderEmployeeID, "E001")
	if w.Code != http.StatusCreated {
		t.Fatalf("generate status = %d: %s", w.Code, w.Body.String())
	}
	var res allocator.Result
	decode(t, w, &res)
	if len(res.Barcodes) != 3 || res.LastSequence != 3 || res.Barcodes[0].FullBarcode != "26-40-0001" {
		t.Fatalf("result = %+v", res)
	}

	w = env.do(t, http.MethodGet, "/api/barcodes/sequence?year=2026&size=40", nil)
	var seq allocator.Sequence
	decode(t, w, &seq)
	if seq.Last != 3 || seq.Next != 4 {
		t.Errorf("sequence = %+v, want last 3 next 4", seq)
	}

	w = env.do(t, http.MethodGet, "/api/mobile/missing-scans", nil)
	var missed []models.MissedScan
	decode(t, w, &missed)
	if len(missed) != 3 {
		t.Errorf("missing scans = %d, want 3", len(missed))
	}
	if env.audit.Count(audit.ActionBarcodeGenerate) != 1 {
		t.Error("generate was not audited")
	}
}

func TestTransactionFlow(t *testing.T) {
	env := newEnv(t, false)

	in := map[string]any{"barcode": "26-40-0003", "type": "IN", "metre": 50.5, "weight": 12}
	w := env.do(t, http.MethodPost, "/api/mobile/transaction", in, HeaderScannerID, "S1")
	if w.Code != http.StatusOK {
		t.Fatalf("stock in status = %d: %s", w.Code, w.Body.String())
	}
	var res roll.Result
	decode(t, w, &res)
	if !strings.Contains(res.Warning, "26-40-0002") {
		t.Errorf("warning = %q, want gap hint for 26-40-0002", res.Warning)
	}

	w = env.do(t, http.MethodPost, "/api/mobile/transaction", in)
	if w.Code != http.StatusConflict {
		t.Errorf("second stock in status = %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/mobile/scan/26-40-0003", nil)
	var st roll.ScanStatus
	decode(t, w, &st)
	if st.Status != roll.ScanExisting {
		t.Errorf("scan status = %q, want %q", st.Status, roll.ScanExisting)
	}

	w = env.do(t, http.MethodPatch, "/api/missing/26-40-0002/damaged", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("mark damaged status = %d: %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPatch, "/api/missing/26-40-0002/damaged", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("repeat mark damaged status = %d: %s", w.Code, w.Body.String())
	}
	if n := env.audit.Count(audit.ActionMarkDamaged); n != 1 {
		t.Errorf("audit MARK_DAMAGED = %d, want 1", n)
	}

	w = env.do(t, http.MethodPost, "/api/mobile/batch-out", map[string]any{"barcodes": []string{"26-40-0003", "26-40-0099"}})
	if w.Code != http.StatusOK {
		t.Fatalf("batch status = %d: %s", w.Code, w.Body.String())
	}
	var batch roll.BatchResult
	decode(t, w, &batch)
	if len(batch.Success) != 1 || len(batch.Failed) != 1 || batch.Failed[0].Kind != "not_found" {
		t.Errorf("batch = %+v", batch)
	}

	w = env.do(t, http.MethodDelete, "/api/inventory/26-40-0003", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/api/inventory/26-40-0003", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
}

func TestSessionFlow(t *testing.T) {
	env := newEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/sessions", map[string]any{"type": "IN", "target_size": "40"}, HeaderScannerID, "S1", HeaderEmployeeID, "E001")
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	var sess models.Session
	decode(t, w, &sess)

	w = env.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/join", map[string]any{"scanner_id": "S2"})
	if w.Code != http.StatusOK {
		t.Fatalf("join status = %d: %s", w.Code, w.Body.String())
	}

	for _, code := range []string{"26-40-0001", "26-40-0002"} {
		body := map[string]any{"barcode": code, "type": "IN", "metre": 10, "weight": 2, "session_id": sess.ID}
		if w := env.do(t, http.MethodPost, "/api/mobile/transaction", body, HeaderScannerID, "S2"); w.Code != http.StatusOK {
			t.Fatalf("stock in %s = %d: %s", code, w.Code, w.Body.String())
		}
	}
	out := map[string]any{"barcode": "26-40-0001", "type": "OUT", "session_id": sess.ID}
	if w := env.do(t, http.MethodPost, "/api/mobile/transaction", out); w.Code != http.StatusBadRequest {
		t.Errorf("direction mismatch = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/preview", nil)
	var preview session.Preview
	decode(t, w, &preview)
	if preview.Totals.Count != 2 {
		t.Errorf("preview count = %d, want 2", preview.Totals.Count)
	}

	w = env.do(t, http.MethodGet, "/api/sessions/active", nil)
	var active []session.Active
	decode(t, w, &active)
	if len(active) != 1 || active[0].Scanned != 2 {
		t.Errorf("active = %+v", active)
	}

	w = env.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/end", map[string]any{"stamp_totals": true})
	if w.Code != http.StatusOK {
		t.Fatalf("end status = %d: %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/end", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second end = %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/summary", nil)
	var sum session.Summary
	decode(t, w, &sum)
	if sum.Totals.Count != 2 || len(sum.ByEmployee) != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRegistries(t *testing.T) {
	env := newEnv(t, false)

	if w := env.do(t, http.MethodPost, "/api/sizes", map[string]any{"code": "40"}); w.Code != http.StatusCreated {
		t.Fatalf("add size = %d: %s", w.Code, w.Body.String())
	}
	if w := env.do(t, http.MethodPost, "/api/sizes", map[string]any{"code": "40"}); w.Code != http.StatusConflict {
		t.Errorf("duplicate size = %d, want 409", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/scanners", map[string]any{"scanner_id": "S1", "name": "Dock"}); w.Code != http.StatusOK {
		t.Errorf("register scanner = %d", w.Code)
	}
	w := env.do(t, http.MethodPost, "/api/employees", map[string]any{"name": "Ana"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add employee = %d: %s", w.Code, w.Body.String())
	}
	var emp models.Employee
	decode(t, w, &emp)
	if emp.EmployeeID != "E001" {
		t.Errorf("employee id = %q, want E001", emp.EmployeeID)
	}
	if w := env.do(t, http.MethodDelete, "/api/scanners/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("delete unknown scanner = %d, want 404", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/stats/dashboard?from=2026-01-01", nil); w.Code != http.StatusOK {
		t.Errorf("dashboard = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/stats/dashboard?from=yesterday", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad dashboard window = %d, want 400", w.Code)
	}
}

func TestSSE_NoBus(t *testing.T) {
	env := newEnv(t, false)
	w := env.do(t, http.MethodGet, "/api/events", nil)
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "event: connected") {
		t.Errorf("body = %q, want connected event", w.Body.String())
	}
}

func TestSSE_StreamsBusEvents(t *testing.T) {
	env := newEnv(t, true)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if line := lines.Text(); strings.HasPrefix(line, "event: ") {
				return strings.TrimPrefix(line, "event: ")
			}
		}
		return ""
	}
	if got := next(); got != "connected" {
		t.Fatalf("first event = %q, want connected", got)
	}

	env.bus.Publish(events.Event{Type: events.TypeStockUpdate, Data: events.StockUpdate{Type: "IN", Barcode: "26-40-0001"}})
	if got := next(); got != events.TypeStockUpdate {
		t.Errorf("event = %q, want %q", got, events.TypeStockUpdate)
	}
}

func TestWebSocket_StreamsBusEvents(t *testing.T) {
	env := newEnv(t, true)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var e events.Event
	if err := conn.ReadJSON(&e); err != nil || e.Type != "connected" {
		t.Fatalf("first frame = %+v, %v", e, err)
	}

	env.bus.Publish(events.Event{Type: events.TypeSessionUpdate, Data: events.SessionUpdate{Action: events.SessionCreated, SessionID: "x"}})
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read: %v", err)
	}
	if e.Type != events.TypeSessionUpdate {
		t.Errorf("type = %q, want %q", e.Type, events.TypeSessionUpdate)
	}
}
