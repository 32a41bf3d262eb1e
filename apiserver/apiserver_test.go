package apiserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/ocpp-server-go/engine"
	"github.com/ggoodman/ocpp-server-go/engine/enginetest"
	"github.com/ggoodman/ocpp-server-go/handlers"
	"github.com/ggoodman/ocpp-server-go/registry"
	"github.com/ggoodman/ocpp-server-go/schema"
	"github.com/ggoodman/ocpp-server-go/storage/memory"
)

type fixture struct {
	srv *Server
	tr  *enginetest.Transport
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store, err := memory.New(100)
	if err != nil {
		t.Fatalf("memory.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	reg, err := schema.New(append([]schema.Option{schema.WithBuiltin()}, handlers.CommandSchemas()...)...)
	if err != nil {
		t.Fatalf("schema.New() failed: %v", err)
	}

	e := engine.New("CP-1", reg, engine.WithProtocolVersion("ocpp1.6"))
	tr := enginetest.NewTransport()
	if err := e.AttachTransport(tr); err != nil {
		t.Fatalf("AttachTransport() failed: %v", err)
	}
	(&handlers.Set{Store: store}).Install(e)

	connected := registry.New()
	connected.Put("CP-1", e)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{srv: New(connected, store, append([]Option{WithLogger(quiet)}, opts...)...), tr: tr}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

// answer waits for the next CALL written to the charge point and replies
// with reply, in which %s is replaced by the CALL id.
func (f *fixture) answer(t *testing.T, reply string) {
	t.Helper()
	select {
	case <-f.tr.Written():
	case <-time.After(2 * time.Second):
		t.Error("no CALL was sent to the charge point")
		return
	}
	call := f.tr.Last(t)
	f.tr.Deliver(strings.ReplaceAll(reply, "%s", call.ID))
}

func TestListJSON(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/cp", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var cps []ChargePoint
	if err := json.Unmarshal(rec.Body.Bytes(), &cps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cps) != 1 || cps[0].ID != "CP-1" || cps[0].Protocol != "ocpp1.6" || !cps[0].Connected {
		t.Fatalf("unexpected list: %+v", cps)
	}
}

func TestListText(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/cp", nil)
	req.Header.Set("Accept", "text/plain")
	rec := f.do(req)

	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("status = %d, content-type = %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	body := rec.Body.String()
	if !strings.Contains(body, "CP-1") || !strings.Contains(body, "PROTOCOL") {
		t.Fatalf("unexpected table:\n%s", body)
	}
}

func TestNotAcceptable(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/cp", nil)
	req.Header.Set("Accept", "image/png")
	if rec := f.do(req); rec.Code != http.StatusNotAcceptable {
		t.Fatalf("status = %d, want 406", rec.Code)
	}
}

func TestState(t *testing.T) {
	f := newFixture(t)
	f.tr.Deliver(`[2,"1","BootNotification",{"chargePointVendor":"VendorX","chargePointModel":"Model1"}]`)
	f.tr.Deliver(`[2,"2","StatusNotification",{"connectorId":1,"errorCode":"NoError","status":"Available"}]`)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/cp/CP-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var st handlers.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Boot == nil || st.Boot.Vendor != "VendorX" || st.Connectors[1].Status != "Available" {
		t.Fatalf("unexpected state: %+v", st)
	}

	req := httptest.NewRequest(http.MethodGet, "/cp/CP-1", nil)
	req.Header.Set("Accept", "text/plain")
	rec = f.do(req)
	if !strings.Contains(rec.Body.String(), "VendorX") || !strings.Contains(rec.Body.String(), "Connector 1") {
		t.Fatalf("unexpected table:\n%s", rec.Body)
	}
}

func TestUnknownChargePoint(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(httptest.NewRequest(http.MethodGet, "/cp/CP-404", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("GET status = %d, want 404", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/cp/CP-404/call/Reset", strings.NewReader(`{"type":"Hard"}`))
	req.Header.Set("Content-Type", "application/json")
	if rec := f.do(req); rec.Code != http.StatusNotFound {
		t.Fatalf("POST status = %d, want 404", rec.Code)
	}
}

func TestCallSuccess(t *testing.T) {
	f := newFixture(t)
	go f.answer(t, `[3,"%s",{"status":"Accepted"}]`)

	req := httptest.NewRequest(http.MethodPost, "/cp/CP-1/call/Reset", strings.NewReader(`{"type":"Hard"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"status":"Accepted"}` {
		t.Fatalf("body = %s", rec.Body)
	}
	sent := f.tr.Frames(t)
	if len(sent) != 1 || sent[0].Action != "Reset" || string(sent[0].Payload) != `{"type":"Hard"}` {
		t.Fatalf("unexpected CALL: %+v", sent)
	}
}

func TestCallRejectedByChargePoint(t *testing.T) {
	f := newFixture(t)
	go f.answer(t, `[4,"%s","NotSupported","no reset here",{}]`)

	req := httptest.NewRequest(http.MethodPost, "/cp/CP-1/call/Reset", strings.NewReader(`{"type":"Soft"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var ce CallError
	if err := json.Unmarshal(rec.Body.Bytes(), &ce); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ce.Code != "NotSupported" || ce.Description != "no reset here" {
		t.Fatalf("unexpected body: %+v", ce)
	}
}

func TestCallInvalidPayload(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/cp/CP-1/call/Reset", strings.NewReader(`{"type":"Warm"}`))
	req.Header.Set("Content-Type", "application/json")
	if rec := f.do(req); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if n := len(f.tr.Frames(t)); n != 0 {
		t.Fatalf("invalid payload was sent (%d frames)", n)
	}
}

func TestCallTimeout(t *testing.T) {
	f := newFixture(t, WithCallTimeout(20*time.Millisecond))

	req := httptest.NewRequest(http.MethodPost, "/cp/CP-1/call/ClearCache", nil)
	if rec := f.do(req); rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
}

func TestCallRequiresJSON(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/cp/CP-1/call/Reset", strings.NewReader(`type=Hard`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if rec := f.do(req); rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rec.Code)
	}
}

func TestCallBodyTooLarge(t *testing.T) {
	f := newFixture(t)

	body := `{"vendorId":"` + strings.Repeat("x", maxCallBody) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/cp/CP-1/call/DataTransfer", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if rec := f.do(req); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if n := len(f.tr.Frames(t)); n != 0 {
		t.Fatalf("oversized payload was sent (%d frames)", n)
	}
}

func TestNonPositiveCallTimeoutKeepsDefault(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		f := newFixture(t, WithCallTimeout(d))
		if f.srv.callTimeout != defaultCallTimeout {
			t.Fatalf("WithCallTimeout(%v): callTimeout = %v, want %v", d, f.srv.callTimeout, defaultCallTimeout)
		}
	}
}
