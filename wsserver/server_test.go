package wsserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/ocpp-server-go/engine"
	"github.com/ggoodman/ocpp-server-go/hooks"
	"github.com/ggoodman/ocpp-server-go/ocpp"
	"github.com/ggoodman/ocpp-server-go/schema"
	"github.com/gorilla/websocket"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts ...Option) (*Server, string) {
	t.Helper()
	reg, err := schema.New(schema.WithBuiltin())
	if err != nil {
		t.Fatalf("schema.New() failed: %v", err)
	}
	opts = append([]Option{WithLogger(quietLogger()), WithHandlers(func(e *engine.Engine) {
		e.RegisterHandler("Heartbeat", func(ctx context.Context, _ json.RawMessage, res *engine.Response) error {
			return res.Success(ctx, map[string]string{"currentTime": "2024-05-01T10:00:00Z"})
		})
	})}, opts...)
	srv := New(reg, opts...)

	mux := http.NewServeMux()
	mux.Handle("/ocpp/", srv)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		_ = srv.Close()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ocpp/"
}

func dial(t *testing.T, url string, protocols []string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	d := websocket.Dialer{Subprotocols: protocols, HandshakeTimeout: 2 * time.Second}
	ws, resp, err := d.Dial(url, header)
	if ws != nil {
		t.Cleanup(func() { _ = ws.Close() })
	}
	return ws, resp, err
}

func readFrame(t *testing.T, ws *websocket.Conn) *ocpp.Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() failed: %v", err)
	}
	f, err := ocpp.ParseFrame(data)
	if err != nil {
		t.Fatalf("server sent an invalid frame %s: %v", data, err)
	}
	return f
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHeartbeatOverWebSocket(t *testing.T) {
	srv, base := newTestServer(t)

	ws, resp, err := dial(t, base+"CP-1", []string{"ocpp1.6"}, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	if got := resp.Header.Get("Sec-Websocket-Protocol"); got != "ocpp1.6" {
		t.Fatalf("negotiated protocol = %q", got)
	}

	eventually(t, func() bool { _, ok := srv.Registry().Get("CP-1"); return ok }, "CP-1 was not registered")

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`[2,"19223201","Heartbeat",{}]`)); err != nil {
		t.Fatalf("WriteMessage() failed: %v", err)
	}
	f := readFrame(t, ws)
	if f.Type != ocpp.CallResult || f.ID != "19223201" {
		t.Fatalf("unexpected frame: %+v", f)
	}

	e, _ := srv.Registry().Get("CP-1")
	if e.ProtocolVersion() != "ocpp1.6" {
		t.Fatalf("engine protocol = %q", e.ProtocolVersion())
	}
}

func TestSubprotocolNegotiationIsCaseInsensitive(t *testing.T) {
	_, base := newTestServer(t)

	_, resp, err := dial(t, base+"CP-2", []string{"ocpp2.0.1", "OCPP1.6"}, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	if got := resp.Header.Get("Sec-Websocket-Protocol"); !strings.EqualFold(got, "ocpp1.6") {
		t.Fatalf("negotiated protocol = %q", got)
	}
}

func TestMissingSubprotocolClosesWithProtocolError(t *testing.T) {
	srv, base := newTestServer(t)

	ws, _, err := dial(t, base+"CP-3", nil, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()

	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.CloseProtocolError {
		t.Fatalf("ReadMessage() error = %v, want close 1002", err)
	}
	if !strings.Contains(ce.Text, "sec-websocket-protocol") {
		t.Fatalf("close reason = %q", ce.Text)
	}
	if srv.Registry().Len() != 0 {
		t.Fatal("rejected connection must not be registered")
	}
}

func TestValidateConnectionUsesBasicAuth(t *testing.T) {
	_, base := newTestServer(t, WithAttach(func(e *engine.Engine) {
		e.Hooks().Before(hooks.ValidateConnection, func(_ context.Context, info *hooks.Info) error {
			if info.Username != info.CPID || info.Password != "secret" {
				return errors.New("bad credentials")
			}
			return nil
		})
	}))

	_, resp, err := dial(t, base+"CP-4", []string{"ocpp1.6"}, nil)
	if !errors.Is(err, websocket.ErrBadHandshake) || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake failure, got err=%v resp=%v", err, resp)
	}

	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("CP-4:secret")))
	if _, _, err := dial(t, base+"CP-4", []string{"ocpp1.6"}, header); err != nil {
		t.Fatalf("Dial() with credentials failed: %v", err)
	}
}

func TestMissingChargePointIDIsNotFound(t *testing.T) {
	_, base := newTestServer(t)

	resp, err := http.Get("http" + strings.TrimPrefix(base, "ws"))
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServerInitiatedCall(t *testing.T) {
	srv, base := newTestServer(t)

	ws, _, err := dial(t, base+"CP-5", []string{"ocpp1.6"}, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	eventually(t, func() bool { _, ok := srv.Registry().Get("CP-5"); return ok }, "CP-5 was not registered")
	e, _ := srv.Registry().Get("CP-5")

	type result struct {
		payload json.RawMessage
		err     error
	}
	done := make(chan result, 1)
	go func() {
		p, err := e.Call(context.Background(), "ClearCache", nil)
		done <- result{p, err}
	}()

	call := readFrame(t, ws)
	if call.Type != ocpp.Call || call.Action != "ClearCache" {
		t.Fatalf("unexpected frame: %+v", call)
	}
	reply := `[3,"` + call.ID + `",{"status":"Accepted"}]`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
		t.Fatalf("WriteMessage() failed: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil || string(r.payload) != `{"status":"Accepted"}` {
			t.Fatalf("Call() = %s, %v", r.payload, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call() did not return")
	}
}

func TestDisconnectRejectsPendingAndUnregisters(t *testing.T) {
	srv, base := newTestServer(t)

	ws, _, err := dial(t, base+"CP-6", []string{"ocpp1.6"}, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	eventually(t, func() bool { _, ok := srv.Registry().Get("CP-6"); return ok }, "CP-6 was not registered")
	e, _ := srv.Registry().Get("CP-6")

	call, err := e.Send(context.Background(), "ClearCache", nil)
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	_ = readFrame(t, ws)

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	_ = ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = call.Wait(ctx)
	if !errors.Is(err, engine.ErrConnectionClosed) {
		t.Fatalf("Wait() error = %v, want ErrConnectionClosed", err)
	}
	eventually(t, func() bool { return srv.Registry().Len() == 0 }, "CP-6 was not unregistered")
}

func TestReconnectReplacesPreviousConnection(t *testing.T) {
	srv, base := newTestServer(t)

	old, _, err := dial(t, base+"CP-7", []string{"ocpp1.6"}, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	eventually(t, func() bool { _, ok := srv.Registry().Get("CP-7"); return ok }, "CP-7 was not registered")
	first, _ := srv.Registry().Get("CP-7")

	if _, _, err := dial(t, base+"CP-7", []string{"ocpp1.6"}, nil); err != nil {
		t.Fatalf("second Dial() failed: %v", err)
	}
	eventually(t, func() bool { e, _ := srv.Registry().Get("CP-7"); return e != nil && e != first }, "new connection was not registered")

	_ = old.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := old.ReadMessage(); err == nil {
		t.Fatal("expected the replaced connection to be closed")
	}
	eventually(t, func() bool { return !first.Connected() }, "replaced engine still connected")

	if e, ok := srv.Registry().Get("CP-7"); !ok || e == first {
		t.Fatal("closing the replaced connection evicted its successor")
	}
}
