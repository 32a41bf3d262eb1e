package schema

import (
	"errors"
	"testing"
	"testing/fstest"
)

func newBuiltin(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r, err := New(append([]Option{WithBuiltin()}, opts...)...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return r
}

func TestBuiltinRequestSchemas(t *testing.T) {
	r := newBuiltin(t)

	tests := []struct {
		name    string
		action  string
		payload string
		want    bool
	}{
		{"boot valid", "BootNotification", `{"chargePointVendor":"VendorX","chargePointModel":"Model1"}`, true},
		{"boot missing model", "BootNotification", `{"chargePointVendor":"VendorX"}`, false},
		{"boot wrong type", "BootNotification", `{"chargePointVendor":1,"chargePointModel":"Model1"}`, false},
		{"boot too long", "BootNotification", `{"chargePointVendor":"a-vendor-name-that-is-way-too-long","chargePointModel":"Model1"}`, false},
		{"boot unknown field", "BootNotification", `{"chargePointVendor":"VendorX","chargePointModel":"Model1","extra":true}`, false},
		{"heartbeat empty", "Heartbeat", `{}`, true},
		{"status valid", "StatusNotification", `{"connectorId":1,"errorCode":"NoError","status":"Available"}`, true},
		{"status bad enum", "StatusNotification", `{"connectorId":1,"errorCode":"NoError","status":"Sleeping"}`, false},
		{"status bad timestamp", "StatusNotification", `{"connectorId":1,"errorCode":"NoError","status":"Available","timestamp":"yesterday"}`, false},
		{"authorize valid", "Authorize", `{"idTag":"ABC123"}`, true},
		{"not json", "Authorize", `{"idTag":`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Validate("ocpp1.6", tt.action, []byte(tt.payload), false); got != tt.want {
				t.Fatalf("Validate() = %v, want %v (err: %v)", got, tt.want, r.Check("ocpp1.6", tt.action, []byte(tt.payload), false))
			}
		})
	}
}

func TestBuiltinResponseSchemas(t *testing.T) {
	r := newBuiltin(t)

	if !r.Validate("ocpp1.6", "Heartbeat", []byte(`{"currentTime":"2024-05-01T10:00:00Z"}`), true) {
		t.Fatal("expected valid heartbeat response")
	}
	if r.Validate("ocpp1.6", "Heartbeat", []byte(`{}`), true) {
		t.Fatal("expected heartbeat response without currentTime to be invalid")
	}
	if r.Validate("ocpp1.6", "BootNotification", []byte(`{"status":"Accepted","currentTime":"2024-05-01T10:00:00Z","interval":"90"}`), true) {
		t.Fatal("expected string interval to be invalid")
	}
	// The request schema must not be used for the response direction.
	if !r.Validate("ocpp1.6", "Authorize", []byte(`{"idTagInfo":{"status":"Accepted"}}`), true) {
		t.Fatal("expected valid authorize response")
	}
}

func TestAbsentSchemaAccepts(t *testing.T) {
	r := newBuiltin(t)

	if !r.Validate("ocpp1.6", "Reset", []byte(`{"type":"Hard"}`), false) {
		t.Fatal("expected action without schema to be accepted")
	}
	if !r.Validate("ocpp1.6", "Reset", []byte(`not even json`), false) {
		t.Fatal("expected action without schema to accept any payload")
	}
	if !r.Validate("ocpp2.0.1", "BootNotification", []byte(`{}`), false) {
		t.Fatal("expected unknown version to be accepted")
	}
	if r.Has("ocpp1.6", "Reset", false) {
		t.Fatal("Has() reported a schema for Reset")
	}

	var nilRegistry *Registry
	if !nilRegistry.Validate("ocpp1.6", "BootNotification", []byte(`{}`), false) {
		t.Fatal("expected nil registry to accept")
	}
}

func TestVersionResolution(t *testing.T) {
	r := newBuiltin(t)

	bad := []byte(`{"chargePointVendor":"VendorX"}`)
	for _, v := range []string{"ocpp1.6", "OCPP1.6", " ocpp1.6 ", ""} {
		if r.Validate(v, "BootNotification", bad, false) {
			t.Fatalf("version %q: expected the ocpp1.6 schema to apply", v)
		}
	}

	r2, err := New(WithBuiltin(), WithDefaultVersion("ocpp2.0.1"))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if !r2.Validate("", "BootNotification", bad, false) {
		t.Fatal("expected empty version to resolve to the configured default")
	}
	if got := r2.DefaultVersion(); got != "ocpp2.0.1" {
		t.Fatalf("DefaultVersion() = %q", got)
	}
}

func TestCheckReturnsDetails(t *testing.T) {
	r := newBuiltin(t)

	err := r.Check("ocpp1.6", "BootNotification", []byte(`{"chargePointVendor":"VendorX"}`), false)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if verr.Action != "BootNotification" || verr.Version != "ocpp1.6" || verr.IsResponse {
		t.Fatalf("unexpected error fields: %+v", verr)
	}
	if len(verr.Details) == 0 {
		t.Fatal("expected at least one detail")
	}
}

func TestWithFSAndOverride(t *testing.T) {
	fsys := fstest.MapFS{
		"v/Ping.json":         {Data: []byte(`{"type":"object","required":["n"],"properties":{"n":{"type":"integer"}}}`)},
		"v/PingResponse.json": {Data: []byte(`{"type":"object","required":["pong"]}`)},
		"v/README.md":         {Data: []byte(`ignored`)},
	}
	r, err := New(
		WithFS("custom", fsys, "v"),
		WithSchema("custom", "Ping", true, []byte(`{"type":"object","required":["ack"]}`)),
	)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if !r.Validate("custom", "Ping", []byte(`{"n":1}`), false) {
		t.Fatal("expected valid request")
	}
	if r.Validate("custom", "Ping", []byte(`{"n":"1"}`), false) {
		t.Fatal("expected invalid request")
	}
	// WithSchema came later and replaces the response schema from the FS.
	if !r.Validate("custom", "Ping", []byte(`{"ack":true}`), true) {
		t.Fatal("expected the overriding response schema to apply")
	}
	if got := r.Versions(); len(got) != 1 || got[0] != "custom" {
		t.Fatalf("Versions() = %v", got)
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(WithSchema("v", "Broken", false, []byte(`{"type":`))); err == nil {
		t.Fatal("expected error for malformed schema document")
	}
	if _, err := New(WithSchema("v", "", false, []byte(`{}`))); err == nil {
		t.Fatal("expected error for empty action name")
	}
	if _, err := New(WithFS("v", fstest.MapFS{}, "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

type resetRequest struct {
	Type string `json:"type" jsonschema:"enum=Hard,enum=Soft"`
}

type unlockRequest struct {
	ConnectorID int    `json:"connectorId"`
	Reason      string `json:"reason,omitempty"`
}

func TestWithReflected(t *testing.T) {
	r, err := New(
		WithReflected("ocpp1.6", "Reset", false, &resetRequest{}),
		WithReflected("ocpp1.6", "Unlock", false, &unlockRequest{}),
	)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	tests := []struct {
		action  string
		payload string
		want    bool
	}{
		{"Reset", `{"type":"Hard"}`, true},
		{"Reset", `{"type":"Medium"}`, false},
		{"Reset", `{}`, false},
		{"Reset", `{"type":"Soft","extra":1}`, false},
		{"Unlock", `{"connectorId":2}`, true},
		{"Unlock", `{"connectorId":2,"reason":"stuck"}`, true},
		{"Unlock", `{"connectorId":"2"}`, false},
	}
	for _, tt := range tests {
		if got := r.Validate("ocpp1.6", tt.action, []byte(tt.payload), false); got != tt.want {
			t.Errorf("%s %s: Validate() = %v, want %v", tt.action, tt.payload, got, tt.want)
		}
	}
}
