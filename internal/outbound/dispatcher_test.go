package outbound

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestRegisterResolve(t *testing.T) {
	tab := New(0)
	p, err := tab.Register("1", "Reset")
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if p.Action() != "Reset" || p.ID() != "1" {
		t.Fatalf("unexpected pending: %s %s", p.ID(), p.Action())
	}
	if _, err := tab.Register("1", "Reset"); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if tab.Len() != 1 {
		t.Fatalf("Len() = %d", tab.Len())
	}

	got, ok := tab.Resolve("1")
	if !ok || got != p {
		t.Fatal("Resolve() did not return the registered entry")
	}
	if _, ok := tab.Resolve("1"); ok {
		t.Fatal("entry resolved twice")
	}
	if tab.Len() != 0 {
		t.Fatalf("Len() = %d after resolve", tab.Len())
	}

	if !p.Deliver(json.RawMessage(`{"status":"Accepted"}`), nil) {
		t.Fatal("first Deliver() reported false")
	}
	if p.Deliver(nil, errors.New("late")) {
		t.Fatal("second Deliver() reported true")
	}
	<-p.Done()
	payload, err := p.Outcome()
	if err != nil || string(payload) != `{"status":"Accepted"}` {
		t.Fatalf("Outcome() = %s, %v", payload, err)
	}
}

func TestTimeout(t *testing.T) {
	tab := New(20 * time.Millisecond)
	p, err := tab.Register("1", "Reset")
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pending call never timed out")
	}
	if _, err := p.Outcome(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if tab.Len() != 0 {
		t.Fatal("timed out entry still in table")
	}
	if _, ok := tab.Resolve("1"); ok {
		t.Fatal("timed out entry could still be resolved")
	}
}

func TestResolveStopsTimeout(t *testing.T) {
	tab := New(20 * time.Millisecond)
	p, _ := tab.Register("1", "Reset")
	if _, ok := tab.Resolve("1"); !ok {
		t.Fatal("Resolve() failed")
	}
	time.Sleep(50 * time.Millisecond)
	select {
	case <-p.Done():
		t.Fatal("resolved entry received a timeout outcome")
	default:
	}
}

func TestClose(t *testing.T) {
	tab := New(0)
	p1, _ := tab.Register("1", "A")
	p2, _ := tab.Register("2", "B")
	cause := errors.New("connection closed")

	tab.Close(cause)
	tab.Close(errors.New("ignored"))

	for _, p := range []*Pending{p1, p2} {
		<-p.Done()
		if _, err := p.Outcome(); !errors.Is(err, cause) {
			t.Fatalf("expected close cause, got %v", err)
		}
	}
	if _, err := tab.Register("3", "C"); !errors.Is(err, cause) {
		t.Fatalf("expected Register() after close to fail with cause, got %v", err)
	}
	if tab.Len() != 0 {
		t.Fatal("table not drained")
	}
}

func TestRemove(t *testing.T) {
	tab := New(0)
	tab.Register("1", "A")
	if !tab.Remove("1") {
		t.Fatal("Remove() reported false")
	}
	if tab.Remove("1") {
		t.Fatal("Remove() reported true twice")
	}
}
