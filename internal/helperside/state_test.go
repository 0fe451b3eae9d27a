package helperside

import (
	"testing"
	"time"
)

func TestHappyPathTransitions(t *testing.T) {
	c := NewConnection("test-pipe", nil)
	if c.State() != Idle {
		t.Fatalf("initial state = %s, want Idle", c.State())
	}
	must(t, c.OnClientConnected())
	if c.State() != Connected {
		t.Fatalf("state = %s, want Connected", c.State())
	}
	must(t, c.OnSendHello())
	must(t, c.OnHelloWritten())
	if c.State() != HandshakeReceiving {
		t.Fatalf("state = %s, want HandshakeReceiving", c.State())
	}
	must(t, c.OnReadyReceived("READY", 5*time.Second))
	if c.State() != Ready {
		t.Fatalf("state = %s, want Ready", c.State())
	}
	must(t, c.OnCommandReceived(`FORMAT "X:"`))
	if c.State() != Processing {
		t.Fatalf("state = %s, want Processing", c.State())
	}
	if c.CurrentCommand() == "" {
		t.Fatal("current_command must be set in Processing")
	}
	must(t, c.OnCommandCompleted())
	if c.State() != Ready {
		t.Fatalf("state = %s, want Ready", c.State())
	}
	if c.CurrentCommand() != "" {
		t.Fatal("current_command must be cleared outside Processing")
	}
}

func TestBadHandshakeTokenGoesToError(t *testing.T) {
	c := NewConnection("test-pipe", nil)
	must(t, c.OnClientConnected())
	must(t, c.OnSendHello())
	must(t, c.OnHelloWritten())
	if err := c.OnReadyReceived("NOPE", 5*time.Second); err == nil {
		t.Fatal("expected error for bad token")
	}
	if c.State() != Error {
		t.Fatalf("state = %s, want Error", c.State())
	}
}

func TestHandshakeTimeoutGoesToError(t *testing.T) {
	c := NewConnection("test-pipe", nil)
	must(t, c.OnClientConnected())
	must(t, c.OnSendHello())
	must(t, c.OnHelloWritten())
	time.Sleep(2 * time.Millisecond)
	if err := c.OnReadyReceived("READY", time.Millisecond); err == nil {
		t.Fatal("expected timeout error")
	}
	if c.State() != Error {
		t.Fatalf("state = %s, want Error", c.State())
	}
}

func TestCommandRejectedOutsideReady(t *testing.T) {
	c := NewConnection("test-pipe", nil)
	if err := c.OnCommandReceived("SHUTDOWN"); err == nil {
		t.Fatal("expected rejection outside Ready")
	}
}

func TestForceHandshakeTimeoutResetsToIdle(t *testing.T) {
	c := NewConnection("test-pipe", nil)
	must(t, c.OnClientConnected())
	must(t, c.OnSendHello())
	must(t, c.OnHelloWritten())
	time.Sleep(2 * time.Millisecond)
	if !c.ForceHandshakeTimeout(time.Millisecond) {
		t.Fatal("expected forced reset")
	}
	if c.State() != Idle {
		t.Fatalf("state = %s, want Idle", c.State())
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
