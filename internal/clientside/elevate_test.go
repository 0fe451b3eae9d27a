package clientside

import (
	"errors"
	"testing"
	"time"
)

type fakeProcessHandle struct{}

func (fakeProcessHandle) Wait() error { return nil }
func (fakeProcessHandle) Kill() error { return nil }

func TestEnsureRunningLaunchesWhenDisconnected(t *testing.T) {
	c := NewConnection(time.Second, nil)
	var gotPath string
	var gotArgs []string
	launch := func(path string, args []string) (ProcessHandle, error) {
		gotPath, gotArgs = path, args
		return fakeProcessHandle{}, nil
	}

	if err := c.EnsureRunning(launch, "helper.exe", []string{"--daemon"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "helper.exe" || len(gotArgs) != 1 || gotArgs[0] != "--daemon" {
		t.Fatalf("launch called with path=%q args=%v", gotPath, gotArgs)
	}
	if c.State() != Connecting {
		t.Fatalf("state = %s, want Connecting", c.State())
	}
}

func TestEnsureRunningNoOpWhenAlreadyConnected(t *testing.T) {
	c := NewConnection(time.Second, nil)
	c.transition(Connected, "test setup")

	called := false
	launch := func(string, []string) (ProcessHandle, error) {
		called = true
		return fakeProcessHandle{}, nil
	}
	if err := c.EnsureRunning(launch, "helper.exe", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatal("launch should not be called when already Connected")
	}
}

func TestEnsureRunningRefusesWhileTransitional(t *testing.T) {
	c := NewConnection(time.Second, nil)
	c.transition(Connecting, "test setup")

	launch := func(string, []string) (ProcessHandle, error) {
		t.Fatal("launch should not be called while busy")
		return nil, nil
	}
	if err := c.EnsureRunning(launch, "helper.exe", nil); err == nil {
		t.Fatal("expected an error while busy")
	}
}

func TestEnsureRunningClassifiesLaunchFailure(t *testing.T) {
	c := NewConnection(time.Second, nil)
	launch := func(string, []string) (ProcessHandle, error) {
		return nil, &ElevationError{Kind: ElevationCancelled, Err: errors.New("ERROR_CANCELLED")}
	}
	err := c.EnsureRunning(launch, "helper.exe", nil)
	var elev *ElevationError
	if !errors.As(err, &elev) {
		t.Fatalf("expected *ElevationError, got %T: %v", err, err)
	}
	if !elev.Expected() {
		t.Fatal("ERROR_CANCELLED should be the expected outcome")
	}
	if c.State() != Error {
		t.Fatalf("state = %s, want Error", c.State())
	}
}
