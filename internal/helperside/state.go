// Package helperside implements the helper's connection state machine:
// a single discriminated state, never a pile of booleans, with every
// transition logged.
package helperside

import (
	"fmt"
	"log/slog"
	"time"
)

// State is the helper side's discriminated connection state.
type State int

const (
	Idle State = iota
	Connected
	HandshakeSending
	HandshakeReceiving
	Ready
	Processing
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connected:
		return "Connected"
	case HandshakeSending:
		return "HandshakeSending"
	case HandshakeReceiving:
		return "HandshakeReceiving"
	case Ready:
		return "Ready"
	case Processing:
		return "Processing"
	case Error:
		return "Error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Connection is the helper's view of the single client it serves. At most
// one client is connected at a time — the field set enforces this by
// construction (one Connection instance per helper process).
type Connection struct {
	state            State
	pipeName         string
	currentCommand   string
	operationStarted time.Time

	logger *slog.Logger
}

func NewConnection(pipeName string, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{state: Idle, pipeName: pipeName, logger: logger}
}

func (c *Connection) State() State        { return c.state }
func (c *Connection) PipeName() string    { return c.pipeName }
func (c *Connection) CurrentCommand() string { return c.currentCommand }

func (c *Connection) transition(to State, reason string) {
	c.logger.Debug("helper transition", "from", c.state.String(), "to", to.String(), "reason", reason)
	if to != Processing {
		c.currentCommand = ""
	}
	c.state = to
}

// OnClientConnected moves Idle -> Connected.
func (c *Connection) OnClientConnected() error {
	if c.state != Idle {
		return fmt.Errorf("helperside: client connect only valid from Idle, got %s", c.state)
	}
	c.transition(Connected, "client connected")
	return nil
}

// OnSendHello moves Connected -> HandshakeSending.
func (c *Connection) OnSendHello() error {
	if c.state != Connected {
		return fmt.Errorf("helperside: send HELLO only valid from Connected, got %s", c.state)
	}
	c.transition(HandshakeSending, "sending HELLO")
	return nil
}

// OnHelloWritten moves HandshakeSending -> HandshakeReceiving.
func (c *Connection) OnHelloWritten() error {
	if c.state != HandshakeSending {
		return fmt.Errorf("helperside: HELLO written only valid from HandshakeSending, got %s", c.state)
	}
	c.operationStarted = time.Now()
	c.transition(HandshakeReceiving, "HELLO bytes written")
	return nil
}

// OnReadyReceived moves HandshakeReceiving -> Ready when the token is
// exactly "READY"; any other token or an expired deadline moves to Error.
func (c *Connection) OnReadyReceived(token string, deadline time.Duration) error {
	if c.state != HandshakeReceiving {
		return fmt.Errorf("helperside: recv READY only valid from HandshakeReceiving, got %s", c.state)
	}
	if time.Since(c.operationStarted) > deadline {
		c.transition(Error, "handshake deadline exceeded")
		return fmt.Errorf("helperside: handshake timed out after %s", deadline)
	}
	if token != "READY" {
		c.transition(Error, fmt.Sprintf("unexpected handshake token %q", token))
		return fmt.Errorf("helperside: expected READY, got %q", token)
	}
	c.transition(Ready, "handshake complete")
	return nil
}

// ValidateStateForCommand rejects any command outside Ready.
func (c *Connection) ValidateStateForCommand() error {
	if c.state != Ready {
		return fmt.Errorf("helperside: command rejected, not in Ready (state=%s)", c.state)
	}
	return nil
}

// OnCommandReceived moves Ready -> Processing and records the command.
// current_command is set only in Processing, per the data model invariant.
func (c *Connection) OnCommandReceived(command string) error {
	if err := c.ValidateStateForCommand(); err != nil {
		return err
	}
	c.operationStarted = time.Now()
	c.currentCommand = command
	c.transition(Processing, "command dispatched")
	return nil
}

// OnCommandCompleted moves Processing -> Ready after a SUCCESS/FAILURE
// status has been sent. Clears current_command (transition() already does
// this for any state other than Processing).
func (c *Connection) OnCommandCompleted() error {
	if c.state != Processing {
		return fmt.Errorf("helperside: command completion only valid from Processing, got %s", c.state)
	}
	c.transition(Ready, "status sent")
	return nil
}

// OnException moves Processing -> Error. Sending FAILURE on a best-effort
// basis is the caller's responsibility before calling this.
func (c *Connection) OnException(cause error) {
	c.transition(Error, fmt.Sprintf("exception: %v", cause))
}

// ForceHandshakeTimeout resets from a handshake state back to Idle if the
// 10-second deadline (distinct from the 5s token-wait deadline in
// OnReadyReceived) has elapsed.
func (c *Connection) ForceHandshakeTimeout(deadline time.Duration) bool {
	if c.state != HandshakeSending && c.state != HandshakeReceiving {
		return false
	}
	if time.Since(c.operationStarted) <= deadline {
		return false
	}
	c.transition(Idle, "forced reset: handshake deadline exceeded")
	return true
}

// Reset moves any state back to Idle, e.g. on disconnect.
func (c *Connection) Reset(reason string) {
	c.transition(Idle, reason)
}
