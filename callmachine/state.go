package callmachine

import (
	"fmt"

	"mcpttd/callmsg"
)

// ClientState is the state of a ClientMachine.
type ClientState uint8

const (
	ClientIdle ClientState = iota
	ClientInitiating
	ClientActive
	ClientReleasing
)

func (s ClientState) String() string { return stateName(uint8(s)) }

// ServerState is the state of a ServerMachine.
type ServerState uint8

const (
	ServerIdle ServerState = iota
	ServerInitiating
	ServerActive
	ServerReleasing
)

func (s ServerState) String() string { return stateName(uint8(s)) }

func stateName(s uint8) string {
	switch s {
	case 0:
		return "idle"
	case 1:
		return "initiating"
	case 2:
		return "active"
	case 3:
		return "releasing"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

func checkCallID(want callmsg.CallID, msg callmsg.Message) {
	if msg.CallID != want {
		panic(fmt.Errorf("%w: machine %q got %s", ErrCallIDMismatch, want, msg))
	}
}
