// Package floor defines the lifecycle hooks the call machines drive on the
// floor control side, and Tracker, an in-memory bookkeeping implementation
// of those hooks. Floor arbitration itself (grant, deny, queue, revoke)
// lives behind Hooks and is not implemented here.
package floor

import (
	"fmt"

	"mcpttd/callmsg"
)

// LinkState is the per participant floor link state.
type LinkState int

const (
	LinkIdle LinkState = iota
	LinkPermitted
	LinkNotPermittedTaken
	LinkReleasing
)

func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkPermitted:
		return "permitted"
	case LinkNotPermittedTaken:
		return "not-permitted-taken"
	case LinkReleasing:
		return "releasing"
	default:
		return fmt.Sprintf("link(%d)", int(s))
	}
}

// Hooks is the only channel from the call machines to floor control.
// The client machine calls CallInitiated, CallEstablished and the release
// phases for its own member; the server machine calls CallInitialized,
// SetParticipantState and the release phases for the originator.
type Hooks interface {
	CallInitiated(participant callmsg.MemberID)
	CallEstablished(participant callmsg.MemberID, body callmsg.Body)
	CallInitialized(participant callmsg.MemberID, implicitRequest bool)
	CallRelease1(participant callmsg.MemberID)
	CallRelease2(participant callmsg.MemberID)
	SetParticipantState(participant callmsg.MemberID, state LinkState)
}

// Nop ignores every hook.
type Nop struct{}

func (Nop) CallInitiated(callmsg.MemberID)                  {}
func (Nop) CallEstablished(callmsg.MemberID, callmsg.Body)  {}
func (Nop) CallInitialized(callmsg.MemberID, bool)          {}
func (Nop) CallRelease1(callmsg.MemberID)                   {}
func (Nop) CallRelease2(callmsg.MemberID)                   {}
func (Nop) SetParticipantState(callmsg.MemberID, LinkState) {}
