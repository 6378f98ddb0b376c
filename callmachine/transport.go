package callmachine

import (
	"fmt"
	"time"

	"mcpttd/callmsg"
)

// Transport delivers messages to other endpoints. Delivery is
// fire-and-forget; failures are the transport's concern.
type Transport interface {
	// Send delivers a message originated by this endpoint.
	Send(to callmsg.MemberID, msg callmsg.Message)
	// Forward relays a request on behalf of another member.
	Forward(to callmsg.MemberID, msg callmsg.Message)
}

// TimerKind names the deferred action a Timer triggers.
type TimerKind uint8

const (
	// TimerRelease fires the originator's deferred ReleaseCall.
	TimerRelease TimerKind = iota + 1
)

func (k TimerKind) String() string {
	switch k {
	case TimerRelease:
		return "release"
	default:
		return fmt.Sprintf("timer(%d)", uint8(k))
	}
}

// Timer identifies a deferred action; it is comparable and used as the
// cancellation key.
type Timer struct {
	CallID callmsg.CallID
	Member callmsg.MemberID
	Kind   TimerKind
}

func (t Timer) String() string {
	return fmt.Sprintf("%s@%s/%s", t.Kind, t.CallID, t.Member)
}

// Scheduler is provided by the host. When a scheduled timer expires the
// host hands it back through Registry.Fire on the event loop.
type Scheduler interface {
	Schedule(t Timer, at time.Time)
	Cancel(t Timer)
}
