package callmachine

import (
	"time"

	"github.com/sirupsen/logrus"

	"mcpttd/callmsg"
	"mcpttd/floor"
)

// ClientConfig describes one member's view of a call.
type ClientConfig struct {
	CallID callmsg.CallID
	// Self is the member this machine runs for.
	Self callmsg.MemberID
	// Server is the group identity requests are addressed to.
	Server callmsg.MemberID

	Priority        int
	ImplicitRequest bool

	// StopTime is when the originator releases the call it set up. The
	// zero value disables the deferred release.
	StopTime time.Time
}

// ClientMachine is the member side of a group call.
type ClientMachine struct {
	cfg       ClientConfig
	transport Transport
	hooks     floor.Hooks
	scheduler Scheduler
	log       *logrus.Entry

	state          ClientState
	releasePlanned bool
	onStateChange  func(from, to ClientState)
}

// NewClientMachine returns a machine in the idle state. A nil hooks value
// is replaced by floor.Nop and a nil scheduler disables the deferred
// release.
func NewClientMachine(cfg ClientConfig, transport Transport, hooks floor.Hooks, scheduler Scheduler, log *logrus.Entry) *ClientMachine {
	if hooks == nil {
		hooks = floor.Nop{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ClientMachine{
		cfg:       cfg,
		transport: transport,
		hooks:     hooks,
		scheduler: scheduler,
		log: log.WithFields(logrus.Fields{
			"call_id": cfg.CallID,
			"member":  cfg.Self,
			"role":    "client",
		}),
		state: ClientIdle,
	}
}

func (m *ClientMachine) CallID() callmsg.CallID { return m.cfg.CallID }
func (m *ClientMachine) Config() ClientConfig   { return m.cfg }
func (m *ClientMachine) State() ClientState     { return m.state }

// IsCallOngoing reports whether the machine is outside the idle state.
func (m *ClientMachine) IsCallOngoing() bool { return m.state != ClientIdle }

// OnStateChange registers fn to be called after every state transition.
func (m *ClientMachine) OnStateChange(fn func(from, to ClientState)) {
	m.onStateChange = fn
}

func (m *ClientMachine) setState(s ClientState) {
	from := m.state
	if from == s {
		return
	}
	m.state = s
	if s == ClientIdle {
		m.cancelRelease()
	}
	m.log.Debugf("state %s -> %s", from, s)
	if m.onStateChange != nil {
		m.onStateChange(from, s)
	}
}

// InitiateCall starts an establish transaction as the call originator.
func (m *ClientMachine) InitiateCall() {
	switch m.state {
	case ClientIdle:
		m.hooks.CallInitiated(m.cfg.Self)
		body := callmsg.Body{
			QueueingSupported: true,
			Granted:           true,
			Priority:          m.cfg.Priority,
			ImplicitRequest:   m.cfg.ImplicitRequest,
		}
		m.log.Info("initiating call")
		m.transport.Send(m.cfg.Server, callmsg.NewRequest(callmsg.MethodEstablish, m.cfg.CallID, m.cfg.Self, m.cfg.Server, &body))
		m.setState(ClientInitiating)
	case ClientInitiating, ClientActive, ClientReleasing:
		m.log.Debugf("ignoring initiate call in state %s", m.state)
	}
}

// ReleaseCall starts a release transaction.
func (m *ClientMachine) ReleaseCall() {
	switch m.state {
	case ClientActive:
		m.hooks.CallRelease1(m.cfg.Self)
		m.log.Info("releasing call")
		m.transport.Send(m.cfg.Server, callmsg.NewRequest(callmsg.MethodRelease, m.cfg.CallID, m.cfg.Self, m.cfg.Server, nil))
		m.setState(ClientReleasing)
	case ClientIdle, ClientInitiating, ClientReleasing:
		m.log.Debugf("ignoring release call in state %s", m.state)
	}
}

// Receive routes msg to the handler for its class and method.
func (m *ClientMachine) Receive(msg callmsg.Message) {
	checkCallID(m.cfg.CallID, msg)
	switch {
	case msg.IsRequest() && msg.Method == callmsg.MethodEstablish:
		m.ReceiveEstablishRequest(msg)
	case msg.IsRequest() && msg.Method == callmsg.MethodRelease:
		m.ReceiveRelease(msg)
	case msg.IsResponse() && msg.Method == callmsg.MethodEstablish:
		m.ReceiveEstablishResponse(msg)
	case msg.IsResponse() && msg.Method == callmsg.MethodRelease:
		m.ReceiveReleaseResponse(msg)
	default:
		m.log.Warnf("dropping malformed message %s", msg)
	}
}

// ReceiveEstablishRequest accepts a call set up by another member. An
// incoming request wins over the machine's own outstanding one.
func (m *ClientMachine) ReceiveEstablishRequest(msg callmsg.Message) {
	checkCallID(m.cfg.CallID, msg)
	switch m.state {
	case ClientIdle, ClientInitiating:
		if m.state == ClientInitiating {
			m.log.Infof("establish collision with %s, discarding own request", msg.From)
		}
		m.hooks.CallEstablished(m.cfg.Self, msg.BodyOrZero())
		m.transport.Send(msg.From, callmsg.NewResponse(callmsg.MethodEstablish, callmsg.StatusSuccess, m.cfg.CallID, m.cfg.Self, msg.From, nil))
		m.setState(ClientActive)
	case ClientActive, ClientReleasing:
		m.log.Debugf("ignoring establish request from %s in state %s", msg.From, m.state)
	}
}

// ReceiveEstablishResponse completes the machine's own establish
// transaction.
func (m *ClientMachine) ReceiveEstablishResponse(msg callmsg.Message) {
	checkCallID(m.cfg.CallID, msg)
	switch m.state {
	case ClientInitiating:
		switch {
		case msg.IsProvisional():
			m.log.Debug("provisional establish response, still waiting")
		case msg.IsSuccess():
			m.scheduleRelease()
			m.setState(ClientActive)
		default:
			m.log.Warnf("unexpected establish response %d from %s", msg.StatusCode, msg.From)
		}
	case ClientIdle, ClientActive, ClientReleasing:
		m.log.Debugf("ignoring establish response in state %s", m.state)
	}
}

// ReceiveRelease handles a release forwarded by the server.
func (m *ClientMachine) ReceiveRelease(msg callmsg.Message) {
	checkCallID(m.cfg.CallID, msg)
	switch m.state {
	case ClientInitiating:
		// abort, but still answer so the server's release fan-out drains
		m.log.Info("release while initiating, aborting")
		m.replyRelease(msg)
		m.setState(ClientIdle)
	case ClientActive:
		m.hooks.CallRelease1(m.cfg.Self)
		m.hooks.CallRelease2(m.cfg.Self)
		m.replyRelease(msg)
		m.setState(ClientIdle)
	case ClientReleasing:
		// colliding releases; the own response is no longer awaited
		m.log.Infof("release collision with %s", msg.From)
		m.hooks.CallRelease2(m.cfg.Self)
		m.replyRelease(msg)
		m.setState(ClientIdle)
	case ClientIdle:
		m.log.Debugf("ignoring release from %s in state %s", msg.From, m.state)
	}
}

func (m *ClientMachine) replyRelease(msg callmsg.Message) {
	m.transport.Send(msg.From, callmsg.NewResponse(callmsg.MethodRelease, callmsg.StatusSuccess, m.cfg.CallID, m.cfg.Self, msg.From, nil))
}

// ReceiveReleaseResponse completes the machine's own release transaction.
func (m *ClientMachine) ReceiveReleaseResponse(msg callmsg.Message) {
	checkCallID(m.cfg.CallID, msg)
	switch m.state {
	case ClientReleasing:
		if msg.IsProvisional() {
			return
		}
		m.hooks.CallRelease2(m.cfg.Self)
		m.setState(ClientIdle)
	case ClientIdle, ClientInitiating, ClientActive:
		m.log.Debugf("ignoring release response in state %s", m.state)
	}
}

// Stop forces the machine back to idle without signalling.
func (m *ClientMachine) Stop() {
	m.cancelRelease()
	m.setState(ClientIdle)
}

func (m *ClientMachine) releaseTimer() Timer {
	return Timer{CallID: m.cfg.CallID, Member: m.cfg.Self, Kind: TimerRelease}
}

func (m *ClientMachine) scheduleRelease() {
	if m.cfg.StopTime.IsZero() || m.scheduler == nil {
		return
	}
	m.scheduler.Schedule(m.releaseTimer(), m.cfg.StopTime)
	m.releasePlanned = true
	m.log.Debugf("release scheduled at %s", m.cfg.StopTime.Format(time.RFC3339))
}

func (m *ClientMachine) cancelRelease() {
	if !m.releasePlanned {
		return
	}
	m.releasePlanned = false
	m.scheduler.Cancel(m.releaseTimer())
}

// fire runs the deferred action named by t.
func (m *ClientMachine) fire(t Timer) error {
	switch t.Kind {
	case TimerRelease:
		if !m.releasePlanned {
			m.log.Debug("stale release timer")
			return nil
		}
		m.releasePlanned = false
		m.ReleaseCall()
		return nil
	default:
		return ErrUnknownTimer
	}
}
